package main

import (
	"context"
	"embed"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dbmigrator/dbmigrator"
	"github.com/dbmigrator/dbmigrator/sqlite"
)

// This is a simplified example of an application that will run a web server.
// Like any application using dbmigrator, it starts by connecting to the
// database and running dbmigrator.Migrate. If this fails, it exits. If it
// succeeds, it continues to running the server.
//
// You do not need to run migrations directly in your application -- for
// instance, you could use a kubernetes init container, or some other kind of
// initialization step to run the migrations via the CLI before starting your
// web server. This is just one way to do it.
func main() {
	ctx := context.Background()
	logger := log.NewWithOptions(os.Stdout, log.Options{Formatter: log.TextFormatter})
	logger.Info("connecting to the database")
	conn, err := sqlite.Open(ctx, "exampleapp.db", "")
	if err != nil {
		panic(err)
	}
	defer conn.Close()

	logger.Info("applying migrations")
	if err := applyMigrations(ctx, conn, logger); err != nil {
		panic(err)
	}

	logger.Info("running the web server")
	runServer(ctx, conn, logger)
}

// The recipes directory will be embedded into the application at build time.
// You can also ship your recipe files next to the application and have it
// read them from disk. For more information, read the docs for
// dbmigrator.Load.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// Does what it says!
func applyMigrations(ctx context.Context, conn dbmigrator.Conn, logger *log.Logger) error {
	report, err := dbmigrator.Migrate(ctx, conn, migrationsFS, logAdapter{logger})
	if err != nil {
		return err
	}
	logger.Info("applied migrations", "committed", len(report.Committed()))
	return nil
}

// This is a fake, it just pretends to start a web server. It actually does
// nothing because this is just an example application to show off how
// migrations work.
func runServer(_ context.Context, _ *sqlite.Conn, logger *log.Logger) {
	fmt.Println("hello, world")
	fmt.Println("(this isn't actually a working application but please pretend it is)")
	for { // infinite loop, cancellable with ctrl-c
		time.Sleep(5 * time.Second)
		logger.Info("tick")
	}
}

// In order to make dbmigrator work with various different logging libraries
// (zap, slog, logrus, etc.) it requires you to adapt your logger to its
// interface. This wraps the charm/log logger so that we can see the
// dbmigrator logs when the app starts up. Warnings found while migrating are
// logged through it too.
type logAdapter struct {
	*log.Logger
}

func (l logAdapter) Log(
	_ context.Context,
	level dbmigrator.LogLevel,
	msg string,
	fields ...dbmigrator.LogField,
) {
	args := make([]any, 0, 2*len(fields))
	for _, field := range fields {
		args = append(args, field.Key, field.Value)
	}
	switch level {
	case dbmigrator.LogLevelDebug:
		l.Logger.Debug(msg, args...)
	case dbmigrator.LogLevelInfo:
		l.Logger.Info(msg, args...)
	case dbmigrator.LogLevelError:
		l.Logger.Error(msg, args...)
	case dbmigrator.LogLevelWarning:
		l.Logger.Warn(msg, args...)
	}
}
