// withdb is a simplified way of creating test databases, used to test the
// postgres backend and the packages that depend on it.
package withdb

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dbmigrator/dbmigrator/internal/multierr"
)

// EnvDatabaseURL names the environment variable holding the connection string
// of an existing postgres server to test against. It must point at a
// database the user can connect to and whose user may create databases. When
// it is unset, a postgres container is started instead.
const EnvDatabaseURL = "DBMIGRATOR_TEST_DATABASE_URL"

// ErrUnavailable is returned when there is no postgres server to test
// against: the environment variable is unset and no container could be
// started.
var ErrUnavailable = errors.New("withdb: no postgres server available")

var (
	serverOnce sync.Once
	serverURL  string
	serverErr  error
)

// server returns the connection string of the postgres server used by every
// test in the process, starting a container on first use.
func server() (string, error) {
	serverOnce.Do(func() {
		if dsn := os.Getenv(EnvDatabaseURL); dsn != "" {
			serverURL = dsn
			return
		}
		ctx := context.Background()
		container, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("postgres"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("password"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			serverErr = fmt.Errorf("%w: %w", ErrUnavailable, err)
			return
		}
		dsn, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			_ = container.Terminate(ctx)
			serverErr = fmt.Errorf("%w: %w", ErrUnavailable, err)
			return
		}
		// The container is reaped by testcontainers once the process exits.
		serverURL = dsn
	})
	return serverURL, serverErr
}

// WithDB is a helper for writing postgres-backed tests. It will:
//   - connect to the test postgres server (see [EnvDatabaseURL])
//   - create a new, empty test database with a unique name
//   - open a connection to that test database
//   - run the `cb` function
//   - remove the test database
//
// This is designed to be an internal helper for testing other database-related
// packages, and should not be relied upon externally.
func WithDB(ctx context.Context, driverName string, cb func(*sql.DB) error) (final error) {
	return WithDBParams(ctx, driverName, "", cb)
}

// WithDBParams is a helper for writing postgres-backed tests. It's like
// WithDB, but allows you to pass optional postgres connection string
// parameters. See [WithDB] for more information.
func WithDBParams(ctx context.Context, driverName string, addlParams string, cb func(*sql.DB) error) (final error) {
	dsn, err := server()
	if err != nil {
		return err
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return fmt.Errorf("withdb(postgres) failed to open: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			err = fmt.Errorf("withdb(postgres) failed to close: %w", err)
			final = multierr.Join(final, err)
		}
	}()

	testDBName, err := randomID("test")
	if err != nil {
		return fmt.Errorf("withdb: random name failed: %w", err)
	}
	query := fmt.Sprintf("CREATE DATABASE %s", testDBName)
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("withdb(%s) failed to create: %w", testDBName, err)
	}
	testDSN, err := connectionString(dsn, testDBName, addlParams)
	if err != nil {
		return fmt.Errorf("withdb(%s) failed to build connection string: %w", testDBName, err)
	}
	testDB, err := sql.Open(driverName, testDSN)
	if err != nil {
		return fmt.Errorf("withdb(%s) failed to open: %w", testDBName, err)
	}
	defer func() {
		if err := testDB.Close(); err != nil {
			err = fmt.Errorf("withdb(%s) failed to close: %w", testDBName, err)
			final = multierr.Join(final, err)
		}
		query := fmt.Sprintf("DROP DATABASE %s WITH (FORCE)", testDBName)
		if _, err = db.ExecContext(context.WithoutCancel(ctx), query); err != nil {
			err = fmt.Errorf("withdb(%s) failed to drop: %w", testDBName, err)
			final = multierr.Join(final, err)
		}
	}()
	return cb(testDB)
}

// randomID is a helper for coming up with the names of the instance databases.
// It uses 32 random bits in the name, which means collisions are unlikely.
func randomID(prefix string) (string, error) {
	bytes := make([]byte, 4)
	_, err := rand.Read(bytes)
	if err != nil {
		return "", err
	}
	suffix := hex.EncodeToString(bytes)
	return fmt.Sprintf("%s_%s", prefix, suffix), nil
}

// connectionString points the server connection string at dbname, with any
// additional parameters appended.
func connectionString(dsn string, dbname string, addlParams string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	u.Path = "/" + dbname
	if addlParams != "" {
		if u.RawQuery != "" {
			u.RawQuery += "&"
		}
		u.RawQuery += strings.TrimPrefix(addlParams, "&")
	}
	return u.String(), nil
}
