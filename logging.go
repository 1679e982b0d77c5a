package dbmigrator

import (
	"context"
)

// LogLevel represents the severity of the log message, and is one of
//   - [LogLevelDebug]
//   - [LogLevelInfo]
//   - [LogLevelWarning]
//   - [LogLevelError]
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelError   LogLevel = "error"
	LogLevelWarning LogLevel = "warning"
)

// LogField holds a key/value pair for structured logging.
type LogField struct {
	Key   string
	Value any
}

// Logger is a generic logging interface so that you can use dbmigrator with
// your existing structured logging solution. It should not be difficult to
// write an adapter; see cmd/dbmigrator/shared for one that wraps
// charmbracelet/log.
type Logger interface {
	Log(context.Context, LogLevel, string, ...LogField)
}

// Helper is an optional interface that your logger can implement to help
// make debugging and stacktraces easier to understand, primarily in tests.
// If a [Logger] implements this interface, dbmigrator will call Helper()
// in its own helper methods for writing to your logger, with the goal of
// omitting dbmigrator's helper methods from your stacktraces.
//
// For instance, the [TestLogger] we provide embeds a [testing.T], which
// implements Helper().
//
// You do *not* need to implement this interface in order for dbmigrator
// to successfully use your logger.
type Helper interface {
	Helper()
}

// logger wraps a possibly-nil [Logger]; a nil Logger drops every message.
type logger struct {
	Logger
}

func (l logger) helper() {
	if h, ok := l.Logger.(Helper); ok {
		h.Helper()
	}
}

func (l logger) log(ctx context.Context, level LogLevel, msg string, args ...LogField) {
	if l.Logger != nil {
		l.helper()
		l.Logger.Log(ctx, level, msg, args...)
	}
}

func (l logger) info(ctx context.Context, msg string, args ...LogField) {
	l.helper()
	l.log(ctx, LogLevelInfo, msg, args...)
}

func (l logger) debug(ctx context.Context, msg string, args ...LogField) {
	l.helper()
	l.log(ctx, LogLevelDebug, msg, args...)
}

func (l logger) error(ctx context.Context, err error, msg string, args ...LogField) {
	args = append(args, LogField{Key: "error", Value: err})
	l.helper()
	l.log(ctx, LogLevelError, msg, args...)
}

func (l logger) warn(ctx context.Context, msg string, args ...LogField) {
	l.helper()
	l.log(ctx, LogLevelWarning, msg, args...)
}

// warnings logs each verification error at warning level.
func (l logger) warnings(ctx context.Context, verrs []VerificationError) {
	l.helper()
	for _, verr := range verrs {
		var fields []LogField
		for key, val := range verr.Fields {
			fields = append(fields, LogField{Key: key, Value: val})
		}
		l.warn(ctx, verr.Message, fields...)
	}
}
