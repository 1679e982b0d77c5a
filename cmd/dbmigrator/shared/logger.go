package shared

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/dbmigrator/dbmigrator"
)

type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// NewLogger builds a charmbracelet logger that writes to w in the given
// format.
func NewLogger(w io.Writer, format LogFormat) (*log.Logger, error) {
	switch format {
	case LogFormatText:
		return log.NewWithOptions(w, log.Options{Formatter: log.TextFormatter}), nil
	case LogFormatJSON:
		return log.NewWithOptions(w, log.Options{Formatter: log.JSONFormatter}), nil
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}
}

// LogAdapter makes a charmbracelet logger usable as a [dbmigrator.Logger].
type LogAdapter struct {
	*log.Logger
}

var _ dbmigrator.Logger = LogAdapter{}

func (l LogAdapter) Log(_ context.Context, level dbmigrator.LogLevel, msg string, fields ...dbmigrator.LogField) {
	args := make([]any, 0, 2*len(fields))
	for _, field := range fields {
		args = append(args, field.Key, field.Value)
	}
	switch level {
	case dbmigrator.LogLevelDebug:
		l.Logger.Debug(msg, args...)
	case dbmigrator.LogLevelInfo:
		l.Logger.Info(msg, args...)
	case dbmigrator.LogLevelWarning:
		l.Logger.Warn(msg, args...)
	case dbmigrator.LogLevelError:
		l.Logger.Error(msg, args...)
	}
}

// Warn logs each verification error as a warning with its fields attached.
func Warn(logger *log.Logger, verrs []dbmigrator.VerificationError) {
	for _, verr := range verrs {
		var attrs []any
		for key, val := range verr.Fields {
			attrs = append(attrs, key, val)
		}
		logger.With(attrs...).Warn(verr.Message)
	}
}
