package dbmigrator

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

// NewTestLogger returns a [TestLogger] that writes to tb's output.
func NewTestLogger(tb testing.TB) TestLogger {
	return TestLogger{tb}
}

// TestLogger is a [Logger] and [Helper] that writes every migration log line
// to a test's output, attributed to the caller that logged it rather than to
// the logger.
type TestLogger struct {
	testing.TB
}

// Log writes "level: msg key=value ...", quoting values that contain spaces.
func (t TestLogger) Log(_ context.Context, level LogLevel, msg string, fields ...LogField) {
	t.Helper()
	var line strings.Builder
	fmt.Fprintf(&line, "%s: %s", level, msg)
	for _, field := range fields {
		value := fmt.Sprint(field.Value)
		if strings.ContainsAny(value, " \t\n") {
			value = fmt.Sprintf("%q", value)
		}
		fmt.Fprintf(&line, " %s=%s", field.Key, value)
	}
	t.TB.Log(line.String())
}
