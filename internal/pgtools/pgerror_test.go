package pgtools_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/peterldowns/testy/check"

	"github.com/dbmigrator/dbmigrator/internal/pgtools"
)

func TestErrorDataFromPgx(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("apply: %w", &pgconn.PgError{
		Severity:       "ERROR",
		Code:           "23505",
		Message:        "duplicate key value violates unique constraint",
		TableName:      "cats",
		ConstraintName: "cats_pkey",
		Position:       12,
	})
	check.Equal(t, map[string]any{
		"pg_code":       "23505",
		"pg_severity":   "ERROR",
		"pg_table":      "cats",
		"pg_constraint": "cats_pkey",
		"pg_position":   int32(12),
	}, pgtools.ErrorData(err))
	check.Equal(t, "23505", pgtools.Code(err))
}

func TestErrorDataFromPq(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("apply: %w", &pq.Error{
		Severity: "ERROR",
		Code:     "42P01",
		Message:  `relation "dogs" does not exist`,
		Position: "15",
	})
	check.Equal(t, map[string]any{
		"pg_code":     "42P01",
		"pg_severity": "ERROR",
		"pg_position": "15",
	}, pgtools.ErrorData(err))
	check.Equal(t, "42P01", pgtools.Code(err))
}

func TestErrorDataFromOtherErrors(t *testing.T) {
	t.Parallel()
	check.Equal(t, map[string]any{}, pgtools.ErrorData(errors.New("boom")))
	check.Equal(t, map[string]any{}, pgtools.ErrorData(nil))
	check.Equal(t, "", pgtools.Code(errors.New("boom")))
}
