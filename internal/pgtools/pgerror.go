package pgtools

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorData returns as much information as possible about an error reported
// by the postgres server, for logging purposes. Both the pgx and lib/pq
// drivers are understood; any other error yields an empty map.
func ErrorData(err error) map[string]any {
	data := make(map[string]any)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		addFields(data, map[string]string{
			"pg_code":       pgErr.Code,
			"pg_detail":     pgErr.Detail,
			"pg_hint":       pgErr.Hint,
			"pg_schema":     pgErr.SchemaName,
			"pg_table":      pgErr.TableName,
			"pg_column":     pgErr.ColumnName,
			"pg_constraint": pgErr.ConstraintName,
			"pg_where":      pgErr.Where,
			"pg_severity":   pgErr.Severity,
		})
		if pgErr.Position != 0 {
			data["pg_position"] = pgErr.Position
		}
		return data
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		addFields(data, map[string]string{
			"pg_code":       string(pqErr.Code),
			"pg_detail":     pqErr.Detail,
			"pg_hint":       pqErr.Hint,
			"pg_schema":     pqErr.Schema,
			"pg_table":      pqErr.Table,
			"pg_column":     pqErr.Column,
			"pg_constraint": pqErr.Constraint,
			"pg_where":      pqErr.Where,
			"pg_severity":   pqErr.Severity,
			"pg_position":   pqErr.Position,
		})
	}
	return data
}

// Code returns the SQLSTATE of an error reported by the postgres server, or
// the empty string.
func Code(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func addFields(data map[string]any, fields map[string]string) {
	for key, val := range fields {
		if val != "" {
			data[key] = val
		}
	}
}
