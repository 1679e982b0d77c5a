package shared

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/dbmigrator/dbmigrator"
	"github.com/dbmigrator/dbmigrator/postgres"
	"github.com/dbmigrator/dbmigrator/sqlite"
)

// Conn is a [dbmigrator.Conn] that owns its database handle.
type Conn interface {
	dbmigrator.Conn
	Close() error
}

// Backend names the kind of database a connection string points at.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
)

// OpenConn connects to the configured database and returns a [Conn] that
// records its changelog in the configured table.
func (state StateT) OpenConn(ctx context.Context) (Conn, error) {
	dbVar := state.Database()
	if err := Validate(dbVar); err != nil {
		return nil, err
	}
	backend, dsn, err := ParseDatabase(dbVar.Value())
	if err != nil {
		return nil, err
	}
	table := state.TableName().Value()
	if backend == BackendPostgres {
		conn, err := postgres.Open(ctx, postgres.DefaultDriverName, dsn, table)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	conn, err := sqlite.Open(ctx, dsn, table)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ParseDatabase decides which backend a "database" value is for and returns
// the connection string to hand to its driver.
//
//   - "postgres://..." and "postgresql://..." are postgres URLs
//   - "sqlite://<path>" and "sqlite:<path>" are sqlite database files
//   - "file:..." URIs and anything without a scheme are sqlite database files
func ParseDatabase(database string) (Backend, string, error) {
	switch {
	case strings.HasPrefix(database, "postgres://"), strings.HasPrefix(database, "postgresql://"):
		dsn, err := setDefaultStatementCachingParameter(database)
		if err != nil {
			return "", "", err
		}
		return BackendPostgres, dsn, nil
	case strings.HasPrefix(database, "sqlite://"):
		return BackendSQLite, strings.TrimPrefix(database, "sqlite://"), nil
	case strings.HasPrefix(database, "sqlite:"):
		return BackendSQLite, strings.TrimPrefix(database, "sqlite:"), nil
	case strings.HasPrefix(database, "file:"), !strings.Contains(database, "://"):
		return BackendSQLite, database, nil
	default:
		return "", "", fmt.Errorf("unsupported 'database' %q: expected a postgres:// URL or a sqlite database path", database)
	}
}

// If the user has not explicitly specified a pgx statement caching parameter
// in their connection string, set it to "exec", which works even when
// connecting through poolers like Pgbouncer. The pgx default,
// "cache_statement", breaks behind a pooler.
func setDefaultStatementCachingParameter(connstr string) (string, error) {
	eurl, err := url.Parse(connstr)
	if err != nil {
		return "", fmt.Errorf("failed to parse 'database' URL: %w", err)
	}
	query := eurl.Query()
	// hardcoded query parameter name comes from the pgx code:
	// https://github.com/jackc/pgx/blob/672c4a3a24849b1f34857817e6ed76f6581bbe90/conn.go#L191
	queryModeParam := "default_query_exec_mode"
	// https://pkg.go.dev/github.com/jackc/pgx/v5#QueryExecMode
	execModeValue := "exec"
	if !query.Has(queryModeParam) {
		query.Add(queryModeParam, execModeValue)
	}
	eurl.RawQuery = query.Encode()
	return eurl.String(), nil
}
