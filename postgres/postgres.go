// Package postgres implements [dbmigrator.Conn] for PostgreSQL, over
// database/sql with either the pgx ("pgx") or lib/pq ("postgres") driver.
//
// The migration lock is a session-level advisory lock keyed on the changelog
// table's name, so it is released automatically if the session ends.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for postgres
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // pq driver for postgres

	"github.com/dbmigrator/dbmigrator"
	"github.com/dbmigrator/dbmigrator/internal/multierr"
	"github.com/dbmigrator/dbmigrator/internal/pgtools"
	"github.com/dbmigrator/dbmigrator/internal/sessionlock"
)

// DefaultDriverName is the database/sql driver used by [Open] when none is
// given.
const DefaultDriverName = "pgx"

// Conn is a [dbmigrator.Conn] bound to a single postgres session.
type Conn struct {
	db     *sqlx.DB
	conn   *sqlx.Conn
	ownsDB bool
	schema string
	table  string
}

var _ dbmigrator.Conn = (*Conn)(nil)

// Open connects to the database at dsn with driverName ("pgx" or "postgres",
// [DefaultDriverName] if empty) and returns a [Conn] that records its
// changelog in tableName, or in [dbmigrator.DefaultTableName] if tableName is
// empty. Closing the Conn closes the database.
func Open(ctx context.Context, driverName, dsn, tableName string) (*Conn, error) {
	if driverName == "" {
		driverName = DefaultDriverName
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	c, err := New(ctx, db, tableName)
	if err != nil {
		return nil, multierr.Join(err, db.Close())
	}
	c.ownsDB = true
	return c, nil
}

// New returns a [Conn] that pins one connection from db, so that the advisory
// lock and the transactions all happen in the same session. Closing the Conn
// returns the connection to db but leaves db open.
//
// tableName may be schema-qualified; an unqualified name is in the "public"
// schema.
func New(ctx context.Context, db *sql.DB, tableName string) (*Conn, error) {
	if tableName == "" {
		tableName = dbmigrator.DefaultTableName
	}
	schema, table := pgtools.ParseTableName(tableName)
	if schema == "" || table == "" {
		return nil, fmt.Errorf("postgres: invalid table name %q", tableName)
	}
	sdb := sqlx.NewDb(db, "postgres")
	conn, err := sdb.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &Conn{db: sdb, conn: conn, schema: schema, table: table}, nil
}

// Close releases the pinned connection, and closes the database if it was
// opened by [Open].
func (c *Conn) Close() error {
	err := c.conn.Close()
	if c.ownsDB {
		err = multierr.Join(err, c.db.Close())
	}
	return err
}

// DB returns the database the Conn was created from.
func (c *Conn) DB() *sqlx.DB {
	return c.db
}

// TableName returns the schema-qualified name of the changelog table.
func (c *Conn) TableName() string {
	return c.schema + "." + c.table
}

// LockName implements [dbmigrator.Named].
func (c *Conn) LockName() string {
	return c.TableName()
}

func (c *Conn) changelogTable() string {
	return pgtools.Identifier(c.schema, c.table)
}

func (c *Conn) lockID() int64 {
	return int64(sessionlock.ID(c.TableName()))
}

// EnsureChangelog creates the changelog table, and its schema, if they do
// not exist.
func (c *Conn) EnsureChangelog(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pgtools.Identifier(c.schema))
	if _, err := c.conn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("postgres: create schema %s: %w", c.schema, err)
	}
	query = fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	log_id integer PRIMARY KEY,
	version text NOT NULL,
	name text,
	kind text NOT NULL,
	checksum text,
	applied_by text,
	start_ts timestamptz,
	finish_ts timestamptz,
	revert_ts timestamptz
)`, c.changelogTable())
	if _, err := c.conn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("postgres: create %s: %w", c.TableName(), err)
	}
	return nil
}

// HasChangelog reports whether the changelog table exists.
func (c *Conn) HasChangelog(ctx context.Context) (bool, error) {
	query := `
SELECT EXISTS (
	SELECT 1 FROM information_schema.tables
	WHERE table_schema = $1 AND table_name = $2
)`
	var exists bool
	if err := c.conn.GetContext(ctx, &exists, query, c.schema, c.table); err != nil {
		return false, fmt.Errorf("postgres: find %s: %w", c.TableName(), err)
	}
	return exists, nil
}

// ReadChangelog returns every changelog row in log_id order.
func (c *Conn) ReadChangelog(ctx context.Context) ([]dbmigrator.ChangelogRow, error) {
	query := fmt.Sprintf(`
SELECT log_id, version, name, kind, checksum, applied_by, start_ts, finish_ts, revert_ts
FROM %s
ORDER BY log_id ASC`, c.changelogTable())
	var records []record
	if err := c.conn.SelectContext(ctx, &records, query); err != nil {
		return nil, fmt.Errorf("postgres: read %s: %w", c.TableName(), err)
	}
	rows := make([]dbmigrator.ChangelogRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, rec.toRow())
	}
	return rows, nil
}

// TryLock makes one attempt to take the session-level advisory lock.
func (c *Conn) TryLock(ctx context.Context) (bool, error) {
	var acquired bool
	if err := c.conn.GetContext(ctx, &acquired, `SELECT pg_try_advisory_lock($1)`, c.lockID()); err != nil {
		return false, fmt.Errorf("postgres: try advisory lock: %w", err)
	}
	return acquired, nil
}

// Unlock releases the advisory lock.
func (c *Conn) Unlock(ctx context.Context) error {
	var released bool
	if err := c.conn.GetContext(ctx, &released, `SELECT pg_advisory_unlock($1)`, c.lockID()); err != nil {
		return fmt.Errorf("postgres: advisory unlock: %w", err)
	}
	if !released {
		return errors.New("postgres: advisory lock is not held")
	}
	return nil
}

// BeginTx opens a transaction on the pinned connection.
func (c *Conn) BeginTx(ctx context.Context) (dbmigrator.Tx, error) {
	tx, err := c.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &Tx{tx: tx, conn: c}, nil
}

// record is a changelog row as stored by postgres.
type record struct {
	LogID     int64          `db:"log_id"`
	Version   string         `db:"version"`
	Name      sql.NullString `db:"name"`
	Kind      string         `db:"kind"`
	Checksum  sql.NullString `db:"checksum"`
	AppliedBy sql.NullString `db:"applied_by"`
	StartTS   sql.NullTime   `db:"start_ts"`
	FinishTS  sql.NullTime   `db:"finish_ts"`
	RevertTS  sql.NullTime   `db:"revert_ts"`
}

func newRecord(row dbmigrator.ChangelogRow) record {
	return record{
		LogID:     row.LogID,
		Version:   row.Version,
		Name:      nullString(row.Name),
		Kind:      string(row.Kind),
		Checksum:  nullString(row.Checksum),
		AppliedBy: nullString(row.AppliedBy),
		StartTS:   nullTime(row.StartTS),
		FinishTS:  nullTime(row.FinishTS),
		RevertTS:  nullTime(row.RevertTS),
	}
}

func (r record) toRow() dbmigrator.ChangelogRow {
	return dbmigrator.ChangelogRow{
		LogID:     r.LogID,
		Version:   r.Version,
		Name:      r.Name.String,
		Kind:      dbmigrator.Kind(r.Kind),
		Checksum:  r.Checksum.String,
		AppliedBy: r.AppliedBy.String,
		StartTS:   utc(r.StartTS),
		FinishTS:  utc(r.FinishTS),
		RevertTS:  utc(r.RevertTS),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

func utc(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}
