// Package sqlite implements [dbmigrator.Conn] for SQLite databases using the
// pure-go modernc.org/sqlite driver.
//
// SQLite has no advisory locks, so the migration lock is a row in a companion
// table named after the changelog table with a "_lock" suffix. The row is
// removed by Unlock; a process that dies while holding the lock leaves it
// behind, and it must then be deleted by hand.
//
// Timestamps are stored as RFC 3339 text in UTC.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/dbmigrator/dbmigrator"
	"github.com/dbmigrator/dbmigrator/internal/multierr"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// BusyTimeout is how long a statement waits for another connection's write
// lock before failing with SQLITE_BUSY.
const BusyTimeout = 5 * time.Second

// timeFormat is how timestamps are stored.
const timeFormat = time.RFC3339Nano

// Conn is a [dbmigrator.Conn] bound to a single SQLite connection.
type Conn struct {
	db     *sqlx.DB
	conn   *sqlx.Conn
	ownsDB bool
	schema string
	table  string
	// owner identifies this Conn in the lock table.
	owner string
}

var _ dbmigrator.Conn = (*Conn)(nil)

// Open opens the database at dsn (a file path, or a URI understood by
// modernc.org/sqlite) and returns a [Conn] that records its changelog in
// tableName, or in [dbmigrator.DefaultTableName] if tableName is empty.
// Closing the Conn closes the database.
func Open(ctx context.Context, dsn string, tableName string) (*Conn, error) {
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}
	c, err := New(ctx, db, tableName)
	if err != nil {
		return nil, multierr.Join(err, db.Close())
	}
	c.ownsDB = true
	return c, nil
}

// New returns a [Conn] that pins one connection from db. Closing the Conn
// returns the connection to db but leaves db open.
//
// tableName may be qualified with the name of an attached database, as in
// "main.dbmigrator_log".
func New(ctx context.Context, db *sql.DB, tableName string) (*Conn, error) {
	if tableName == "" {
		tableName = dbmigrator.DefaultTableName
	}
	schema, table, found := strings.Cut(tableName, ".")
	if !found {
		schema, table = "main", tableName
	}
	if schema == "" || table == "" {
		return nil, fmt.Errorf("sqlite: invalid table name %q", tableName)
	}
	// The sqlx driver name only picks the bind style: modernc uses "?".
	sdb := sqlx.NewDb(db, "sqlite3")
	conn, err := sdb.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: connect: %w", err)
	}
	pragma := fmt.Sprintf("PRAGMA busy_timeout = %d", BusyTimeout.Milliseconds())
	if _, err := conn.ExecContext(ctx, pragma); err != nil {
		return nil, multierr.Join(fmt.Errorf("sqlite: set busy timeout: %w", err), conn.Close())
	}
	return &Conn{
		db:     sdb,
		conn:   conn,
		schema: schema,
		table:  table,
		owner:  uuid.NewString(),
	}, nil
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

// TableName returns the fully-qualified name of the changelog table.
func (c *Conn) TableName() string {
	return c.schema + "." + c.table
}

// LockName implements [dbmigrator.Named].
func (c *Conn) LockName() string {
	return c.TableName()
}

func (c *Conn) changelogTable() string {
	return quote(c.schema) + "." + quote(c.table)
}

func (c *Conn) lockTable() string {
	return quote(c.schema) + "." + quote(c.table+"_lock")
}

// quote quotes a SQLite identifier.
func quote(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

// EnsureChangelog creates the changelog table if it does not exist.
func (c *Conn) EnsureChangelog(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	log_id integer PRIMARY KEY,
	version text NOT NULL,
	name text,
	kind text NOT NULL,
	checksum text,
	applied_by text,
	start_ts text,
	finish_ts text,
	revert_ts text
)`, c.changelogTable())
	if _, err := c.conn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("sqlite: create %s: %w", c.TableName(), err)
	}
	return nil
}

// HasChangelog reports whether the changelog table exists.
func (c *Conn) HasChangelog(ctx context.Context) (bool, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s.sqlite_master WHERE type = 'table' AND name = ?`, quote(c.schema))
	var count int
	if err := c.conn.GetContext(ctx, &count, query, c.table); err != nil {
		return false, fmt.Errorf("sqlite: find %s: %w", c.TableName(), err)
	}
	return count > 0, nil
}

// ReadChangelog returns every changelog row in log_id order.
func (c *Conn) ReadChangelog(ctx context.Context) ([]dbmigrator.ChangelogRow, error) {
	query := fmt.Sprintf(`
SELECT log_id, version, name, kind, checksum, applied_by, start_ts, finish_ts, revert_ts
FROM %s
ORDER BY log_id ASC`, c.changelogTable())
	var records []record
	if err := c.conn.SelectContext(ctx, &records, query); err != nil {
		return nil, fmt.Errorf("sqlite: read %s: %w", c.TableName(), err)
	}
	rows := make([]dbmigrator.ChangelogRow, 0, len(records))
	for _, rec := range records {
		row, err := rec.toRow()
		if err != nil {
			return nil, fmt.Errorf("sqlite: read %s: log_id %d: %w", c.TableName(), rec.LogID, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// TryLock makes one attempt to insert this Conn's row into the lock table.
func (c *Conn) TryLock(ctx context.Context) (bool, error) {
	create := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	name text PRIMARY KEY,
	owner text NOT NULL,
	acquired_at text NOT NULL
)`, c.lockTable())
	if _, err := c.conn.ExecContext(ctx, create); err != nil {
		return false, fmt.Errorf("sqlite: create lock table: %w", err)
	}
	insert := fmt.Sprintf(`INSERT INTO %s (name, owner, acquired_at) VALUES (?, ?, ?) ON CONFLICT (name) DO NOTHING`, c.lockTable())
	res, err := c.conn.ExecContext(ctx, insert, c.table, c.owner, formatTime(time.Now()))
	if err != nil {
		return false, fmt.Errorf("sqlite: insert lock row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: insert lock row: %w", err)
	}
	return n == 1, nil
}

// Unlock deletes this Conn's row from the lock table.
func (c *Conn) Unlock(ctx context.Context) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE name = ? AND owner = ?`, c.lockTable())
	res, err := c.conn.ExecContext(ctx, query, c.table, c.owner)
	if err != nil {
		return fmt.Errorf("sqlite: delete lock row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: delete lock row: %w", err)
	}
	if n == 0 {
		return errors.New("sqlite: lock is not held")
	}
	return nil
}

// BeginTx opens a transaction on the pinned connection.
func (c *Conn) BeginTx(ctx context.Context) (dbmigrator.Tx, error) {
	if _, err := c.conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	return &Tx{conn: c}, nil
}

// record is a changelog row as stored by SQLite.
type record struct {
	LogID     int64          `db:"log_id"`
	Version   string         `db:"version"`
	Name      sql.NullString `db:"name"`
	Kind      string         `db:"kind"`
	Checksum  sql.NullString `db:"checksum"`
	AppliedBy sql.NullString `db:"applied_by"`
	StartTS   sql.NullString `db:"start_ts"`
	FinishTS  sql.NullString `db:"finish_ts"`
	RevertTS  sql.NullString `db:"revert_ts"`
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

func (r record) toRow() (dbmigrator.ChangelogRow, error) {
	row := dbmigrator.ChangelogRow{
		LogID:     r.LogID,
		Version:   r.Version,
		Name:      r.Name.String,
		Kind:      dbmigrator.Kind(r.Kind),
		Checksum:  r.Checksum.String,
		AppliedBy: r.AppliedBy.String,
	}
	var err error
	if row.StartTS, err = parseTime(r.StartTS); err != nil {
		return row, fmt.Errorf("start_ts: %w", err)
	}
	if row.FinishTS, err = parseTime(r.FinishTS); err != nil {
		return row, fmt.Errorf("finish_ts: %w", err)
	}
	if row.RevertTS, err = parseTime(r.RevertTS); err != nil {
		return row, fmt.Errorf("revert_ts: %w", err)
	}
	return row, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeFormat, s.String)
}
