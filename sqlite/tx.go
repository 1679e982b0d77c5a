package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dbmigrator/dbmigrator"
	"github.com/dbmigrator/dbmigrator/internal/multierr"
)

// Tx is a [dbmigrator.Tx] on a SQLite transaction.
//
// It is started with BEGIN IMMEDIATE on the Conn's pinned connection, so the
// write lock is taken, waiting up to [BusyTimeout], before the first read.
type Tx struct {
	conn *Conn
	done bool
}

var _ dbmigrator.Tx = (*Tx)(nil)

// Exec runs sql, which may hold several statements.
func (t *Tx) Exec(ctx context.Context, sql string) error {
	_, err := t.conn.conn.ExecContext(ctx, sql)
	return err
}

func (t *Tx) LastLogID(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`SELECT coalesce(max(log_id), 0) FROM %s`, t.conn.changelogTable())
	var last int64
	if err := t.conn.conn.GetContext(ctx, &last, query); err != nil {
		return 0, err
	}
	return last, nil
}

func (t *Tx) InsertRow(ctx context.Context, row dbmigrator.ChangelogRow) error {
	query, args, err := sqlx.Named(fmt.Sprintf(`
INSERT INTO %s (log_id, version, name, kind, checksum, applied_by, start_ts, finish_ts, revert_ts)
VALUES (:log_id, :version, :name, :kind, :checksum, :applied_by, :start_ts, :finish_ts, :revert_ts)`,
		t.conn.changelogTable()), newRecord(row))
	if err != nil {
		return err
	}
	_, err = t.conn.conn.ExecContext(ctx, query, args...)
	return err
}

func (t *Tx) FinishRow(ctx context.Context, logID int64, ts time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET finish_ts = ? WHERE log_id = ? AND finish_ts IS NULL`, t.conn.changelogTable())
	return t.updateOne(ctx, query, formatTime(ts), logID)
}

func (t *Tx) RetargetRow(ctx context.Context, logID int64, version, name, checksum string) error {
	query := fmt.Sprintf(`UPDATE %s SET version = ?, name = ?, checksum = ? WHERE log_id = ? AND finish_ts IS NULL`,
		t.conn.changelogTable())
	return t.updateOne(ctx, query, version, nullString(name), nullString(checksum), logID)
}

// MarkReverted sets revert_ts on the row; a row that already has one keeps
// it.
func (t *Tx) MarkReverted(ctx context.Context, logID int64, ts time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET revert_ts = ? WHERE log_id = ? AND revert_ts IS NULL`, t.conn.changelogTable())
	_, err := t.conn.conn.ExecContext(ctx, query, formatTime(ts), logID)
	return err
}

func (t *Tx) Commit() error {
	return t.end("COMMIT")
}

// Rollback aborts the transaction; rolling back a finished transaction is
// not an error.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	return t.end("ROLLBACK")
}

func (t *Tx) end(statement string) error {
	if t.done {
		return fmt.Errorf("sqlite: %s: transaction has already been committed or rolled back", statement)
	}
	// The outcome of the transaction must not depend on the caller's context.
	ctx, cancel := context.WithTimeout(context.Background(), BusyTimeout)
	defer cancel()
	_, err := t.conn.conn.ExecContext(ctx, statement)
	switch {
	case err == nil:
	case statement == "ROLLBACK":
		err = ignoreRolledBack(err)
	case statement == "COMMIT":
		_, rbErr := t.conn.conn.ExecContext(ctx, "ROLLBACK")
		err = multierr.Join(err, ignoreRolledBack(rbErr))
	}
	t.done = true
	return err
}

// ignoreRolledBack drops the error SQLite returns for a ROLLBACK after it has
// already rolled the transaction back itself, as it does when a statement is
// interrupted.
func ignoreRolledBack(err error) error {
	if err != nil && strings.Contains(err.Error(), "no transaction is active") {
		return nil
	}
	return err
}

func (t *Tx) updateOne(ctx context.Context, query string, args ...any) error {
	res, err := t.conn.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("expected to update 1 unfinished row, updated %d", n)
	}
	return nil
}
