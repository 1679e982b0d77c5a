package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dbmigrator/dbmigrator"
)

// Tx is a [dbmigrator.Tx] on a postgres transaction.
type Tx struct {
	tx   *sqlx.Tx
	conn *Conn
}

var _ dbmigrator.Tx = (*Tx)(nil)

// Exec runs sql, which may hold several statements.
func (t *Tx) Exec(ctx context.Context, sql string) error {
	_, err := t.tx.ExecContext(ctx, sql)
	return err
}

func (t *Tx) LastLogID(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`SELECT coalesce(max(log_id), 0) FROM %s`, t.conn.changelogTable())
	var last int64
	if err := t.tx.GetContext(ctx, &last, query); err != nil {
		return 0, err
	}
	return last, nil
}

func (t *Tx) InsertRow(ctx context.Context, row dbmigrator.ChangelogRow) error {
	query := fmt.Sprintf(`
INSERT INTO %s (log_id, version, name, kind, checksum, applied_by, start_ts, finish_ts, revert_ts)
VALUES (:log_id, :version, :name, :kind, :checksum, :applied_by, :start_ts, :finish_ts, :revert_ts)`,
		t.conn.changelogTable())
	_, err := t.tx.NamedExecContext(ctx, query, newRecord(row))
	return err
}

func (t *Tx) FinishRow(ctx context.Context, logID int64, ts time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET finish_ts = $1 WHERE log_id = $2 AND finish_ts IS NULL`, t.conn.changelogTable())
	return t.updateOne(ctx, query, ts.UTC(), logID)
}

func (t *Tx) RetargetRow(ctx context.Context, logID int64, version, name, checksum string) error {
	query := fmt.Sprintf(`UPDATE %s SET version = $1, name = $2, checksum = $3 WHERE log_id = $4 AND finish_ts IS NULL`,
		t.conn.changelogTable())
	return t.updateOne(ctx, query, version, nullString(name), nullString(checksum), logID)
}

// MarkReverted sets revert_ts on the row; a row that already has one keeps
// it.
func (t *Tx) MarkReverted(ctx context.Context, logID int64, ts time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET revert_ts = $1 WHERE log_id = $2 AND revert_ts IS NULL`, t.conn.changelogTable())
	_, err := t.tx.ExecContext(ctx, query, ts.UTC(), logID)
	return err
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback aborts the transaction; rolling back a finished transaction is
// not an error.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (t *Tx) updateOne(ctx context.Context, query string, args ...any) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
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
