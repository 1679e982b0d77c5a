package dbmigrator

import (
	"context"
	"time"
)

// Conn is the capability set dbmigrator needs from a database. The postgres
// and sqlite packages provide implementations; anything else that can run SQL
// in transactions and hold a database-wide lock can implement it too.
//
// A Conn must be bound to a single session: the lock taken by TryLock has to
// be held by the same session that later runs Unlock.
type Conn interface {
	// EnsureChangelog creates the changelog table (and its schema, where
	// supported) if it does not exist.
	EnsureChangelog(ctx context.Context) error
	// HasChangelog reports whether the changelog table exists.
	HasChangelog(ctx context.Context) (bool, error)
	// ReadChangelog returns every changelog row ordered by log_id.
	ReadChangelog(ctx context.Context) ([]ChangelogRow, error)
	// TryLock makes one non-blocking attempt to take the database-wide
	// migration lock and reports whether it succeeded.
	TryLock(ctx context.Context) (bool, error)
	// Unlock releases the lock taken by TryLock.
	Unlock(ctx context.Context) error
	// BeginTx opens the transaction for one unit of work.
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is a transaction scoped to one recipe. Changelog rows can only be
// appended or, through the narrow mutators below, completed: there is no
// general-purpose update.
type Tx interface {
	// Exec runs arbitrary SQL text inside the transaction.
	Exec(ctx context.Context, sql string) error
	// LastLogID returns the highest log_id in the changelog, or 0.
	LastLogID(ctx context.Context) (int64, error)
	// InsertRow appends a row to the changelog.
	InsertRow(ctx context.Context, row ChangelogRow) error
	// FinishRow sets finish_ts on an unfinished row.
	FinishRow(ctx context.Context, logID int64, ts time.Time) error
	// RetargetRow replaces the identity of an unfinished row with the one
	// written by a fixup.
	RetargetRow(ctx context.Context, logID int64, version, name, checksum string) error
	// MarkReverted sets revert_ts on a row that has none.
	MarkReverted(ctx context.Context, logID int64, ts time.Time) error
	Commit() error
	Rollback() error
}

// Named is implemented by a [Conn] that can describe the lock it takes, for
// error messages and logs.
type Named interface {
	LockName() string
}

func lockName(conn Conn) string {
	if named, ok := conn.(Named); ok {
		return named.LockName()
	}
	return DefaultTableName
}
