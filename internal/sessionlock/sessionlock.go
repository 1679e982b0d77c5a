// sessionlock package provides a run-wide migration lock on top of a
// non-blocking try-lock primitive, such as `pg_try_advisory_lock` in
// PostgreSQL or a lock row in SQLite.
//
// - https://www.postgresql.org/docs/current/explicit-locking.html#ADVISORY-LOCKS
// - https://samu.space/distributed-locking-with-postgres-advisory-locks/
package sessionlock

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dbmigrator/dbmigrator/internal/multierr"
)

// IDPrefix is prepended to any given lock name when computing the integer lock
// ID, to help prevent collisions with other clients that may be acquiring their
// own locks.
const IDPrefix string = "dbmigrator-"

// SpinWait is the initial amount of time that sessionlock will sleep between
// attempts to acquire an in-use lock. The wait grows exponentially up to
// MaxSpinWait.
const (
	SpinWait    time.Duration = 100 * time.Millisecond
	MaxSpinWait time.Duration = 2 * time.Second
)

// UnlockTimeout bounds the release of a lock, which runs on a fresh context
// so that it happens even when the caller's context was cancelled.
const UnlockTimeout time.Duration = 5 * time.Second

// ErrTimeout is wrapped by an [*Error] when the lock could not be acquired
// before the timeout passed to [With].
var ErrTimeout = errors.New("timed out waiting for migration lock")

// ID consistently hashes a string to unique integer that can be used with
// pg_advisory_lock() and pg_advisory_unlock().
func ID(name string) uint32 {
	return crc32.ChecksumIEEE([]byte(IDPrefix + name))
}

// Locker makes single, non-blocking attempts at taking a lock.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Error is returned when the lock could not be acquired.
type Error struct {
	Name   string
	Waited time.Duration
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sessionlock(%s) failed to lock after %s: %v", e.Name, e.Waited.Round(time.Millisecond), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Acquire spins on l.TryLock with exponential backoff until the lock is taken,
// timeout passes (timeout <= 0 waits forever), or ctx is done. Failures are
// returned as an [*Error].
//
// Spinning on a try-lock instead of a blocking lock call means that waiting
// never trips the `lock_timeout` or `statement_timeout` Postgres connection
// parameters, which callers are expected to use to control the execution of
// their recipes.
func Acquire(ctx context.Context, l Locker, name string, timeout time.Duration) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = SpinWait
	policy.MaxInterval = MaxSpinWait
	policy.MaxElapsedTime = timeout
	started := time.Now()
	attempt := func() error {
		locked, err := l.TryLock(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !locked {
			return ErrTimeout
		}
		return nil
	}
	if err := backoff.Retry(attempt, backoff.WithContext(policy, ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ErrTimeout) {
			err = ctxErr
		}
		return &Error{Name: name, Waited: time.Since(started), Err: err}
	}
	return nil
}

// Release unlocks l on a fresh context bounded by [UnlockTimeout].
func Release(ctx context.Context, l Locker, name string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), UnlockTimeout)
	defer cancel()
	if err := l.Unlock(ctx); err != nil {
		return fmt.Errorf("sessionlock(%s) failed to unlock: %w", name, err)
	}
	return nil
}

// With acquires the lock, calls `cb`, then releases the lock. The lock is
// released on every exit path, including a panic in `cb` or the cancellation
// of `ctx`.
func With(ctx context.Context, l Locker, name string, timeout time.Duration, cb func() error) (final error) {
	if err := Acquire(ctx, l, name, timeout); err != nil {
		return err
	}
	defer func() {
		if err := Release(ctx, l, name); err != nil {
			final = multierr.Join(final, err)
		}
	}()
	return cb()
}
