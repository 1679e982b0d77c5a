package dbmigrator_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/dbmigrator/dbmigrator"
)

func TestExecuteAppliesPlan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	conn := openSQLite(t)
	assert.Nil(t, conn.EnsureChangelog(ctx))

	set := newSet(t,
		baseline("0001", "CREATE TABLE a (id integer);"),
		upgrade("0002", "b", "CREATE TABLE b (id integer);"),
	)
	state, err := dbmigrator.ComputeEffectiveState(ctx, conn, nil)
	assert.Nil(t, err)
	plan, err := dbmigrator.NewPlan(set, state, defaultOptions())
	assert.Nil(t, err)

	report, err := dbmigrator.Execute(ctx, conn, plan, dbmigrator.ExecuteOptions{
		AppliedBy: "executor-test",
		Logger:    dbmigrator.NewTestLogger(t),
		RunID:     "run-1",
	})
	assert.Nil(t, err)
	check.Equal(t, "run-1", report.RunID)
	check.Equal(t, 2, len(report.Committed()))
	_, failed := report.Failed()
	check.True(t, !failed)
	check.True(t, !report.FinishedAt.Before(report.StartedAt))

	rows, err := conn.ReadChangelog(ctx)
	assert.Nil(t, err)
	assert.Equal(t, 2, len(rows))
	for i, row := range rows {
		check.Equal(t, int64(i+1), row.LogID)
		check.Equal(t, "executor-test", row.AppliedBy)
		check.True(t, row.Finished())
		check.True(t, !row.Reverted())
		check.Equal(t, report.Results[i].LogID, row.LogID)
	}
	// The preview matches what was written, apart from timestamps.
	diff := cmp.Diff(plan.Preview(), dbmigrator.FoldChangelog(rows, nil).Entries(),
		cmpopts.IgnoreFields(dbmigrator.ChangelogRow{}, "AppliedBy", "StartTS", "FinishTS", "RevertTS"))
	if diff != "" {
		t.Errorf("preview does not match the changelog (-preview +changelog):\n%s", diff)
	}
}

func TestExecuteHaltsOnFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	conn := openSQLite(t)
	assert.Nil(t, conn.EnsureChangelog(ctx))

	set := newSet(t,
		baseline("0001", "CREATE TABLE a (id integer);"),
		upgrade("0002", "broken", "CREATE TABLE b (id integer); CREATE TABEL c (id integer);"),
		upgrade("0003", "d", "CREATE TABLE d (id integer);"),
	)
	plan, err := dbmigrator.NewPlan(set, fold(), defaultOptions())
	assert.Nil(t, err)

	report, err := dbmigrator.Execute(ctx, conn, plan, dbmigrator.ExecuteOptions{Logger: dbmigrator.NewTestLogger(t)})
	assert.NotEqual(t, nil, err)
	var execErr *dbmigrator.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected an ExecutionError, got %T: %v", err, err)
	}
	check.Equal(t, "0002", execErr.Step.Recipe.Version)
	check.Equal(t, int64(2), execErr.LogID)

	assert.Equal(t, 3, len(report.Results))
	check.Equal(t, dbmigrator.StepCommitted, report.Results[0].Status)
	check.Equal(t, dbmigrator.StepFailed, report.Results[1].Status)
	check.NotEqual(t, nil, report.Results[1].Err)
	check.Equal(t, dbmigrator.StepNotAttempted, report.Results[2].Status)
	failed, ok := report.Failed()
	check.True(t, ok)
	check.Equal(t, "0002", failed.Step.Recipe.Version)

	// The failed recipe's row and its partial changes were rolled back.
	rows, err := conn.ReadChangelog(ctx)
	assert.Nil(t, err)
	check.Equal(t, []int64{1}, logIDs(rows))
	var count int
	assert.Nil(t, conn.DB().GetContext(ctx, &count, `SELECT count(*) FROM sqlite_master WHERE name IN ('a', 'b', 'd')`))
	check.Equal(t, 1, count)
}

func TestExecuteWritesFixRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	conn := openSQLite(t)
	b := baseline("0001", "CREATE TABLE a (id integer);")
	wrong := upgrade("0002", "b", "CREATE TABLE b (id integer);")
	gone := upgrade("0003", "c", "CREATE TABLE c (id integer);")
	seed(t, conn, finished(1, b), finished(2, wrong), finished(3, gone))
	_, err := conn.DB().ExecContext(ctx, `CREATE TABLE a (id integer); CREATE TABLE b (id integer); CREATE TABLE c (id integer);`)
	assert.Nil(t, err)

	right := upgrade("0002", "b", "CREATE TABLE b (id bigint);")
	set := newSet(t,
		b,
		right,
		fixup("0002", wrong.Checksum, "0002", "b", right.Checksum, "SELECT 1;"),
		revert("0003", gone.Checksum, "DROP TABLE c;"),
	)
	state, err := dbmigrator.ComputeEffectiveState(ctx, conn, nil)
	assert.Nil(t, err)
	plan, err := dbmigrator.NewPlan(set, state, defaultOptions())
	assert.Nil(t, err)
	check.Equal(t, 2, len(plan.Pending()))

	report, err := dbmigrator.Execute(ctx, conn, plan, dbmigrator.ExecuteOptions{Logger: dbmigrator.NewTestLogger(t)})
	assert.Nil(t, err)
	check.Equal(t, 2, len(report.Committed()))

	rows, err := conn.ReadChangelog(ctx)
	assert.Nil(t, err)
	assert.Equal(t, 5, len(rows))
	check.True(t, !rows[0].Reverted())
	check.True(t, rows[1].Reverted())
	check.True(t, rows[2].Reverted())

	fixed := rows[3]
	check.Equal(t, dbmigrator.KindFixup, fixed.Kind)
	check.Equal(t, "0002", fixed.Version)
	check.Equal(t, right.Checksum, fixed.Checksum)
	check.True(t, fixed.Finished())

	removal := rows[4]
	check.Equal(t, dbmigrator.KindRevert, removal.Kind)
	check.Equal(t, "0003", removal.Version)
	check.Equal(t, "", removal.Checksum)

	state = dbmigrator.FoldChangelog(rows, nil)
	check.Equal(t, []string{"0001", "0002"}, versions(state))
	plan, err = dbmigrator.NewPlan(set, state, defaultOptions())
	assert.Nil(t, err)
	check.True(t, plan.Empty())
}

func TestExecuteFixupMovesVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	conn := openSQLite(t)
	b := baseline("0001", "")
	moved := upgrade("0003", "widgets", "CREATE TABLE widgets (id integer);")
	seed(t, conn, finished(1, b), finished(2, moved))

	target := upgrade("0002", "widgets", moved.SQL)
	set := newSet(t, b, target, fixup("0003", moved.Checksum, "0002", "widgets", target.Checksum, ""))
	state, err := dbmigrator.ComputeEffectiveState(ctx, conn, nil)
	assert.Nil(t, err)
	plan, err := dbmigrator.NewPlan(set, state, defaultOptions())
	assert.Nil(t, err)
	_, err = dbmigrator.Execute(ctx, conn, plan, dbmigrator.ExecuteOptions{})
	assert.Nil(t, err)

	rows, err := conn.ReadChangelog(ctx)
	assert.Nil(t, err)
	assert.Equal(t, 4, len(rows))
	check.Equal(t, "0002", rows[2].Version)
	check.Equal(t, target.Checksum, rows[2].Checksum)
	check.Equal(t, "0003", rows[3].Version)
	check.Equal(t, "", rows[3].Checksum)
	check.True(t, rows[3].Finished())
	check.Equal(t, []string{"0001", "0002"}, versions(dbmigrator.FoldChangelog(rows, nil)))
}

func TestExecuteTimesOutWaitingForLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "locked.db")
	holder := openSQLiteAt(t, path)
	waiter := openSQLiteAt(t, path)
	assert.Nil(t, waiter.EnsureChangelog(ctx))

	locked, err := holder.TryLock(ctx)
	assert.Nil(t, err)
	check.True(t, locked)
	assert.NoFailures(t)
	defer func() { check.Nil(t, holder.Unlock(ctx)) }()

	plan, err := dbmigrator.NewPlan(newSet(t, baseline("0001", "")), fold(), defaultOptions())
	assert.Nil(t, err)
	report, err := dbmigrator.Execute(ctx, waiter, plan, dbmigrator.ExecuteOptions{LockTimeout: 50 * time.Millisecond})
	check.True(t, errors.Is(err, dbmigrator.ErrLockTimeout))
	var lockErr *dbmigrator.LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected a LockError, got %T: %v", err, err)
	}
	check.Equal(t, waiter.LockName(), lockErr.Name)
	if report == nil {
		t.Fatalf("expected a report")
	}
	assert.Equal(t, 1, len(report.Results))
	check.Equal(t, dbmigrator.StepNotAttempted, report.Results[0].Status)

	rows, err := waiter.ReadChangelog(ctx)
	assert.Nil(t, err)
	check.Equal(t, 0, len(rows))
}

// Cancelling the context interrupts the running recipe; the recipes before it
// stay committed and the lock is released.
func TestExecuteStopsWhenContextIsCancelled(t *testing.T) {
	t.Parallel()
	conn := openSQLite(t)
	assert.Nil(t, conn.EnsureChangelog(context.Background()))

	set := newSet(t,
		baseline("0001", "CREATE TABLE a (id integer);"),
		upgrade("0002", "b", "CREATE TABLE b (id integer);"),
		upgrade("0003", "slow", `
CREATE TABLE slow AS
WITH RECURSIVE c(x) AS (SELECT 1 UNION ALL SELECT x + 1 FROM c WHERE x < 1000000000)
SELECT count(*) AS n FROM c;`),
	)
	plan, err := dbmigrator.NewPlan(set, fold(), defaultOptions())
	assert.Nil(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	report, err := dbmigrator.Execute(ctx, conn, plan, dbmigrator.ExecuteOptions{Logger: dbmigrator.NewTestLogger(t)})
	var execErr *dbmigrator.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected an ExecutionError, got %T: %v", err, err)
	}
	check.Equal(t, "0003", execErr.Step.Recipe.Version)
	check.True(t, !strings.Contains(err.Error(), "no transaction is active"))
	check.Equal(t, 2, len(report.Committed()))
	failed, ok := report.Failed()
	check.True(t, ok)
	check.Equal(t, int64(3), failed.LogID)

	bg := context.Background()
	rows, err := conn.ReadChangelog(bg)
	assert.Nil(t, err)
	check.Equal(t, []int64{1, 2}, logIDs(rows))
	for _, row := range rows {
		check.True(t, row.Finished())
	}

	locked, err := conn.TryLock(bg)
	assert.Nil(t, err)
	check.True(t, locked)
	check.Nil(t, conn.Unlock(bg))

	state, err := dbmigrator.ComputeEffectiveState(bg, conn, nil)
	assert.Nil(t, err)
	plan, err = dbmigrator.NewPlan(set, state, defaultOptions())
	assert.Nil(t, err)
	check.True(t, plan.Blocked == nil)
	check.Equal(t, "0002", plan.CurrentVersion)
	check.Equal(t, 1, len(plan.Pending()))
}
