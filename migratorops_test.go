package dbmigrator_test

import (
	"context"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/dbmigrator/dbmigrator"
	"github.com/dbmigrator/dbmigrator/internal/migrations"
)

func TestMarkApplied(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	conn := openSQLite(t)
	assert.Nil(t, conn.EnsureChangelog(ctx))
	users := upgrade("0002", "users", "CREATE TABLE users (id integer);")
	migrator := dbmigrator.NewMigrator([]dbmigrator.Recipe{baseline("0001", ""), users})
	migrator.Logger = dbmigrator.NewTestLogger(t)
	migrator.AppliedBy = "operator"

	applied, err := migrator.MarkApplied(ctx, conn, "0002", "0009")
	assert.Nil(t, err)
	assert.Equal(t, 1, len(applied))
	row := applied[0]
	check.Equal(t, int64(1), row.LogID)
	check.Equal(t, "0002", row.Version)
	check.Equal(t, "users", row.Name)
	check.Equal(t, dbmigrator.KindUpgrade, row.Kind)
	check.Equal(t, users.Checksum, row.Checksum)
	check.Equal(t, "operator", row.AppliedBy)
	check.True(t, row.Finished())

	// Marking it again changes nothing.
	applied, err = migrator.MarkApplied(ctx, conn, "0002")
	assert.Nil(t, err)
	check.Equal(t, 0, len(applied))

	plan, err := migrator.Plan(ctx, conn)
	assert.Nil(t, err)
	check.True(t, plan.Empty())

	// Nothing was executed.
	var count int
	assert.Nil(t, conn.DB().GetContext(ctx, &count, `SELECT count(*) FROM sqlite_master WHERE name = 'users'`))
	check.Equal(t, 0, count)
}

func TestMarkAllApplied(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	conn := openSQLite(t)
	assert.Nil(t, conn.EnsureChangelog(ctx))
	migrator := dbmigrator.NewMigrator(loadFixtures(t))
	migrator.Logger = dbmigrator.NewTestLogger(t)

	applied, err := migrator.MarkAllApplied(ctx, conn)
	assert.Nil(t, err)
	var labels []string
	for _, row := range applied {
		labels = append(labels, row.Version+"_"+row.Name)
	}
	check.Equal(t, []string{"0001_cats", "0002_dogs", "0003_empty.bkp"}, labels)

	report, err := dbmigrator.Migrate(ctx, conn, migrations.FS, migrator.Logger)
	assert.Nil(t, err)
	check.Equal(t, 0, len(report.Committed()))
	check.Equal(t, 0, len(report.Warnings))
}

func TestMarkUnapplied(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	conn := openSQLite(t)
	users := upgrade("0002", "users", "CREATE TABLE users (id integer);")
	migrator := dbmigrator.NewMigrator([]dbmigrator.Recipe{baseline("0001", ""), users})
	migrator.Logger = dbmigrator.NewTestLogger(t)
	_, err := migrator.Migrate(ctx, conn)
	assert.Nil(t, err)

	unapplied, err := migrator.MarkUnapplied(ctx, conn, "0002", "0003")
	assert.Nil(t, err)
	assert.Equal(t, 1, len(unapplied))
	check.Equal(t, int64(3), unapplied[0].LogID)
	check.Equal(t, dbmigrator.KindRevert, unapplied[0].Kind)
	check.Equal(t, "users", unapplied[0].Name)
	check.Equal(t, "", unapplied[0].Checksum)

	rows, err := migrator.Changelog(ctx, conn)
	assert.Nil(t, err)
	assert.Equal(t, 3, len(rows))
	check.True(t, !rows[0].Reverted())
	check.True(t, rows[1].Reverted())

	// The recipe is pending again; its table has to go before it can run.
	plan, err := migrator.Plan(ctx, conn)
	assert.Nil(t, err)
	check.Equal(t, []dbmigrator.Step{{Recipe: users, Action: dbmigrator.ActionApply}}, plan.Pending())
	_, err = conn.DB().ExecContext(ctx, `DROP TABLE users`)
	assert.Nil(t, err)
	report, err := migrator.Migrate(ctx, conn)
	assert.Nil(t, err)
	check.Equal(t, 1, len(report.Committed()))
}

func TestMarkUnappliedResolvesUnfinishedRow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	conn := openSQLite(t)
	b := baseline("0001", "")
	users := upgrade("0002", "users", "CREATE TABLE users (id integer);")
	seed(t, conn, finished(1, b), unfinished(2, users))
	migrator := dbmigrator.NewMigrator([]dbmigrator.Recipe{b, users})
	migrator.Logger = dbmigrator.NewTestLogger(t)

	plan, err := migrator.Plan(ctx, conn)
	assert.Nil(t, err)
	check.True(t, plan.Blocked != nil)

	unapplied, err := migrator.MarkUnapplied(ctx, conn, "0002")
	assert.Nil(t, err)
	assert.Equal(t, 1, len(unapplied))
	check.Equal(t, "users", unapplied[0].Name)

	state, err := migrator.State(ctx, conn)
	assert.Nil(t, err)
	check.Equal(t, 0, len(state.Unfinished))
	check.Equal(t, []string{"0001"}, versions(state))

	report, err := migrator.Migrate(ctx, conn)
	assert.Nil(t, err)
	check.Equal(t, 1, len(report.Committed()))
}

func TestMarkAppliedRequiresChangelog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	conn := openSQLite(t)
	migrator := dbmigrator.NewMigrator([]dbmigrator.Recipe{baseline("0001", "")})
	_, err := migrator.MarkApplied(ctx, conn, "0001")
	check.Error(t, err)
	_, err = migrator.MarkUnapplied(ctx, conn, "0001")
	check.Error(t, err)
}
