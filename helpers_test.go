package dbmigrator_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/dbmigrator/dbmigrator"
	"github.com/dbmigrator/dbmigrator/sqlite"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func baseline(version, sql string) dbmigrator.Recipe {
	return dbmigrator.NewRecipe(version, "baseline", dbmigrator.KindBaseline, sql)
}

func upgrade(version, name, sql string) dbmigrator.Recipe {
	return dbmigrator.NewRecipe(version, name, dbmigrator.KindUpgrade, sql)
}

func revert(version, oldChecksum, sql string) dbmigrator.Recipe {
	r := dbmigrator.NewRecipe(version, "revert", dbmigrator.KindRevert, sql)
	r.OldChecksum = oldChecksum
	return r
}

func fixup(version, oldChecksum, newVersion, newName, newChecksum, sql string) dbmigrator.Recipe {
	r := dbmigrator.NewRecipe(version, "fixup", dbmigrator.KindFixup, sql)
	r.OldChecksum = oldChecksum
	r.NewVersion = newVersion
	r.NewName = newName
	r.NewChecksum = newChecksum
	return r
}

// finished returns a completed changelog row recording recipe r.
func finished(logID int64, r dbmigrator.Recipe) dbmigrator.ChangelogRow {
	row := unfinished(logID, r)
	row.FinishTS = row.StartTS.Add(time.Second)
	return row
}

// unfinished returns a changelog row for recipe r that was never completed.
func unfinished(logID int64, r dbmigrator.Recipe) dbmigrator.ChangelogRow {
	return dbmigrator.ChangelogRow{
		LogID:     logID,
		Version:   r.Version,
		Name:      r.Name,
		Kind:      r.Kind,
		Checksum:  r.Checksum,
		AppliedBy: "tests",
		StartTS:   epoch.Add(time.Duration(logID) * time.Minute),
	}
}

func newSet(t *testing.T, recipes ...dbmigrator.Recipe) *dbmigrator.RecipeSet {
	t.Helper()
	set, err := dbmigrator.NewRecipeSet(recipes, dbmigrator.SimpleCompare)
	assert.Nil(t, err)
	return set
}

func fold(rows ...dbmigrator.ChangelogRow) *dbmigrator.EffectiveState {
	return dbmigrator.FoldChangelog(rows, dbmigrator.SimpleCompare)
}

// validationKinds flattens a joined validation error into its kinds.
func validationKinds(err error) []dbmigrator.ValidationErrorKind {
	var kinds []dbmigrator.ValidationErrorKind
	var walk func(error)
	walk = func(err error) {
		switch e := err.(type) {
		case *dbmigrator.ValidationError:
			kinds = append(kinds, e.Kind)
		case interface{ Unwrap() []error }:
			for _, inner := range e.Unwrap() {
				walk(inner)
			}
		}
	}
	walk(err)
	return kinds
}

func stepLabels(plan *dbmigrator.Plan) []string {
	labels := make([]string, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		labels = append(labels, step.String())
	}
	return labels
}

// versions returns the consolidated versions of state, ascending.
func versions(state *dbmigrator.EffectiveState) []string {
	var out []string
	for _, row := range state.Entries() {
		out = append(out, row.Version)
	}
	return out
}

// openSQLite returns a Conn to a new database in the test's temp dir.
func openSQLite(t *testing.T) *sqlite.Conn {
	t.Helper()
	return openSQLiteAt(t, filepath.Join(t.TempDir(), "test.db"))
}

func openSQLiteAt(t *testing.T, path string) *sqlite.Conn {
	t.Helper()
	conn, err := sqlite.Open(context.Background(), path, "")
	assert.Nil(t, err)
	t.Cleanup(func() { check.Nil(t, conn.Close()) })
	return conn
}

// seed writes rows straight into the changelog, as an earlier run would
// have.
func seed(t *testing.T, conn dbmigrator.Conn, rows ...dbmigrator.ChangelogRow) {
	t.Helper()
	ctx := context.Background()
	assert.Nil(t, conn.EnsureChangelog(ctx))
	tx, err := conn.BeginTx(ctx)
	assert.Nil(t, err)
	for _, row := range rows {
		assert.Nil(t, tx.InsertRow(ctx, row))
	}
	assert.Nil(t, tx.Commit())
}
