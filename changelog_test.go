package dbmigrator_test

import (
	"context"
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/dbmigrator/dbmigrator"
)

func TestFoldChangelogFoldsInLogIDOrder(t *testing.T) {
	t.Parallel()
	v1 := baseline("0001", "select 1;")
	v2 := upgrade("0002", "two", "select 2;")
	v2edited := upgrade("0002", "two", "select 2.0;")
	state := fold(
		finished(3, v2edited),
		finished(1, v1),
		finished(2, v2),
	)
	check.Equal(t, []string{"0001", "0002"}, versions(state))
	entry, ok := state.Entry("0002")
	check.True(t, ok)
	assert.NoFailures(t)
	check.Equal(t, v2edited.Checksum, entry.Checksum)
	check.Equal(t, int64(3), entry.LogID)
	check.Equal(t, int64(3), state.LastLogID)
	check.Equal(t, []int64{1, 2, 3}, logIDs(state.Rows))
	check.Equal(t, 2, state.Len())
	check.True(t, !state.Empty())
}

func TestFoldChangelogRemovesReverted(t *testing.T) {
	t.Parallel()
	v1 := baseline("0001", "select 1;")
	v2 := upgrade("0002", "two", "select 2;")
	v3 := upgrade("0003", "three", "select 3;")
	removal := finished(4, revert("0003", v3.Checksum, ""))
	removal.Checksum = ""
	state := fold(finished(1, v1), finished(2, v2), finished(3, v3), removal)
	check.Equal(t, []string{"0001", "0002"}, versions(state))
	current, ok := dbmigrator.CurrentVersion(state, dbmigrator.SimpleCompare)
	check.True(t, ok)
	check.Equal(t, "0002", current)

	// Re-applying after a revert brings the version back.
	state = fold(finished(1, v1), finished(2, v2), finished(3, v3), removal, finished(5, v3))
	check.Equal(t, []string{"0001", "0002", "0003"}, versions(state))
}

func TestFoldChangelogUnfinishedRows(t *testing.T) {
	t.Parallel()
	v1 := baseline("0001", "select 1;")
	v2 := upgrade("0002", "two", "select 2;")
	v3 := upgrade("0003", "three", "select 3;")

	state := fold(finished(1, v1), unfinished(2, v2), unfinished(3, v3))
	check.Equal(t, []string{"0001"}, versions(state))
	check.Equal(t, []int64{2, 3}, logIDs(state.Unfinished))
	warnings := state.Warnings()
	assert.Equal(t, 2, len(warnings))
	check.Equal(t, "0002", warnings[0].Version)
	check.Equal(t, dbmigrator.KindUpgrade, warnings[0].Kind)
	check.True(t, strings.HasPrefix(warnings[0].String(), "unfinished changelog row 2 for version 0002 (upgrade)"))

	// A later finished row for the same version resolves the unfinished one.
	state = fold(finished(1, v1), unfinished(2, v2), finished(3, v2))
	check.Equal(t, []string{"0001", "0002"}, versions(state))
	check.Equal(t, 0, len(state.Unfinished))
	check.Equal(t, 0, len(state.Warnings()))
}

func TestFoldChangelogEmpty(t *testing.T) {
	t.Parallel()
	state := fold()
	check.True(t, state.Empty())
	check.Equal(t, int64(0), state.LastLogID)
	_, ok := dbmigrator.CurrentVersion(state, nil)
	check.True(t, !ok)
	_, ok = dbmigrator.CurrentVersion(nil, nil)
	check.True(t, !ok)
}

func TestCurrentVersionUsesComparator(t *testing.T) {
	t.Parallel()
	rows := []dbmigrator.ChangelogRow{
		finished(1, upgrade("9", "nine", "")),
		finished(2, upgrade("10", "ten", "")),
	}
	state := dbmigrator.FoldChangelog(rows, dbmigrator.VersionCompare)
	current, ok := dbmigrator.CurrentVersion(state, dbmigrator.VersionCompare)
	check.True(t, ok)
	check.Equal(t, "10", current)
	current, _ = dbmigrator.CurrentVersion(state, nil)
	check.Equal(t, "10", current)
	check.Equal(t, []string{"9", "10"}, versions(state))

	current, _ = dbmigrator.CurrentVersion(dbmigrator.FoldChangelog(rows, dbmigrator.SimpleCompare), nil)
	check.Equal(t, "9", current)
}

func TestCurrentVersionRejectsOtherComparator(t *testing.T) {
	t.Parallel()
	state := dbmigrator.FoldChangelog([]dbmigrator.ChangelogRow{finished(1, upgrade("0001", "one", ""))}, dbmigrator.VersionCompare)
	defer func() {
		check.NotNil(t, recover())
	}()
	dbmigrator.CurrentVersion(state, dbmigrator.SimpleCompare)
	t.Fatalf("expected a panic")
}

func TestComparatorName(t *testing.T) {
	t.Parallel()
	check.Equal(t, "simple", dbmigrator.ComparatorName(nil))
	check.Equal(t, "simple", dbmigrator.ComparatorName(dbmigrator.SimpleCompare))
	check.Equal(t, "version", dbmigrator.ComparatorName(dbmigrator.VersionCompare))
	caseless := func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	}
	name := dbmigrator.ComparatorName(caseless)
	check.True(t, name != "simple" && name != "version")
	check.Equal(t, "version", dbmigrator.ComparatorName(dbmigrator.FoldChangelog(nil, dbmigrator.VersionCompare).Comparator()))
}

func TestEntryMatchesComparatorEqualVersions(t *testing.T) {
	t.Parallel()
	caseless := func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	}
	state := dbmigrator.FoldChangelog([]dbmigrator.ChangelogRow{finished(1, upgrade("v1", "one", ""))}, caseless)
	entry, ok := state.Entry("V1")
	check.True(t, ok)
	check.Equal(t, "v1", entry.Version)
	_, ok = state.Entry("v2")
	check.True(t, !ok)
}

func TestComputeEffectiveStateWithoutTable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	conn := openSQLite(t)
	state, err := dbmigrator.ComputeEffectiveState(ctx, conn, nil)
	assert.Nil(t, err)
	check.True(t, state.Empty())
	check.Equal(t, 0, len(state.Rows))

	seed(t, conn, finished(1, baseline("0001", "")), unfinished(2, upgrade("0002", "two", "")))
	state, err = dbmigrator.ComputeEffectiveState(ctx, conn, nil)
	assert.Nil(t, err)
	check.Equal(t, []string{"0001"}, versions(state))
	check.Equal(t, []int64{2}, logIDs(state.Unfinished))
}

func logIDs(rows []dbmigrator.ChangelogRow) []int64 {
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.LogID)
	}
	return ids
}
