package dbmigrator_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/dbmigrator/dbmigrator"
)

// checksumOf returns a well-formed checksum that starts with prefix.
func checksumOf(prefix string, fill string) string {
	return prefix + strings.Repeat(fill, dbmigrator.ChecksumLength-len(prefix))
}

func TestRecipeSetOrdersTimeline(t *testing.T) {
	t.Parallel()
	fix := revert("0002", checksumOf("dead", "0"), "")
	set := newSet(t,
		upgrade("0003", "three", "select 3;"),
		fix,
		upgrade("0002", "two", "select 2;"),
		baseline("0002", "select 'b2';"),
		upgrade("0001", "one", "select 1;"),
		baseline("0001", "select 'b1';"),
	)
	var labels []string
	for _, r := range set.Timeline() {
		labels = append(labels, r.String())
	}
	check.Equal(t, []string{
		"0001_baseline (baseline)",
		"0001_one (upgrade)",
		"0002_baseline (baseline)",
		"0002_two (upgrade)",
		"0003_three (upgrade)",
	}, labels)
	check.Equal(t, 2, len(set.Baselines()))
	check.Equal(t, 3, len(set.Upgrades()))
	check.Equal(t, []dbmigrator.Recipe{fix}, set.Fixes())
	check.Equal(t, []dbmigrator.Recipe{fix}, set.FixesFor("0002"))
	check.Equal(t, 0, len(set.FixesFor("0003")))
	check.Equal(t, 6, len(set.All()))

	r, ok := set.Find("0002", dbmigrator.KindBaseline)
	check.True(t, ok)
	check.Equal(t, "select 'b2';", r.SQL)
	_, ok = set.Find("0003", dbmigrator.KindBaseline)
	check.True(t, !ok)
	check.True(t, set.HasVersion("0003"))
	check.True(t, !set.HasVersion("0004"))
}

func TestRecipeSetUsesComparator(t *testing.T) {
	t.Parallel()
	set, err := dbmigrator.NewRecipeSet([]dbmigrator.Recipe{
		upgrade("10", "ten", ""),
		upgrade("9", "nine", ""),
		upgrade("1.0.0-rc1", "rc", ""),
		upgrade("1.0.0", "release", ""),
	}, dbmigrator.VersionCompare)
	assert.Nil(t, err)
	var order []string
	for _, r := range set.Upgrades() {
		order = append(order, r.Version)
	}
	check.Equal(t, []string{"1.0.0-rc1", "1.0.0", "9", "10"}, order)
}

func TestRecipeSetComputesMissingChecksums(t *testing.T) {
	t.Parallel()
	set := newSet(t, dbmigrator.Recipe{Version: "0001", Kind: dbmigrator.KindUpgrade, SQL: "select 1;"})
	r, ok := set.Find("0001", dbmigrator.KindUpgrade)
	check.True(t, ok)
	assert.NoFailures(t)
	check.Equal(t, dbmigrator.Checksum("select 1;"), r.Checksum)
}

func TestRecipeSetValidation(t *testing.T) {
	t.Parallel()
	live := upgrade("0002", "two", "select 2;")
	deleted := dbmigrator.Checksum("create table gone ();")

	for _, tc := range []struct {
		name     string
		recipes  []dbmigrator.Recipe
		expected []dbmigrator.ValidationErrorKind
	}{
		{
			name:     "duplicate upgrade",
			recipes:  []dbmigrator.Recipe{upgrade("0001", "a", "select 1;"), upgrade("0001", "b", "select 2;")},
			expected: []dbmigrator.ValidationErrorKind{dbmigrator.DuplicateVersion},
		},
		{
			name:     "duplicate baseline",
			recipes:  []dbmigrator.Recipe{baseline("0001", "select 1;"), baseline("0001", "select 2;")},
			expected: []dbmigrator.ValidationErrorKind{dbmigrator.DuplicateVersion},
		},
		{
			name:     "baseline and upgrade may share a version",
			recipes:  []dbmigrator.Recipe{baseline("0001", "select 1;"), upgrade("0001", "a", "select 2;")},
			expected: nil,
		},
		{
			name: "missing version and unknown kind",
			recipes: []dbmigrator.Recipe{
				{Name: "noversion", Kind: dbmigrator.KindUpgrade},
				{Version: "0001", Kind: "sideways"},
			},
			expected: []dbmigrator.ValidationErrorKind{dbmigrator.InvalidRecipe, dbmigrator.InvalidRecipe},
		},
		{
			name: "malformed checksums",
			recipes: []dbmigrator.Recipe{
				{Version: "0001", Kind: dbmigrator.KindUpgrade, Checksum: "abc123"},
				{Version: "0002", Kind: dbmigrator.KindUpgrade, Checksum: strings.ToUpper(dbmigrator.Checksum(""))},
				revert("0003", "abc", ""),
				revert("0004", "XYZXYZXYZ", ""),
				fixup("0005", deleted, "0005", "x", "not-a-checksum", ""),
			},
			expected: []dbmigrator.ValidationErrorKind{
				dbmigrator.MalformedChecksum,
				dbmigrator.MalformedChecksum,
				dbmigrator.MalformedChecksum,
				dbmigrator.MalformedChecksum,
				dbmigrator.MalformedChecksum,
			},
		},
		{
			name: "incomplete fixes",
			recipes: []dbmigrator.Recipe{
				revert("0001", "", ""),
				fixup("0002", deleted, "", "x", live.Checksum, ""),
				fixup("0003", deleted, "0003", "", live.Checksum, ""),
				fixup("0004", deleted, "0004", "x", "", ""),
			},
			expected: []dbmigrator.ValidationErrorKind{
				dbmigrator.IncompleteFixup,
				dbmigrator.IncompleteFixup,
				dbmigrator.IncompleteFixup,
				dbmigrator.IncompleteFixup,
			},
		},
		{
			name:     "full old checksum of a deleted recipe is accepted",
			recipes:  []dbmigrator.Recipe{live, revert("0003", deleted, "")},
			expected: nil,
		},
		{
			name:     "prefix of a known checksum is accepted",
			recipes:  []dbmigrator.Recipe{live, fixup("0001", deleted, "0001", "one", live.Checksum, ""), revert("0003", live.Checksum[:8], "")},
			expected: nil,
		},
		{
			name:     "prefix must match a known checksum",
			recipes:  []dbmigrator.Recipe{live, revert("0003", deleted[:8], "")},
			expected: []dbmigrator.ValidationErrorKind{dbmigrator.UnknownOldChecksum},
		},
		{
			name: "prefix must be unambiguous",
			recipes: []dbmigrator.Recipe{
				{Version: "0001", Kind: dbmigrator.KindUpgrade, Checksum: checksumOf("abcdef01", "1")},
				{Version: "0002", Kind: dbmigrator.KindUpgrade, Checksum: checksumOf("abcdef01", "2")},
				revert("0003", "abcdef01", ""),
				revert("0004", "abcdef011", ""),
			},
			expected: []dbmigrator.ValidationErrorKind{dbmigrator.AmbiguousChecksumPrefix},
		},
		{
			name:     "fix may not target the live recipe of its version",
			recipes:  []dbmigrator.Recipe{live, revert("0002", live.Checksum[:10], "")},
			expected: []dbmigrator.ValidationErrorKind{dbmigrator.ConflictedFix},
		},
	} {
		set, err := dbmigrator.NewRecipeSet(tc.recipes, dbmigrator.SimpleCompare)
		if !check.Equal(t, tc.expected, validationKinds(err)) {
			t.Logf("case: %s: %v", tc.name, err)
		}
		if tc.expected == nil {
			check.Nil(t, err)
			check.True(t, set != nil)
		} else {
			check.True(t, errors.Is(err, dbmigrator.ErrValidation))
			check.True(t, set == nil)
		}
	}
}

func TestValidationErrorMessage(t *testing.T) {
	t.Parallel()
	err := &dbmigrator.ValidationError{
		Kind:    dbmigrator.DuplicateVersion,
		Version: "0001",
		Name:    "cats",
		Detail:  "upgrade version is also used by \"dogs\"",
	}
	check.Equal(t, `duplicate_version: 0001_cats: upgrade version is also used by "dogs"`, err.Error())
	check.True(t, errors.Is(err, dbmigrator.ErrValidation))
	check.True(t, !errors.Is(err, dbmigrator.ErrPlanning))
}
