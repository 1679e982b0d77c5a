package dbmigrator

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"
)

// DefaultTableName is the default name of the changelog table. Backends
// accept a schema-qualified name as well.
const DefaultTableName string = "dbmigrator_log"

// ChangelogRow is one append-only record in the changelog table:
//
//   - log_id: integer primary key, assigned by dbmigrator as max+1
//   - version: text not null
//   - name: text
//   - kind: text not null, one of baseline/upgrade/revert/fixup
//   - checksum: text, null for rows that remove their version
//   - applied_by: text
//   - start_ts: timestamp with time zone
//   - finish_ts: timestamp with time zone, null while the recipe is running
//   - revert_ts: timestamp with time zone, set once when a later revert or
//     fixup replaces this row
//
// Nullable text columns are represented by the empty string, nullable
// timestamps by the zero [time.Time].
type ChangelogRow struct {
	LogID     int64
	Version   string
	Name      string
	Kind      Kind
	Checksum  string
	AppliedBy string
	StartTS   time.Time
	FinishTS  time.Time
	RevertTS  time.Time
}

// Finished reports whether the row's recipe completed.
func (r ChangelogRow) Finished() bool {
	return !r.FinishTS.IsZero()
}

// Removes reports whether the row removes its version from the effective
// state, which is what a null checksum means.
func (r ChangelogRow) Removes() bool {
	return r.Checksum == ""
}

// Reverted reports whether a later revert or fixup replaced this row.
func (r ChangelogRow) Reverted() bool {
	return !r.RevertTS.IsZero()
}

// EffectiveState is the per-version truth derived from the changelog: for
// every version, the last finished row that recorded it, unless a later
// finished row with a null checksum removed it.
type EffectiveState struct {
	cmp     Comparator
	cmpName string
	entries map[string]ChangelogRow
	// Rows is the full changelog the state was folded from, in log_id order.
	Rows []ChangelogRow
	// Unfinished holds the rows that were started but never finished and
	// were not followed by a finished row for the same version.
	Unfinished []ChangelogRow
	// LastLogID is the highest log_id in the changelog, or 0.
	LastLogID int64
}

// FoldChangelog derives the [EffectiveState] from rows. Rows are folded in
// log_id order whatever order they are given in; unfinished rows are left out
// of the fold and kept in EffectiveState.Unfinished until a later finished
// row for their version resolves them.
func FoldChangelog(rows []ChangelogRow, cmp Comparator) *EffectiveState {
	if cmp == nil {
		cmp = SimpleCompare
	}
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, func(a, b ChangelogRow) int {
		switch {
		case a.LogID < b.LogID:
			return -1
		case a.LogID > b.LogID:
			return 1
		default:
			return 0
		}
	})
	state := &EffectiveState{
		cmp:     cmp,
		cmpName: ComparatorName(cmp),
		entries: map[string]ChangelogRow{},
		Rows:    sorted,
	}
	pending := map[string][]ChangelogRow{}
	for _, row := range sorted {
		if row.LogID > state.LastLogID {
			state.LastLogID = row.LogID
		}
		if !row.Finished() {
			pending[row.Version] = append(pending[row.Version], row)
			continue
		}
		delete(pending, row.Version)
		state.apply(row)
	}
	for _, rows := range pending {
		state.Unfinished = append(state.Unfinished, rows...)
	}
	slices.SortFunc(state.Unfinished, func(a, b ChangelogRow) int {
		return int(a.LogID - b.LogID)
	})
	return state
}

// ComputeEffectiveState reads the whole changelog through conn and folds it
// with [FoldChangelog]. A missing changelog table yields an empty state.
func ComputeEffectiveState(ctx context.Context, conn Conn, cmp Comparator) (*EffectiveState, error) {
	exists, err := conn.HasChangelog(ctx)
	if err != nil {
		return nil, fmt.Errorf("changelog exists: %w", err)
	}
	if !exists {
		return FoldChangelog(nil, cmp), nil
	}
	rows, err := conn.ReadChangelog(ctx)
	if err != nil {
		return nil, fmt.Errorf("read changelog: %w", err)
	}
	return FoldChangelog(rows, cmp), nil
}

// CurrentVersion returns the highest version in state under cmp, or false if
// the state is empty. cmp must be nil or the comparator the state was folded
// with; CurrentVersion panics on any other, since one run orders every
// version the same way.
func CurrentVersion(state *EffectiveState, cmp Comparator) (string, bool) {
	if state == nil || len(state.entries) == 0 {
		return "", false
	}
	if cmp == nil {
		cmp = state.cmp
	} else if name := ComparatorName(cmp); name != state.cmpName {
		panic(fmt.Sprintf("dbmigrator: CurrentVersion called with comparator %s on a state folded with %s", name, state.cmpName))
	}
	var current string
	first := true
	for version := range state.entries {
		if first || cmp(version, current) > 0 {
			current = version
			first = false
		}
	}
	return current, true
}

// Comparator returns the comparator the state was folded with.
func (s *EffectiveState) Comparator() Comparator {
	return s.cmp
}

func (s *EffectiveState) apply(row ChangelogRow) {
	if row.Removes() {
		delete(s.entries, row.Version)
		return
	}
	s.entries[row.Version] = row
}

func (s *EffectiveState) clone() *EffectiveState {
	return &EffectiveState{
		cmp:        s.cmp,
		cmpName:    s.cmpName,
		entries:    maps.Clone(s.entries),
		Rows:       slices.Clone(s.Rows),
		Unfinished: slices.Clone(s.Unfinished),
		LastLogID:  s.LastLogID,
	}
}

// Empty is true for a fresh database, or one whose every version has been
// removed.
func (s *EffectiveState) Empty() bool {
	return len(s.entries) == 0
}

// Len returns the number of versions in the state.
func (s *EffectiveState) Len() int {
	return len(s.entries)
}

// Entry returns the row currently recording version.
func (s *EffectiveState) Entry(version string) (ChangelogRow, bool) {
	if row, ok := s.entries[version]; ok {
		return row, true
	}
	// Versions that compare equal without being byte-identical.
	for v, row := range s.entries {
		if s.cmp(v, version) == 0 {
			return row, true
		}
	}
	return ChangelogRow{}, false
}

// Entries returns the consolidated changelog: one row per version, in
// ascending version order.
func (s *EffectiveState) Entries() []ChangelogRow {
	out := slices.Collect(maps.Values(s.entries))
	slices.SortFunc(out, func(a, b ChangelogRow) int {
		return s.cmp(a.Version, b.Version)
	})
	return out
}

// Warnings returns one [ConsistencyWarning] per unresolved unfinished row.
func (s *EffectiveState) Warnings() []ConsistencyWarning {
	var out []ConsistencyWarning
	for _, row := range s.Unfinished {
		out = append(out, ConsistencyWarning{
			LogID:   row.LogID,
			Version: row.Version,
			Kind:    row.Kind,
			StartTS: row.StartTS,
		})
	}
	return out
}

// unfinished returns the unresolved unfinished row for version, if any.
func (s *EffectiveState) unfinished(version string) (ChangelogRow, bool) {
	for _, row := range s.Unfinished {
		if s.cmp(row.Version, version) == 0 {
			return row, true
		}
	}
	return ChangelogRow{}, false
}
