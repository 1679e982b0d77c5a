package dbmigrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MarkApplied (⚠️ danger) is a manual operation that records specific versions
// as applied without running their recipes.
//
// You should NOT use this as part of normal operations, it exists to help
// operators resolve changelog problems, such as an unfinished row left behind
// by a crashed run after the recipe's changes were verified by hand.
//
// The changelog is append-only, so every marked version gets a new finished
// row with the checksum of its upgrade (or, if it has none, baseline) recipe.
// Versions that are already applied with that checksum and have no unfinished
// row, and versions that no recipe describes, are skipped with a warning.
//
// It returns the rows that were appended.
func (m *Migrator) MarkApplied(ctx context.Context, conn Conn, versions ...string) ([]ChangelogRow, error) {
	set, err := m.RecipeSet()
	if err != nil {
		return nil, err
	}
	return m.appendRows(ctx, conn, set, func(state *EffectiveState) []opsRow {
		var rows []opsRow
		for _, version := range versions {
			recipe, ok := set.Find(version, KindUpgrade)
			if !ok {
				recipe, ok = set.Find(version, KindBaseline)
			}
			if !ok {
				m.log().warn(ctx, "skipping unknown version",
					LogField{"reason", "no baseline or upgrade recipe"},
					LogField{"recipe_version", version},
				)
				continue
			}
			existing, applied := state.Entry(version)
			_, unfinished := state.unfinished(version)
			if applied && existing.Checksum == recipe.Checksum && !unfinished {
				m.log().warn(ctx, "skipping previously applied version",
					LogField{"recipe_version", existing.Version},
					LogField{"checksum", ShortChecksum(existing.Checksum)},
					LogField{"log_id", existing.LogID},
				)
				continue
			}
			row := opsRow{ChangelogRow: ChangelogRow{
				Version:  recipe.Version,
				Name:     recipe.Name,
				Kind:     recipe.Kind,
				Checksum: recipe.Checksum,
			}}
			if applied {
				row.replaces = existing.LogID
			}
			rows = append(rows, row)
		}
		return rows
	})
}

// MarkAllApplied (⚠️ danger) is a manual operation that marks every baseline
// and upgrade version as applied without running it. See
// [Migrator.MarkApplied].
func (m *Migrator) MarkAllApplied(ctx context.Context, conn Conn) ([]ChangelogRow, error) {
	set, err := m.RecipeSet()
	if err != nil {
		return nil, err
	}
	var versions []string
	for _, r := range set.Timeline() {
		if len(versions) == 0 || versions[len(versions)-1] != r.Version {
			versions = append(versions, r.Version)
		}
	}
	return m.MarkApplied(ctx, conn, versions...)
}

// MarkUnapplied (⚠️ danger) is a manual operation that records specific
// versions as not applied, without running anything.
//
// You should NOT use this as part of normal operations, it exists to help
// operators resolve changelog problems, such as an unfinished row left behind
// by a crashed run whose changes were undone by hand.
//
// The changelog is append-only, so every unmarked version gets a new finished
// revert row with a null checksum, and the row it replaces gets its revert_ts
// set. Versions that are neither applied nor have an unfinished row are
// skipped with a warning.
//
// It returns the rows that were appended.
func (m *Migrator) MarkUnapplied(ctx context.Context, conn Conn, versions ...string) ([]ChangelogRow, error) {
	set, err := m.RecipeSet()
	if err != nil {
		return nil, err
	}
	return m.appendRows(ctx, conn, set, func(state *EffectiveState) []opsRow {
		var rows []opsRow
		for _, version := range versions {
			entry, applied := state.Entry(version)
			pending, unfinished := state.unfinished(version)
			if !applied && !unfinished {
				m.log().warn(ctx, "skipping unknown version",
					LogField{"reason", "not applied"},
					LogField{"recipe_version", version},
				)
				continue
			}
			row := opsRow{ChangelogRow: ChangelogRow{Version: version, Name: pending.Name, Kind: KindRevert}}
			if applied {
				row.Name = entry.Name
				row.replaces = entry.LogID
			}
			rows = append(rows, row)
		}
		return rows
	})
}

// opsRow is a row appended by an operator command, and the log_id of the row
// it replaces, if any.
type opsRow struct {
	ChangelogRow
	replaces int64
}

// appendRows takes the migration lock, reads the changelog, and appends the
// rows returned by build, finished, in a single transaction. The rows they
// replace get their revert_ts set.
func (m *Migrator) appendRows(
	ctx context.Context,
	conn Conn,
	set *RecipeSet,
	build func(state *EffectiveState) []opsRow,
) ([]ChangelogRow, error) {
	e := newExecutor(conn, ExecuteOptions{
		AppliedBy:   m.AppliedBy,
		LockTimeout: m.LockTimeout,
		Logger:      m.Logger,
		RunID:       uuid.NewString(),
	})
	var appended []ChangelogRow
	err := e.withLock(ctx, func() error {
		exists, err := conn.HasChangelog(ctx)
		if err != nil {
			return fmt.Errorf("changelog exists: %w", err)
		}
		if !exists {
			return fmt.Errorf("changelog table %s does not exist", lockName(conn))
		}
		state, err := ComputeEffectiveState(ctx, conn, set.Comparator())
		if err != nil {
			return err
		}
		rows := build(state)
		if len(rows) == 0 {
			return nil
		}
		return e.inTx(ctx, func(tx Tx) error {
			last, err := tx.LastLogID(ctx)
			if err != nil {
				return fmt.Errorf("read last log_id: %w", err)
			}
			now := time.Now().UTC()
			for _, op := range rows {
				row := op.ChangelogRow
				last++
				row.LogID = last
				row.AppliedBy = m.AppliedBy
				row.StartTS = now
				row.FinishTS = now
				fields := []LogField{
					{"log_id", row.LogID},
					{"recipe_version", row.Version},
					{"recipe_kind", row.Kind},
					{"checksum", ShortChecksum(row.Checksum)},
				}
				if err := tx.InsertRow(ctx, row); err != nil {
					msg := "failed to append changelog row"
					m.log().error(ctx, err, msg, fields...)
					return fmt.Errorf("%s: %w", msg, err)
				}
				if op.replaces > 0 {
					if err := tx.MarkReverted(ctx, op.replaces, now); err != nil {
						return fmt.Errorf("mark changelog row %d reverted: %w", op.replaces, err)
					}
				}
				m.log().info(ctx, "appended changelog row", fields...)
				appended = append(appended, row)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return appended, nil
}
