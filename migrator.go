package dbmigrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Migrator should be instantiated with [NewMigrator] rather than used directly.
// It contains the state necessary to perform migrations-related operations.
type Migrator struct {
	// Recipes is the full set of recipes that describe the desired state of
	// the database.
	Recipes []Recipe
	// Logger is used by the Migrator to log messages as it operates. It is
	// designed to be easy to adapt to whatever logging system you use.
	//
	// [NewMigrator] defaults it to `nil`, which will prevent any messages from
	// being logged.
	Logger Logger
	// Comparator orders versions for the whole run.
	//
	// [NewMigrator] defaults it to [SimpleCompare].
	Comparator Comparator
	// LockTimeout bounds the wait for the migration lock. Zero or less waits
	// until the context is done.
	//
	// [NewMigrator] defaults it to [DefaultLockTimeout].
	LockTimeout time.Duration
	// AppliedBy is recorded in the applied_by column of every row written.
	//
	// [NewMigrator] defaults it to [DefaultAppliedBy].
	AppliedBy string
	// TargetVersion stops the migration at this version. Empty applies every
	// recipe.
	TargetVersion string
	// BaselineVersion picks the baseline for a fresh database. Empty picks the
	// highest baseline not above the target.
	BaselineVersion string
	// AllowFixes enables revert and fixup recipes.
	//
	// [NewMigrator] defaults it to `true`.
	AllowFixes bool
	// AllowOutOfOrder applies never-applied upgrades that sort below the
	// current version.
	//
	// [NewMigrator] defaults it to `false`.
	AllowOutOfOrder bool
	// AutoInitialize creates the changelog table when it is missing. When
	// false, a missing table is a [NoChangelog] [*PlanningError].
	//
	// [NewMigrator] defaults it to `true`.
	AutoInitialize bool
}

// NewMigrator creates a [Migrator] and sets appropriate default values for all
// configurable fields:
//
//   - Logger: `nil`, no messages will be logged
//   - Comparator: [SimpleCompare]
//   - LockTimeout: [DefaultLockTimeout]
//   - AppliedBy: [DefaultAppliedBy]
//   - AllowFixes: `true`
//   - AllowOutOfOrder: `false`
//   - AutoInitialize: `true`
//
// To configure these fields, just set the values on the struct.
func NewMigrator(recipes []Recipe) *Migrator {
	return &Migrator{
		Recipes:        recipes,
		Logger:         nil,
		Comparator:     SimpleCompare,
		LockTimeout:    DefaultLockTimeout,
		AppliedBy:      DefaultAppliedBy,
		AllowFixes:     true,
		AutoInitialize: true,
	}
}

func (m *Migrator) log() logger {
	return logger{m.Logger}
}

func (m *Migrator) planOptions() PlanOptions {
	return PlanOptions{
		TargetVersion:   m.TargetVersion,
		BaselineVersion: m.BaselineVersion,
		AllowFixes:      m.AllowFixes,
		AllowOutOfOrder: m.AllowOutOfOrder,
	}
}

// RecipeSet validates the migrator's recipes. See [NewRecipeSet].
func (m *Migrator) RecipeSet() (*RecipeSet, error) {
	return NewRecipeSet(m.Recipes, m.Comparator)
}

// Migrate brings the database up to date. It does the following things:
//
// First, validate the recipes. Nothing touches the database if they are
// invalid.
//
// Then acquire the migration lock, so that only one migrator works on the
// database at any point in time. Waiting for the lock gives up after
// LockTimeout with a [*LockError].
//
// With the lock held, create the changelog table if it is missing (or fail
// with [NoChangelog] when AutoInitialize is false), read the changelog, and
// compute a plan with [NewPlan]. Because this happens under the lock, a
// migrator that had to wait sees everything the previous holder committed.
//
// Then apply the plan with the same protocol as [Execute]: one transaction per
// recipe, halting at the first failure with a partial [Report] and an
// [*ExecutionError].
//
// Finally, verify the resulting changelog (see [Migrator.Verify]) and release
// the lock. The plan's warnings and the verification results are returned in
// Report.Warnings.
func (m *Migrator) Migrate(ctx context.Context, conn Conn) (*Report, error) {
	set, err := m.RecipeSet()
	if err != nil {
		return nil, err
	}
	e := newExecutor(conn, ExecuteOptions{
		AppliedBy:   m.AppliedBy,
		LockTimeout: m.LockTimeout,
		Logger:      m.Logger,
		RunID:       uuid.NewString(),
	})
	var report *Report
	err = e.withLock(ctx, func() error {
		if err := m.ensureChangelog(ctx, conn); err != nil {
			return err
		}
		state, err := ComputeEffectiveState(ctx, conn, set.Comparator())
		if err != nil {
			return err
		}
		plan, err := NewPlan(set, state, m.planOptions())
		if err != nil {
			return err
		}
		for i, step := range plan.Pending() {
			m.log().debug(ctx, fmt.Sprintf("%d", i), LogField{Key: "step", Value: step.String()})
		}
		report, err = e.execute(ctx, plan)
		if err != nil {
			return err
		}
		m.log().info(ctx, "checking for verification errors")
		state, err = ComputeEffectiveState(ctx, conn, set.Comparator())
		if err != nil {
			return err
		}
		report.Warnings = append(report.Warnings, unknownVersions(set, state)...)
		return nil
	})
	if report != nil {
		m.log().warnings(ctx, report.Warnings)
	}
	return report, err
}

// ensureChangelog creates the changelog table when AutoInitialize allows it.
func (m *Migrator) ensureChangelog(ctx context.Context, conn Conn) error {
	if m.AutoInitialize {
		m.log().info(ctx, "ensuring changelog table exists", LogField{Key: "table_name", Value: lockName(conn)})
		if err := conn.EnsureChangelog(ctx); err != nil {
			return fmt.Errorf("ensure changelog: %w", err)
		}
		return nil
	}
	return m.requireChangelog(ctx, conn)
}

func (m *Migrator) requireChangelog(ctx context.Context, conn Conn) error {
	exists, err := conn.HasChangelog(ctx)
	if err != nil {
		return fmt.Errorf("changelog exists: %w", err)
	}
	if !exists {
		return &PlanningError{Kind: NoChangelog, Detail: fmt.Sprintf("table %s does not exist", lockName(conn))}
	}
	return nil
}

// Plan shows which recipes would be applied, in the order that they would be
// applied in, without modifying the database or taking the lock. See
// [NewPlan] for how the plan is computed.
//
// A missing changelog table is treated as a fresh database, unless
// AutoInitialize is false, in which case it is a [NoChangelog]
// [*PlanningError].
func (m *Migrator) Plan(ctx context.Context, conn Conn) (*Plan, error) {
	set, err := m.RecipeSet()
	if err != nil {
		return nil, err
	}
	if !m.AutoInitialize {
		if err := m.requireChangelog(ctx, conn); err != nil {
			return nil, err
		}
	}
	state, err := ComputeEffectiveState(ctx, conn, set.Comparator())
	if err != nil {
		return nil, err
	}
	return NewPlan(set, state, m.planOptions())
}

// State returns the database's [EffectiveState]. A missing changelog table
// yields an empty state.
func (m *Migrator) State(ctx context.Context, conn Conn) (*EffectiveState, error) {
	return ComputeEffectiveState(ctx, conn, m.comparator())
}

// Changelog returns every changelog row in log_id order. A missing changelog
// table yields no rows.
func (m *Migrator) Changelog(ctx context.Context, conn Conn) ([]ChangelogRow, error) {
	state, err := m.State(ctx, conn)
	if err != nil {
		return nil, err
	}
	return state.Rows, nil
}

func (m *Migrator) comparator() Comparator {
	if m.Comparator == nil {
		return SimpleCompare
	}
	return m.Comparator
}

// Verify returns a list of [VerificationError]s with warnings for:
//
//   - versions that are applied to the database but have no baseline or
//     upgrade recipe of the kind they were applied as
//   - changelog rows that were started but never finished
//
// These warnings usually signify that the recipes no longer describe the
// database. They should not prevent your application from starting, but are
// worth showing to a human operator for them to investigate.
//
// Checksum mismatches are not warnings: they are reported as errors by
// [Migrator.Plan] and [Migrator.Migrate].
func (m *Migrator) Verify(ctx context.Context, conn Conn) ([]VerificationError, error) {
	set, err := m.RecipeSet()
	if err != nil {
		return nil, err
	}
	state, err := ComputeEffectiveState(ctx, conn, set.Comparator())
	if err != nil {
		return nil, err
	}
	verrs := unknownVersions(set, state)
	for _, w := range state.Warnings() {
		verrs = append(verrs, w.verificationError())
	}
	return verrs, nil
}

func unknownVersions(set *RecipeSet, state *EffectiveState) []VerificationError {
	var verrs []VerificationError
	for _, entry := range state.Entries() {
		if len(set.recipeFor(entry.Version, entry.Kind)) > 0 {
			continue
		}
		verrs = append(verrs, VerificationError{
			Message: "found applied version without a recipe",
			Fields: map[string]any{
				"log_id":         entry.LogID,
				"recipe_version": entry.Version,
				"recipe_name":    entry.Name,
				"recipe_kind":    entry.Kind,
				"checksum":       entry.Checksum,
				"finish_ts":      entry.FinishTS,
			},
		})
	}
	return verrs
}
