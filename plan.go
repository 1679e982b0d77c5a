package dbmigrator

import (
	"fmt"
	"slices"

	"github.com/dbmigrator/dbmigrator/internal/multierr"
)

// Action is what the executor does with a [Step].
type Action string

const (
	ActionApply Action = "apply"
	ActionSkip  Action = "skip"
)

// Reasons attached to skipped steps.
const (
	SkipApplied       = "already applied"
	SkipRemovedByFix  = "removed by a pending revert or fixup"
	SkipFixesDisabled = "fixes are disabled"
	SkipNotApplied    = "version is not applied"
	SkipOtherChecksum = "applied with a different checksum"
	SkipAboveMaximum  = "current version is above maximum_version"
	SkipOutOfOrder    = "below the current version"
	SkipBaseline      = "covered by the baseline"
)

// Step is one recipe in a [Plan] together with what will happen to it.
type Step struct {
	Recipe Recipe
	Action Action
	// Reason explains a skipped step.
	Reason string
	// TargetLogID is the log_id of the changelog row that a revert or fixup
	// replaces. It is 0 when that row is written earlier in the same run.
	TargetLogID int64
}

func (s Step) String() string {
	if s.Action == ActionSkip && s.Reason != "" {
		return fmt.Sprintf("%s %s: %s", s.Action, s.Recipe, s.Reason)
	}
	return fmt.Sprintf("%s %s", s.Action, s.Recipe)
}

// PlanOptions control [NewPlan].
type PlanOptions struct {
	// TargetVersion limits the plan to recipes up to and including this
	// version, which must name a baseline or upgrade. Empty means no limit.
	TargetVersion string
	// BaselineVersion picks the baseline used to initialize a fresh
	// database. Empty means the highest baseline not above the target.
	BaselineVersion string
	// AllowFixes enables reverts and fixups.
	AllowFixes bool
	// AllowOutOfOrder applies upgrades that sort below the current version
	// but were never applied, instead of warning about them.
	AllowOutOfOrder bool
}

// Plan is the ordered list of steps that takes a database from its effective
// state to the target state. Plans are computed fresh for every run and never
// stored.
type Plan struct {
	Steps []Step
	// CurrentVersion is the database's version before the plan runs, or
	// empty for a fresh database.
	CurrentVersion string
	TargetVersion  string
	// Warnings are non-fatal findings made while planning.
	Warnings []VerificationError
	// Unfinished lists every unresolved unfinished changelog row.
	Unfinished []ConsistencyWarning
	// Blocked is set when the plan was cut short because a recipe it needed
	// to apply has an unfinished changelog row.
	Blocked *ConsistencyWarning

	state *EffectiveState
}

// NewPlan compares the recipes in set with the effective state of a database
// and decides which recipes to apply.
//
// For a fresh database (an empty state), the plan starts with a baseline:
// opts.BaselineVersion if set, otherwise the highest baseline that is not
// above the target. Every upgrade above that baseline, up to the target,
// follows in ascending order.
//
// For an initialized database, every upgrade above the current version, up
// to the target, is applied in ascending order. Upgrades at or below the
// current version that are already applied are skipped, as are upgrades up
// to the version of the baseline that initialized the database. Ones that
// were never applied are applied only with opts.AllowOutOfOrder, and reported
// in Plan.Warnings otherwise.
//
// With opts.AllowFixes, reverts and fixups are considered in the order they
// were declared and placed after the upgrades. A fix is applied only if its
// version is in the state, its old_checksum matches the checksum recorded for
// that version, and the current version is not above its maximum_version. The
// effect of each applied fix is taken into account when evaluating the next.
//
// After the fixes are accounted for, every version in the state must still
// match the checksum of its recipe; otherwise NewPlan fails with a
// [ChecksumMismatch] [*ValidationError] per version. NewPlan fails with a
// [*PlanningError] when the target or baseline cannot be resolved.
//
// A recipe of any kind whose version has an unresolved unfinished changelog
// row is never applied: the plan stops before it, no later step is planned,
// and Plan.Blocked describes the row.
//
// set and state must have been built with the same [Comparator]; otherwise
// NewPlan fails with a [ComparatorMismatch] [*PlanningError].
func NewPlan(set *RecipeSet, state *EffectiveState, opts PlanOptions) (*Plan, error) {
	cmp := set.Comparator()
	if state == nil {
		state = FoldChangelog(nil, cmp)
	}
	if state.cmpName != set.cmpName {
		return nil, &PlanningError{
			Kind:   ComparatorMismatch,
			Detail: fmt.Sprintf("recipes are ordered by %s but the changelog was read with %s", set.cmpName, state.cmpName),
		}
	}
	current, initialized := CurrentVersion(state, cmp)
	plan := &Plan{
		CurrentVersion: current,
		TargetVersion:  opts.TargetVersion,
		Unfinished:     state.Warnings(),
		state:          state,
	}
	for _, w := range plan.Unfinished {
		plan.Warnings = append(plan.Warnings, w.verificationError())
	}

	target := opts.TargetVersion
	if target != "" {
		if !set.HasVersion(target) {
			return nil, &PlanningError{Kind: UnknownTarget, Version: target, Detail: "no baseline or upgrade has this version"}
		}
		if initialized && cmp(target, current) < 0 {
			return nil, &PlanningError{
				Kind:    TargetBehindCurrent,
				Version: target,
				Detail:  fmt.Sprintf("database is already at %s", current),
			}
		}
	}
	inRange := func(version string) bool {
		return target == "" || cmp(version, target) <= 0
	}

	simulated, fixSteps := planFixes(set, state, opts)
	if err := checkChecksums(set, simulated); err != nil {
		return nil, err
	}

	var steps []Step
	if state.Empty() {
		baseline, err := selectBaseline(set, opts, inRange)
		if err != nil {
			return nil, err
		}
		steps = append(steps, Step{Recipe: baseline, Action: ActionApply})
		for _, r := range set.Upgrades() {
			if cmp(r.Version, baseline.Version) > 0 && inRange(r.Version) {
				steps = append(steps, Step{Recipe: r, Action: ActionApply})
			}
		}
	} else {
		floor, hasFloor := baselineVersion(state, cmp)
		for _, r := range set.Timeline() {
			if !inRange(r.Version) {
				continue
			}
			_, inSimulated := simulated.Entry(r.Version)
			_, inState := state.Entry(r.Version)
			switch {
			case r.Kind == KindBaseline:
				if entry, ok := simulated.Entry(r.Version); ok && entry.Checksum == r.Checksum {
					steps = append(steps, Step{Recipe: r, Action: ActionSkip, Reason: SkipApplied})
				}
			case inSimulated:
				steps = append(steps, Step{Recipe: r, Action: ActionSkip, Reason: SkipApplied})
			case inState:
				steps = append(steps, Step{Recipe: r, Action: ActionSkip, Reason: SkipRemovedByFix})
			case hasFloor && cmp(r.Version, floor) <= 0:
				steps = append(steps, Step{Recipe: r, Action: ActionSkip, Reason: SkipBaseline})
			case cmp(r.Version, current) > 0, opts.AllowOutOfOrder:
				steps = append(steps, Step{Recipe: r, Action: ActionApply})
			default:
				steps = append(steps, Step{Recipe: r, Action: ActionSkip, Reason: SkipOutOfOrder})
				plan.Warnings = append(plan.Warnings, VerificationError{
					Message: "found unapplied upgrade below the current version",
					Fields: map[string]any{
						"recipe_version":  r.Version,
						"recipe_name":     r.Name,
						"current_version": current,
					},
				})
			}
		}
	}

	steps, plan.Blocked = stopAtUnfinished(state, steps)
	if plan.Blocked != nil {
		fixSteps = nil
	} else {
		fixSteps, plan.Blocked = stopAtUnfinished(state, fixSteps)
	}
	plan.Steps = append(steps, fixSteps...)
	return plan, nil
}

// stopAtUnfinished cuts steps before the first applied recipe, of any kind,
// whose version has an unresolved unfinished row.
func stopAtUnfinished(state *EffectiveState, steps []Step) ([]Step, *ConsistencyWarning) {
	for i, step := range steps {
		if step.Action != ActionApply {
			continue
		}
		versions := []string{step.Recipe.Version}
		if step.Recipe.Kind == KindFixup && step.Recipe.NewVersion != "" {
			versions = append(versions, step.Recipe.NewVersion)
		}
		for _, version := range versions {
			if row, ok := state.unfinished(version); ok {
				w := ConsistencyWarning{LogID: row.LogID, Version: row.Version, Kind: row.Kind, StartTS: row.StartTS}
				return steps[:i], &w
			}
		}
	}
	return steps, nil
}

// baselineVersion returns the highest version a finished baseline row was
// recorded at. Upgrades up to it are part of that baseline.
func baselineVersion(state *EffectiveState, cmp Comparator) (string, bool) {
	var floor string
	found := false
	for _, row := range state.Rows {
		if row.Kind != KindBaseline || !row.Finished() || row.Removes() {
			continue
		}
		if !found || cmp(row.Version, floor) > 0 {
			floor, found = row.Version, true
		}
	}
	return floor, found
}

func selectBaseline(set *RecipeSet, opts PlanOptions, inRange func(string) bool) (Recipe, error) {
	if opts.BaselineVersion != "" {
		baseline, ok := set.Find(opts.BaselineVersion, KindBaseline)
		if !ok {
			return Recipe{}, &PlanningError{Kind: UnknownBaseline, Version: opts.BaselineVersion, Detail: "no baseline has this version"}
		}
		if !inRange(baseline.Version) {
			return Recipe{}, &PlanningError{Kind: UnknownBaseline, Version: opts.BaselineVersion, Detail: "baseline is above the target version"}
		}
		return baseline, nil
	}
	baselines := set.Baselines()
	for i := len(baselines) - 1; i >= 0; i-- {
		if inRange(baselines[i].Version) {
			return baselines[i], nil
		}
	}
	return Recipe{}, &PlanningError{Kind: NoBaseline, Detail: "fresh database needs a baseline recipe"}
}

// planFixes decides which fixes apply, and returns the state as it will be
// once they have.
func planFixes(set *RecipeSet, state *EffectiveState, opts PlanOptions) (*EffectiveState, []Step) {
	cmp := set.Comparator()
	simulated := state.clone()
	var steps []Step
	for i, fix := range set.fixes {
		step := Step{Recipe: fix, Action: ActionSkip}
		entry, ok := simulated.Entry(fix.Version)
		current, _ := CurrentVersion(simulated, cmp)
		switch {
		case !opts.AllowFixes:
			step.Reason = SkipFixesDisabled
		case !ok:
			step.Reason = SkipNotApplied
		case entry.Checksum != set.resolvedOldChecksum(i):
			step.Reason = SkipOtherChecksum
		case fix.MaximumVersion != "" && cmp(current, fix.MaximumVersion) > 0:
			step.Reason = SkipAboveMaximum
		default:
			step.Action = ActionApply
			step.Reason = ""
			step.TargetLogID = entry.LogID
			for _, row := range resultRows(step, 0) {
				simulated.apply(row)
			}
		}
		steps = append(steps, step)
	}
	return simulated, steps
}

// checkChecksums fails when a version in state was recorded with a checksum
// that none of its recipes carry anymore.
func checkChecksums(set *RecipeSet, state *EffectiveState) error {
	var errs []error
	for _, entry := range state.Entries() {
		recipes := set.recipeFor(entry.Version, entry.Kind)
		if len(recipes) == 0 {
			continue
		}
		if slices.ContainsFunc(recipes, func(r Recipe) bool { return r.Checksum == entry.Checksum }) {
			continue
		}
		errs = append(errs, &ValidationError{
			Kind:    ChecksumMismatch,
			Version: entry.Version,
			Name:    entry.Name,
			Detail: fmt.Sprintf("%s applied with checksum %s (log_id %d) but the recipe now has checksum %s",
				entry.Kind, ShortChecksum(entry.Checksum), entry.LogID, ShortChecksum(recipes[0].Checksum)),
		})
	}
	return multierr.Join(errs...)
}

// resultRows returns the changelog rows an applied step leaves behind once
// it commits, the first with the given log_id.
func resultRows(step Step, logID int64) []ChangelogRow {
	r := step.Recipe
	row := ChangelogRow{
		LogID:    logID,
		Version:  r.Version,
		Name:     r.Name,
		Kind:     r.Kind,
		Checksum: r.Checksum,
	}
	switch r.Kind {
	case KindRevert:
		row.Checksum = ""
	case KindFixup:
		row.Version, row.Name, row.Checksum = r.NewVersion, r.NewName, r.NewChecksum
		if r.NewVersion != r.Version {
			marker := ChangelogRow{LogID: logID + 1, Version: r.Version, Name: r.Name, Kind: KindFixup}
			return []ChangelogRow{row, marker}
		}
	}
	return []ChangelogRow{row}
}

// Pending returns the steps that will be applied.
func (p *Plan) Pending() []Step {
	var out []Step
	for _, step := range p.Steps {
		if step.Action == ActionApply {
			out = append(out, step)
		}
	}
	return out
}

// Empty is true when there is nothing to apply.
func (p *Plan) Empty() bool {
	return len(p.Pending()) == 0
}

// Preview returns the consolidated changelog as it will look after every
// pending step has been applied. Rows for pending steps carry the log_ids
// they are expected to receive and no timestamps.
func (p *Plan) Preview() []ChangelogRow {
	state := p.state.clone()
	next := state.LastLogID + 1
	for _, step := range p.Pending() {
		rows := resultRows(step, next)
		for _, row := range rows {
			state.apply(row)
		}
		next += int64(len(rows))
	}
	return state.Entries()
}
