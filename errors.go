package dbmigrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/dbmigrator/dbmigrator/internal/sessionlock"
)

var (
	// ErrValidation matches every [*ValidationError] with [errors.Is].
	ErrValidation = errors.New("invalid recipes")
	// ErrPlanning matches every [*PlanningError] with [errors.Is].
	ErrPlanning = errors.New("cannot plan migration")
	// ErrLockTimeout is wrapped by a [*LockError] when the migration lock
	// could not be acquired before the configured timeout.
	ErrLockTimeout = sessionlock.ErrTimeout
)

// ValidationErrorKind identifies which rule a recipe set broke.
type ValidationErrorKind string

const (
	// DuplicateVersion: two baselines or two upgrades share a version.
	DuplicateVersion ValidationErrorKind = "duplicate_version"
	// InvalidRecipe: a recipe has no version or an unknown kind.
	InvalidRecipe ValidationErrorKind = "invalid_recipe"
	// MalformedChecksum: a checksum is not lower-case hex of the right width.
	MalformedChecksum ValidationErrorKind = "malformed_checksum"
	// UnknownOldChecksum: a revert or fixup refers to no known checksum.
	UnknownOldChecksum ValidationErrorKind = "unknown_old_checksum"
	// AmbiguousChecksumPrefix: a revert or fixup prefix matches several
	// known checksums.
	AmbiguousChecksumPrefix ValidationErrorKind = "ambiguous_checksum_prefix"
	// IncompleteFixup: a fixup lacks new_version, new_name or new_checksum,
	// or a revert or fixup lacks old_checksum.
	IncompleteFixup ValidationErrorKind = "incomplete_fixup"
	// ConflictedFix: a revert or fixup refers to the checksum of the live
	// baseline or upgrade recipe of its own version.
	ConflictedFix ValidationErrorKind = "conflicted_fix"
	// ChecksumMismatch: an applied version was recorded with a checksum that
	// differs from its recipe's current checksum.
	ChecksumMismatch ValidationErrorKind = "checksum_mismatch"
)

// ValidationError reports a recipe set that cannot safely be used. Validation
// errors are always detected before the database is modified.
type ValidationError struct {
	Kind    ValidationErrorKind
	Version string
	Name    string
	Detail  string
}

func (e *ValidationError) Error() string {
	label := e.Version
	if e.Name != "" {
		label += "_" + e.Name
	}
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Kind, label)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, label, e.Detail)
}

// Is makes every ValidationError match [ErrValidation].
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// PlanningErrorKind identifies why a plan could not be produced.
type PlanningErrorKind string

const (
	// NoBaseline: the database is fresh and no baseline is eligible.
	NoBaseline PlanningErrorKind = "no_baseline"
	// UnknownBaseline: the requested baseline version has no baseline recipe.
	UnknownBaseline PlanningErrorKind = "unknown_baseline"
	// UnknownTarget: the target version names no baseline or upgrade recipe.
	UnknownTarget PlanningErrorKind = "unknown_target"
	// TargetBehindCurrent: the target version is below the database's
	// current version.
	TargetBehindCurrent PlanningErrorKind = "target_behind_current"
	// NoChangelog: the changelog table does not exist and automatic
	// initialization is disabled.
	NoChangelog PlanningErrorKind = "no_changelog"
	// ComparatorMismatch: the recipes and the changelog were ordered with
	// different comparators.
	ComparatorMismatch PlanningErrorKind = "comparator_mismatch"
)

// PlanningError reports that no plan can reach the requested state. Nothing
// has been executed when it is returned.
type PlanningError struct {
	Kind    PlanningErrorKind
	Version string
	Detail  string
}

func (e *PlanningError) Error() string {
	msg := string(e.Kind)
	if e.Version != "" {
		msg += ": " + e.Version
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is makes every PlanningError match [ErrPlanning].
func (e *PlanningError) Is(target error) bool {
	return target == ErrPlanning
}

// ExecutionError is returned when a recipe fails while being applied. Only the
// failing recipe's transaction is rolled back; recipes committed before it
// remain applied.
type ExecutionError struct {
	Step  Step
	LogID int64
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("failed to apply %s (log_id %d): %v", e.Step.Recipe, e.LogID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// LockError is returned when the migration lock could not be acquired. It
// wraps [ErrLockTimeout] when the configured timeout elapsed, or the context
// or driver error that stopped the attempt.
type LockError = sessionlock.Error

// ConsistencyWarning describes a changelog row that was started but never
// finished, which means a previous run stopped in the middle of a recipe. It
// is never fatal by itself, but the planner refuses to apply a recipe for the
// same version until an operator resolves it.
type ConsistencyWarning struct {
	LogID   int64
	Version string
	Kind    Kind
	StartTS time.Time
}

func (w ConsistencyWarning) String() string {
	return fmt.Sprintf("unfinished changelog row %d for version %s (%s) started at %s",
		w.LogID, w.Version, w.Kind, w.StartTS.Format(time.RFC3339))
}

// verificationError renders the warning in the form used by [Migrator.Verify].
func (w ConsistencyWarning) verificationError() VerificationError {
	return VerificationError{
		Message: "found unfinished changelog row",
		Fields: map[string]any{
			"log_id":         w.LogID,
			"recipe_version": w.Version,
			"recipe_kind":    w.Kind,
			"start_ts":       w.StartTS,
		},
	}
}
