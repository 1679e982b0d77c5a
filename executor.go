package dbmigrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dbmigrator/dbmigrator/internal/multierr"
	"github.com/dbmigrator/dbmigrator/internal/pgtools"
	"github.com/dbmigrator/dbmigrator/internal/sessionlock"
)

// DefaultAppliedBy is recorded in the applied_by column when no other value
// is configured.
const DefaultAppliedBy string = "dbmigrator"

// DefaultLockTimeout is how long [Execute] waits for the migration lock by
// default.
const DefaultLockTimeout time.Duration = 5 * time.Minute

// StepStatus is the outcome of one [Step] in a [Report].
type StepStatus string

const (
	StepCommitted    StepStatus = "committed"
	StepFailed       StepStatus = "failed"
	StepSkipped      StepStatus = "skipped"
	StepNotAttempted StepStatus = "not_attempted"
)

// StepResult records what happened to one step of a plan.
type StepResult struct {
	Step   Step
	Status StepStatus
	// LogID is the changelog row written (or, for a failed step, attempted)
	// for the step, or 0 if none was.
	LogID      int64
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

// Report describes one execution of a plan. It is returned even when
// execution fails, so that callers can tell which recipes were committed.
type Report struct {
	// RunID identifies the run in logs.
	RunID     string
	AppliedBy string
	Results   []StepResult
	// Warnings are the plan's warnings plus anything found by verification
	// after the plan ran.
	Warnings   []VerificationError
	StartedAt  time.Time
	FinishedAt time.Time
}

// Committed returns the results of the steps that were committed.
func (r *Report) Committed() []StepResult {
	return r.withStatus(StepCommitted)
}

// Failed returns the result of the step that failed, if any.
func (r *Report) Failed() (StepResult, bool) {
	failed := r.withStatus(StepFailed)
	if len(failed) == 0 {
		return StepResult{}, false
	}
	return failed[0], true
}

func (r *Report) withStatus(status StepStatus) []StepResult {
	var out []StepResult
	for _, res := range r.Results {
		if res.Status == status {
			out = append(out, res)
		}
	}
	return out
}

// ExecuteOptions control [Execute].
type ExecuteOptions struct {
	// AppliedBy is recorded in the applied_by column of every row written.
	// Defaults to [DefaultAppliedBy].
	AppliedBy string
	// LockTimeout bounds the wait for the migration lock; zero or less waits
	// until ctx is done.
	LockTimeout time.Duration
	// Logger receives progress messages; nil discards them.
	Logger Logger
	// RunID identifies the run in logs; a random one is generated if empty.
	RunID string
}

// Execute applies the pending steps of plan, each in its own transaction:
//
//   - BEGIN;
//   - append a changelog row with log_id = max(log_id)+1 and no finish_ts
//   - run the recipe's SQL
//   - for a fixup, rewrite the row's version/name/checksum with the fixup's
//     new identity, and for both reverts and fixups set revert_ts on the row
//     being replaced
//   - set finish_ts on the row
//   - COMMIT;
//
// Revert rows are written with a null checksum, which is what removes their
// version from the effective state. When a fixup moves an entry to another
// version, a finished null-checksum row for the old version is appended in
// the same transaction.
//
// The migration lock is held for the whole plan, not per recipe. If a recipe
// fails, its transaction is rolled back and no further recipes are attempted;
// recipes committed before it stay applied. The partial [Report] is returned
// together with an [*ExecutionError]. SQL is never retried.
func Execute(ctx context.Context, conn Conn, plan *Plan, opts ExecuteOptions) (*Report, error) {
	e := newExecutor(conn, opts)
	var report *Report
	err := e.withLock(ctx, func() error {
		var err error
		report, err = e.execute(ctx, plan)
		return err
	})
	if report == nil {
		report = e.newReport(plan)
		report.FinishedAt = time.Now().UTC()
	}
	return report, err
}

type executor struct {
	conn Conn
	opts ExecuteOptions
	logger
	// written maps versions to the rows written for them during this run, so
	// that a fix can target a row written by an earlier step.
	written map[string]int64
}

func newExecutor(conn Conn, opts ExecuteOptions) *executor {
	if opts.AppliedBy == "" {
		opts.AppliedBy = DefaultAppliedBy
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	return &executor{
		conn:    conn,
		opts:    opts,
		logger:  logger{opts.Logger},
		written: map[string]int64{},
	}
}

func (e *executor) withLock(ctx context.Context, cb func() error) error {
	name := lockName(e.conn)
	fields := []LogField{{Key: "lock", Value: name}, {Key: "run_id", Value: e.opts.RunID}}
	e.debug(ctx, "acquiring migration lock", fields...)
	return sessionlock.With(ctx, e.conn, name, e.opts.LockTimeout, func() error {
		e.debug(ctx, "acquired migration lock", fields...)
		return cb()
	})
}

func (e *executor) newReport(plan *Plan) *Report {
	report := &Report{
		RunID:     e.opts.RunID,
		AppliedBy: e.opts.AppliedBy,
		StartedAt: time.Now().UTC(),
	}
	if plan != nil {
		report.Warnings = plan.Warnings
		for _, step := range plan.Steps {
			status := StepNotAttempted
			if step.Action == ActionSkip {
				status = StepSkipped
			}
			report.Results = append(report.Results, StepResult{Step: step, Status: status})
		}
	}
	return report
}

// execute runs the plan; the caller must hold the migration lock.
func (e *executor) execute(ctx context.Context, plan *Plan) (*Report, error) {
	report := e.newReport(plan)
	defer func() { report.FinishedAt = time.Now().UTC() }()
	pending := len(plan.Pending())
	e.info(ctx, fmt.Sprintf("planning to apply %d recipes", pending),
		LogField{Key: "run_id", Value: e.opts.RunID},
		LogField{Key: "current_version", Value: plan.CurrentVersion},
	)
	if plan.Blocked != nil {
		e.warn(ctx, "plan stops at a version with an unfinished changelog row",
			LogField{Key: "log_id", Value: plan.Blocked.LogID},
			LogField{Key: "recipe_version", Value: plan.Blocked.Version},
			LogField{Key: "start_ts", Value: plan.Blocked.StartTS},
		)
	}
	for i := range report.Results {
		res := &report.Results[i]
		if res.Status != StepNotAttempted {
			continue
		}
		if err := e.applyStep(ctx, res); err != nil {
			return report, &ExecutionError{Step: res.Step, LogID: res.LogID, Err: err}
		}
	}
	return report, nil
}

func (e *executor) inTx(ctx context.Context, cb func(tx Tx) error) (final error) {
	tx, err := e.conn.BeginTx(ctx)
	if err != nil {
		msg := "tx open"
		e.error(ctx, err, msg)
		return fmt.Errorf("%s: %w", msg, err)
	}
	defer func() {
		if final != nil {
			if err := tx.Rollback(); err != nil {
				final = multierr.Join(final, fmt.Errorf("tx rollback: %w", err))
			}
		} else {
			if err := tx.Commit(); err != nil {
				final = multierr.Join(final, fmt.Errorf("tx commit: %w", err))
			}
		}
	}()
	return cb(tx)
}

// applyStep runs a single recipe inside a transaction and records the
// outcome in res.
func (e *executor) applyStep(ctx context.Context, res *StepResult) error {
	recipe := res.Step.Recipe
	res.StartedAt = time.Now().UTC()
	fields := []LogField{
		{Key: "run_id", Value: e.opts.RunID},
		{Key: "recipe_version", Value: recipe.Version},
		{Key: "recipe_name", Value: recipe.Name},
		{Key: "recipe_kind", Value: recipe.Kind},
		{Key: "checksum", Value: ShortChecksum(recipe.Checksum)},
		{Key: "started_at", Value: res.StartedAt},
	}
	e.info(ctx, "applying recipe", fields...)
	err := e.inTx(ctx, func(tx Tx) error {
		last, err := tx.LastLogID(ctx)
		if err != nil {
			return fmt.Errorf("read last log_id: %w", err)
		}
		res.LogID = last + 1
		fields = append(fields, LogField{Key: "log_id", Value: res.LogID})
		row := ChangelogRow{
			LogID:     res.LogID,
			Version:   recipe.Version,
			Name:      recipe.Name,
			Kind:      recipe.Kind,
			Checksum:  recipe.Checksum,
			AppliedBy: e.opts.AppliedBy,
			StartTS:   res.StartedAt,
		}
		if recipe.Kind == KindRevert {
			row.Checksum = ""
		}
		if err := tx.InsertRow(ctx, row); err != nil {
			return fmt.Errorf("insert changelog row: %w", err)
		}
		if strings.TrimSpace(recipe.SQL) != "" {
			if err := tx.Exec(ctx, recipe.SQL); err != nil {
				return err
			}
		}
		finishedAt := time.Now().UTC()
		if recipe.IsFix() {
			if err := e.finishFix(ctx, tx, res, finishedAt); err != nil {
				return err
			}
		}
		if err := tx.FinishRow(ctx, res.LogID, finishedAt); err != nil {
			return fmt.Errorf("finish changelog row: %w", err)
		}
		res.FinishedAt = finishedAt
		return nil
	})
	fields = append(fields, LogField{Key: "execution_time_ms", Value: time.Since(res.StartedAt).Milliseconds()})
	if err != nil {
		res.Status = StepFailed
		res.Err = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			fields = append(fields, LogField{Key: "cancelled", Value: true})
		}
		for key, val := range pgtools.ErrorData(err) {
			fields = append(fields, LogField{Key: key, Value: val})
		}
		e.error(ctx, err, "failed to apply recipe", fields...)
		return err
	}
	res.Status = StepCommitted
	for _, row := range resultRows(res.Step, res.LogID) {
		e.written[row.Version] = row.LogID
	}
	e.info(ctx, "recipe committed", fields...)
	return nil
}

// finishFix records the effect of a revert or fixup on the changelog.
func (e *executor) finishFix(ctx context.Context, tx Tx, res *StepResult, ts time.Time) error {
	recipe := res.Step.Recipe
	if recipe.Kind == KindFixup {
		if err := tx.RetargetRow(ctx, res.LogID, recipe.NewVersion, recipe.NewName, recipe.NewChecksum); err != nil {
			return fmt.Errorf("retarget changelog row: %w", err)
		}
		if recipe.NewVersion != recipe.Version {
			marker := ChangelogRow{
				LogID:     res.LogID + 1,
				Version:   recipe.Version,
				Name:      recipe.Name,
				Kind:      KindFixup,
				AppliedBy: e.opts.AppliedBy,
				StartTS:   res.StartedAt,
				FinishTS:  ts,
			}
			if err := tx.InsertRow(ctx, marker); err != nil {
				return fmt.Errorf("insert changelog marker row: %w", err)
			}
		}
	}
	target := res.Step.TargetLogID
	if target == 0 {
		target = e.written[recipe.Version]
	}
	if target == 0 {
		return nil
	}
	if err := tx.MarkReverted(ctx, target, ts); err != nil {
		return fmt.Errorf("mark changelog row %d reverted: %w", target, err)
	}
	return nil
}
