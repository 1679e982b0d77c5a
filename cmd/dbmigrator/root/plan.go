package root

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/dbmigrator/dbmigrator"
	"github.com/dbmigrator/dbmigrator/cmd/dbmigrator/shared"
)

var planCmd = &cobra.Command{ //nolint:gochecknoglobals
	Use:   "plan",
	Short: "Preview which recipes would be applied",
	Long: shared.CLIHelp(`
Compares the recipes with the changelog and prints every step, applied or
skipped, without taking the lock or changing the database.

An empty database is initialized from a baseline (the highest one, unless
--baseline-version picks another) followed by every later upgrade.

An initialized database gets every upgrade above its current version, in
ascending version order. Upgrades below the current version that were never
applied are reported, and only applied with --allow-out-of-order.

Reverts and fixups run after the upgrades, in the order they were loaded,
and only when their old_checksum matches what the changelog recorded.

Planning fails if an applied recipe was edited after it ran, unless a fixup
or revert accounts for the change.
	`),
	GroupID:          "migrating",
	TraverseChildren: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		m, conn, slogger, err := shared.State.Open(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		plan, err := m.Plan(ctx, conn)
		if err != nil {
			return err
		}
		printPlan(slogger, plan)
		return nil
	},
}

func printPlan(slogger *log.Logger, plan *dbmigrator.Plan) {
	for _, step := range plan.Steps {
		if step.Action == dbmigrator.ActionSkip {
			slogger.With("action", step.Action, "reason", step.Reason).Debug(step.Recipe.String())
			continue
		}
		slogger.With("action", step.Action, "checksum", step.Recipe.Checksum).Info(step.Recipe.String())
	}
	if plan.Blocked != nil {
		slogger.With("blocked_by", plan.Blocked.String()).Warn("plan stops before a recipe with an unfinished changelog row")
	}
	shared.Warn(slogger, plan.Warnings)
}

func printReport(slogger *log.Logger, report *dbmigrator.Report) {
	for _, res := range report.Results {
		switch res.Status {
		case dbmigrator.StepCommitted:
			slogger.With(
				"log_id", res.LogID,
				"duration", res.FinishedAt.Sub(res.StartedAt),
			).Info(res.Step.Recipe.String())
		case dbmigrator.StepFailed:
			slogger.With("log_id", res.LogID, "error", res.Err).Error(res.Step.Recipe.String())
		case dbmigrator.StepNotAttempted:
			slogger.With("status", res.Status).Warn(res.Step.Recipe.String())
		}
	}
	slogger.Info("finished", "run_id", report.RunID, "committed", len(report.Committed()))
	shared.Warn(slogger, report.Warnings)
}
