package root

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dbmigrator/dbmigrator/cmd/dbmigrator/shared"
)

// ExitPending is the exit status of "status" when recipes are pending.
const ExitPending = 10

var statusCmd = &cobra.Command{ //nolint:gochecknoglobals
	Use:   "status",
	Short: "Check whether any recipes are pending",
	Long: shared.CLIHelp(`
Prints "up-to-date" and exits with status code 0 if there is nothing to
apply. Otherwise prints "pending-migrations" with the number of pending
recipes and exits with status code 10.
	`),
	GroupID:          "migrating",
	TraverseChildren: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		m, conn, slogger, err := shared.State.Open(ctx)
		if err != nil {
			return err
		}
		plan, err := m.Plan(ctx, conn)
		_ = conn.Close()
		if err != nil {
			return err
		}
		current := plan.CurrentVersion
		if current == "" {
			current = "none"
		}
		if plan.Empty() {
			slogger.Info("up-to-date", "current_version", current)
			return nil
		}
		slogger.Info("pending-migrations", "current_version", current, "pending", len(plan.Pending()))
		os.Exit(ExitPending) //nolint:revive // documented exit status
		return nil
	},
}
