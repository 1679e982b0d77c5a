package ops

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbmigrator/dbmigrator/cmd/dbmigrator/shared"
)

var MarkUnappliedFlags struct { //nolint:gochecknoglobals
	Versions *[]string
}

var markUnapplied = &cobra.Command{ //nolint:gochecknoglobals
	Use:     "mark-unapplied",
	Aliases: []string{"remove", "rm"},
	Short:   "mark versions as NOT applied by appending revert rows for them",
	Long: shared.CLIHelp(`
Appends a finished revert row with no checksum for each version, which
removes the version from the effective state so that its recipe is planned
again. The row it replaces is stamped with a revert_ts. No SQL is run: undo
the recipe's changes by hand first.

This is also how an unfinished changelog row, left behind by a run that
crashed in the middle of a recipe, is resolved once its partial changes have
been cleaned up.
	`),
	Example: shared.CLIExample(`
# Mark version 0123 as unapplied
dbmigrator ops mark-unapplied 0123
dbmigrator ops mark-unapplied --version 0123

# Mark versions 0123 and 0456 as unapplied
dbmigrator ops mark-unapplied 0123 0456
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		// Argument parsing
		if len(args) != 0 {
			*MarkUnappliedFlags.Versions = append(*MarkUnappliedFlags.Versions, args...)
		}
		if len(*MarkUnappliedFlags.Versions) == 0 {
			return fmt.Errorf("must pass at least one version")
		}
		m, conn, slogger, err := shared.State.Open(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		// Execution
		removed, err := m.MarkUnapplied(ctx, conn, *MarkUnappliedFlags.Versions...)
		if err != nil {
			return err
		}
		slogger.Info("finished marking versions as unapplied", "count", len(removed))
		for _, row := range removed {
			slogger.Info("marked as unapplied",
				"log_id", row.LogID,
				"version", row.Version,
				"name", row.Name,
			)
		}
		return nil
	},
}

func init() { //nolint:gochecknoinits
	MarkUnappliedFlags.Versions = markUnapplied.Flags().StringArray("version", nil, "versions to mark as unapplied")
}
