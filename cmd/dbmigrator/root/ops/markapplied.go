package ops

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbmigrator/dbmigrator"
	"github.com/dbmigrator/dbmigrator/cmd/dbmigrator/shared"
)

var MarkAppliedFlags struct { //nolint:gochecknoglobals
	Versions *[]string
	All      *bool
}

var markApplied = &cobra.Command{ //nolint:gochecknoglobals
	Use:     "mark-applied",
	Aliases: []string{"create"},
	Short:   "mark recipes as having been applied without actually running them",
	Long: shared.CLIHelp(`
Appends a finished changelog row for each version, with the checksum of its
recipe, as if the recipe had run. Use it when the change was made by hand.

A version that is already applied is left alone. With --all, every baseline
and upgrade version in the migrations directory is marked.
	`),
	Example: shared.CLIExample(`
# Mark version 0123 as applied without running its recipe
dbmigrator ops mark-applied 0123
dbmigrator ops mark-applied --version 0123

# Mark versions 0123 and 0456 as applied without running them
dbmigrator ops mark-applied 0123 0456
dbmigrator ops mark-applied --version 0123 --version 0456

# Mark every baseline and upgrade version as applied
dbmigrator ops mark-applied --all
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		// Argument parsing
		if len(args) != 0 {
			*MarkAppliedFlags.Versions = append(*MarkAppliedFlags.Versions, args...)
		}
		if len(*MarkAppliedFlags.Versions) != 0 && *MarkAppliedFlags.All {
			return fmt.Errorf("--all and --version are mutually exclusive")
		}
		if len(*MarkAppliedFlags.Versions) == 0 && !*MarkAppliedFlags.All {
			return fmt.Errorf("must pass at least one version with --version or --all")
		}
		m, conn, slogger, err := shared.State.Open(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		// Execution
		var applied []dbmigrator.ChangelogRow
		if *MarkAppliedFlags.All {
			slogger.Info("marking ALL as applied")
			applied, err = m.MarkAllApplied(ctx, conn)
		} else {
			applied, err = m.MarkApplied(ctx, conn, *MarkAppliedFlags.Versions...)
		}
		if err != nil {
			return err
		}
		slogger.Info("marked recipes as applied", "count", len(applied))
		for _, row := range applied {
			slogger.Info("marked as applied",
				"log_id", row.LogID,
				"version", row.Version,
				"kind", row.Kind,
				"checksum", row.Checksum,
			)
		}
		return nil
	},
}

func init() { //nolint:gochecknoinits
	MarkAppliedFlags.Versions = markApplied.Flags().StringArray("version", nil, "versions to mark as applied")
	MarkAppliedFlags.All = markApplied.Flags().BoolP("all", "a", false, "if true, mark every baseline and upgrade version as applied")
	markApplied.MarkFlagsMutuallyExclusive("version", "all")
}
