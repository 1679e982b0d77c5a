package root

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/dbmigrator/dbmigrator"
	"github.com/dbmigrator/dbmigrator/cmd/dbmigrator/shared"
)

var ChangelogFlags struct { //nolint:gochecknoglobals
	Consolidated *bool
	Pending      *bool
}

var changelogCmd = &cobra.Command{ //nolint:gochecknoglobals
	Use:     "changelog",
	Aliases: []string{"applied", "list"},
	Short:   "Show the changelog rows",
	Long: shared.CLIHelp(`
Prints every changelog row in log_id order.

With --consolidated, prints the effective state instead: one row per applied
version, the last finished row that recorded it.

With --pending, prints the effective state as it will look once "migrate
--commit" has run. Rows that have not been written yet are marked pending and
have no timestamps.

If the changelog table does not exist, this command prints nothing and exits
successfully.
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

		switch {
		case *ChangelogFlags.Consolidated:
			state, err := m.State(ctx, conn)
			if err != nil {
				return err
			}
			printRows(slogger, state.Entries())
		case *ChangelogFlags.Pending:
			plan, err := m.Plan(ctx, conn)
			if err != nil {
				return err
			}
			printRows(slogger, plan.Preview())
		default:
			rows, err := m.Changelog(ctx, conn)
			if err != nil {
				return err
			}
			printRows(slogger, rows)
		}
		return nil
	},
}

func init() { //nolint:gochecknoinits
	ChangelogFlags.Consolidated = changelogCmd.Flags().Bool("consolidated", false, "if true, print one row per applied version")
	ChangelogFlags.Pending = changelogCmd.Flags().Bool("pending", false, "if true, print the effective state after the pending recipes")
	changelogCmd.MarkFlagsMutuallyExclusive("consolidated", "pending")
}

func printRows(slogger *log.Logger, rows []dbmigrator.ChangelogRow) {
	for _, row := range rows {
		attrs := []any{
			"log_id", row.LogID,
			"kind", row.Kind,
			"checksum", row.Checksum,
		}
		if row.AppliedBy != "" {
			attrs = append(attrs, "applied_by", row.AppliedBy)
		}
		if row.StartTS.IsZero() {
			attrs = append(attrs, "pending", true)
		} else {
			attrs = append(attrs, "start_ts", row.StartTS)
		}
		if row.Finished() {
			attrs = append(attrs, "finish_ts", row.FinishTS)
		}
		if row.Reverted() {
			attrs = append(attrs, "revert_ts", row.RevertTS)
		}
		slogger.With(attrs...).Info(rowLabel(row))
	}
}

func rowLabel(row dbmigrator.ChangelogRow) string {
	if row.Name == "" {
		return row.Version
	}
	return fmt.Sprintf("%s_%s", row.Version, row.Name)
}
