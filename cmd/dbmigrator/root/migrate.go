package root

import (
	"github.com/spf13/cobra"

	"github.com/dbmigrator/dbmigrator/cmd/dbmigrator/shared"
)

var MigrateFlags struct { //nolint:gochecknoglobals
	Commit *bool
}

var migrateCmd = &cobra.Command{ //nolint:gochecknoglobals
	Use:     "migrate",
	Aliases: []string{"apply"},
	Short:   "Apply any pending recipes",
	Long: shared.CLIHelp(`
Without --commit, prints the plan that would be applied and changes nothing.
See "dbmigrator help plan".

With --commit, applies the pending recipes. Every recipe is recorded in the
changelog table, with the following schema:

  - log_id: integer primary key, one greater than the previous row
  - version: text not null
  - name: text
  - kind: text not null (baseline, upgrade, revert, fixup)
  - checksum: text, null for a row that removes its version
  - applied_by: text
  - start_ts: timestamp, when the recipe started
  - finish_ts: timestamp, null until the recipe finished
  - revert_ts: timestamp, set when a later revert or fixup replaced the row

First, it acquires a database-wide lock so that only one migrator runs at a
time. This makes it safe to use "migrate --commit" on app/container startup
even if you run multiple copies of the application. If the lock cannot be
taken within --lock-timeout, it fails without changing anything.

Second, it reads the changelog and computes the plan under the lock, so a
migrator that had to wait sees everything the previous one applied.

Third, for each recipe in the plan,

  - Begin a transaction
  - Append an unfinished changelog row
  - Run the recipe
  - Mark the row finished (and, for reverts and fixups, stamp the row it
    replaces)
  - Commit the transaction

A failed recipe is rolled back, row included, so it will be planned again on
the next run. Migrate stops at the first failure; recipes committed before it
stay committed.

Finally, it verifies the changelog against the recipes, prints any warnings,
and releases the lock.
	`),
	Example: shared.CLIExample(`
# Show what would be applied
dbmigrator migrate
# Apply it
dbmigrator migrate --commit
# Apply everything up to and including version 0042
dbmigrator migrate --commit --target-version 0042
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

		if !*MigrateFlags.Commit {
			plan, err := m.Plan(ctx, conn)
			if err != nil {
				return err
			}
			printPlan(slogger, plan)
			slogger.Info("dry run, pass --commit to apply", "pending", len(plan.Pending()))
			return nil
		}

		report, err := m.Migrate(ctx, conn)
		if report != nil {
			printReport(slogger, report)
		}
		return err
	},
}

func init() { //nolint:gochecknoinits
	MigrateFlags.Commit = migrateCmd.Flags().BoolP("commit", "c", false, "if true, apply the plan instead of printing it")
}
