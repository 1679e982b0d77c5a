package root

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dbmigrator/dbmigrator/cmd/dbmigrator/shared"
)

var verifyCmd = &cobra.Command{ //nolint:gochecknoglobals
	Use:   "verify",
	Short: "Verify that recipes have been applied correctly",
	Long: shared.CLIHelp(`
Warns about:
- versions that are applied in the changelog but have no recipe in the
  migrations directory
- changelog rows that were started but never finished

Edited recipes are not warnings: "plan" and "migrate" fail on them.

If there are any warnings, exits with status code 1.
Otherwise, succeeds without printing anything and exits with status code 0.
	`),
	GroupID:          "migrating",
	TraverseChildren: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		m, conn, slogger, err := shared.State.Open(ctx)
		if err != nil {
			return err
		}
		verrs, err := m.Verify(ctx, conn)
		_ = conn.Close()
		if err != nil {
			return err
		}
		shared.Warn(slogger, verrs)
		if len(verrs) != 0 {
			os.Exit(1)
		}
		return nil
	},
}
