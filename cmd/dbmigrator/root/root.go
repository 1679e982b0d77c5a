package root

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbmigrator/dbmigrator"
	"github.com/dbmigrator/dbmigrator/cmd/dbmigrator/root/ops"
	"github.com/dbmigrator/dbmigrator/cmd/dbmigrator/shared"
)

var Command = &cobra.Command{ //nolint:gochecknoglobals
	Version: shared.VersionString(),
	Use:     "dbmigrator",
	Short:   "migrate postgres and sqlite databases with versioned SQL recipes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 {
			return fmt.Errorf(`invalid command: "%s"`, args[0])
		}
		return cmd.Help()
	},
}

func init() { //nolint:gochecknoinits
	Command.CompletionOptions.HiddenDefaultCmd = true
	Command.TraverseChildren = true
	Command.SilenceErrors = true
	Command.SilenceUsage = false
	Command.SetVersionTemplate("{{.Version}}\n")

	flags := Command.PersistentFlags()
	shared.State.Flags.LogFormat = flags.StringP(
		"log-format",
		"l",
		"",
		fmt.Sprintf("[DBM_LOGFORMAT] '%s' or '%s', the log line format (default '%s')",
			shared.LogFormatText, shared.LogFormatJSON, shared.LogFormatText),
	)
	shared.State.Flags.Database = flags.StringP(
		"database",
		"d",
		"",
		"[DBM_DATABASE] a 'postgres://...' connection string, or the path of a sqlite database",
	)
	shared.State.Flags.Migrations = flags.StringP(
		"migrations",
		"m",
		"",
		"[DBM_MIGRATIONS] a path to a directory containing *.sql recipes",
	)
	shared.State.Flags.ConfigFile = flags.StringP(
		"configfile",
		"f",
		"",
		"[DBM_CONFIGFILE] a path to a configuration file",
	)
	shared.State.Flags.TableName = flags.StringP(
		"table-name",
		"t",
		"",
		fmt.Sprintf("[DBM_TABLENAME] the changelog table, optionally schema-qualified (default '%s')",
			dbmigrator.DefaultTableName),
	)
	shared.State.Flags.Comparator = flags.String(
		"comparator",
		"",
		"[DBM_COMPARATOR] 'simple' or 'version', how recipe versions are ordered (default 'simple')",
	)
	shared.State.Flags.AppliedBy = flags.String(
		"applied-by",
		"",
		fmt.Sprintf("[DBM_APPLIEDBY] recorded in the applied_by column (default '%s')", dbmigrator.DefaultAppliedBy),
	)
	shared.State.Flags.LockTimeout = flags.String(
		"lock-timeout",
		"",
		fmt.Sprintf("[DBM_LOCKTIMEOUT] how long to wait for the migration lock (default '%s')",
			dbmigrator.DefaultLockTimeout),
	)
	shared.State.Flags.TargetVersion = flags.String(
		"target-version",
		"",
		"[DBM_TARGETVERSION] stop at this version instead of applying every recipe",
	)
	shared.State.Flags.BaselineVersion = flags.String(
		"baseline-version",
		"",
		"[DBM_BASELINEVERSION] the baseline used to initialize an empty database",
	)
	shared.State.Flags.AllowOutOfOrder = flags.Bool(
		"allow-out-of-order",
		false,
		"[DBM_ALLOWOUTOFORDER] apply unapplied upgrades below the current version",
	)
	shared.State.Flags.NoFixes = flags.Bool(
		"no-fixes",
		false,
		"[DBM_NOFIXES] never apply revert or fixup recipes",
	)
	_ = Command.MarkPersistentFlagDirname("migrations")

	Command.AddGroup(
		&cobra.Group{
			ID:    "migrating",
			Title: "Migrating:",
		},
		&cobra.Group{
			ID:    "ops",
			Title: "Operations:",
		},
		&cobra.Group{
			ID:    "dev",
			Title: "Development:",
		},
	)

	// migrating
	Command.AddCommand(changelogCmd)
	Command.AddCommand(planCmd)
	Command.AddCommand(statusCmd)
	Command.AddCommand(verifyCmd)
	Command.AddCommand(migrateCmd)

	// ops
	Command.AddCommand(ops.Command)
	Command.AddCommand(versionCmd)

	// dev
	Command.AddCommand(configCmd)
	Command.AddCommand(newCmd)
	Command.AddCommand(recipesCmd)
	Command.SetHelpCommandGroupID("dev")
}
