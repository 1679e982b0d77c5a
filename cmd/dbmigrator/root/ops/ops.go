package ops

import (
	"fmt"

	"github.com/spf13/cobra"
)

var Command = &cobra.Command{ //nolint:gochecknoglobals
	Use:     "ops",
	Aliases: []string{"op", "admin"},
	Short:   "Perform manual operations on changelog records",
	Long: `Appends changelog rows by hand, without running any recipe. The changelog is
append-only: nothing here edits or deletes an existing row.`,
	GroupID: "ops",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 {
			return fmt.Errorf(`invalid command: "%s"`, args[0])
		}
		return cmd.Help()
	},
}

func init() { //nolint:gochecknoinits
	Command.AddCommand(markUnapplied)
	Command.AddCommand(markApplied)
}
