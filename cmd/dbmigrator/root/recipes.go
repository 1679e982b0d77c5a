package root

import (
	"github.com/spf13/cobra"

	"github.com/dbmigrator/dbmigrator"
	"github.com/dbmigrator/dbmigrator/cmd/dbmigrator/shared"
)

var recipesCmd = &cobra.Command{ //nolint:gochecknoglobals
	Use:     "recipes",
	Aliases: []string{"show-config"},
	Short:   "Load and validate the recipes without connecting to a database",
	Long: shared.CLIHelp(`
Loads every *.sql file in the migrations directory, validates the set (unique
versions, resolvable old_checksum prefixes, complete fixups) and prints the
recipes in the order they would be considered: baselines and upgrades by
version, then reverts and fixups.
	`),
	GroupID:          "dev",
	TraverseChildren: true,
	RunE: func(_ *cobra.Command, _ []string) error {
		shared.State.Parse()
		slogger, _ := shared.State.Logger()
		recipes, err := shared.State.Recipes()
		if err != nil {
			return err
		}
		cmp, err := dbmigrator.ComparatorByName(shared.State.Comparator().Value())
		if err != nil {
			return err
		}
		set, err := dbmigrator.NewRecipeSet(recipes, cmp)
		if err != nil {
			return err
		}
		for _, r := range set.All() {
			attrs := []any{"kind", r.Kind, "checksum", r.Checksum}
			if r.OldChecksum != "" {
				attrs = append(attrs, "old_checksum", r.OldChecksum)
			}
			if r.MaximumVersion != "" {
				attrs = append(attrs, "maximum_version", r.MaximumVersion)
			}
			if r.Kind == dbmigrator.KindFixup {
				attrs = append(attrs, "new_version", r.NewVersion, "new_checksum", r.NewChecksum)
			}
			slogger.With(attrs...).Info(r.String())
		}
		return nil
	},
}
