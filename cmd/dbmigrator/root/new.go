package root

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dbmigrator/dbmigrator"
	"github.com/dbmigrator/dbmigrator/cmd/dbmigrator/shared"
)

var NewFlags struct { //nolint:gochecknoglobals
	Name   *string
	Bare   *bool
	Create *bool
}

var newCmd = &cobra.Command{ //nolint:gochecknoglobals
	Use:   "new",
	Short: "generate the name of the next recipe file based on the current version sequence",
	Long: shared.CLIHelp(`
Recipe versions are usually zero-padded integers, so that they sort the same
way as strings and as numbers:

  00001_baseline.sql
  00002_create_users.sql
  00003_another.sql
  ...
  01039_most_recently.sql

This command is a helper for generating a new upgrade recipe whose version is
one greater than the highest baseline or upgrade, keeping the same padding.

Example:
  * your most recent recipe is "00139_something.sql"
  * the next version in the sequence is "00140"
  * you run "dbmigrator new my_example"
  * the generated filename is "00140_my_example.sql"

An empty migrations directory starts with "00001_baseline.sql".

If your sequence has reached its maximum (all "9"'s) the command will fail and
warn that the sequence has overflowed. In this case you should write a new
baseline that squashes your recipes and start a longer sequence.
	`),
	Example: shared.CLIExample(`
# Just come up with the filename, don't create it
dbmigrator new
# Use a specific name => "0001_my_example.sql"
dbmigrator new my_example
dbmigrator new --name my_example
# Only print the file name, suitable for passing to other programs
dbmigrator new --bare
# Create the recipe file as well as printing its name
dbmigrator new --create

# Create a new recipe file and send it to another program
dbmigrator new vim_user_example --create --bare | xargs vim
	`),
	GroupID:          "dev",
	TraverseChildren: true,
	RunE: func(_ *cobra.Command, args []string) error {
		if len(args) == 1 && *NewFlags.Name == "" {
			*NewFlags.Name = args[0]
		}
		shared.State.Parse()
		migrationsDir := shared.State.Migrations()
		if err := shared.Validate(migrationsDir); err != nil {
			return err
		}
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

		version := "00001"
		name := *NewFlags.Name
		timeline := set.Timeline()
		if len(timeline) == 0 {
			if name == "" {
				name = "baseline"
			}
		} else {
			if name == "" {
				name = "generated"
			}
			version, err = NextVersion(timeline[len(timeline)-1].Version)
			if err != nil {
				return err
			}
		}

		filename := fmt.Sprintf("%s_%s.sql", version, name)
		if _, err := dbmigrator.ParseRecipe(filename, ""); err != nil {
			return err
		}
		fp := path.Join(migrationsDir.Value(), filename)
		if *NewFlags.Create {
			if err := os.WriteFile(fp, []byte("-- write your recipe here\n"), 0o660); err != nil {
				return err
			}
		}
		if *NewFlags.Bare {
			fmt.Println(fp)
		} else {
			slogger.Info("created", "version", version, "name", name, "path", fp)
		}
		return nil
	},
}

func init() { //nolint:gochecknoinits
	NewFlags.Bare = newCmd.Flags().BoolP("bare", "b", false, "if true, only print the created recipe file path")
	NewFlags.Create = newCmd.Flags().BoolP("create", "c", false, "if true, create the recipe file")
	NewFlags.Name = newCmd.Flags().StringP("name", "n", "", "the name of the new recipe (default 'generated')")
}

// NextVersion increments a zero-padded integer version, keeping its width.
func NextVersion(last string) (string, error) {
	size := len(last)
	i, err := strconv.Atoi(strings.TrimLeft(last, "0"))
	if err != nil && strings.Trim(last, "0") != "" {
		return "", fmt.Errorf("could not parse version as an integer: %s", last)
	}
	i++
	next := strconv.Itoa(i)
	if len(next) > size {
		return "", fmt.Errorf(
			"sequence overflow: next version '%s' has more characters (%d) than the sequence allows (%d)",
			next, len(next), size,
		)
	}
	return strings.Repeat("0", size-len(next)) + next, nil
}
