package dbmigrator

import (
	"bufio"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"
)

// FilenamePattern matches the stem of a recipe file, `{version}_{name}`.
var FilenamePattern = regexp.MustCompile(`^([[:alnum:].\-]+)_([[:alnum:]._\-]+)$`)

var metadataLine = regexp.MustCompile(`^--\s*([a-z_]+)\s*:\s*(.*?)\s*$`)

// Metadata holds the `-- key: value` header of a recipe file.
type Metadata map[string]string

// metadataKeys are the header keys that override what is derived from the
// filename.
var metadataKeys = map[string]bool{
	"version":         true,
	"name":            true,
	"kind":            true,
	"old_checksum":    true,
	"maximum_version": true,
	"new_version":     true,
	"new_name":        true,
	"new_checksum":    true,
}

// ParseMetadata reads the leading `-- key: value` comment lines of a recipe.
// The header ends at the first line that is neither blank nor a comment.
// Comments whose key is not a recipe field are ordinary comments and are
// ignored.
func ParseMetadata(sql string) Metadata {
	meta := Metadata{}
	scanner := bufio.NewScanner(strings.NewReader(sql))
	scanner.Buffer(make([]byte, 0, 64*1024), len(sql)+1)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			break
		}
		match := metadataLine.FindStringSubmatch(line)
		if match == nil || !metadataKeys[match[1]] {
			continue
		}
		meta[match[1]] = match[2]
	}
	return meta
}

// KindFromName derives a recipe's kind from its name: names starting with
// "baseline", "revert" or "fixup" have that kind, everything else is an
// upgrade.
func KindFromName(name string) Kind {
	lowered := strings.ToLower(name)
	for _, kind := range []Kind{KindBaseline, KindRevert, KindFixup} {
		if strings.HasPrefix(lowered, string(kind)) {
			return kind
		}
	}
	return KindUpgrade
}

// ParseRecipe builds a [Recipe] from a file name and its contents. The
// version and name come from the filename (see [FilenamePattern]), the kind
// from the name (see [KindFromName]), and the metadata header (see
// [ParseMetadata]) overrides any of them and supplies the revert and fixup
// fields. A name header only changes the kind when the filename named an
// upgrade; a kind header always wins. A fixup's new_version and new_name default to its own version and
// name.
func ParseRecipe(filename, sql string) (Recipe, error) {
	stem := strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	match := FilenamePattern.FindStringSubmatch(stem)
	if match == nil {
		return Recipe{}, fmt.Errorf("%s: filename does not match {version}_{name}.sql", filename)
	}
	recipe := NewRecipe(match[1], match[2], KindFromName(match[2]), sql)
	meta := ParseMetadata(sql)
	if v, ok := meta["version"]; ok {
		recipe.Version = v
	}
	if v, ok := meta["name"]; ok {
		recipe.Name = v
		if recipe.Kind == KindUpgrade {
			recipe.Kind = KindFromName(v)
		}
	}
	if v, ok := meta["kind"]; ok {
		kind, err := ParseKind(v)
		if err != nil {
			return Recipe{}, fmt.Errorf("%s: %w", filename, err)
		}
		recipe.Kind = kind
	}
	recipe.OldChecksum = meta["old_checksum"]
	recipe.MaximumVersion = meta["maximum_version"]
	recipe.NewVersion = meta["new_version"]
	recipe.NewName = meta["new_name"]
	recipe.NewChecksum = meta["new_checksum"]
	if recipe.Kind == KindFixup {
		if recipe.NewVersion == "" {
			recipe.NewVersion = recipe.Version
		}
		if recipe.NewName == "" {
			recipe.NewName = recipe.Name
		}
	}
	return recipe, nil
}

// Load receives a filesystem (such as an embed.FS) and parses every `.sql`
// file in it, in any subdirectory, as a [Recipe] with [ParseRecipe]. Files
// are returned in the order they are walked; [NewRecipeSet] puts them in
// version order.
func Load(filesystem fs.FS) ([]Recipe, error) {
	var recipes []Recipe
	if err := fs.WalkDir(filesystem, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(path.Ext(p), ".sql") {
			return nil
		}
		data, err := fs.ReadFile(filesystem, p)
		if err != nil {
			return err
		}
		recipe, err := ParseRecipe(p, string(data))
		if err != nil {
			return err
		}
		recipes = append(recipes, recipe)
		return nil
	}); err != nil {
		return nil, err
	}
	return recipes, nil
}
