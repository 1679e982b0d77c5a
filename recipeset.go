package dbmigrator

import (
	"fmt"
	"slices"

	"github.com/dbmigrator/dbmigrator/internal/multierr"
)

// RecipeSet is a validated collection of recipes. It should be created with
// [NewRecipeSet] rather than used directly.
type RecipeSet struct {
	cmp     Comparator
	cmpName string
	// timeline holds the baselines and upgrades ordered by (version, kind).
	timeline []Recipe
	// fixes holds the reverts and fixups in declaration order.
	fixes []Recipe
	// resolved maps the index of each fix to the full checksum its
	// OldChecksum refers to.
	resolved []string
}

// NewRecipeSet validates recipes and returns them as a [RecipeSet] ordered by
// cmp (a nil cmp means [SimpleCompare]). Recipes with an empty Checksum have it
// computed from their SQL.
//
// Every problem is reported, not just the first: the returned error joins one
// [*ValidationError] per problem, each matching [ErrValidation]. The checks
// are:
//
//   - [InvalidRecipe]: empty version or unknown kind
//   - [DuplicateVersion]: two baselines, or two upgrades, with one version
//   - [MalformedChecksum]: Checksum and NewChecksum must be 64 lower-case hex
//     characters, OldChecksum between 8 and 64
//   - [IncompleteFixup]: reverts need OldChecksum, fixups need OldChecksum,
//     NewVersion, NewName and NewChecksum
//   - [UnknownOldChecksum] / [AmbiguousChecksumPrefix]: an OldChecksum prefix
//     must match exactly one known checksum
//   - [ConflictedFix]: an OldChecksum may not name the current baseline or
//     upgrade recipe of the same version, since applying the fix would be
//     undone by re-applying that recipe
//
// The known checksums are the checksums of every recipe plus the NewChecksum
// of every fixup. A full-width OldChecksum is accepted even when no recipe
// carries it, since it can only ever match one changelog entry; this is how a
// fix refers to a script that was edited or deleted after being applied.
func NewRecipeSet(recipes []Recipe, cmp Comparator) (*RecipeSet, error) {
	if cmp == nil {
		cmp = SimpleCompare
	}
	set := &RecipeSet{cmp: cmp, cmpName: ComparatorName(cmp)}
	var errs []error
	fail := func(kind ValidationErrorKind, r Recipe, format string, args ...any) {
		errs = append(errs, &ValidationError{
			Kind:    kind,
			Version: r.Version,
			Name:    r.Name,
			Detail:  fmt.Sprintf(format, args...),
		})
	}

	for _, r := range recipes {
		if r.Checksum == "" {
			r.Checksum = Checksum(r.SQL)
		}
		if r.Version == "" {
			fail(InvalidRecipe, r, "version is required")
			continue
		}
		kind, err := ParseKind(string(r.Kind))
		if err != nil {
			fail(InvalidRecipe, r, "%s", err)
			continue
		}
		r.Kind = kind
		if !validChecksum(r.Checksum) {
			fail(MalformedChecksum, r, "checksum %q is not %d lower-case hex characters", r.Checksum, ChecksumLength)
		}
		if r.IsFix() {
			if r.OldChecksum == "" {
				fail(IncompleteFixup, r, "%s requires old_checksum", r.Kind)
			} else if !validChecksumPrefix(r.OldChecksum) {
				fail(MalformedChecksum, r, "old_checksum %q is not %d to %d lower-case hex characters",
					r.OldChecksum, MinChecksumPrefix, ChecksumLength)
			}
		}
		if r.Kind == KindFixup {
			if r.NewVersion == "" || r.NewName == "" || r.NewChecksum == "" {
				fail(IncompleteFixup, r, "fixup requires new_version, new_name and new_checksum")
			} else if !validChecksum(r.NewChecksum) {
				fail(MalformedChecksum, r, "new_checksum %q is not %d lower-case hex characters", r.NewChecksum, ChecksumLength)
			}
		}
		if r.IsFix() {
			set.fixes = append(set.fixes, r)
		} else {
			set.timeline = append(set.timeline, r)
		}
	}

	slices.SortStableFunc(set.timeline, func(a, b Recipe) int {
		if c := cmp(a.Version, b.Version); c != 0 {
			return c
		}
		return a.Kind.rank() - b.Kind.rank()
	})
	for i := 1; i < len(set.timeline); i++ {
		prev, cur := set.timeline[i-1], set.timeline[i]
		if prev.Kind == cur.Kind && cmp(prev.Version, cur.Version) == 0 {
			fail(DuplicateVersion, cur, "%s version is also used by %q", cur.Kind, prev.Name)
		}
	}

	known := set.knownChecksums()
	set.resolved = make([]string, len(set.fixes))
	for i, fix := range set.fixes {
		if !validChecksumPrefix(fix.OldChecksum) {
			continue
		}
		var matches []string
		for _, checksum := range known {
			if matchesChecksum(fix.OldChecksum, checksum) {
				matches = append(matches, checksum)
			}
		}
		switch {
		case len(matches) > 1:
			fail(AmbiguousChecksumPrefix, fix, "old_checksum %q matches %d known checksums", fix.OldChecksum, len(matches))
			continue
		case len(matches) == 1:
			set.resolved[i] = matches[0]
		case len(fix.OldChecksum) == ChecksumLength:
			set.resolved[i] = fix.OldChecksum
		default:
			fail(UnknownOldChecksum, fix, "old_checksum %q matches no known checksum", fix.OldChecksum)
			continue
		}
		for _, r := range set.timeline {
			if cmp(r.Version, fix.Version) == 0 && r.Checksum == set.resolved[i] {
				fail(ConflictedFix, fix, "old_checksum refers to the current %s recipe %q", r.Kind, r.Name)
			}
		}
	}

	if len(errs) > 0 {
		return nil, multierr.Join(errs...)
	}
	return set, nil
}

func (s *RecipeSet) knownChecksums() []string {
	seen := map[string]bool{}
	var known []string
	add := func(checksum string) {
		if validChecksum(checksum) && !seen[checksum] {
			seen[checksum] = true
			known = append(known, checksum)
		}
	}
	for _, r := range s.timeline {
		add(r.Checksum)
	}
	for _, r := range s.fixes {
		add(r.NewChecksum)
	}
	return known
}

// Comparator returns the comparator the set was ordered with.
func (s *RecipeSet) Comparator() Comparator {
	return s.cmp
}

// Timeline returns the baselines and upgrades ordered by version; a baseline
// sorts before an upgrade with the same version.
func (s *RecipeSet) Timeline() []Recipe {
	return slices.Clone(s.timeline)
}

// Baselines returns the baselines in ascending version order.
func (s *RecipeSet) Baselines() []Recipe {
	return s.ofKind(KindBaseline)
}

// Upgrades returns the upgrades in ascending version order.
func (s *RecipeSet) Upgrades() []Recipe {
	return s.ofKind(KindUpgrade)
}

func (s *RecipeSet) ofKind(kind Kind) []Recipe {
	var out []Recipe
	for _, r := range s.timeline {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Fixes returns the reverts and fixups in the order they were declared.
func (s *RecipeSet) Fixes() []Recipe {
	return slices.Clone(s.fixes)
}

// FixesFor returns the reverts and fixups acting on version, in declaration
// order.
func (s *RecipeSet) FixesFor(version string) []Recipe {
	var out []Recipe
	for _, r := range s.fixes {
		if s.cmp(r.Version, version) == 0 {
			out = append(out, r)
		}
	}
	return out
}

// All returns the timeline followed by the fixes.
func (s *RecipeSet) All() []Recipe {
	return append(s.Timeline(), s.fixes...)
}

// Find returns the baseline or upgrade recipe with the given version and kind.
func (s *RecipeSet) Find(version string, kind Kind) (Recipe, bool) {
	i, ok := slices.BinarySearchFunc(s.timeline, version, func(r Recipe, v string) int {
		return s.cmp(r.Version, v)
	})
	if !ok {
		return Recipe{}, false
	}
	for ; i < len(s.timeline) && s.cmp(s.timeline[i].Version, version) == 0; i++ {
		if s.timeline[i].Kind == kind {
			return s.timeline[i], true
		}
	}
	return Recipe{}, false
}

// HasVersion reports whether any baseline or upgrade has the given version.
func (s *RecipeSet) HasVersion(version string) bool {
	_, ok := slices.BinarySearchFunc(s.timeline, version, func(r Recipe, v string) int {
		return s.cmp(r.Version, v)
	})
	return ok
}

// recipeFor returns the timeline recipe that a changelog entry for version
// with the given kind should match. Fixup entries may correspond to either
// an upgrade or a baseline of their version.
func (s *RecipeSet) recipeFor(version string, kind Kind) []Recipe {
	switch kind {
	case KindBaseline, KindUpgrade:
		if r, ok := s.Find(version, kind); ok {
			return []Recipe{r}
		}
		return nil
	default:
		var out []Recipe
		for _, k := range []Kind{KindUpgrade, KindBaseline} {
			if r, ok := s.Find(version, k); ok {
				out = append(out, r)
			}
		}
		return out
	}
}

// resolvedOldChecksum returns the full checksum that fix refers to.
func (s *RecipeSet) resolvedOldChecksum(index int) string {
	return s.resolved[index]
}
