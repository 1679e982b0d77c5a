package dbmigrator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Kind classifies a [Recipe] and is one of
//   - [KindBaseline]
//   - [KindUpgrade]
//   - [KindRevert]
//   - [KindFixup]
type Kind string

const (
	// KindBaseline recipes create a full schema snapshot at their version and
	// are only ever used to initialize a fresh database.
	KindBaseline Kind = "baseline"
	// KindUpgrade recipes advance the schema by one version.
	KindUpgrade Kind = "upgrade"
	// KindRevert recipes remove a version from the effective state. They do
	// not undo anything on their own, their SQL runs like any other recipe.
	KindRevert Kind = "revert"
	// KindFixup recipes replace the recorded identity (version, name,
	// checksum) of a previously applied version.
	KindFixup Kind = "fixup"
)

// ParseKind returns the [Kind] named by s.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindBaseline, KindUpgrade, KindRevert, KindFixup:
		return k, nil
	default:
		return "", fmt.Errorf("unknown recipe kind %q", s)
	}
}

// IsFix is true for the kinds that correct history rather than advance it.
func (k Kind) IsFix() bool {
	return k == KindRevert || k == KindFixup
}

// rank orders kinds that share a version.
func (k Kind) rank() int {
	switch k {
	case KindBaseline:
		return 0
	case KindUpgrade:
		return 1
	case KindRevert:
		return 2
	default:
		return 3
	}
}

const (
	// ChecksumLength is the number of hex characters in a full checksum.
	ChecksumLength = sha256.Size * 2
	// MinChecksumPrefix is the shortest checksum prefix that a revert or fixup
	// may use to refer to the checksum it corrects.
	MinChecksumPrefix = 8
)

// Checksum returns the lower-case hex SHA-256 digest of a recipe body.
func Checksum(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}

// Recipe is a single versioned SQL change script plus the metadata that
// decides when it runs.
type Recipe struct {
	Version string // sortable version, unique per kind for baselines and upgrades
	Name    string // optional human label
	Kind    Kind
	// Checksum is the [Checksum] of SQL. [NewRecipeSet] computes it when it
	// is left empty.
	Checksum string
	// OldChecksum is required for reverts and fixups. It names the recorded
	// checksum of the version being corrected, either in full or as a prefix
	// of at least [MinChecksumPrefix] characters.
	OldChecksum string
	// MaximumVersion optionally limits a revert or fixup to databases whose
	// current version is at most this version.
	MaximumVersion string
	// NewVersion, NewName and NewChecksum are the identity a fixup writes in
	// place of the entry it corrects.
	NewVersion  string
	NewName     string
	NewChecksum string
	SQL         string
}

// NewRecipe builds a [Recipe] with its checksum computed from sql.
func NewRecipe(version, name string, kind Kind, sql string) Recipe {
	return Recipe{
		Version:  version,
		Name:     name,
		Kind:     kind,
		Checksum: Checksum(sql),
		SQL:      sql,
	}
}

// IsFix is true for reverts and fixups.
func (r Recipe) IsFix() bool {
	return r.Kind.IsFix()
}

// String renders the recipe the way it is shown in logs and plans, for
// example "0003_create_users (upgrade)" or "0003_fix_users (fixup -> 0004)".
func (r Recipe) String() string {
	label := r.Version
	if r.Name != "" {
		label += "_" + r.Name
	}
	if r.Kind == KindFixup && r.NewVersion != "" && r.NewVersion != r.Version {
		return fmt.Sprintf("%s (%s -> %s)", label, r.Kind, r.NewVersion)
	}
	return fmt.Sprintf("%s (%s)", label, r.Kind)
}

// ShortChecksum returns the first [MinChecksumPrefix] characters of a
// checksum, or the whole value if it is shorter.
func ShortChecksum(checksum string) string {
	if len(checksum) <= MinChecksumPrefix {
		return checksum
	}
	return checksum[:MinChecksumPrefix]
}

// matchesChecksum reports whether prefix, a full checksum or a prefix of
// one, refers to checksum.
func matchesChecksum(prefix, checksum string) bool {
	return len(prefix) >= MinChecksumPrefix && strings.HasPrefix(checksum, prefix)
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

func validChecksum(checksum string) bool {
	return len(checksum) == ChecksumLength && isHex(checksum)
}

func validChecksumPrefix(prefix string) bool {
	return len(prefix) >= MinChecksumPrefix && len(prefix) <= ChecksumLength && isHex(prefix)
}
