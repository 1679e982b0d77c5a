package shared

import "fmt"

// These will be set at build time with ldflags:
//
//	-X github.com/dbmigrator/dbmigrator/cmd/dbmigrator/shared.Version=...
var (
	Version = "unknown" //nolint:gochecknoglobals
	Commit  = "unknown" //nolint:gochecknoglobals
)

func VersionString() string {
	return fmt.Sprintf("%s+commit.%s", Version, Commit)
}
