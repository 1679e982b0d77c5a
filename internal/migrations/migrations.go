// migrations contains example recipes that are used in tests.
package migrations

import "embed"

// FS is an embedded filesystem that contains the example recipes at its
// root.
//
//go:embed *.sql
var FS embed.FS

// RemovedSQL is the body of 0004_rm_me.sql, which was applied and later
// deleted. 0004_revert_rm_me.sql refers to its checksum.
const RemovedSQL = "create table rm_me (id integer);\n"
