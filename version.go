package dbmigrator

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// Comparator defines a total order over version strings. It returns a
// negative number when a sorts before b, zero when they are identical, and a
// positive number when a sorts after b.
//
// A [Migrator] uses exactly one Comparator for every version it sees during a
// run; mixing strategies within one recipe set is a configuration error.
type Comparator func(a, b string) int

// SimpleCompare orders versions by comparing their bytes. This is only
// meaningful when every version has the same width, so callers should pad
// their versions uniformly:
//
//	0001 < 0002 < 0010
//	20240101 < 20240215
//
// Without padding, "10" sorts before "9".
func SimpleCompare(a, b string) int {
	return strings.Compare(a, b)
}

// VersionCompare orders semver-like versions. Each version is split into
// runs of digits and runs of letters; the characters `.`, `-`, `_` and `+`
// only separate runs. Runs are compared left to right:
//
//   - numeric runs compare by value, so "2" < "10" and "007" == "7"
//   - alphabetic runs compare lexicographically
//   - an alphabetic run sorts before a numeric run
//
// When one version runs out of runs first, what follows in the longer version
// decides: a following alphabetic run marks a pre-release ("1.0.0-rc1" <
// "1.0.0"), a following numeric run a later version ("1.0" < "1.0.1").
//
// Versions that are equal run-for-run but differ in their raw bytes (for
// example "1.01" and "1.1") are ordered by their bytes, which keeps the order
// total.
func VersionCompare(a, b string) int {
	ra, rb := versionRuns(a), versionRuns(b)
	for i := 0; i < len(ra) || i < len(rb); i++ {
		if c := compareRun(runAt(ra, i), runAt(rb, i)); c != 0 {
			return c
		}
	}
	return strings.Compare(a, b)
}

// ComparatorByName returns the comparator registered under name, which is
// either "simple" or "version".
func ComparatorByName(name string) (Comparator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "simple":
		return SimpleCompare, nil
	case "version":
		return VersionCompare, nil
	default:
		return nil, fmt.Errorf("unknown version comparator %q (expected \"simple\" or \"version\")", name)
	}
}

// ComparatorName returns the name cmp is registered under in
// [ComparatorByName], or the function name of a custom comparator. A nil cmp
// is [SimpleCompare].
func ComparatorName(cmp Comparator) string {
	if cmp == nil {
		return "simple"
	}
	pc := reflect.ValueOf(cmp).Pointer()
	switch pc {
	case reflect.ValueOf(SimpleCompare).Pointer():
		return "simple"
	case reflect.ValueOf(VersionCompare).Pointer():
		return "version"
	}
	if fn := runtime.FuncForPC(pc); fn != nil {
		return fn.Name()
	}
	return fmt.Sprintf("comparator@%#x", pc)
}

type runKind int

// The order of these constants is the order runs sort in when their kinds
// differ; runEnd stands for a version that has no more runs.
const (
	runAlpha runKind = iota
	runEnd
	runNumeric
)

type versionRun struct {
	kind  runKind
	value string
}

func runAt(runs []versionRun, i int) versionRun {
	if i < len(runs) {
		return runs[i]
	}
	return versionRun{kind: runEnd}
}

func compareRun(a, b versionRun) int {
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}
	switch a.kind {
	case runNumeric:
		if len(a.value) != len(b.value) {
			if len(a.value) < len(b.value) {
				return -1
			}
			return 1
		}
		return strings.Compare(a.value, b.value)
	case runAlpha:
		return strings.Compare(a.value, b.value)
	default:
		return 0
	}
}

func versionRuns(version string) []versionRun {
	var runs []versionRun
	start := -1
	kind := runEnd
	flush := func(end int) {
		if start < 0 {
			return
		}
		value := version[start:end]
		if kind == runNumeric {
			value = strings.TrimLeft(value, "0")
		}
		runs = append(runs, versionRun{kind: kind, value: value})
		start = -1
	}
	for i := 0; i < len(version); i++ {
		c := version[i]
		var k runKind
		switch {
		case c >= '0' && c <= '9':
			k = runNumeric
		case c == '.' || c == '-' || c == '_' || c == '+':
			flush(i)
			continue
		default:
			k = runAlpha
		}
		if start >= 0 && k != kind {
			flush(i)
		}
		if start < 0 {
			start = i
			kind = k
		}
	}
	flush(len(version))
	return runs
}
