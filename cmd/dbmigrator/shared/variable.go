package shared

import (
	"fmt"
	"strings"
)

// Setting is a named CLI setting that may be required.
type Setting interface {
	Name() string
	IsSet() bool
}

// EnvName returns the environment variable a setting is read from:
// "table-name" is read from DBM_TABLENAME.
func EnvName(setting string) string {
	return "DBM_" + strings.ToUpper(strings.ReplaceAll(setting, "-", ""))
}

// Validate fails if any of the settings has no value, naming the flag and the
// environment variable for each.
func Validate(settings ...Setting) error {
	var missing []string
	for _, s := range settings {
		if !s.IsSet() {
			missing = append(missing, fmt.Sprintf("--%s ($%s)", s.Name(), EnvName(s.Name())))
		}
	}
	switch len(missing) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("missing required setting %s", missing[0])
	default:
		return fmt.Errorf("missing required settings %s", strings.Join(missing, ", "))
	}
}

// Variable is a setting resolved from its sources.
type Variable[T comparable] struct {
	name  string
	value T
}

// NewVariable picks the first non-zero value, so values should be passed in
// order of precedence: flag, environment, config file, default.
func NewVariable[T comparable](name string, values ...T) Variable[T] {
	var zero T
	for _, v := range values {
		if v != zero {
			return Variable[T]{name: name, value: v}
		}
	}
	return Variable[T]{name: name}
}

func (v Variable[T]) Name() string {
	return v.name
}

func (v Variable[T]) IsSet() bool {
	var zero T
	return v.value != zero
}

func (v Variable[T]) Value() T {
	return v.value
}
