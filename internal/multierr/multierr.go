// multierr combines errors from deferred cleanup (rollback, unlock, close)
// with the error that caused the cleanup in the first place.
package multierr

import "errors"

// Join returns an error wrapping every non-nil error in errs, or nil if there
// are none. A single non-nil error is returned as-is so that callers matching
// on its type or message see it unchanged.
func Join(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return errors.Join(nonNil...)
	}
}
