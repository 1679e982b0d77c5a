package multierr_test

import (
	"errors"
	"testing"

	"github.com/peterldowns/testy/check"

	"github.com/dbmigrator/dbmigrator/internal/multierr"
)

func TestJoin(t *testing.T) {
	t.Parallel()
	check.Nil(t, multierr.Join())
	check.Nil(t, multierr.Join(nil, nil))

	first := errors.New("first")
	check.True(t, multierr.Join(nil, first, nil) == first)

	second := errors.New("second")
	joined := multierr.Join(first, nil, second)
	check.Equal(t, "first\nsecond", joined.Error())
	check.True(t, errors.Is(joined, first))
	check.True(t, errors.Is(joined, second))
}
