package liveness

import (
	"context"
	"errors"
)

// errNoAttempts is returned by firstSuccess for an empty strategy list
var errNoAttempts = errors.New("no attempts configured")

// attempt is one strategy of an ordered retry policy
type attempt[T any] struct {
	kind IdentifierKind
	run  func(ctx context.Context) (T, error)
}

// firstSuccess runs attempts in order and returns the first success.
//
// On exhaustion it returns every error in attempt order so the caller can
// choose which one surfaces (last for session creation, first for
// validation). A cancelled ctx stops the sequence.
func firstSuccess[T any](ctx context.Context, attempts []attempt[T]) (T, int, []error) {
	var zero T
	if len(attempts) == 0 {
		return zero, -1, []error{errNoAttempts}
	}

	errs := make([]error, 0, len(attempts))
	for i, a := range attempts {
		if err := ctx.Err(); err != nil {
			return zero, -1, append(errs, err)
		}
		v, err := a.run(ctx)
		if err == nil {
			return v, i, nil
		}
		errs = append(errs, err)
	}

	return zero, -1, errs
}
