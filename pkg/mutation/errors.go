package mutation

import (
	"errors"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
)

// classify maps a remote failure onto the error taxonomy. Errors that already
// carry a category are returned as they are; everything else, including
// cancellation and timeouts, is transient.
func classify(op string, ref tracking.Ref, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tracking.ErrConflict),
		errors.Is(err, tracking.ErrValidation),
		errors.Is(err, tracking.ErrGuardViolation),
		errors.Is(err, tracking.ErrCapacity),
		errors.Is(err, tracking.ErrTransient),
		errors.Is(err, tracking.ErrUnauthorized):
		return err
	case errors.Is(err, tracking.ErrNotFound):
		return &tracking.ConflictError{Ref: ref, Err: err}
	default:
		return &tracking.TransientError{Op: op + " " + ref.String(), Err: err}
	}
}

func isConflict(err error) bool {
	return errors.Is(err, tracking.ErrConflict)
}
