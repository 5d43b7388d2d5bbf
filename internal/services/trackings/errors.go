package trackings

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrValidation = errors.New("validation error")
	// ErrUnsupportedOwnerKind is a validation error.
	ErrUnsupportedOwnerKind = errors.Wrap(ErrValidation, "unsupported owner kind")
	ErrPersistence          = errors.New("persistence error")
	// ErrNoStatusHistory means a record has no status events, which allocation
	// never produces.
	ErrNoStatusHistory = errors.New("tracking number has no status history")
)

// PersistenceError wraps a store failure. Nothing of the failed write is visible.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
