package orders

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no order exists for an id.
	ErrNotFound = errors.New("order not found")

	// ErrInvalidTransition is returned when a state change would break the
	// lifecycle rules or the shipment_id invariant.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrConflict is returned when a conditional write lost a race and the
	// retry budget for the compare-and-swap loop was spent.
	ErrConflict = errors.New("concurrent update conflict")
)

// StorageError wraps a failure of the underlying storage engine.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err came from the storage engine.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
