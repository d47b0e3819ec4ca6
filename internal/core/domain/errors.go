package domain

import (
	"github.com/pkg/errors"
)

var (
	ErrItemNotFound       = errors.New("item not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrVersionConflict    = errors.New("version conflict")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrDuplicateOrder     = errors.New("duplicate order")
	ErrOrderNotFound      = errors.New("order not found")
	ErrStatusConflict     = errors.New("order status conflict")
	ErrOrderInFlight      = errors.New("order in flight")
	ErrInvalidRequest     = errors.New("invalid request")
	// ErrOrderVoided rejects a decrement for an order whose restore already
	// ran before any decrement was journaled.
	ErrOrderVoided = errors.New("order voided")
)

// StorageError marks an infrastructure failure. It matches
// ErrStorageUnavailable and unwraps to the driver error.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return e.Op + ": " + ErrStorageUnavailable.Error() + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorageUnavailable }

// Unavailable wraps err as a StorageError. A nil err stays nil.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
