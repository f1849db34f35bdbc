package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an insert violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")

	// ErrStale is returned when a conditional update finds the record no
	// longer in the expected state.
	ErrStale = errors.New("stale")

	// ErrInvalid is returned when a record violates a check constraint.
	ErrInvalid = errors.New("invalid record")
)

// ConflictError reports which unique field an insert collided on.
// It matches ErrConflict with errors.Is.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	if e.Field == "" {
		return ErrConflict.Error()
	}
	return ErrConflict.Error() + ": " + e.Field
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Unique fields reported by ConflictError.
const (
	FieldEmail    = "email"
	FieldUsername = "username"
)
