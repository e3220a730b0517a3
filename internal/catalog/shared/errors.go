package shared

import "errors"

var (
	ErrNotFound      = errors.New("resource not found")
	ErrDuplicate     = errors.New("duplicate entry")
	ErrValidation    = errors.New("validation failed")
	ErrInvalidID     = errors.New("invalid ID")
	ErrRequiredField = errors.New("field is required")
	// ErrInUse blocks deletion of a record still referenced by stocked inventory.
	ErrInUse = errors.New("record has inventory on hand")
)
