package db

import "errors"

// Sentinel errors shared by every repository. Callers match with
// errors.Is; the API layer maps them to HTTP status codes.
var (
	// ErrNotFound is returned when a lookup target does not exist or
	// is soft-deleted.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when creating an entity whose unique
	// name or email already exists.
	ErrConflict = errors.New("already exists")

	// ErrValidation is returned for invalid input rejected before any
	// write is performed.
	ErrValidation = errors.New("validation failed")
)
