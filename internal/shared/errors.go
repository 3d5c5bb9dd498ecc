package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or missing document data, detected
	// before any ledger write.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState indicates a document status transition that is not allowed.
	ErrInvalidState = errors.New("invalid document state")
)
