package types

import "errors"

// Shared not-found errors so the stores and the engine compare against the
// same symbols.
var (
	ErrMutationNotFound = errors.New("pending mutation not found")
	ErrConflictNotFound = errors.New("conflict not found")
)
