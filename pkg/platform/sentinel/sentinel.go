// Package sentinel defines the errors stores return for infrastructure facts.
// Services translate them into coded domain errors; nothing below the service
// layer knows about HTTP or error envelopes.
package sentinel

import "errors"

// These represent factual states about stored entities, not validation
// failures. Validation uses pkg/domain-errors directly.
var (
	// ErrNotFound: the entity does not exist in the store.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a uniqueness constraint rejected the write, e.g. a
	// duplicate version number or an already-issued grant.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState: the entity is in the wrong state for the operation.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnavailable: the backing service is temporarily unreachable.
	ErrUnavailable = errors.New("unavailable")
)
