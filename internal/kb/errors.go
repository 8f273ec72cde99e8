package kb

import "errors"

// Error taxonomy shared by the knowledge base, sync and routing layers.
// Callers wrap these with context and test with errors.Is.
var (
	// ErrNotFound means a knowledge base, entry or session is absent for the active tenant.
	ErrNotFound = errors.New("not found")

	// ErrInvalid means the request itself is malformed.
	ErrInvalid = errors.New("invalid request")

	// ErrConflict means the change would violate a uniqueness rule (e.g. a reused password).
	ErrConflict = errors.New("conflict")

	// ErrUpstreamUnavailable means the embedding provider or storage could not be reached in time.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrCorruptState means persisted artifacts could not be read; they are rebuilt, not fatal.
	ErrCorruptState = errors.New("corrupt state")
)
