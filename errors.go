package semcache

import "errors"

// Sentinel errors returned by the engine and configuration layer. Callers
// match with errors.Is; the HTTP layer maps them onto status codes.
var (
	// ErrInvalidRequest marks requests that must never reach the decision
	// policy: empty message lists, unrecognized models, out-of-range
	// parameters.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidConfig marks configuration that fails validation, such as
	// a similarity threshold outside [0.5, 1.0].
	ErrInvalidConfig = errors.New("invalid configuration")
)
