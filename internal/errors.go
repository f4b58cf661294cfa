package warden

import "errors"

// Sentinel errors for the cache domain.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidPolicy      = errors.New("invalid ttl policy")
	ErrInvalidConfig      = errors.New("invalid config")
	ErrBackendUnavailable = errors.New("backend unavailable")
)
