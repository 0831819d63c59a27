// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across store/collection layers.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable indicates the store handle is absent or failed to initialize.
	ErrUnavailable = errors.New("store unavailable")

	// ErrMissingIndex indicates the store cannot serve an equality query
	// because the field is not indexed (recoverable configuration error).
	ErrMissingIndex = errors.New("missing index")

	// ErrInvalidRecord indicates a record failed schema validation.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrPermission indicates the store rejected the operation (rules/ACL).
	ErrPermission = errors.New("permission denied")
)
