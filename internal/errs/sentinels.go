// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service/hub layers.
var (
	// ErrAuthenticationRequired indicates a missing or invalid handshake token.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrNotAuthorized indicates a valid principal with insufficient membership or role.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrValidationFailed indicates a malformed or limit-violating payload.
	ErrValidationFailed = errors.New("validation failed")

	// ErrNotFound indicates the referenced conversation/message/membership does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable indicates a persistence I/O failure; the operation is retryable.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Code returns the stable wire code for an error, or "Internal" for unknown ones.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAuthenticationRequired):
		return "AuthenticationRequired"
	case errors.Is(err, ErrNotAuthorized):
		return "NotAuthorized"
	case errors.Is(err, ErrValidationFailed):
		return "ValidationFailed"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrStorageUnavailable):
		return "StorageUnavailable"
	default:
		return "Internal"
	}
}

// Retryable reports whether the client may safely retry the failed operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
