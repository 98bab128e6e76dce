package leshan

import (
	"errors"
	"fmt"
)

// Domain-specific errors for Leshan operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnection is returned when the server cannot be reached.
	ErrConnection = errors.New("leshan: cannot connect to server")

	// ErrConnectionTimeout is returned when a request exceeds its deadline.
	// Errors carrying it also match ErrConnection.
	ErrConnectionTimeout = fmt.Errorf("%w: request timed out", ErrConnection)

	// ErrEmptyResponse is returned when a successful response carries no
	// usable payload.
	ErrEmptyResponse = errors.New("leshan: empty response")

	// ErrInvalidKind is returned when a resource value declares a kind
	// that is not one of the LwM2M resource types.
	ErrInvalidKind = errors.New("leshan: invalid resource kind")

	// ErrInvalidValue is returned when a raw value cannot be coerced to
	// its declared kind.
	ErrInvalidValue = errors.New("leshan: invalid resource value")

	// ErrRequestFailed is returned when the server relays a failure
	// response from the device (for example NOT_FOUND or METHOD_NOT_ALLOWED).
	ErrRequestFailed = errors.New("leshan: device rejected request")

	// ErrInvalidPath is returned when a resource path is not of the form
	// /object/instance/resource.
	ErrInvalidPath = errors.New("leshan: invalid resource path")
)

// ServerError is returned when the server answers with a 4xx or 5xx status.
//
// Body holds the decoded JSON document when the response was typed as
// JSON, otherwise the raw response text.
type ServerError struct {
	StatusCode int
	Body       any
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("leshan: server returned status %d: %v", e.StatusCode, e.Body)
}
