package transport

import "errors"

// Domain-specific errors for transport operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrMissingCredentials is returned when host, username or password is empty.
	ErrMissingCredentials = errors.New("transport: missing credentials")

	// ErrTransportUnreachable covers network errors, timeouts, non-2xx
	// statuses and unparseable bodies. Callers treat it as retryable later.
	ErrTransportUnreachable = errors.New("transport: unreachable")

	// ErrUnsupportedOp is returned when no transport implements an operation
	// for the device's role.
	ErrUnsupportedOp = errors.New("transport: operation not supported for device role")

	// ErrNotHub is returned when a hub-only operation targets another role.
	ErrNotHub = errors.New("transport: device is not a hub")

	// ErrParentUnavailable is returned when a child's parent hub cannot be resolved.
	ErrParentUnavailable = errors.New("transport: parent hub unavailable")

	// ErrInvalidPayload is returned when a request payload is not valid JSON.
	ErrInvalidPayload = errors.New("transport: invalid payload")

	// ErrLoginFailed is returned when the device rejects the login.
	ErrLoginFailed = errors.New("transport: login rejected")
)
