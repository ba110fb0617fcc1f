package leap

import "errors"

// Sentinel errors for LEAP operations, checked with errors.Is().
//
// The split between ErrAuth and ErrTransport matters to callers:
// transport failures are retried with backoff, while authentication
// failures mean the certificate material is wrong and retrying with the
// same credentials can never succeed.
var (
	// ErrAuth indicates the hub rejected the client's certificate or the
	// hub's certificate failed verification. Not recoverable by retrying.
	ErrAuth = errors.New("leap: authentication failed")

	// ErrTransport indicates a network-level failure (dial, read, write).
	ErrTransport = errors.New("leap: transport failure")

	// ErrCommandTimeout indicates the hub did not acknowledge a request
	// within the configured deadline.
	ErrCommandTimeout = errors.New("leap: command timed out")

	// ErrNotConnected indicates an operation was attempted on a closed
	// or never-connected client.
	ErrNotConnected = errors.New("leap: not connected")

	// ErrRequestFailed indicates the hub answered with a non-2xx status.
	ErrRequestFailed = errors.New("leap: request failed")

	// ErrInvalidConfig indicates missing or unreadable certificate material.
	ErrInvalidConfig = errors.New("leap: invalid configuration")
)
