package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrRegistryLoad is returned when a device registry load cannot
	// produce a complete snapshot. The previous snapshot stays in effect.
	ErrRegistryLoad = errors.New("bridge: registry load failed")

	// ErrNotFound is returned when a lookup does not match any
	// registered device, zone, or button.
	ErrNotFound = errors.New("bridge: not found")

	// ErrMalformedCommand is returned when a command topic or payload
	// cannot be parsed. Such commands are dropped, never retried.
	ErrMalformedCommand = errors.New("bridge: malformed command")

	// ErrInvalidValue is returned when a payload is neither ON/OFF nor
	// an integer level in the 0-100 range.
	ErrInvalidValue = errors.New("bridge: invalid value")

	// ErrHubUnavailable is returned when a command arrives while no hub
	// session is ready to carry it.
	ErrHubUnavailable = errors.New("bridge: hub unavailable")
)
