package dobiss

import "errors"

// Domain errors for the Dobiss bridge package.
var (
	// ErrUnknownDevice is returned when an address or device id is not in
	// the configured output table.
	ErrUnknownDevice = errors.New("dobiss: unknown device")

	// ErrCommandTimeout is returned through a Handle when a command was not
	// acknowledged after all retry attempts.
	ErrCommandTimeout = errors.New("dobiss: command timed out")

	// ErrTransport is returned when the CAN bus is down or a write fails.
	// All in-flight commands fail with it.
	ErrTransport = errors.New("dobiss: transport failure")

	// ErrSuperseded is returned through a Handle when a newer request for
	// the same output replaced it before it was acknowledged.
	ErrSuperseded = errors.New("dobiss: superseded by newer request")

	// ErrInvalidLevel is returned when a dimmer level is outside 0-100.
	ErrInvalidLevel = errors.New("dobiss: invalid level")

	// ErrNotConnected is returned by a bus that has no open socket.
	ErrNotConnected = errors.New("dobiss: not connected to CAN bus")

	// ErrConnectionFailed is returned when the CAN socket cannot be opened.
	ErrConnectionFailed = errors.New("dobiss: connection to CAN bus failed")

	// ErrNotRunning is returned when the driver loop is not accepting work.
	ErrNotRunning = errors.New("dobiss: driver not running")

	// ErrDecodeAmbiguous marks a frame that matches no known message shape.
	// It never escapes Decode; Classify exposes it for diagnostics.
	ErrDecodeAmbiguous = errors.New("dobiss: frame does not match a known message")
)
