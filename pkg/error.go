package pkg

import "errors"

// Bridge errors.
var (
	// ErrClosed indicates the queue or transport has been closed.
	ErrClosed = errors.New("closed")

	// ErrReset indicates the host session was reset (USB bus reset or an
	// explicit reset request). Queue pushes interrupted by the reset fail
	// with it.
	ErrReset = errors.New("session reset")

	// ErrDisconnected indicates the host went away.
	ErrDisconnected = errors.New("host disconnected")

	// ErrCancelled indicates a cancelled operation.
	ErrCancelled = errors.New("operation cancelled")

	// ErrTimingViolation indicates the bus driver could not guarantee a
	// required delay. The bus state is unknown and the device must be reset.
	ErrTimingViolation = errors.New("bus timing violation")

	// ErrNotConfigured indicates a component was used before it was set up.
	ErrNotConfigured = errors.New("not configured")

	// ErrAlreadyRunning indicates the component is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidRequest indicates an unsupported vendor request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrProtocol indicates a framing error on the transport.
	ErrProtocol = errors.New("protocol error")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")
)

// Fatal reports whether err leaves the bus in an unknown state and requires
// a device reset rather than a session reset.
func Fatal(err error) bool {
	return errors.Is(err, ErrTimingViolation)
}
