package pkg

import "errors"

// Hub port errors.
var (
	// ErrTransport indicates a control transfer to a hub failed.
	ErrTransport = errors.New("control transfer failed")

	// ErrStatusRead indicates a port status query failed.
	ErrStatusRead = errors.New("port status read failed")

	// ErrRetryExhausted indicates the port reset loop ran out of attempts.
	ErrRetryExhausted = errors.New("port reset retries exhausted")

	// ErrOversizedResponse indicates the transport reported more data than
	// the response buffer can hold.
	ErrOversizedResponse = errors.New("oversized response")

	// ErrNotHub indicates the device has no downstream ports.
	ErrNotHub = errors.New("device is not a hub")
)

// USB transport errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrTimeout indicates a transfer timeout.
	ErrTimeout = errors.New("transfer timeout")

	// ErrCancelled indicates a cancelled transfer.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrOverrun indicates a data overrun condition.
	ErrOverrun = errors.New("data overrun")

	// ErrUnderrun indicates a data underrun condition.
	ErrUnderrun = errors.New("data underrun")

	// ErrProtocol indicates a protocol error.
	ErrProtocol = errors.New("protocol error")

	// ErrNoDevice indicates the device is not present.
	ErrNoDevice = errors.New("device not present")

	// ErrPermission indicates the device node could not be opened for lack of
	// privileges.
	ErrPermission = errors.New("permission denied")
)

// General errors.
var (
	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrBusy indicates the resource is busy.
	ErrBusy = errors.New("resource busy")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrAlreadyRunning indicates the component is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the component has not been initialized.
	ErrNotRunning = errors.New("not running")

	// ErrClosed indicates the component has been closed.
	ErrClosed = errors.New("closed")
)
