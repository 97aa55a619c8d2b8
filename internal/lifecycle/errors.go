package lifecycle

import "errors"

// Domain errors for the lifecycle package. Device-level outcomes
// (device.ErrNotFound, device.ErrBusy, device.ErrGone) pass through unchanged.
var (
	// ErrAlreadyExists is returned when the policy slot or the name is taken.
	ErrAlreadyExists = errors.New("lifecycle: device already exists")

	// ErrResourceExhausted is returned when a minor or backing resource cannot be had.
	ErrResourceExhausted = errors.New("lifecycle: resources exhausted")

	// ErrTimeout is returned when a remove could not drain holders in time.
	// Teardown has been latched and completes in the background.
	ErrTimeout = errors.New("lifecycle: teardown timed out")

	// ErrInvalidSpec is returned for a create request the manager cannot accept.
	ErrInvalidSpec = errors.New("lifecycle: invalid device spec")

	// ErrAmbiguous is returned by Sole when more than one device is live.
	ErrAmbiguous = errors.New("lifecycle: more than one device")

	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("lifecycle: manager closed")
)
