package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrBusy) {
//	    // device still open, retry later
//	}
var (
	// ErrNotFound is returned when no live device matches a minor, name or handle.
	ErrNotFound = errors.New("device: not found")

	// ErrBusy is returned when removal is requested while the device is open.
	ErrBusy = errors.New("device: busy")

	// ErrGone is returned when a new holder or opener races a started removal.
	ErrGone = errors.New("device: being removed")

	// ErrNotOpen is returned by Close when the device has no openers.
	ErrNotOpen = errors.New("device: not open")

	// ErrStaleHandle is returned when a handle's generation no longer matches the slot.
	ErrStaleHandle = errors.New("device: stale handle")

	// ErrDrainTimeout is returned when holders do not drain within the policy budget.
	ErrDrainTimeout = errors.New("device: drain timed out")

	// ErrSlotOccupied is returned when reserving a minor that already has a device.
	ErrSlotOccupied = errors.New("device: slot occupied")

	// ErrNameTaken is returned when reserving a name used by another device.
	ErrNameTaken = errors.New("device: name taken")

	// ErrInvalidState is returned when a transition is attempted from the wrong state.
	ErrInvalidState = errors.New("device: invalid state transition")
)
