package control

import "errors"

// Dispatch errors, raised before a handler runs.
var (
	// ErrPermissionDenied is returned when the caller lacks the privileged role.
	ErrPermissionDenied = errors.New("control: permission denied")

	// ErrUnsupportedOperation is returned for a command code from another category.
	ErrUnsupportedOperation = errors.New("control: unsupported operation")

	// ErrUnknownCommand is returned when the command number has no table entry.
	ErrUnknownCommand = errors.New("control: unknown command")

	// ErrTransferFault is returned when the parameter record cannot be copied in.
	ErrTransferFault = errors.New("control: parameter transfer fault")

	// ErrInvalidArgument is returned when parameters fail validation.
	ErrInvalidArgument = errors.New("control: invalid argument")
)
