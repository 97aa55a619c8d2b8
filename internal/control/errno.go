package control

import (
	"context"
	"errors"

	"golang.org/x/sys/unix"

	"github.com/nerrad567/cdp-core/internal/device"
	"github.com/nerrad567/cdp-core/internal/lifecycle"
	"github.com/nerrad567/cdp-core/internal/minor"
)

// errnoTable is checked in order; the first match wins. minor.ErrExhausted
// precedes lifecycle.ErrResourceExhausted because the latter wraps it.
var errnoTable = []struct {
	err   error
	errno unix.Errno
}{
	{ErrPermissionDenied, unix.EPERM},
	{ErrUnsupportedOperation, unix.ENOTTY},
	{ErrUnknownCommand, unix.ENOSYS},
	{ErrTransferFault, unix.EFAULT},
	{ErrInvalidArgument, unix.EINVAL},
	{lifecycle.ErrInvalidSpec, unix.EINVAL},
	{lifecycle.ErrAmbiguous, unix.EINVAL},
	{lifecycle.ErrAlreadyExists, unix.EEXIST},
	{device.ErrNotFound, unix.ENOENT},
	{device.ErrBusy, unix.EBUSY},
	{minor.ErrExhausted, unix.ENOSPC},
	{lifecycle.ErrResourceExhausted, unix.ENOMEM},
	{lifecycle.ErrTimeout, unix.ETIMEDOUT},
	{device.ErrGone, unix.ENODEV},
	{device.ErrStaleHandle, unix.ESTALE},
	{device.ErrNotOpen, unix.EBADF},
	{lifecycle.ErrClosed, unix.ESHUTDOWN},
	{context.DeadlineExceeded, unix.ETIMEDOUT},
	{context.Canceled, unix.ECANCELED},
}

// Errno maps an error to the status code transports return verbatim.
// nil maps to 0; unrecognised errors map to EIO.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	for _, e := range errnoTable {
		if errors.Is(err, e.err) {
			return e.errno
		}
	}
	return unix.EIO
}
