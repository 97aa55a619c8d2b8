// Package lifecycle creates and removes devices.
//
// Create allocates a minor, reserves a Constructing slot, acquires backing
// resources, activates the device and then publishes it. Any failure before
// activation unwinds what was acquired in reverse order.
//
// Remove fails with device.ErrBusy while the device is open and never
// retries. Otherwise it latches the device, waits (bounded) for internal
// holders to drain, unpublishes, releases backing, frees the slot and
// returns the minor. A drain that exceeds the configured timeout returns
// ErrTimeout; the latched device is reclaimed by a background reaper.
//
// The single policy allows one occupied slot at a time. The multi policy
// allows one device per free minor; names are unique in both.
package lifecycle
