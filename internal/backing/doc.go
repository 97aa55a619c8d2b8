// Package backing provides the resources a device owns while it is live:
// a request queue and a disk descriptor.
//
// Two providers exist. The memory provider hands out queue numbers from a
// bounded pool and fails with ErrNoQueues when it runs dry. The exec
// provider starts a helper process per device through internal/process and
// stops it when the device is released.
//
// A Backing is released exactly once; further Release calls return the
// first result.
package backing
