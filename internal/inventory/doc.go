// Package inventory records published devices in SQLite.
//
// The Store is registered with the lifecycle manager as a Publisher: a row
// is inserted when a device becomes Active and marked removed when the
// device is unpublished during teardown. Rows are never deleted, so the
// table doubles as device history.
//
// At startup the daemon calls MarkOrphaned to flag rows that a previous
// run published but never removed (for example after a crash).
package inventory
