// Package device models managed block devices and the registry that holds them.
//
// # Lifecycle
//
//	Constructing ──Commit──▶ Active ──BeginDelete──▶ Deleting
//	                                                    │
//	                                              WaitQuiescent
//	                                                    ▼
//	                  Freed ◀────────Drop────────── Reclaiming
//
// A Constructing device may also go straight to Freed when creation unwinds.
// No state is revisited.
//
// # Holders and openers
//
// Internal code paths that touch a device take a *Ref with Get and release
// it with Put. External consumers are counted with Open and Close. Removal
// can only start when the open count is zero, and once BeginDelete latches
// the device every new Get or Open fails with ErrGone. WaitQuiescent then
// polls with bounded backoff until the last Ref is released.
//
// # Handles
//
// The Registry is an arena indexed by minor. Each reservation gets a new
// generation; Resolve rejects a Handle whose generation is no longer live
// with ErrStaleHandle.
package device
