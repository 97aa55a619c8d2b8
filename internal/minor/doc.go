// Package minor allocates device minor numbers.
//
// The allocator is a bitmap over a bounded space. Allocation is first-fit,
// so identities stay dense and a freed minor is the next one handed out:
//
//	a, _ := minor.New(256)
//	m, _ := a.Allocate() // 0
//	_ = a.Release(m)
//	m, _ = a.Allocate()  // 0 again
//
// Releasing a minor that is not allocated returns ErrNotAllocated and never
// silently succeeds.
package minor
