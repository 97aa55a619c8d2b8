package minor

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
)

// Minor is a device identity within the allocator's space.
type Minor uint32

// Allocator errors.
var (
	// ErrExhausted is returned when every minor in the space is in use.
	ErrExhausted = errors.New("minor: number space exhausted")

	// ErrNotAllocated is returned when releasing a minor that is not in use.
	// Callers treat it as an invariant breach.
	ErrNotAllocated = errors.New("minor: number not allocated")

	// ErrInvalidSize is returned by New for a non-positive space.
	ErrInvalidSize = errors.New("minor: invalid space size")
)

const wordBits = 64

// Allocator hands out the lowest free minor in [0, size).
//
// Thread Safety:
//   - All methods are safe for concurrent use. One mutex guards the
//     search-and-mark step; it is independent of any device lock.
type Allocator struct {
	mu    sync.Mutex
	words []uint64
	size  int
	inUse int
}

// New creates an allocator over [0, size).
func New(size int) (*Allocator, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	return &Allocator{
		words: make([]uint64, (size+wordBits-1)/wordBits),
		size:  size,
	}, nil
}

// Allocate marks and returns the smallest free minor.
func (a *Allocator) Allocate() (Minor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, w := range a.words {
		if w == ^uint64(0) {
			continue
		}
		n := i*wordBits + bits.TrailingZeros64(^w)
		if n >= a.size {
			break
		}
		a.words[i] |= 1 << uint(n%wordBits)
		a.inUse++
		return Minor(n), nil
	}
	return 0, ErrExhausted
}

// Release returns m to the free set.
// Releasing a minor that is out of range or not allocated is an error;
// the allocator state is left unchanged.
func (a *Allocator) Release(m Minor) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.allocatedLocked(m) {
		return fmt.Errorf("%w: %d", ErrNotAllocated, m)
	}
	a.words[int(m)/wordBits] &^= 1 << (uint(m) % wordBits)
	a.inUse--
	return nil
}

// IsAllocated reports whether m is currently in use.
func (a *Allocator) IsAllocated(m Minor) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocatedLocked(m)
}

func (a *Allocator) allocatedLocked(m Minor) bool {
	if int(m) >= a.size {
		return false
	}
	return a.words[int(m)/wordBits]&(1<<(uint(m)%wordBits)) != 0
}

// InUse returns the number of allocated minors.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}

// Size returns the size of the minor space.
func (a *Allocator) Size() int {
	return a.size
}
