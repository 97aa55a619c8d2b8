package device

import (
	"fmt"
	"slices"
	"sync"

	"github.com/nerrad567/cdp-core/internal/minor"
)

// Registry is the arena of devices keyed by minor.
//
// Each reservation stamps the device with a fresh generation, so a Handle
// from a previous incarnation of the same minor fails to resolve.
// Devices in Constructing occupy their slot and name but are invisible
// to Get, Resolve, Lookup and List.
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	slots   map[minor.Minor]*Device
	nextGen uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		slots: make(map[minor.Minor]*Device),
	}
}

// Reserve places a new Constructing device in slot m.
// It fails with ErrSlotOccupied or ErrNameTaken.
func (r *Registry) Reserve(m minor.Minor, spec Spec) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.slots[m]; ok {
		return nil, fmt.Errorf("%w: minor %d", ErrSlotOccupied, m)
	}
	for _, d := range r.slots {
		if d.spec.Name == spec.Name {
			return nil, fmt.Errorf("%w: %q", ErrNameTaken, spec.Name)
		}
	}

	r.nextGen++
	d := newDevice(m, r.nextGen, spec)
	r.slots[m] = d
	return d, nil
}

// Commit makes a Constructing device Active and visible.
func (r *Registry) Commit(d *Device) error {
	r.mu.RLock()
	owned := r.slots[d.minor] == d
	r.mu.RUnlock()

	if !owned {
		return fmt.Errorf("%w: %s", ErrStaleHandle, d.Handle())
	}
	return d.transition(StateConstructing, StateActive)
}

// Drop removes d from its slot and marks it Freed.
// d must be Constructing (create unwind) or Reclaiming (teardown).
func (r *Registry) Drop(d *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.slots[d.minor] != d {
		return fmt.Errorf("%w: %s", ErrStaleHandle, d.Handle())
	}

	switch st := d.State(); st {
	case StateConstructing:
		if err := d.transition(StateConstructing, StateFreed); err != nil {
			return err
		}
	case StateReclaiming:
		if err := d.transition(StateReclaiming, StateFreed); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: drop in %s", ErrInvalidState, st)
	}

	delete(r.slots, d.minor)
	return nil
}

// Get returns the visible device in slot m.
func (r *Registry) Get(m minor.Minor) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.slots[m]
	if !ok || d.State() == StateConstructing {
		return nil, fmt.Errorf("%w: minor %d", ErrNotFound, m)
	}
	return d, nil
}

// Resolve returns the device named by h if it is still the same incarnation.
func (r *Registry) Resolve(h Handle) (*Device, error) {
	d, err := r.Get(h.Minor)
	if err != nil {
		return nil, err
	}
	if d.gen != h.Generation {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	return d, nil
}

// Lookup returns the visible device with the given name.
func (r *Registry) Lookup(name string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.slots {
		if d.spec.Name == name && d.State() != StateConstructing {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Len returns the number of occupied slots, Constructing included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// List returns the visible devices ordered by minor.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	out := make([]*Device, 0, len(r.slots))
	for _, d := range r.slots {
		if d.State() != StateConstructing {
			out = append(out, d)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Device) int {
		return int(a.minor) - int(b.minor)
	})
	return out
}
