package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/cdp-core/internal/minor"
)

// errHoldersRemain is the retry signal for the drain poll.
var errHoldersRemain = errors.New("device: holders remain")

// Device is one managed block device.
//
// The mutex guards every mutable field and is only held for O(1) work.
// It is never held across backing acquisition, publication or a drain wait.
type Device struct {
	minor     minor.Minor
	gen       uint64
	spec      Spec
	createdAt time.Time

	mu        sync.Mutex
	state     State
	deleting  bool
	holders   int
	openCount int
	backing   Backing
}

func newDevice(m minor.Minor, gen uint64, spec Spec) *Device {
	return &Device{
		minor:     m,
		gen:       gen,
		spec:      spec,
		createdAt: time.Now().UTC(),
		state:     StateConstructing,
	}
}

// Minor returns the device identity.
func (d *Device) Minor() minor.Minor { return d.minor }

// Name returns the device name.
func (d *Device) Name() string { return d.spec.Name }

// Spec returns the creation parameters.
func (d *Device) Spec() Spec { return d.spec }

// Handle returns the checked handle for this incarnation.
func (d *Device) Handle() Handle {
	return Handle{Minor: d.minor, Generation: d.gen}
}

// State returns the current lifecycle state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Holders returns the number of outstanding Refs.
func (d *Device) Holders() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.holders
}

// OpenCount returns the number of external openers.
func (d *Device) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openCount
}

// Info returns a snapshot of the device.
func (d *Device) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := Info{
		Name:       d.spec.Name,
		Minor:      d.minor,
		Generation: d.gen,
		State:      d.state,
		OpenCount:  d.openCount,
		Holders:    d.holders,
		Host:       d.spec.Host,
		Repository: d.spec.Repository,
		Metadata:   d.spec.Metadata,
		CreatedAt:  d.createdAt,
	}
	if d.backing != nil {
		info.Backing = d.backing.Describe()
	}
	return info
}

// Get takes a holder reference. It fails with ErrGone once removal has
// latched and with ErrNotFound while the device is still being built.
// The returned Ref must be released with Put.
func (d *Device) Get() (*Ref, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.deleting {
		return nil, ErrGone
	}
	if d.state != StateActive {
		return nil, ErrNotFound
	}
	d.holders++
	return &Ref{d: d}, nil
}

// Open records an external opener. Open succeeds unless the device is
// being removed.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.deleting {
		return ErrGone
	}
	if d.state != StateActive {
		return ErrNotFound
	}
	d.openCount++
	return nil
}

// Close releases an external opener.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.openCount == 0 {
		return ErrNotOpen
	}
	d.openCount--
	return nil
}

// BeginDelete latches the device for removal.
//
// The open count check and the latch happen under one lock acquisition,
// so an opener either lands before the latch (and the delete fails with
// ErrBusy) or after it (and the open fails with ErrGone).
func (d *Device) BeginDelete() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateActive {
		return ErrNotFound
	}
	if d.openCount > 0 {
		return ErrBusy
	}
	d.deleting = true
	d.state = StateDeleting
	return nil
}

// WaitQuiescent polls with exponential backoff until no holders remain,
// then moves the device to Reclaiming.
//
// It returns ErrDrainTimeout when the policy budget elapses, or the
// context error if ctx ends first. The latch stays set either way.
func (d *Device) WaitQuiescent(ctx context.Context, policy DrainPolicy) error {
	if d.State() < StateDeleting {
		return fmt.Errorf("%w: drain before delete", ErrInvalidState)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval
	b.MaxElapsedTime = policy.Timeout
	b.Reset()

	err := backoff.Retry(func() error {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.holders > 0 {
			return errHoldersRemain
		}
		d.state = StateReclaiming
		return nil
	}, backoff.WithContext(b, ctx))

	switch {
	case err == nil:
		return nil
	case errors.Is(err, errHoldersRemain):
		return fmt.Errorf("%w: %d holders after %s", ErrDrainTimeout, d.Holders(), policy.Timeout)
	default:
		return err
	}
}

// AttachBacking attaches backing resources during construction.
func (d *Device) AttachBacking(b Backing) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateConstructing {
		return fmt.Errorf("%w: attach backing in %s", ErrInvalidState, d.state)
	}
	d.backing = b
	return nil
}

// DetachBacking detaches and returns the backing resources, leaving nil.
func (d *Device) DetachBacking() Backing {
	d.mu.Lock()
	defer d.mu.Unlock()

	b := d.backing
	d.backing = nil
	return b
}

func (d *Device) transition(from, to State) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != from {
		return fmt.Errorf("%w: %s to %s from %s", ErrInvalidState, from, to, d.state)
	}
	d.state = to
	return nil
}

// Ref is a holder reference. While any Ref is outstanding the device
// cannot be reclaimed.
type Ref struct {
	d    *Device
	once sync.Once
}

// Device returns the referenced device.
func (r *Ref) Device() *Device { return r.d }

// Put releases the reference. Calling Put more than once has no further effect.
func (r *Ref) Put() {
	r.once.Do(func() {
		r.d.mu.Lock()
		r.d.holders--
		r.d.mu.Unlock()
	})
}
