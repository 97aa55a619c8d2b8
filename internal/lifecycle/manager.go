package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/cdp-core/internal/backing"
	"github.com/nerrad567/cdp-core/internal/device"
	"github.com/nerrad567/cdp-core/internal/infrastructure/config"
	"github.com/nerrad567/cdp-core/internal/minor"
)

// Operation names passed to the Recorder.
const (
	OpCreate = "create"
	OpRemove = "remove"
	OpReap   = "reap"
)

// Publisher makes devices externally visible. Publish is called once a
// device is Active; Unpublish after its holders have drained and before
// its resources are reclaimed. Errors are logged and do not undo the
// lifecycle step.
type Publisher interface {
	Publish(ctx context.Context, info device.Info) error
	Unpublish(ctx context.Context, info device.Info) error
}

// Recorder receives the outcome of every create and remove.
type Recorder interface {
	RecordLifecycle(op string, info device.Info, err error, elapsed time.Duration)
}

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config controls device policy and teardown.
type Config struct {
	MaxMinors int
	Policy    string
	Drain     device.DrainPolicy
	Version   string
}

// ConfigFrom builds a Config from the devices section of the config file.
func ConfigFrom(cfg config.DevicesConfig, version string) Config {
	return Config{
		MaxMinors: cfg.MaxMinors,
		Policy:    cfg.Policy,
		Drain: device.DrainPolicy{
			Timeout:         cfg.DrainTimeout,
			InitialInterval: cfg.DrainInitialInterval,
			MaxInterval:     cfg.DrainMaxInterval,
		},
		Version: version,
	}
}

// Stats summarises the manager's state.
type Stats struct {
	Policy      string `json:"policy"`
	Devices     int    `json:"devices"`
	MinorsInUse int    `json:"minors_in_use"`
	MinorSpace  int    `json:"minor_space"`
	Reaping     int    `json:"reaping"`
}

// Manager creates and removes devices.
//
// The manager lock covers only the occupancy check, minor allocation and
// slot reservation. Backing acquisition, publication and drain waits run
// without it.
type Manager struct {
	cfg        Config
	minors     *minor.Allocator
	registry   *device.Registry
	provider   backing.Provider
	publishers []Publisher
	recorder   Recorder
	logger     Logger

	mu      sync.Mutex
	closed  bool
	creates sync.WaitGroup

	reapCtx    context.Context
	reapCancel context.CancelFunc
	reapers    sync.WaitGroup
	reapMu     sync.Mutex
	reaping    int
	reapDone   bool
}

// New creates a manager with an empty registry.
func New(cfg Config, provider backing.Provider) (*Manager, error) {
	if cfg.Policy != config.PolicySingle && cfg.Policy != config.PolicyMulti {
		return nil, fmt.Errorf("lifecycle: unknown policy %q", cfg.Policy)
	}
	if provider == nil {
		return nil, errors.New("lifecycle: backing provider is required")
	}
	if err := validateDrain(cfg.Drain); err != nil {
		return nil, err
	}
	minors, err := minor.New(cfg.MaxMinors)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: %w", err)
	}

	reapCtx, reapCancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		minors:     minors,
		registry:   device.NewRegistry(),
		provider:   provider,
		logger:     noopLogger{},
		reapCtx:    reapCtx,
		reapCancel: reapCancel,
	}, nil
}

// validateDrain rejects policies that would poll without pause or without
// bound.
func validateDrain(p device.DrainPolicy) error {
	if p.Timeout <= 0 {
		return errors.New("lifecycle: drain timeout must be positive")
	}
	if p.InitialInterval <= 0 || p.MaxInterval < p.InitialInterval {
		return errors.New("lifecycle: drain intervals must be positive with max >= initial")
	}
	return nil
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// AddPublisher registers a publication sink. Call before the first Create.
func (m *Manager) AddPublisher(p Publisher) {
	m.publishers = append(m.publishers, p)
}

// SetRecorder sets the lifecycle metrics sink.
func (m *Manager) SetRecorder(r Recorder) {
	m.recorder = r
}

// Version returns the control plane version string.
func (m *Manager) Version() string {
	return m.cfg.Version
}

// Policy returns the configured device policy.
func (m *Manager) Policy() string {
	return m.cfg.Policy
}

// Create builds, activates and publishes a device.
//
// Every failure after a partial allocation unwinds in reverse order:
// backing, slot, minor.
func (m *Manager) Create(ctx context.Context, spec device.Spec) (info device.Info, err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			m.record(OpCreate, device.Info{Name: spec.Name}, err, start)
		}
	}()

	if spec.Name == "" || len(spec.Name) >= device.NameLen {
		return device.Info{}, fmt.Errorf("%w: name must be 1-%d bytes", ErrInvalidSpec, device.NameLen-1)
	}

	d, err := m.reserve(spec)
	if err != nil {
		return device.Info{}, err
	}
	defer m.creates.Done()

	b, err := m.provider.Acquire(ctx, backing.Request{
		Name:       spec.Name,
		Minor:      d.Minor(),
		Host:       spec.Host,
		Repository: spec.Repository,
		Metadata:   spec.Metadata,
	})
	if err != nil {
		m.unwind(d, nil)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return device.Info{}, fmt.Errorf("creating %q: %w", spec.Name, ctxErr)
		}
		return device.Info{}, fmt.Errorf("%w: backing for %q: %w", ErrResourceExhausted, spec.Name, err)
	}

	if err := d.AttachBacking(b); err != nil {
		m.unwind(d, b)
		return device.Info{}, err
	}
	if err := m.commit(d); err != nil {
		m.unwind(d, d.DetachBacking())
		return device.Info{}, err
	}

	// Committed devices are always published, even if the caller has gone.
	pubCtx := context.WithoutCancel(ctx)
	info = d.Info()
	for _, p := range m.publishers {
		if err := p.Publish(pubCtx, info); err != nil {
			m.logger.Error("publishing device failed", "name", info.Name, "minor", info.Minor, "error", err)
		}
	}

	m.logger.Info("device created",
		"name", info.Name,
		"minor", info.Minor,
		"generation", info.Generation,
		"backing", info.Backing.Kind,
	)
	m.record(OpCreate, info, nil, start)
	return info, nil
}

// reserve applies the policy, allocates a minor and reserves its slot.
// On success the create is counted as in flight until Create returns.
func (m *Manager) reserve(spec device.Spec) (*device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.cfg.Policy == config.PolicySingle && m.registry.Len() > 0 {
		return nil, fmt.Errorf("%w: single-device policy", ErrAlreadyExists)
	}

	mn, err := m.minors.Allocate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResourceExhausted, err)
	}

	d, err := m.registry.Reserve(mn, spec)
	if err != nil {
		m.releaseMinor(mn)
		if errors.Is(err, device.ErrNameTaken) {
			return nil, fmt.Errorf("%w: %w", ErrAlreadyExists, err)
		}
		return nil, err
	}
	m.creates.Add(1)
	return d, nil
}

// commit makes d visible unless Shutdown has started in the meantime.
func (m *Manager) commit(d *device.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	return m.registry.Commit(d)
}

// unwind releases a partially built device in reverse order.
func (m *Manager) unwind(d *device.Device, b device.Backing) {
	if b != nil {
		if err := b.Release(context.Background()); err != nil {
			m.logger.Error("releasing backing during unwind failed", "name", d.Name(), "error", err)
		}
	}
	if err := m.registry.Drop(d); err != nil {
		m.logger.Error("dropping slot during unwind failed", "name", d.Name(), "error", err)
	}
	m.releaseMinor(d.Minor())
}

// releaseMinor returns a minor to the allocator. A minor that was not
// allocated means the lifecycle bookkeeping is corrupt.
func (m *Manager) releaseMinor(mn minor.Minor) {
	if err := m.minors.Release(mn); err != nil {
		m.logger.Error("minor allocation invariant broken", "minor", mn, "error", err)
		panic(err)
	}
}

// Remove tears down the device with the given minor.
func (m *Manager) Remove(ctx context.Context, mn minor.Minor) error {
	d, err := m.registry.Get(mn)
	if err != nil {
		return err
	}
	return m.remove(ctx, d)
}

// RemoveHandle tears down the device named by h, failing with
// device.ErrStaleHandle if the slot now holds a different incarnation.
func (m *Manager) RemoveHandle(ctx context.Context, h device.Handle) error {
	d, err := m.registry.Resolve(h)
	if err != nil {
		return err
	}
	return m.remove(ctx, d)
}

// remove latches d, waits for its holders to drain and reclaims it.
//
// device.ErrBusy and device.ErrNotFound leave the device untouched. Once
// the latch is set the removal cannot be aborted: if the drain times out
// or ctx ends, a reaper finishes the teardown and the caller gets
// ErrTimeout or the context error.
func (m *Manager) remove(ctx context.Context, d *device.Device) error {
	start := time.Now()

	if err := d.BeginDelete(); err != nil {
		return err
	}
	m.logger.Debug("device latched for removal", "name", d.Name(), "minor", d.Minor())

	if err := d.WaitQuiescent(ctx, m.cfg.Drain); err != nil {
		m.startReaper(d)
		m.record(OpRemove, d.Info(), err, start)
		if errors.Is(err, device.ErrDrainTimeout) {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return fmt.Errorf("removal of %q continues in background: %w", d.Name(), err)
	}

	info := m.reclaim(context.WithoutCancel(ctx), d)
	m.record(OpRemove, info, nil, start)
	return nil
}

// reclaim unpublishes a Reclaiming device, releases its backing, frees its
// slot and returns its minor.
func (m *Manager) reclaim(ctx context.Context, d *device.Device) device.Info {
	info := d.Info()

	for i := len(m.publishers) - 1; i >= 0; i-- {
		if err := m.publishers[i].Unpublish(ctx, info); err != nil {
			m.logger.Error("unpublishing device failed", "name", info.Name, "minor", info.Minor, "error", err)
		}
	}

	if b := d.DetachBacking(); b != nil {
		if err := b.Release(ctx); err != nil {
			m.logger.Error("releasing backing failed", "name", info.Name, "error", err)
		}
	}

	if err := m.registry.Drop(d); err != nil {
		m.logger.Error("device slot invariant broken", "name", info.Name, "error", err)
		panic(err)
	}
	m.releaseMinor(info.Minor)

	info.State = device.StateFreed
	m.logger.Info("device removed", "name", info.Name, "minor", info.Minor)
	return info
}

// startReaper finishes a latched teardown once holders drain. After
// Shutdown has stopped the reapers the device stays latched.
func (m *Manager) startReaper(d *device.Device) {
	m.reapMu.Lock()
	if m.reapDone {
		m.reapMu.Unlock()
		m.logger.Warn("device left latched after shutdown", "name", d.Name(), "minor", d.Minor(), "holders", d.Holders())
		return
	}
	m.reaping++
	m.reapers.Add(1)
	m.reapMu.Unlock()

	m.logger.Warn("device drain incomplete, reaping in background",
		"name", d.Name(),
		"minor", d.Minor(),
		"holders", d.Holders(),
	)

	go func() {
		defer m.reapers.Done()
		defer func() {
			m.reapMu.Lock()
			m.reaping--
			m.reapMu.Unlock()
		}()

		start := time.Now()
		policy := device.DrainPolicy{
			InitialInterval: m.cfg.Drain.MaxInterval,
			MaxInterval:     4 * m.cfg.Drain.MaxInterval,
		}
		if err := d.WaitQuiescent(m.reapCtx, policy); err != nil {
			m.logger.Warn("reaper stopped before device drained", "name", d.Name(), "error", err)
			return
		}
		info := m.reclaim(context.Background(), d)
		m.record(OpReap, info, nil, start)
	}()
}

// Open records an external opener of the device.
func (m *Manager) Open(_ context.Context, mn minor.Minor) error {
	d, err := m.registry.Get(mn)
	if err != nil {
		return err
	}
	return d.Open()
}

// OpenHandle is Open for the incarnation named by h. It fails with
// device.ErrStaleHandle if the minor has been reused since h was taken.
func (m *Manager) OpenHandle(_ context.Context, h device.Handle) error {
	d, err := m.registry.Resolve(h)
	if err != nil {
		return err
	}
	return d.Open()
}

// Close releases an external opener of the device.
func (m *Manager) Close(_ context.Context, mn minor.Minor) error {
	d, err := m.registry.Get(mn)
	if err != nil {
		return err
	}
	return d.Close()
}

// CloseHandle is Close for the incarnation named by h.
func (m *Manager) CloseHandle(_ context.Context, h device.Handle) error {
	d, err := m.registry.Resolve(h)
	if err != nil {
		return err
	}
	return d.Close()
}

// Acquire takes a holder reference on the device. The caller must Put it.
func (m *Manager) Acquire(_ context.Context, mn minor.Minor) (*device.Ref, error) {
	d, err := m.registry.Get(mn)
	if err != nil {
		return nil, err
	}
	return d.Get()
}

// Get returns a snapshot of the device with the given minor.
func (m *Manager) Get(mn minor.Minor) (device.Info, error) {
	d, err := m.registry.Get(mn)
	if err != nil {
		return device.Info{}, err
	}
	return d.Info(), nil
}

// Lookup returns a snapshot of the device with the given name.
func (m *Manager) Lookup(name string) (device.Info, error) {
	d, err := m.registry.Lookup(name)
	if err != nil {
		return device.Info{}, err
	}
	return d.Info(), nil
}

// Sole returns the only live device. It fails with device.ErrNotFound
// when there is none and ErrAmbiguous when there are several.
func (m *Manager) Sole() (device.Info, error) {
	list := m.registry.List()
	switch len(list) {
	case 0:
		return device.Info{}, device.ErrNotFound
	case 1:
		return list[0].Info(), nil
	default:
		return device.Info{}, fmt.Errorf("%w: %d live", ErrAmbiguous, len(list))
	}
}

// List returns snapshots of all visible devices ordered by minor.
func (m *Manager) List() []device.Info {
	list := m.registry.List()
	out := make([]device.Info, len(list))
	for i, d := range list {
		out[i] = d.Info()
	}
	return out
}

// Stats returns a summary of the manager's state.
func (m *Manager) Stats() Stats {
	m.reapMu.Lock()
	reaping := m.reaping
	m.reapMu.Unlock()

	return Stats{
		Policy:      m.cfg.Policy,
		Devices:     m.registry.Len(),
		MinorsInUse: m.minors.InUse(),
		MinorSpace:  m.minors.Size(),
		Reaping:     reaping,
	}
}

// Shutdown refuses new creates, waits for creates already in flight,
// removes every idle device and stops the reapers. Devices still open are
// logged and left in place.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	var errs []error
	if err := waitGroup(ctx, &m.creates); err != nil {
		errs = append(errs, fmt.Errorf("waiting for in-flight creates: %w", err))
	}
	for _, d := range m.registry.List() {
		if n := d.OpenCount(); n > 0 {
			m.logger.Warn("device still open at shutdown", "name", d.Name(), "openers", n)
			continue
		}
		if err := m.remove(ctx, d); err != nil && !errors.Is(err, device.ErrNotFound) {
			errs = append(errs, fmt.Errorf("removing %q: %w", d.Name(), err))
		}
	}

	m.reapMu.Lock()
	m.reapDone = true
	m.reapMu.Unlock()
	m.reapCancel()
	if err := waitGroup(ctx, &m.reapers); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// waitGroup waits for wg or for ctx to end.
func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) record(op string, info device.Info, err error, start time.Time) {
	if m.recorder != nil {
		m.recorder.RecordLifecycle(op, info, err, time.Since(start))
	}
}
