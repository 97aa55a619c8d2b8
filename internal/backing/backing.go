package backing

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/cdp-core/internal/device"
	"github.com/nerrad567/cdp-core/internal/infrastructure/config"
	"github.com/nerrad567/cdp-core/internal/minor"
)

// Provider errors.
var (
	// ErrNoQueues is returned when the request queue pool is empty.
	ErrNoQueues = errors.New("backing: no free request queues")

	// ErrHelperFailed is returned when the per-device helper cannot be started.
	ErrHelperFailed = errors.New("backing: helper failed to start")
)

// Request describes the device a backing is acquired for.
type Request struct {
	Name       string
	Minor      minor.Minor
	Host       device.DevNum
	Repository device.DevNum
	Metadata   device.DevNum
}

// Provider hands out the request queue and disk descriptor for a device.
// The returned Backing is owned by the device and released at teardown.
type Provider interface {
	Acquire(ctx context.Context, req Request) (device.Backing, error)
}

// Logger defines the logging interface used by providers.
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

// New builds the provider selected by cfg.Type.
func New(cfg config.BackingConfig, logger Logger) (Provider, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	switch cfg.Type {
	case config.BackingMemory:
		p, err := NewMemory(cfg.MaxQueues)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.BackingExec:
		return NewExec(cfg.Exec, logger), nil
	default:
		return nil, fmt.Errorf("backing: unknown type %q", cfg.Type)
	}
}

// DiskName returns the disk name for a minor, e.g. "cdp0".
func DiskName(m minor.Minor) string {
	return fmt.Sprintf("cdp%d", m)
}
