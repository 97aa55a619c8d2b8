package backing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nerrad567/cdp-core/internal/device"
	"github.com/nerrad567/cdp-core/internal/infrastructure/config"
	"github.com/nerrad567/cdp-core/internal/process"
)

// ExecProvider runs one helper process per device. The helper owns the
// device's request queue; stopping it releases the queue.
type ExecProvider struct {
	cfg    config.ExecBackingConfig
	logger Logger
}

// NewExec creates a provider that starts cfg.Binary for each device.
func NewExec(cfg config.ExecBackingConfig, logger Logger) *ExecProvider {
	if logger == nil {
		logger = noopLogger{}
	}
	return &ExecProvider{cfg: cfg, logger: logger}
}

// Acquire starts the helper for req and waits for it to launch.
func (p *ExecProvider) Acquire(ctx context.Context, req Request) (device.Backing, error) {
	mgr := process.NewManager(process.Config{
		Name:               fmt.Sprintf("cdp-helper[%s]", req.Name),
		Binary:             p.cfg.Binary,
		Args:               expandArgs(p.cfg.Args, req),
		RestartOnFailure:   p.cfg.RestartOnFailure,
		MaxRestartAttempts: p.cfg.MaxRestartAttempts,
		GracefulTimeout:    p.cfg.GracefulTimeout,
	})
	mgr.SetLogger(p.logger)

	if err := mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHelperFailed, err)
	}

	p.logger.Info("backing helper started", "device", req.Name, "minor", req.Minor, "pid", mgr.PID())
	return &execBacking{
		mgr:   mgr,
		queue: int(req.Minor),
		disk:  DiskName(req.Minor),
	}, nil
}

// expandArgs substitutes {name}, {minor}, {host}, {repository} and {metadata}.
func expandArgs(args []string, req Request) []string {
	r := strings.NewReplacer(
		"{name}", req.Name,
		"{minor}", strconv.FormatUint(uint64(req.Minor), 10),
		"{host}", req.Host.String(),
		"{repository}", req.Repository.String(),
		"{metadata}", req.Metadata.String(),
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

type execBacking struct {
	mgr   *process.Manager
	queue int
	disk  string

	once sync.Once
	err  error
}

func (b *execBacking) Describe() device.BackingInfo {
	return device.BackingInfo{Kind: "exec", Queue: b.queue, Disk: b.disk, PID: b.mgr.PID()}
}

func (b *execBacking) Release(ctx context.Context) error {
	b.once.Do(func() {
		b.err = b.mgr.Stop(ctx)
	})
	return b.err
}
