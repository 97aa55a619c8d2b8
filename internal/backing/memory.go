package backing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/cdp-core/internal/device"
	"github.com/nerrad567/cdp-core/internal/minor"
)

// MemoryProvider allocates queue numbers from a bounded in-process pool.
type MemoryProvider struct {
	queues *minor.Allocator
}

// NewMemory creates a provider with maxQueues request queues.
func NewMemory(maxQueues int) (*MemoryProvider, error) {
	queues, err := minor.New(maxQueues)
	if err != nil {
		return nil, fmt.Errorf("backing: queue pool: %w", err)
	}
	return &MemoryProvider{queues: queues}, nil
}

// Acquire takes a queue from the pool.
func (p *MemoryProvider) Acquire(ctx context.Context, req Request) (device.Backing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q, err := p.queues.Allocate()
	if errors.Is(err, minor.ErrExhausted) {
		return nil, fmt.Errorf("%w: %d in use", ErrNoQueues, p.queues.InUse())
	}
	if err != nil {
		return nil, err
	}
	return &memoryBacking{
		pool:  p.queues,
		queue: q,
		disk:  DiskName(req.Minor),
	}, nil
}

// InUse returns the number of queues handed out.
func (p *MemoryProvider) InUse() int {
	return p.queues.InUse()
}

type memoryBacking struct {
	pool  *minor.Allocator
	queue minor.Minor
	disk  string

	once sync.Once
	err  error
}

func (b *memoryBacking) Describe() device.BackingInfo {
	return device.BackingInfo{Kind: "memory", Queue: int(b.queue), Disk: b.disk}
}

func (b *memoryBacking) Release(context.Context) error {
	b.once.Do(func() {
		b.err = b.pool.Release(b.queue)
	})
	return b.err
}
