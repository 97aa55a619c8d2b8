package backing

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/nerrad567/cdp-core/internal/device"
	"github.com/nerrad567/cdp-core/internal/infrastructure/config"
)

func testRequest() Request {
	return Request{
		Name:       "cdp-a",
		Minor:      3,
		Host:       device.DevNum{Major: 8, Minor: 1},
		Repository: device.DevNum{Major: 8, Minor: 2},
		Metadata:   device.DevNum{Major: 8, Minor: 3},
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.BackingConfig
		want    string
		wantErr bool
	}{
		{"memory", config.BackingConfig{Type: config.BackingMemory, MaxQueues: 2}, "*backing.MemoryProvider", false},
		{"exec", config.BackingConfig{Type: config.BackingExec, Exec: config.ExecBackingConfig{Binary: "/bin/sleep"}}, "*backing.ExecProvider", false},
		{"memory without queues", config.BackingConfig{Type: config.BackingMemory}, "", true},
		{"unknown", config.BackingConfig{Type: "nbd"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && reflect.TypeOf(p).String() != tt.want {
				t.Errorf("New() type = %T, want %s", p, tt.want)
			}
		})
	}
}

func TestMemoryProvider_Pool(t *testing.T) {
	p, err := NewMemory(2)
	if err != nil {
		t.Fatalf("NewMemory() error = %v", err)
	}
	ctx := context.Background()

	b1, err := p.Acquire(ctx, testRequest())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	b2, _ := p.Acquire(ctx, testRequest())

	if _, err := p.Acquire(ctx, testRequest()); !errors.Is(err, ErrNoQueues) {
		t.Fatalf("Acquire() on empty pool error = %v, want ErrNoQueues", err)
	}

	info := b1.Describe()
	if info.Kind != "memory" || info.Queue != 0 || info.Disk != "cdp3" {
		t.Errorf("Describe() = %+v, want memory queue 0 disk cdp3", info)
	}

	if err := b1.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := b1.Release(ctx); err != nil {
		t.Errorf("second Release() error = %v, want first result", err)
	}
	if p.InUse() != 1 {
		t.Errorf("InUse() = %d, want 1", p.InUse())
	}

	b3, err := p.Acquire(ctx, testRequest())
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	if b3.Describe().Queue != 0 {
		t.Errorf("reacquired queue = %d, want 0", b3.Describe().Queue)
	}
	_ = b2.Release(ctx)
	_ = b3.Release(ctx)
}

func TestMemoryProvider_CancelledContext(t *testing.T) {
	p, _ := NewMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Acquire(ctx, testRequest()); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
	if p.InUse() != 0 {
		t.Errorf("InUse() = %d, want 0", p.InUse())
	}
}

func TestExpandArgs(t *testing.T) {
	got := expandArgs([]string{"--name={name}", "--minor", "{minor}", "{host},{repository},{metadata}"}, testRequest())
	want := []string{"--name=cdp-a", "--minor", "3", "8:1,8:2,8:3"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("expandArgs() = %v, want %v", got, want)
	}
}

func TestExecProvider_Lifecycle(t *testing.T) {
	p := NewExec(config.ExecBackingConfig{
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
	}, nil)

	ctx := context.Background()
	b, err := p.Acquire(ctx, testRequest())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	info := b.Describe()
	if info.Kind != "exec" || info.PID == 0 || info.Queue != 3 {
		t.Errorf("Describe() = %+v, want exec with pid and queue 3", info)
	}

	if err := b.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if pid := b.Describe().PID; pid != 0 {
		t.Errorf("PID after Release = %d, want 0", pid)
	}
}

func TestExecProvider_HelperMissing(t *testing.T) {
	p := NewExec(config.ExecBackingConfig{Binary: "/nonexistent/cdp-helper"}, nil)

	if _, err := p.Acquire(context.Background(), testRequest()); !errors.Is(err, ErrHelperFailed) {
		t.Errorf("Acquire() error = %v, want ErrHelperFailed", err)
	}
}
