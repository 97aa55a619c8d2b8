package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var fastDrain = DrainPolicy{
	Timeout:         200 * time.Millisecond,
	InitialInterval: time.Millisecond,
	MaxInterval:     10 * time.Millisecond,
}

type fakeBacking struct {
	released int
}

func (f *fakeBacking) Describe() BackingInfo {
	return BackingInfo{Kind: "fake", Queue: 1, Disk: "cdp0"}
}

func (f *fakeBacking) Release(context.Context) error {
	f.released++
	return nil
}

func testSpec(name string) Spec {
	return Spec{
		Name:       name,
		Host:       DevNum{Major: 3},
		Repository: DevNum{Major: 4},
		Metadata:   DevNum{Major: 5},
	}
}

// activeDevice reserves and commits a device in a fresh registry.
func activeDevice(t *testing.T, name string) (*Registry, *Device) {
	t.Helper()
	r := NewRegistry()
	d, err := r.Reserve(0, testSpec(name))
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if err := r.Commit(d); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	return r, d
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateConstructing, "constructing"},
		{StateActive, "active"},
		{StateDeleting, "deleting"},
		{StateReclaiming, "reclaiming"},
		{StateFreed, "freed"},
		{State(42), "state(42)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.s), got, tt.want)
		}
	}
}

func TestState_UnmarshalText(t *testing.T) {
	var s State
	if err := s.UnmarshalText([]byte("reclaiming")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if s != StateReclaiming {
		t.Errorf("UnmarshalText() = %v, want reclaiming", s)
	}
	if err := s.UnmarshalText([]byte("zombie")); err == nil {
		t.Error("UnmarshalText(zombie) error = nil, want error")
	}
}

func TestDevNum_RoundTrip(t *testing.T) {
	n := DevNum{Major: 8, Minor: 17}
	if got := DevNumFromDev(n.Dev()); got != n {
		t.Errorf("DevNumFromDev(Dev()) = %v, want %v", got, n)
	}
	if n.String() != "8:17" {
		t.Errorf("String() = %q, want %q", n.String(), "8:17")
	}
}

func TestParseDevNum(t *testing.T) {
	tests := []struct {
		in      string
		want    DevNum
		wantErr bool
	}{
		{"8:17", DevNum{Major: 8, Minor: 17}, false},
		{"259:0", DevNum{Major: 259}, false},
		{"8", DevNum{}, true},
		{"a:1", DevNum{}, true},
		{"1:-1", DevNum{}, true},
		{"4294967296:0", DevNum{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDevNum(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDevNum(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDevNum(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDevice_GetPut(t *testing.T) {
	_, d := activeDevice(t, "a")

	ref, err := d.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ref.Device() != d {
		t.Error("Ref.Device() does not return the referenced device")
	}
	if d.Holders() != 1 {
		t.Errorf("Holders() = %d, want 1", d.Holders())
	}

	ref.Put()
	ref.Put()
	if d.Holders() != 0 {
		t.Errorf("Holders() = %d after double Put, want 0", d.Holders())
	}
}

func TestDevice_GetWhileConstructing(t *testing.T) {
	r := NewRegistry()
	d, _ := r.Reserve(0, testSpec("a"))

	if _, err := d.Get(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() on constructing device error = %v, want ErrNotFound", err)
	}
	if err := d.Open(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open() on constructing device error = %v, want ErrNotFound", err)
	}
}

func TestDevice_OpenClose(t *testing.T) {
	_, d := activeDevice(t, "a")

	if err := d.Close(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Close() without Open error = %v, want ErrNotOpen", err)
	}
	if err := d.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := d.Open(); err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	if d.OpenCount() != 2 {
		t.Errorf("OpenCount() = %d, want 2", d.OpenCount())
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if d.OpenCount() != 1 {
		t.Errorf("OpenCount() = %d, want 1", d.OpenCount())
	}
}

func TestDevice_BeginDelete(t *testing.T) {
	t.Run("busy while open", func(t *testing.T) {
		_, d := activeDevice(t, "a")
		_ = d.Open()

		if err := d.BeginDelete(); !errors.Is(err, ErrBusy) {
			t.Fatalf("BeginDelete() error = %v, want ErrBusy", err)
		}
		if d.State() != StateActive {
			t.Errorf("State() = %s after busy delete, want active", d.State())
		}
		if _, err := d.Get(); err != nil {
			t.Errorf("Get() after busy delete error = %v", err)
		}
	})

	t.Run("latch refuses new holders and openers", func(t *testing.T) {
		_, d := activeDevice(t, "a")

		if err := d.BeginDelete(); err != nil {
			t.Fatalf("BeginDelete() error = %v", err)
		}
		if d.State() != StateDeleting {
			t.Errorf("State() = %s, want deleting", d.State())
		}
		if _, err := d.Get(); !errors.Is(err, ErrGone) {
			t.Errorf("Get() after latch error = %v, want ErrGone", err)
		}
		if err := d.Open(); !errors.Is(err, ErrGone) {
			t.Errorf("Open() after latch error = %v, want ErrGone", err)
		}
		if err := d.BeginDelete(); !errors.Is(err, ErrNotFound) {
			t.Errorf("second BeginDelete() error = %v, want ErrNotFound", err)
		}
	})
}

func TestDevice_WaitQuiescent(t *testing.T) {
	t.Run("no holders", func(t *testing.T) {
		_, d := activeDevice(t, "a")
		_ = d.BeginDelete()

		if err := d.WaitQuiescent(context.Background(), fastDrain); err != nil {
			t.Fatalf("WaitQuiescent() error = %v", err)
		}
		if d.State() != StateReclaiming {
			t.Errorf("State() = %s, want reclaiming", d.State())
		}
	})

	t.Run("holder released during drain", func(t *testing.T) {
		_, d := activeDevice(t, "a")
		ref, _ := d.Get()
		_ = d.BeginDelete()

		go func() {
			time.Sleep(20 * time.Millisecond)
			ref.Put()
		}()

		policy := fastDrain
		policy.Timeout = 2 * time.Second
		if err := d.WaitQuiescent(context.Background(), policy); err != nil {
			t.Fatalf("WaitQuiescent() error = %v", err)
		}
	})

	t.Run("timeout keeps latch", func(t *testing.T) {
		_, d := activeDevice(t, "a")
		ref, _ := d.Get()
		defer ref.Put()
		_ = d.BeginDelete()

		err := d.WaitQuiescent(context.Background(), fastDrain)
		if !errors.Is(err, ErrDrainTimeout) {
			t.Fatalf("WaitQuiescent() error = %v, want ErrDrainTimeout", err)
		}
		if d.State() != StateDeleting {
			t.Errorf("State() = %s, want deleting", d.State())
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		_, d := activeDevice(t, "a")
		ref, _ := d.Get()
		defer ref.Put()
		_ = d.BeginDelete()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		policy := fastDrain
		policy.Timeout = time.Minute
		if err := d.WaitQuiescent(ctx, policy); !errors.Is(err, context.Canceled) {
			t.Errorf("WaitQuiescent() error = %v, want context.Canceled", err)
		}
	})

	t.Run("before delete", func(t *testing.T) {
		_, d := activeDevice(t, "a")
		if err := d.WaitQuiescent(context.Background(), fastDrain); !errors.Is(err, ErrInvalidState) {
			t.Errorf("WaitQuiescent() error = %v, want ErrInvalidState", err)
		}
	})
}

func TestDevice_Backing(t *testing.T) {
	r := NewRegistry()
	d, _ := r.Reserve(0, testSpec("a"))
	b := &fakeBacking{}

	if err := d.AttachBacking(b); err != nil {
		t.Fatalf("AttachBacking() error = %v", err)
	}
	_ = r.Commit(d)

	if got := d.Info().Backing.Kind; got != "fake" {
		t.Errorf("Info().Backing.Kind = %q, want %q", got, "fake")
	}
	if err := d.AttachBacking(&fakeBacking{}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("AttachBacking() on active device error = %v, want ErrInvalidState", err)
	}
	if got := d.DetachBacking(); got != b {
		t.Error("DetachBacking() did not return attached backing")
	}
	if d.DetachBacking() != nil {
		t.Error("second DetachBacking() should return nil")
	}
}

// An opener racing a remover either wins (delete is busy) or loses
// (open is gone); never both succeed.
func TestDevice_OpenDeleteRace(t *testing.T) {
	for i := 0; i < 200; i++ {
		_, d := activeDevice(t, "a")

		var (
			wg              sync.WaitGroup
			openErr, delErr error
		)
		wg.Add(2)
		go func() { defer wg.Done(); openErr = d.Open() }()
		go func() { defer wg.Done(); delErr = d.BeginDelete() }()
		wg.Wait()

		switch {
		case openErr == nil && errors.Is(delErr, ErrBusy):
		case errors.Is(openErr, ErrGone) && delErr == nil:
		default:
			t.Fatalf("iteration %d: open = %v, delete = %v", i, openErr, delErr)
		}
	}
}
