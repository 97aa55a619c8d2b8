package process

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{Name: "helper", Binary: "/usr/bin/helper"})

	if m.config.RestartDelay != time.Second {
		t.Errorf("RestartDelay = %v, want 1s", m.config.RestartDelay)
	}
	if m.config.MaxRestartDelay != time.Minute {
		t.Errorf("MaxRestartDelay = %v, want 1m", m.config.MaxRestartDelay)
	}
	if m.config.StableThreshold != 30*time.Second {
		t.Errorf("StableThreshold = %v, want 30s", m.config.StableThreshold)
	}
	if m.config.GracefulTimeout != 10*time.Second {
		t.Errorf("GracefulTimeout = %v, want 10s", m.config.GracefulTimeout)
	}
}

func TestManager_InitialState(t *testing.T) {
	m := NewManager(Config{Name: "test", Binary: "/bin/true"})

	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusStopped)
	}
	if m.PID() != 0 {
		t.Errorf("PID() = %d, want 0", m.PID())
	}
	stats := m.Stats()
	if stats.Name != "test" || stats.RestartCount != 0 || stats.LastError != "" {
		t.Errorf("Stats() = %+v, want zero stats for %q", stats, "test")
	}
}

func TestManager_StopWhenNotStarted(t *testing.T) {
	m := NewManager(Config{Name: "test", Binary: "/bin/true"})
	if err := m.Stop(context.Background()); err != nil {
		t.Errorf("Stop() on unstarted process error = %v, want nil", err)
	}
}

func TestManager_StartAndStop(t *testing.T) {
	var startedPID atomic.Int64
	m := NewManager(Config{
		Name:            "sleeper",
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
		OnStart:         func(pid int) { startedPID.Store(int64(pid)) },
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !m.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}
	if pid := m.PID(); pid == 0 || int64(pid) != startedPID.Load() {
		t.Errorf("PID() = %d, OnStart saw %d", pid, startedPID.Load())
	}
	if err := m.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q after Stop(), want %q", m.Status(), StatusStopped)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestManager_StartWithInvalidBinary(t *testing.T) {
	m := NewManager(Config{Name: "bad", Binary: "/nonexistent/binary"})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() with invalid binary expected error, got nil")
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Errorf("Stop() after failed Start() error = %v", err)
	}
}

func TestManager_StartCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewManager(Config{Name: "test", Binary: "/bin/true"})
	if err := m.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Start() error = %v, want context.Canceled", err)
	}
}

func TestManager_ExitWithoutRestart(t *testing.T) {
	exited := make(chan error, 1)
	m := NewManager(Config{
		Name:   "false",
		Binary: "/bin/false",
		OnExit: func(err error) { exited <- err },
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case err := <-exited:
		if err == nil {
			t.Error("OnExit() got nil error for /bin/false")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("OnExit was not called")
	}
	<-m.Done()

	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
	if m.Stats().LastError == "" {
		t.Error("Stats().LastError is empty after failure")
	}
}

func TestManager_RestartsUpToLimit(t *testing.T) {
	var starts atomic.Int32
	m := NewManager(Config{
		Name:               "flaky",
		Binary:             "/bin/false",
		RestartOnFailure:   true,
		RestartDelay:       5 * time.Millisecond,
		MaxRestartDelay:    20 * time.Millisecond,
		MaxRestartAttempts: 2,
		OnStart:            func(int) { starts.Add(1) },
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "supervision to end", func() bool {
		select {
		case <-m.Done():
			return true
		default:
			return false
		}
	})

	if got := starts.Load(); got != 3 {
		t.Errorf("starts = %d, want 3 (initial + 2 restarts)", got)
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
}

func TestManager_StopDuringRestartDelay(t *testing.T) {
	m := NewManager(Config{
		Name:             "flaky",
		Binary:           "/bin/false",
		RestartOnFailure: true,
		RestartDelay:     time.Hour,
		MaxRestartDelay:  time.Hour,
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "first exit", func() bool { return m.Status() == StatusFailed })

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusStopped)
	}
}

type recordingLogger struct {
	noopLogger
	lines chan string
}

func (r *recordingLogger) Debug(msg string, args ...any) {
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == "line" {
			r.lines <- args[i+1].(string)
		}
	}
}

func TestManager_OutputForwarded(t *testing.T) {
	logger := &recordingLogger{lines: make(chan string, 4)}
	m := NewManager(Config{
		Name:   "echo",
		Binary: "/bin/echo",
		Args:   []string{"hello helper"},
	})
	m.SetLogger(logger)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-m.Done()

	select {
	case line := <-logger.lines:
		if line != "hello helper" {
			t.Errorf("forwarded line = %q, want %q", line, "hello helper")
		}
	default:
		t.Error("no output line forwarded")
	}
}

func TestLineLogger_PartialWrites(t *testing.T) {
	logger := &recordingLogger{lines: make(chan string, 4)}
	w := &lineLogger{logger: logger, name: "x", stream: "stdout"}

	_, _ = w.Write([]byte("ab"))
	_, _ = w.Write([]byte("c\nde"))
	_, _ = w.Write([]byte("f\n"))

	for _, want := range []string{"abc", "def"} {
		if got := <-logger.lines; got != want {
			t.Errorf("line = %q, want %q", got, want)
		}
	}
}
