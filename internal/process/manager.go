package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

var (
	// ErrAlreadyRunning is returned by Start when the process is already up.
	ErrAlreadyRunning = errors.New("process: already running")

	errStopRequested = errors.New("process: stop requested")
)

// Config holds configuration for a managed helper process.
type Config struct {
	// Name identifies the process in logs, e.g. "cdp-helper[cdp0]".
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	Env []string

	// RestartOnFailure restarts the process when it exits without Stop.
	RestartOnFailure bool

	// RestartDelay is the first restart delay; later delays double up to MaxRestartDelay.
	RestartDelay time.Duration

	// MaxRestartDelay caps the restart delay.
	MaxRestartDelay time.Duration

	// StableThreshold is how long a run must last for the delay to reset.
	StableThreshold time.Duration

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// OnStart is called each time the process starts.
	OnStart func(pid int)

	// OnExit is called when the process exits without Stop being requested.
	OnExit func(err error)
}

// Logger defines the logging interface for the process manager.
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

// Manager supervises one subprocess.
//
// The child runs in its own process group and is not bound to the context
// passed to Start; it lives until Stop is called.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restartCount  int
	lastError     error
	startTime     time.Time
	stopRequested bool
	stopCh        chan struct{}
	done          chan struct{}
}

// NewManager creates a process manager, filling zero durations with defaults.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = time.Second
	}
	if cfg.MaxRestartDelay == 0 {
		cfg.MaxRestartDelay = time.Minute
	}
	if cfg.StableThreshold == 0 {
		cfg.StableThreshold = 30 * time.Second
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the process and begins supervising it.
// ctx only bounds the launch itself.
func (m *Manager) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.restartCount = 0
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.launch(); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.supervise()
	return nil
}

func (m *Manager) launch() error {
	cmd := exec.Command(m.config.Binary, m.config.Args...) //nolint:gosec // binary comes from validated config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = &lineLogger{logger: m.logger, name: m.config.Name, stream: "stdout"}
	cmd.Stderr = &lineLogger{logger: m.logger, name: m.config.Name, stream: "stderr"}
	cmd.WaitDelay = m.config.GracefulTimeout
	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}

	// Held across Start so Stop either sees this run or prevents it.
	m.mu.Lock()
	if m.stopRequested {
		m.mu.Unlock()
		return errStopRequested
	}
	if err := cmd.Start(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	m.logger.Info("process started", "name", m.config.Name, "pid", cmd.Process.Pid)
	if m.config.OnStart != nil {
		m.config.OnStart(cmd.Process.Pid)
	}
	return nil
}

// supervise waits for each run to end and restarts it with exponential
// backoff until Stop is requested or restarts are exhausted.
func (m *Manager) supervise() {
	defer close(m.done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.config.RestartDelay
	b.MaxInterval = m.config.MaxRestartDelay
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		m.mu.RLock()
		cmd, started := m.cmd, m.startTime
		m.mu.RUnlock()

		err := cmd.Wait()

		m.mu.Lock()
		if m.stopRequested {
			m.status = StatusStopped
			m.mu.Unlock()
			m.logger.Info("process stopped", "name", m.config.Name)
			return
		}
		m.status = StatusFailed
		m.lastError = err
		m.mu.Unlock()

		m.logger.Warn("process exited unexpectedly", "name", m.config.Name, "error", err)
		if m.config.OnExit != nil {
			m.config.OnExit(err)
		}

		if !m.config.RestartOnFailure {
			return
		}
		if time.Since(started) >= m.config.StableThreshold {
			b.Reset()
		}

		m.mu.Lock()
		m.restartCount++
		attempt := m.restartCount
		m.mu.Unlock()

		if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
			m.logger.Error("max restart attempts reached", "name", m.config.Name, "attempts", attempt-1)
			return
		}

		delay := b.NextBackOff()
		m.logger.Info("restarting process", "name", m.config.Name, "attempt", attempt, "delay", delay)

		select {
		case <-m.stopCh:
			m.mu.Lock()
			m.status = StatusStopped
			m.mu.Unlock()
			return
		case <-time.After(delay):
		}

		if err := m.launch(); err != nil {
			m.mu.Lock()
			if errors.Is(err, errStopRequested) {
				m.status = StatusStopped
			} else {
				m.lastError = err
				m.logger.Error("failed to restart process", "name", m.config.Name, "error", err)
			}
			m.mu.Unlock()
			return
		}
	}
}

// Stop sends SIGTERM to the process group, then SIGKILL after
// GracefulTimeout or when ctx ends. Stopping a stopped process is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.done == nil || m.stopRequested {
		done := m.done
		m.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	}
	m.stopRequested = true
	close(m.stopCh)
	cmd, done := m.cmd, m.done
	m.mu.Unlock()

	select {
	case <-done:
		return nil
	default:
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)

	if err := unix.Kill(-pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		m.logger.Warn("failed to send SIGTERM to process group", "name", m.config.Name, "error", err)
	}

	timer := time.NewTimer(m.config.GracefulTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL", "name", m.config.Name)
	case <-ctx.Done():
		m.logger.Warn("stop cancelled, sending SIGKILL", "name", m.config.Name)
	}

	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
	}
	<-done
	return nil
}

// Done is closed when supervision ends.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// Status returns the current status of the managed process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the process is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// PID returns the process ID of the current run, or 0 if not running.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats returns statistics about the managed process.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}
	if m.status == StatusRunning {
		stats.PID = m.cmd.Process.Pid
		stats.Uptime = time.Since(m.startTime)
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}

// lineLogger forwards complete output lines to the logger at debug level.
type lineLogger struct {
	logger Logger
	name   string
	stream string
	buf    []byte
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.logger.Debug("process output", "name", w.name, "stream", w.stream, "line", string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}
