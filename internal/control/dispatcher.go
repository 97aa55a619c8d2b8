package control

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nerrad567/cdp-core/internal/device"
	"github.com/nerrad567/cdp-core/internal/infrastructure/config"
)

// Lifecycle is the device manager the dispatcher routes to.
type Lifecycle interface {
	Create(ctx context.Context, spec device.Spec) (device.Info, error)
	RemoveHandle(ctx context.Context, h device.Handle) error
	Lookup(name string) (device.Info, error)
	Sole() (device.Info, error)
	Policy() string
	Version() string
}

// Caller identifies who issued a command.
type Caller struct {
	ID         string
	Privileged bool
	Source     string
}

// Result is the outcome of a successful dispatch.
type Result struct {
	Command string       `json:"command"`
	Version string       `json:"version,omitempty"`
	Device  *device.Info `json:"device,omitempty"`
}

// Entry describes one dispatch for audit and metrics sinks.
type Entry struct {
	Caller  Caller
	Code    Code
	Command string
	Target  string
	Errno   unix.Errno
	Err     error
	Elapsed time.Duration
	At      time.Time
}

// Sink receives every dispatch, successful or not.
type Sink interface {
	RecordDispatch(ctx context.Context, e Entry)
}

// Logger defines the logging interface used by the Dispatcher.
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

type handlerFunc func(d *Dispatcher, ctx context.Context, rec *Record) (Result, error)

type command struct {
	name    string
	code    Code
	handler handlerFunc
}

// commandTable is indexed by command number.
var commandTable = [...]command{
	nrVersion:   {name: "VERSION", code: CmdVersion},
	nrDevCreate: {name: "DEV_CREATE", code: CmdDevCreate, handler: (*Dispatcher).create},
	nrDevRemove: {name: "DEV_REMOVE", code: CmdDevRemove, handler: (*Dispatcher).remove},
	nrDevStatus: {name: "DEV_STATUS", code: CmdDevStatus, handler: (*Dispatcher).status},
}

// Stats counts dispatches for diagnostics.
type Stats struct {
	Dispatched  int64 `json:"dispatched"`
	Handled     int64 `json:"handled"`
	Outstanding int64 `json:"outstanding"`
}

// Dispatcher validates control commands and routes them to the lifecycle manager.
//
// Thread Safety:
//   - Dispatch is safe for concurrent use. Each call owns its parameter
//     record; no record is shared or retained after the call returns.
type Dispatcher struct {
	lc     Lifecycle
	sinks  []Sink
	logger Logger

	dispatched  atomic.Int64
	handled     atomic.Int64
	outstanding atomic.Int64
}

// NewDispatcher creates a dispatcher for lc.
func NewDispatcher(lc Lifecycle) *Dispatcher {
	return &Dispatcher{
		lc:     lc,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// AddSink registers an audit or metrics sink. Call before the first Dispatch.
func (d *Dispatcher) AddSink(s Sink) {
	d.sinks = append(d.sinks, s)
}

// Stats returns dispatch counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched:  d.dispatched.Load(),
		Handled:     d.handled.Load(),
		Outstanding: d.outstanding.Load(),
	}
}

// Dispatch runs one command.
//
// Checks run in a fixed order: privilege, parameter presence, category,
// table lookup, record copy, validation. VERSION returns after the category
// check. Handler errors are returned wrapped, never replaced.
func (d *Dispatcher) Dispatch(ctx context.Context, caller Caller, code Code, raw []byte) (Result, error) {
	start := time.Now()
	d.dispatched.Add(1)

	var target string
	res, err := d.dispatch(ctx, caller, code, raw, &target)

	entry := Entry{
		Caller:  caller,
		Code:    code,
		Command: code.String(),
		Target:  target,
		Errno:   Errno(err),
		Err:     err,
		Elapsed: time.Since(start),
		At:      start.UTC(),
	}
	for _, s := range d.sinks {
		s.RecordDispatch(ctx, entry)
	}

	if err != nil {
		d.logger.Warn("control command failed",
			"command", entry.Command,
			"caller", caller.ID,
			"errno", entry.Errno.Error(),
			"error", err,
		)
	} else {
		d.logger.Info("control command", "command", entry.Command, "caller", caller.ID, "target", target)
	}
	return res, err
}

func (d *Dispatcher) dispatch(ctx context.Context, caller Caller, code Code, raw []byte, target *string) (Result, error) {
	if !caller.Privileged {
		return Result{}, ErrPermissionDenied
	}
	if code.HasInput() && raw == nil {
		return Result{}, fmt.Errorf("%w: missing parameter buffer", ErrInvalidArgument)
	}
	if code.Type() != Magic {
		return Result{}, fmt.Errorf("%w: category %q", ErrUnsupportedOperation, rune(code.Type()))
	}
	if code == CmdVersion {
		return Result{Command: commandTable[nrVersion].name, Version: d.lc.Version()}, nil
	}

	nr := code.Nr()
	if int(nr) >= len(commandTable) || commandTable[nr].handler == nil || commandTable[nr].code != code {
		return Result{}, fmt.Errorf("%w: nr %d", ErrUnknownCommand, nr)
	}
	cmd := commandTable[nr]

	p := paramPool.Get().(*paramBuf)
	d.outstanding.Add(1)
	defer func() {
		p.reset()
		paramPool.Put(p)
		d.outstanding.Add(-1)
	}()

	if err := p.copyIn(raw); err != nil {
		return Result{}, err
	}
	*target = p.rec.Name

	d.handled.Add(1)
	res, err := cmd.handler(d, ctx, &p.rec)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", cmd.name, err)
	}
	res.Command = cmd.name
	return res, nil
}

func (d *Dispatcher) create(ctx context.Context, rec *Record) (Result, error) {
	if rec.Name == "" {
		return Result{}, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	for _, f := range []struct {
		field string
		pair  Pair
	}{
		{"host", rec.Host},
		{"repository", rec.Repository},
		{"metadata", rec.Metadata},
	} {
		if !f.pair.valid() {
			return Result{}, fmt.Errorf("%w: %s device %d:%d", ErrInvalidArgument, f.field, f.pair.Major, f.pair.Minor)
		}
	}

	info, err := d.lc.Create(ctx, device.Spec{
		Name:       rec.Name,
		Host:       rec.Host.DevNum(),
		Repository: rec.Repository.DevNum(),
		Metadata:   rec.Metadata.DevNum(),
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Device: &info}, nil
}

func (d *Dispatcher) remove(ctx context.Context, rec *Record) (Result, error) {
	info, err := d.resolve(rec)
	if err != nil {
		return Result{}, err
	}
	if err := d.lc.RemoveHandle(ctx, info.Handle()); err != nil {
		return Result{}, err
	}
	info.State = device.StateFreed
	return Result{Device: &info}, nil
}

func (d *Dispatcher) status(_ context.Context, rec *Record) (Result, error) {
	info, err := d.resolve(rec)
	if err != nil {
		return Result{}, err
	}
	return Result{Device: &info}, nil
}

// resolve finds the device a command targets: by name, or the sole device
// under the single policy.
func (d *Dispatcher) resolve(rec *Record) (device.Info, error) {
	if rec.Name != "" {
		return d.lc.Lookup(rec.Name)
	}
	if d.lc.Policy() == config.PolicySingle {
		return d.lc.Sole()
	}
	return device.Info{}, fmt.Errorf("%w: name is required", ErrInvalidArgument)
}
