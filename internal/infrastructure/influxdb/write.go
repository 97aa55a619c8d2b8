package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"golang.org/x/sys/unix"

	"github.com/nerrad567/cdp-core/internal/control"
	"github.com/nerrad567/cdp-core/internal/device"
	"github.com/nerrad567/cdp-core/internal/lifecycle"
)

// Measurement names.
const (
	MeasurementLifecycle = "device_lifecycle"
	MeasurementDispatch  = "control_dispatch"
	MeasurementStats     = "device_stats"
)

// PointWriter accepts points for asynchronous delivery. *Client implements it.
type PointWriter interface {
	WritePoint(p *write.Point)
}

// Metrics turns control plane activity into InfluxDB points. It implements
// both the lifecycle manager's Recorder and the dispatcher's Sink.
type Metrics struct {
	w    PointWriter
	node string
	now  func() time.Time
}

// NewMetrics creates a Metrics writing through w, tagging every point with node.
func NewMetrics(w PointWriter, node string) *Metrics {
	return &Metrics{w: w, node: node, now: time.Now}
}

// RecordLifecycle writes one create, remove or reap outcome.
func (m *Metrics) RecordLifecycle(op string, info device.Info, err error, elapsed time.Duration) {
	m.w.WritePoint(write.NewPoint(MeasurementLifecycle,
		map[string]string{
			"node":   m.node,
			"op":     op,
			"result": result(err),
		},
		map[string]any{
			"duration_ms": float64(elapsed) / float64(time.Millisecond),
			"minor":       int64(info.Minor),
			"generation":  int64(info.Generation), //nolint:gosec // generations stay far below 2^63
		},
		m.now(),
	))
}

// RecordDispatch writes one control command outcome.
func (m *Metrics) RecordDispatch(_ context.Context, e control.Entry) {
	errno := "OK"
	if e.Errno != 0 {
		errno = unix.ErrnoName(e.Errno)
	}
	m.w.WritePoint(write.NewPoint(MeasurementDispatch,
		map[string]string{
			"node":    m.node,
			"command": e.Command,
			"errno":   errno,
		},
		map[string]any{
			"elapsed_us": e.Elapsed.Microseconds(),
			"privileged": e.Caller.Privileged,
		},
		e.At,
	))
}

// RecordStats writes a gauge sample of the manager's state.
func (m *Metrics) RecordStats(s lifecycle.Stats) {
	m.w.WritePoint(write.NewPoint(MeasurementStats,
		map[string]string{
			"node":   m.node,
			"policy": s.Policy,
		},
		map[string]any{
			"devices":       int64(s.Devices),
			"minors_in_use": int64(s.MinorsInUse),
			"minor_space":   int64(s.MinorSpace),
			"reaping":       int64(s.Reaping),
		},
		m.now(),
	))
}

// SampleStats calls RecordStats with stats() every interval until ctx is done.
func (m *Metrics) SampleStats(ctx context.Context, interval time.Duration, stats func() lifecycle.Stats) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RecordStats(stats())
		}
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
