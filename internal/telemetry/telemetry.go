// Package telemetry turns relay and sequence activity into time-series
// points.
package telemetry

import (
	"time"

	"github.com/hillheadsc/racelights/internal/lights"
	"github.com/hillheadsc/racelights/internal/relay"
	"github.com/hillheadsc/racelights/internal/sequence"
)

// Measurement names.
const (
	MeasurementPacket   = "relay_packet"
	MeasurementSession  = "relay_session"
	MeasurementSequence = "sequence_step"
)

// PointWriter queues a point without blocking. *influxdb.Client
// implements it.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time)
}

// Metrics implements relay.Metrics and records sequence snapshots.
type Metrics struct {
	w PointWriter
}

var _ relay.Metrics = (*Metrics)(nil)

// New returns Metrics writing to w.
func New(w PointWriter) *Metrics {
	return &Metrics{w: w}
}

// RecordPacket writes one point per packet put on the wire.
func (m *Metrics) RecordPacket(p lights.Packet, at time.Time) {
	m.w.WritePoint(MeasurementPacket,
		map[string]string{"prefix": string(rune(p.Prefix))},
		map[string]any{"mask": int64(p.Mask)},
		at,
	)
}

// RecordSessionState writes the new session state.
func (m *Metrics) RecordSessionState(s relay.SessionState, at time.Time) {
	m.w.WritePoint(MeasurementSession, nil,
		map[string]any{
			"state":     s.String(),
			"connected": s == relay.Connected,
		},
		at,
	)
}

// RecordSequence writes the step a sequence is on and its time left.
func (m *Metrics) RecordSequence(snap sequence.Snapshot, at time.Time) {
	m.w.WritePoint(MeasurementSequence, nil,
		map[string]any{
			"running":     snap.Running,
			"step":        int64(snap.StepNumber),
			"steps":       int64(snap.StepCount),
			"remaining_s": snap.Remaining,
		},
		at,
	)
}
