package telemetry

import (
	"testing"
	"time"

	"github.com/hillheadsc/racelights/internal/lights"
	"github.com/hillheadsc/racelights/internal/relay"
	"github.com/hillheadsc/racelights/internal/sequence"
)

type point struct {
	measurement string
	tags        map[string]string
	fields      map[string]any
	at          time.Time
}

type fakeWriter struct {
	points []point
}

func (f *fakeWriter) WritePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	f.points = append(f.points, point{measurement, tags, fields, at})
}

var at = time.Date(2026, 7, 1, 18, 30, 0, 0, time.UTC)

func TestRecordPacket(t *testing.T) {
	w := &fakeWriter{}
	New(w).RecordPacket(lights.StatePacket(lights.Lit(3)), at)

	if len(w.points) != 1 {
		t.Fatalf("got %d points, want 1", len(w.points))
	}
	p := w.points[0]
	if p.measurement != MeasurementPacket || p.tags["prefix"] != "C" {
		t.Errorf("point = %+v, want relay_packet prefix=C", p)
	}
	if p.fields["mask"] != int64(7) {
		t.Errorf("mask = %v, want 7", p.fields["mask"])
	}
	if !p.at.Equal(at) {
		t.Errorf("at = %v, want %v", p.at, at)
	}
}

func TestRecordSessionState(t *testing.T) {
	w := &fakeWriter{}
	m := New(w)
	m.RecordSessionState(relay.Reconnecting, at)
	m.RecordSessionState(relay.Connected, at)

	if got := w.points[0].fields["state"]; got != "RECONNECTING" {
		t.Errorf("state = %v, want RECONNECTING", got)
	}
	if got := w.points[1].fields["connected"]; got != true {
		t.Errorf("connected = %v, want true", got)
	}
}

func TestRecordSequence(t *testing.T) {
	w := &fakeWriter{}
	New(w).RecordSequence(sequence.Snapshot{Running: true, StepNumber: 2, StepCount: 7, Remaining: 42.5}, at)

	f := w.points[0].fields
	if w.points[0].measurement != MeasurementSequence {
		t.Errorf("measurement = %q, want %q", w.points[0].measurement, MeasurementSequence)
	}
	if f["step"] != int64(2) || f["steps"] != int64(7) || f["remaining_s"] != 42.5 || f["running"] != true {
		t.Errorf("fields = %v", f)
	}
}
