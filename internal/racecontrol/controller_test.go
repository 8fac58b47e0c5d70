package racecontrol

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hillheadsc/racelights/internal/infrastructure/serialport"
	"github.com/hillheadsc/racelights/internal/lights"
	"github.com/hillheadsc/racelights/internal/relay"
	"github.com/hillheadsc/racelights/internal/scheduler"
	"github.com/hillheadsc/racelights/internal/sequence"
)

var t0 = time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)

type harness struct {
	clock      *scheduler.ManualClock
	loop       *scheduler.Loop
	opener     *serialport.MockOpener
	session    *relay.Session
	seq        *sequence.Sequence
	controller *Controller
	events     []Event
}

func newHarness(t *testing.T, accel float64) *harness {
	t.Helper()
	h := &harness{clock: scheduler.NewManualClock(t0)}
	h.loop = scheduler.New(h.clock)
	h.opener = serialport.NewMockOpener(h.clock.Now)

	session, err := relay.NewSession(relay.Options{
		Config: relay.Config{Port: "/dev/ttyUSB0"},
		Opener: h.opener,
		Loop:   h.loop,
	})
	if err != nil {
		t.Fatalf("relay.NewSession() error = %v", err)
	}
	h.session = session
	h.seq = sequence.New(sequence.Options{Loop: h.loop, Acceleration: accel})

	c, err := New(Options{
		Config:   Config{DefaultPolicy: "class"},
		Loop:     h.loop,
		Relay:    session,
		Sequence: h.seq,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.Subscribe(func(e Event) { h.events = append(h.events, e) })
	h.controller = c
	return h
}

// connect brings the relay up; B,0 is written at t0+2s.
func (h *harness) connect(t *testing.T) {
	t.Helper()
	if err := h.controller.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h.at(2 * time.Second)
	if h.session.State() != relay.Connected {
		t.Fatalf("session state = %v, want CONNECTED", h.session.State())
	}
}

func (h *harness) at(d time.Duration) {
	h.loop.AdvanceTo(t0.Add(d))
}

func (h *harness) writes() []string {
	var out []string
	for _, w := range h.opener.Writes() {
		p := lights.Packet{Prefix: w.Data[0], Mask: w.Data[1]}
		out = append(out, p.String()+"@"+w.At.Sub(t0).String())
	}
	return out
}

func (h *harness) phases() []Phase {
	var out []Phase
	for _, e := range h.events {
		if e.Kind == KindCountdown {
			out = append(out, e.Countdown.Phase)
		}
	}
	return out
}

func equalStrings[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ============================================================================
// Construction
// ============================================================================

func TestNew_Validation(t *testing.T) {
	loop := scheduler.New(scheduler.NewManualClock(t0))
	seq := sequence.New(sequence.Options{Loop: loop})
	session, err := relay.NewSession(relay.Options{
		Config: relay.Config{Port: "COM3"},
		Opener: serialport.NewMockOpener(time.Now),
		Loop:   loop,
	})
	if err != nil {
		t.Fatalf("relay.NewSession() error = %v", err)
	}

	tests := []struct {
		name    string
		opts    Options
		wantErr error
	}{
		{"no loop", Options{Relay: session, Sequence: seq}, ErrMissingDependency},
		{"no relay", Options{Loop: loop, Sequence: seq}, ErrMissingDependency},
		{"no sequence", Options{Loop: loop, Relay: session}, ErrMissingDependency},
		{"unknown default policy", Options{Loop: loop, Relay: session, Sequence: seq, Config: Config{DefaultPolicy: "pursuit"}}, sequence.ErrUnknownPolicy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	c, err := New(Options{Loop: loop, Relay: session, Sequence: seq})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.cfg.DefaultPolicy != "flag" || c.cfg.MaxStarts != 9 || c.cfg.MaxMinutesToStart != 5 {
		t.Errorf("defaults = %+v, want flag/9/5", c.cfg)
	}
}

// ============================================================================
// Countdown scheduling
// ============================================================================

func TestStartCountdown_Validation(t *testing.T) {
	tests := []struct {
		name    string
		req     StartRequest
		wantErr error
	}{
		{"zero starts", StartRequest{Starts: 0}, ErrInvalidStarts},
		{"too many starts", StartRequest{Starts: 10}, ErrInvalidStarts},
		{"negative minutes", StartRequest{Starts: 1, MinutesToStart: -1}, ErrInvalidMinutes},
		{"too many minutes", StartRequest{Starts: 1, MinutesToStart: 6}, ErrInvalidMinutes},
		{"unknown policy", StartRequest{Policy: "pursuit", Starts: 1}, sequence.ErrUnknownPolicy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 1)
			_, err := h.controller.StartCountdown(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("StartCountdown() error = %v, want %v", err, tt.wantErr)
			}
			if len(h.seq.Steps()) != 0 {
				t.Errorf("rejected request left %d steps", len(h.seq.Steps()))
			}
		})
	}
}

func TestStartCountdown_RaceStartFromPolicyLead(t *testing.T) {
	tests := []struct {
		name          string
		accel         float64
		req           StartRequest
		wantSeqStart  time.Duration
		wantRaceStart time.Duration
		wantSteps     int
	}{
		{"flag one start", 1, StartRequest{Policy: "flag", Starts: 1, MinutesToStart: 2}, 2 * time.Minute, 12 * time.Minute, 7},
		{"class default two starts", 1, StartRequest{Starts: 2}, 0, 10 * time.Minute, 12},
		{"flag accelerated", 60, StartRequest{Policy: "flag", Starts: 1, MinutesToStart: 5}, 5 * time.Second, 15 * time.Second, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.accel)
			cd, err := h.controller.StartCountdown(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("StartCountdown() error = %v", err)
			}
			if got := cd.SequenceStart.Sub(t0); got != tt.wantSeqStart {
				t.Errorf("SequenceStart = t0+%v, want t0+%v", got, tt.wantSeqStart)
			}
			if got := cd.RaceStart.Sub(t0); got != tt.wantRaceStart {
				t.Errorf("RaceStart = t0+%v, want t0+%v", got, tt.wantRaceStart)
			}
			if !h.seq.RaceStart().Equal(cd.RaceStart) {
				t.Errorf("sequence race start = %v, want %v", h.seq.RaceStart(), cd.RaceStart)
			}
			if got := len(h.seq.Steps()); got != tt.wantSteps {
				t.Errorf("steps = %d, want %d", got, tt.wantSteps)
			}
			if cd.ID == "" || cd.Phase != PhaseScheduled {
				t.Errorf("countdown = %+v, want id and scheduled phase", cd)
			}
		})
	}
}

func TestStartCountdown_RejectedWhileActive(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	if _, err := h.controller.StartCountdown(ctx, StartRequest{Starts: 1, MinutesToStart: 1}); err != nil {
		t.Fatalf("first StartCountdown() error = %v", err)
	}
	if _, err := h.controller.StartCountdown(ctx, StartRequest{Starts: 1}); !errors.Is(err, ErrCountdownActive) {
		t.Errorf("pending: StartCountdown() error = %v, want ErrCountdownActive", err)
	}

	h.at(2 * time.Minute)
	if !h.seq.IsRunning() {
		t.Fatal("sequence not running after start delay")
	}
	if _, err := h.controller.StartCountdown(ctx, StartRequest{Starts: 1}); !errors.Is(err, ErrCountdownActive) {
		t.Errorf("running: StartCountdown() error = %v, want ErrCountdownActive", err)
	}
}

func TestCountdown_RunsToCompletion(t *testing.T) {
	h := newHarness(t, 60)
	h.connect(t)

	// One class start, one minute to go: the sequence starts at 3s and the
	// race at 8s in accelerated time.
	if _, err := h.controller.StartCountdown(context.Background(), StartRequest{Starts: 1, MinutesToStart: 1}); err != nil {
		t.Fatalf("StartCountdown() error = %v", err)
	}
	h.at(10 * time.Second)

	want := []string{
		"B,0@2s",
		"C,31@3s",
		"C,15@4s",
		"C,7@5s",
		"C,3@6s",
		"C,1@7s",
		"C,0@7.5s", // flashing light, first phase off
		"C,1@8s",
		"C,0@8.1s", // board dark after the last step
	}
	if got := h.writes(); !equalStrings(got, want) {
		t.Errorf("writes = %v, want %v", got, want)
	}

	wantPhases := []Phase{PhaseScheduled, PhaseStarted, PhaseCompleted}
	if got := h.phases(); !equalStrings(got, wantPhases) {
		t.Errorf("phases = %v, want %v", got, wantPhases)
	}

	st, err := h.controller.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if st.Countdown != nil || st.Sequence.Running {
		t.Errorf("status after completion = %+v, want idle", st)
	}
}

// ============================================================================
// Reset
// ============================================================================

func TestReset_CancelsPendingStart(t *testing.T) {
	h := newHarness(t, 1)
	h.connect(t)
	ctx := context.Background()

	if _, err := h.controller.StartCountdown(ctx, StartRequest{Starts: 1, MinutesToStart: 1}); err != nil {
		t.Fatalf("StartCountdown() error = %v", err)
	}
	h.at(30 * time.Second)
	if err := h.controller.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	h.at(20 * time.Minute)

	for _, w := range h.opener.Writes() {
		if w.Data[0] == lights.PrefixState {
			t.Fatalf("state packet written after reset: %v", h.writes())
		}
	}
	if h.seq.IsRunning() || len(h.seq.Steps()) != 0 {
		t.Error("sequence not cleared by reset")
	}
	wantPhases := []Phase{PhaseScheduled, PhaseReset}
	if got := h.phases(); !equalStrings(got, wantPhases) {
		t.Errorf("phases = %v, want %v", got, wantPhases)
	}

	// A new countdown is accepted once reset.
	if _, err := h.controller.StartCountdown(ctx, StartRequest{Starts: 1}); err != nil {
		t.Errorf("StartCountdown() after reset error = %v", err)
	}
}

func TestReset_LeavesLightsAsTheyAre(t *testing.T) {
	h := newHarness(t, 60)
	h.connect(t)
	ctx := context.Background()

	if _, err := h.controller.StartCountdown(ctx, StartRequest{Starts: 1}); err != nil {
		t.Fatalf("StartCountdown() error = %v", err)
	}
	h.at(3500 * time.Millisecond) // into the second step
	if err := h.controller.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	h.at(30 * time.Second)

	got, _ := h.session.LastCommand()
	if got != lights.Lit(4) {
		t.Errorf("lights after reset = %v, want %v", got, lights.Lit(4))
	}
}

// ============================================================================
// Manual lights
// ============================================================================

func TestSetPreset_FlashAlternatesUntilReplaced(t *testing.T) {
	h := newHarness(t, 1)
	h.connect(t)
	ctx := context.Background()

	h.at(5 * time.Second)
	if err := h.controller.SetPreset(ctx, "flash"); err != nil {
		t.Fatalf("SetPreset(flash) error = %v", err)
	}
	h.at(6500 * time.Millisecond)
	if err := h.controller.SetPreset(ctx, "three"); err != nil {
		t.Fatalf("SetPreset(three) error = %v", err)
	}
	h.at(8 * time.Second)

	want := []string{
		"B,0@2s",
		"C,1@5s", // manual flash starts on
		"C,0@5.5s",
		"C,1@6s",
		"C,0@6.5s",
		"C,7@6.6s",
	}
	if got := h.writes(); !equalStrings(got, want) {
		t.Errorf("writes = %v, want %v", got, want)
	}
}

func TestSetLights_DuringCountdown(t *testing.T) {
	h := newHarness(t, 60)
	h.connect(t)
	ctx := context.Background()

	if _, err := h.controller.StartCountdown(ctx, StartRequest{Starts: 1, MinutesToStart: 1}); err != nil {
		t.Fatalf("StartCountdown() error = %v", err)
	}
	h.at(5300 * time.Millisecond)
	if err := h.controller.SetPreset(ctx, "flash"); err != nil {
		t.Fatalf("SetPreset(flash) error = %v", err)
	}
	if st, _ := h.controller.Snapshot(ctx); !st.Sequence.Running {
		t.Fatal("sequence stopped by a manual command")
	}
	h.at(10 * time.Second)

	want := []string{
		"B,0@2s",
		"C,31@3s",
		"C,15@4s",
		"C,7@5s",
		"C,1@5.3s", // manual flash, first phase on
		"C,0@5.8s",
		"C,3@6s", // next step takes the board back
		"C,1@7s",
		"C,0@7.5s",
		"C,1@8s",
		"C,0@8.1s",
	}
	if got := h.writes(); !equalStrings(got, want) {
		t.Errorf("writes = %v, want %v", got, want)
	}

	wantPhases := []Phase{PhaseScheduled, PhaseStarted, PhaseCompleted}
	if got := h.phases(); !equalStrings(got, wantPhases) {
		t.Errorf("phases = %v, want %v", got, wantPhases)
	}
}

func TestSetPreset_Unknown(t *testing.T) {
	h := newHarness(t, 1)

	if err := h.controller.SetPreset(context.Background(), "seven"); !errors.Is(err, ErrUnknownPreset) {
		t.Errorf("SetPreset(seven) error = %v, want ErrUnknownPreset", err)
	}
}

func TestLightsOff_StopsFlashing(t *testing.T) {
	h := newHarness(t, 1)
	h.connect(t)
	ctx := context.Background()

	h.at(5 * time.Second)
	if err := h.controller.SetLights(ctx, lights.State{lights.On, lights.Flashing}); err != nil {
		t.Fatalf("SetLights() error = %v", err)
	}
	h.at(5200 * time.Millisecond)
	if err := h.controller.LightsOff(ctx); err != nil {
		t.Fatalf("LightsOff() error = %v", err)
	}
	h.at(8 * time.Second)

	want := []string{"B,0@2s", "C,3@5s", "C,0@5.2s"}
	if got := h.writes(); !equalStrings(got, want) {
		t.Errorf("writes = %v, want %v", got, want)
	}
}

func TestManualCommand_RememberedWhileDisconnected(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	if err := h.controller.SetPreset(ctx, "two"); err != nil {
		t.Fatalf("SetPreset() error = %v", err)
	}
	if n := len(h.opener.Writes()); n != 0 {
		t.Errorf("writes while disconnected = %d, want 0", n)
	}
	st, err := h.controller.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if st.Lights == nil || *st.Lights != lights.Lit(2) {
		t.Errorf("status lights = %v, want %v", st.Lights, lights.Lit(2))
	}
}

// ============================================================================
// Shutdown and events
// ============================================================================

func TestShutdown_LightsOffThenDisconnect(t *testing.T) {
	h := newHarness(t, 1)
	h.connect(t)
	ctx := context.Background()

	h.at(5 * time.Second)
	if err := h.controller.SetPreset(ctx, "three"); err != nil {
		t.Fatalf("SetPreset() error = %v", err)
	}
	done := h.controller.shutdown()

	h.at(5900 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("shutdown finished before the grace period")
	default:
	}

	h.at(6 * time.Second)
	select {
	case <-done:
	default:
		t.Fatal("shutdown not finished after the grace period")
	}

	want := []string{"B,0@2s", "C,7@5s", "C,0@5.1s"}
	if got := h.writes(); !equalStrings(got, want) {
		t.Errorf("writes = %v, want %v", got, want)
	}
	if h.session.State() != relay.Disconnected {
		t.Errorf("session state = %v, want DISCONNECTED", h.session.State())
	}
	if !h.opener.Last().Closed() {
		t.Error("port not closed by shutdown")
	}
}

func TestShutdown_OnRunningLoop(t *testing.T) {
	loop := scheduler.New(scheduler.SystemClock{})
	session, err := relay.NewSession(relay.Options{
		Config: relay.Config{Port: "/dev/ttyUSB0"},
		Opener: serialport.NewMockOpener(time.Now),
		Loop:   loop,
	})
	if err != nil {
		t.Fatalf("relay.NewSession() error = %v", err)
	}
	c, err := New(Options{
		Config:   Config{ShutdownGrace: 10 * time.Millisecond},
		Loop:     loop,
		Relay:    session,
		Sequence: sequence.New(sequence.Options{Loop: loop}),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(ctx) }()

	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	cancel()
	<-runErr
}

func TestSubscribe_ForwardsSessionAndSequence(t *testing.T) {
	h := newHarness(t, 60)
	h.connect(t)

	var session, seq int
	for _, e := range h.events {
		switch e.Kind {
		case KindSession:
			session++
			if e.Session.Description != "CONNECTED" {
				t.Errorf("session event description = %q, want CONNECTED", e.Session.Description)
			}
		case KindSequence:
			seq++
		}
	}
	if session != 1 || seq != 0 {
		t.Errorf("session events = %d, sequence events = %d, want 1 and 0", session, seq)
	}

	if _, err := h.controller.StartCountdown(context.Background(), StartRequest{Starts: 1}); err != nil {
		t.Fatalf("StartCountdown() error = %v", err)
	}
	h.at(3 * time.Second)

	var running bool
	for _, e := range h.events {
		if e.Kind == KindSequence && e.Sequence.Running {
			running = true
		}
	}
	if !running {
		t.Error("no running sequence event forwarded")
	}
}

func TestPresets(t *testing.T) {
	want := []string{"five", "flash", "four", "off", "one", "three", "two"}
	if got := PresetNames(); !equalStrings(got, want) {
		t.Errorf("PresetNames() = %v, want %v", got, want)
	}
	if s, err := Preset("four"); err != nil || s != lights.Lit(4) {
		t.Errorf("Preset(four) = %v, %v", s, err)
	}
	all := Presets()
	all["one"] = lights.Lit(5)
	if s, _ := Preset("one"); s != lights.Lit(1) {
		t.Error("Presets() exposed the internal map")
	}
}
