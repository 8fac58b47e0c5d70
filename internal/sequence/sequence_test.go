package sequence

import (
	"errors"
	"testing"
	"time"

	"github.com/hillheadsc/racelights/internal/lights"
	"github.com/hillheadsc/racelights/internal/scheduler"
)

var t0 = time.Date(2026, 7, 4, 13, 0, 0, 0, time.UTC)

type sent struct {
	at    time.Duration
	state lights.State
}

// recorder is a Sender that timestamps every pattern.
type recorder struct {
	clock *scheduler.ManualClock
	sent  []sent
}

func (r *recorder) SendRelayCommand(s lights.State) {
	r.sent = append(r.sent, sent{at: r.clock.Now().Sub(t0), state: s})
}

func (r *recorder) last() sent {
	return r.sent[len(r.sent)-1]
}

func newTestSequence() (*Sequence, *scheduler.Loop, *recorder) {
	clock := scheduler.NewManualClock(t0)
	loop := scheduler.New(clock)
	return New(Options{Loop: loop}), loop, &recorder{clock: clock}
}

// ============================================================================
// Step driver
// ============================================================================

func TestStep_SteadySendsOnce(t *testing.T) {
	_, loop, rec := newTestSequence()
	step, err := NewStep(300, 240, lights.Lit(5), "five")
	if err != nil {
		t.Fatalf("NewStep() error = %v", err)
	}

	step.Run(rec, loop)
	loop.Advance(time.Minute)

	if len(rec.sent) != 1 || rec.sent[0].state != lights.Lit(5) {
		t.Errorf("sent = %v, want one Lit(5)", rec.sent)
	}
	if loop.Pending() != 0 {
		t.Errorf("steady step left %d timers", loop.Pending())
	}
}

func TestStep_FlashingAlternates(t *testing.T) {
	_, loop, rec := newTestSequence()
	step, _ := NewStep(30, 0, lights.State{lights.Flashing, lights.On}, "flash")

	step.Run(rec, loop)
	loop.Advance(1500 * time.Millisecond)

	off := lights.State{lights.Off, lights.On}
	on := lights.State{lights.On, lights.On}
	want := []sent{
		{0, off},
		{500 * time.Millisecond, on},
		{time.Second, off},
		{1500 * time.Millisecond, on},
	}
	if len(rec.sent) != len(want) {
		t.Fatalf("sent %d patterns %v, want %d", len(rec.sent), rec.sent, len(want))
	}
	for i, w := range want {
		if rec.sent[i] != w {
			t.Errorf("tick %d = %v, want %v", i+1, rec.sent[i], w)
		}
	}
}

func TestStep_FlashingOnFirst(t *testing.T) {
	_, loop, rec := newTestSequence()
	step := &Step{Lights: lights.State{lights.Flashing}, Description: "manual", OnFirst: true}

	step.Run(rec, loop)
	loop.Advance(time.Second)

	on := lights.Lit(1)
	want := []sent{
		{0, on},
		{500 * time.Millisecond, lights.AllOff},
		{time.Second, on},
	}
	if len(rec.sent) != len(want) {
		t.Fatalf("sent %d patterns %v, want %d", len(rec.sent), rec.sent, len(want))
	}
	for i, w := range want {
		if rec.sent[i] != w {
			t.Errorf("tick %d = %v, want %v", i+1, rec.sent[i], w)
		}
	}
}

func TestStep_StopHaltsWithinOneTick(t *testing.T) {
	_, loop, rec := newTestSequence()
	step, _ := NewStep(30, 0, lights.State{lights.Flashing}, "flash")

	step.Run(rec, loop)
	loop.Advance(700 * time.Millisecond)
	step.Stop()
	if loop.Pending() != 1 {
		t.Fatalf("Pending() = %d, want the one scheduled tick", loop.Pending())
	}

	loop.Advance(5 * time.Second)
	if len(rec.sent) != 2 {
		t.Errorf("sent %d patterns after Stop, want 2", len(rec.sent))
	}
	if loop.Pending() != 0 {
		t.Errorf("Pending() = %d after the stale tick, want 0", loop.Pending())
	}
	if step.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

func TestStep_RerunResetsPhase(t *testing.T) {
	_, loop, rec := newTestSequence()
	step, _ := NewStep(30, 0, lights.State{lights.Flashing}, "flash")

	step.Run(rec, loop)
	loop.Advance(500 * time.Millisecond) // phases 1, 2
	step.Stop()
	step.Run(rec, loop) // phase 1 again, immediately
	loop.Advance(400 * time.Millisecond)

	if len(rec.sent) != 3 {
		t.Fatalf("sent = %v, want 3 patterns", rec.sent)
	}
	if rec.sent[2].state != lights.AllOff {
		t.Errorf("first tick of rerun = %v, want all off", rec.sent[2].state)
	}

	// The tick left over from the first run must not start a second chain.
	loop.Advance(1600 * time.Millisecond) // to 2.5s: ticks at 1.0, 1.5, 2.0, 2.5
	if len(rec.sent) != 7 {
		t.Errorf("sent %d patterns, want 7 (one flash chain)", len(rec.sent))
	}
}

func TestNewStep_Validation(t *testing.T) {
	tests := []struct {
		from, to int
		wantErr  bool
	}{
		{300, 240, false},
		{30, 0, false},
		{240, 240, true},
		{100, 200, true},
		{10, -1, true},
	}
	for _, tt := range tests {
		_, err := NewStep(tt.from, tt.to, lights.AllOff, "x")
		if (err != nil) != tt.wantErr {
			t.Errorf("NewStep(%d, %d) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidStep) {
			t.Errorf("NewStep(%d, %d) error = %v, want ErrInvalidStep", tt.from, tt.to, err)
		}
	}
}

func TestStep_String(t *testing.T) {
	step, _ := NewStep(300, 240, lights.Lit(5), "Race 1, 5 minute lights")
	if got, want := step.String(), "Race 1, 5 minute lights for 60 seconds"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if step.Duration() != time.Minute {
		t.Errorf("Duration() = %v, want 1m", step.Duration())
	}
}

// ============================================================================
// Sequence
// ============================================================================

func TestSequence_StartErrors(t *testing.T) {
	seq, _, rec := newTestSequence()

	if err := seq.Start(rec); !errors.Is(err, ErrNoSteps) {
		t.Errorf("Start(empty) error = %v, want ErrNoSteps", err)
	}

	_ = AddFiveMinuteStarts(seq, 1)
	if err := seq.Start(rec); !errors.Is(err, ErrNoRaceStart) {
		t.Errorf("Start(no race start) error = %v, want ErrNoRaceStart", err)
	}

	seq.SetRaceStart(t0.Add(5 * time.Minute))
	if err := seq.Start(rec); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := seq.Start(rec); !errors.Is(err, ErrRunning) {
		t.Errorf("second Start() error = %v, want ErrRunning", err)
	}
	step, _ := NewStep(10, 0, lights.AllOff, "late")
	if err := seq.AddStartStep(step); !errors.Is(err, ErrRunning) {
		t.Errorf("AddStartStep() while running error = %v, want ErrRunning", err)
	}
}

func TestSequence_SingleStartEndToEnd(t *testing.T) {
	seq, loop, rec := newTestSequence()
	if err := AddFiveMinuteStarts(seq, 1); err != nil {
		t.Fatalf("AddFiveMinuteStarts() error = %v", err)
	}
	seq.SetRaceStart(t0.Add(5 * time.Minute))

	var snaps []Snapshot
	seq.AddObserver(func(s Snapshot) { snaps = append(snaps, s) })

	if err := seq.Start(rec); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	boundaries := []struct {
		at    time.Duration
		step  int
		state lights.State
	}{
		{60 * time.Second, 1, lights.Lit(4)},
		{120 * time.Second, 2, lights.Lit(3)},
		{180 * time.Second, 3, lights.Lit(2)},
		{240 * time.Second, 4, lights.Lit(1)},
		{270 * time.Second, 5, lights.AllOff}, // first flash tick is the off phase
	}

	if got := seq.CurrentStepNumber(); got != 0 {
		t.Fatalf("CurrentStepNumber() = %d, want 0", got)
	}
	if rec.last().state != lights.Lit(5) {
		t.Fatalf("first pattern = %v, want Lit(5)", rec.last().state)
	}

	prev := 0
	for _, b := range boundaries {
		loop.AdvanceTo(t0.Add(b.at - time.Millisecond))
		if seq.CurrentStepNumber() != prev {
			t.Fatalf("step at %v = %d, want %d", b.at-time.Millisecond, seq.CurrentStepNumber(), prev)
		}
		loop.AdvanceTo(t0.Add(b.at))
		if got := seq.CurrentStepNumber(); got != b.step {
			t.Fatalf("step at %v = %d, want %d", b.at, got, b.step)
		}
		if got := rec.last(); got.at != b.at || got.state != b.state {
			t.Errorf("pattern at %v = %v, want %v", b.at, got, b.state)
		}
		prev = b.step
	}

	loop.AdvanceTo(t0.Add(5*time.Minute - time.Millisecond))
	if !seq.IsRunning() {
		t.Fatal("sequence stopped before race start")
	}

	loop.AdvanceTo(t0.Add(5 * time.Minute))
	if seq.IsRunning() {
		t.Fatal("IsRunning() = true after race start")
	}
	final := rec.last()
	if final.at != 5*time.Minute || final.state != lights.AllOff {
		t.Errorf("final pattern = %v, want all off at 5m", final)
	}

	// Nothing more after the end: the stale flash tick exits silently.
	count := len(rec.sent)
	loop.Advance(time.Minute)
	if len(rec.sent) != count {
		t.Errorf("patterns sent after finish: %v", rec.sent[count:])
	}

	// One snapshot per step start plus the finish.
	if len(snaps) != 7 {
		t.Fatalf("snapshots = %d, want 7", len(snaps))
	}
	for i := 0; i < 6; i++ {
		if !snaps[i].Running || snaps[i].StepNumber != i {
			t.Errorf("snapshot %d = running %v step %d", i, snaps[i].Running, snaps[i].StepNumber)
		}
	}
	if snaps[6].Running {
		t.Error("final snapshot Running = true")
	}
}

func TestSequence_FlashingStepCadence(t *testing.T) {
	seq, loop, rec := newTestSequence()
	_ = AddFiveMinuteStarts(seq, 1)
	seq.SetRaceStart(t0.Add(5 * time.Minute))
	_ = seq.Start(rec)

	loop.AdvanceTo(t0.Add(5 * time.Minute))

	var ticks []sent
	for _, s := range rec.sent {
		if s.at >= 270*time.Second && s.at < 300*time.Second {
			ticks = append(ticks, s)
		}
	}
	if len(ticks) != 60 {
		t.Fatalf("flash ticks = %d, want 60", len(ticks))
	}
	for i, tick := range ticks {
		wantAt := 270*time.Second + time.Duration(i)*500*time.Millisecond
		want := lights.AllOff
		if i%2 == 1 {
			want = lights.Lit(1)
		}
		if tick.at != wantAt || tick.state != want {
			t.Fatalf("tick %d = %v, want %v at %v", i+1, tick, want, wantAt)
		}
	}
}

func TestSequence_MonotonicStepNumber(t *testing.T) {
	seq, loop, rec := newTestSequence()
	_ = FlagPolicy{}.Build(seq, 3)
	seq.SetRaceStart(t0.Add(FlagPolicy{}.Lead(3)))
	_ = seq.Start(rec)

	last := -1
	for seq.IsRunning() {
		if n := seq.CurrentStepNumber(); n < last {
			t.Fatalf("step number went from %d to %d", last, n)
		} else {
			last = n
		}
		loop.Advance(7 * time.Second)
	}
	if last != len(seq.Steps())-1 {
		t.Errorf("last step = %d, want %d", last, len(seq.Steps())-1)
	}
	if rec.last().state != lights.AllOff {
		t.Errorf("final pattern = %v, want all off", rec.last().state)
	}
}

func TestSequence_ResetStopsEverything(t *testing.T) {
	seq, loop, rec := newTestSequence()
	_ = AddFiveMinuteStarts(seq, 1)
	seq.SetRaceStart(t0.Add(5 * time.Minute))
	_ = seq.Start(rec)

	loop.AdvanceTo(t0.Add(275 * time.Second)) // mid flashing step
	seq.Reset()
	count := len(rec.sent)

	loop.Advance(10 * time.Minute)
	if len(rec.sent) != count {
		t.Errorf("reset sequence kept sending: %v", rec.sent[count:])
	}
	if seq.IsRunning() {
		t.Error("IsRunning() = true after Reset")
	}
	if len(seq.Steps()) != 0 {
		t.Errorf("Steps() = %d after Reset, want 0", len(seq.Steps()))
	}
	if _, ok := seq.CurrentStep(); ok {
		t.Error("CurrentStep() ok after Reset")
	}
}

func TestSequence_Acceleration(t *testing.T) {
	clock := scheduler.NewManualClock(t0)
	loop := scheduler.New(clock)
	rec := &recorder{clock: clock}
	seq := New(Options{Loop: loop, Acceleration: 10})

	_ = AddFiveMinuteStarts(seq, 1)
	seq.SetRaceStart(t0.Add(30 * time.Second))
	_ = seq.Start(rec)

	loop.AdvanceTo(t0.Add(6 * time.Second))
	if seq.CurrentStepNumber() != 1 {
		t.Errorf("step at 6s with 10x acceleration = %d, want 1", seq.CurrentStepNumber())
	}
	loop.AdvanceTo(t0.Add(30 * time.Second))
	if seq.IsRunning() {
		t.Error("accelerated sequence still running at race start")
	}
}

func TestSequence_QueriesAndSnapshot(t *testing.T) {
	seq, loop, rec := newTestSequence()
	_ = AddFiveMinuteStarts(seq, 1)
	seq.SetRaceStart(t0.Add(5 * time.Minute))
	_ = seq.Start(rec)

	loop.Advance(15 * time.Second)

	cur, ok := seq.CurrentStep()
	if !ok || cur.Description != "Race 1, 5 minute lights" {
		t.Errorf("CurrentStep() = %v, %v", cur, ok)
	}
	next, ok := seq.NextStep()
	if !ok || next.Description != "Race 1, 4 minute lights" {
		t.Errorf("NextStep() = %v, %v", next, ok)
	}
	if got := seq.CurrentStepRemaining(); got != 45*time.Second {
		t.Errorf("CurrentStepRemaining() = %v, want 45s", got)
	}

	snap := seq.Snapshot()
	if snap.StepCount != 6 || snap.Current == nil || snap.Next == nil || snap.Remaining != 45 {
		t.Errorf("Snapshot() = %+v", snap)
	}

	loop.AdvanceTo(t0.Add(290 * time.Second))
	if _, ok := seq.NextStep(); ok {
		t.Error("NextStep() ok on the last step")
	}
}
