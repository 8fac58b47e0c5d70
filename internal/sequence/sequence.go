package sequence

import (
	"time"

	"github.com/hillheadsc/racelights/internal/lights"
	"github.com/hillheadsc/racelights/internal/notify"
	"github.com/hillheadsc/racelights/internal/scheduler"
)

// Logger is the logging surface the sequence needs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options configures a Sequence.
type Options struct {
	Loop *scheduler.Loop

	// Acceleration divides every step offset, for rehearsals and tests.
	// Values below 1 are treated as 1.
	Acceleration float64

	// FlashInterval is applied to steps that do not set their own.
	FlashInterval time.Duration

	Logger Logger
}

// Snapshot describes the sequence at a point in time.
type Snapshot struct {
	Running    bool      `json:"running"`
	StepNumber int       `json:"step_number"`
	StepCount  int       `json:"step_count"`
	Current    *StepInfo `json:"current,omitempty"`
	Next       *StepInfo `json:"next,omitempty"`
	RaceStart  time.Time `json:"race_start"`
	StepEnds   time.Time `json:"step_ends"`
	Remaining  float64   `json:"remaining_seconds"`
}

// Sequence is an ordered list of steps driven against a race start time.
type Sequence struct {
	loop          *scheduler.Loop
	accel         float64
	flashInterval time.Duration
	logger        Logger

	steps     []*Step
	raceStart time.Time
	index     int
	running   bool
	sender    Sender
	stepEnds  time.Time
	advance   *scheduler.Timer

	observers notify.Observers[Snapshot]
}

// New creates an empty, stopped sequence.
func New(opts Options) *Sequence {
	accel := opts.Acceleration
	if accel < 1 {
		accel = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Sequence{
		loop:          opts.Loop,
		accel:         accel,
		flashInterval: opts.FlashInterval,
		logger:        logger,
	}
}

// AddObserver registers fn to receive a snapshot after every transition.
func (q *Sequence) AddObserver(fn func(Snapshot)) (cancel func()) {
	return q.observers.Add(fn)
}

// AddStartStep appends a step. Steps cannot be added while running.
func (q *Sequence) AddStartStep(step *Step) error {
	if q.running {
		return ErrRunning
	}
	if step == nil || step.To < 0 || step.From <= step.To {
		return ErrInvalidStep
	}
	if step.FlashInterval <= 0 {
		step.FlashInterval = q.flashInterval
	}
	q.steps = append(q.steps, step)
	return nil
}

// SetRaceStart sets the time the last race starts.
func (q *Sequence) SetRaceStart(t time.Time) {
	q.raceStart = t
}

// RaceStart returns the race start time.
func (q *Sequence) RaceStart() time.Time {
	return q.raceStart
}

// Acceleration returns the time acceleration factor.
func (q *Sequence) Acceleration() float64 {
	return q.accel
}

// Scale converts seconds of race time to loop time.
func (q *Sequence) Scale(seconds int) time.Duration {
	return time.Duration(float64(time.Duration(seconds)*time.Second) / q.accel)
}

// Steps returns the steps in order.
func (q *Sequence) Steps() []*Step {
	out := make([]*Step, len(q.steps))
	copy(out, q.steps)
	return out
}

// Start runs the sequence from its first step, sending patterns to sender.
//
// Returns:
//   - error: ErrRunning, ErrNoSteps or ErrNoRaceStart
func (q *Sequence) Start(sender Sender) error {
	switch {
	case q.running:
		return ErrRunning
	case len(q.steps) == 0:
		return ErrNoSteps
	case q.raceStart.IsZero():
		return ErrNoRaceStart
	}

	q.sender = sender
	q.running = true
	q.index = 0
	q.logger.Info("race sequence started", "steps", len(q.steps), "race_start", q.raceStart)
	q.startCurrentStep()
	return nil
}

// Reset stops the sequence and removes every step. The lights are left as
// they are.
func (q *Sequence) Reset() {
	if step, ok := q.CurrentStep(); ok {
		step.Stop()
	}
	if q.advance != nil {
		q.advance.Stop()
		q.advance = nil
	}
	wasRunning := q.running
	q.running = false
	q.steps = nil
	q.index = 0
	q.stepEnds = time.Time{}
	q.raceStart = time.Time{}
	if wasRunning {
		q.logger.Info("race sequence reset")
	}
	q.notify()
}

// IsRunning reports whether a step is executing.
func (q *Sequence) IsRunning() bool {
	return q.running
}

// CurrentStepNumber returns the zero-based index of the current step.
func (q *Sequence) CurrentStepNumber() int {
	return q.index
}

// CurrentStep returns the current step, if there is one.
func (q *Sequence) CurrentStep() (*Step, bool) {
	if q.index < len(q.steps) {
		return q.steps[q.index], true
	}
	return nil, false
}

// NextStep returns the step after the current one, if there is one.
func (q *Sequence) NextStep() (*Step, bool) {
	if q.index+1 < len(q.steps) {
		return q.steps[q.index+1], true
	}
	return nil, false
}

// CurrentStepRemaining returns the time until the current step ends, or
// zero when not running.
func (q *Sequence) CurrentStepRemaining() time.Duration {
	if !q.running {
		return 0
	}
	d := q.stepEnds.Sub(q.loop.Now())
	if d < 0 {
		return 0
	}
	return d
}

// Snapshot returns the current view of the sequence.
func (q *Sequence) Snapshot() Snapshot {
	snap := Snapshot{
		Running:    q.running,
		StepNumber: q.index,
		StepCount:  len(q.steps),
		RaceStart:  q.raceStart,
		StepEnds:   q.stepEnds,
		Remaining:  q.CurrentStepRemaining().Seconds(),
	}
	if step, ok := q.CurrentStep(); ok {
		snap.Current = step.info(q.index)
	}
	if step, ok := q.NextStep(); ok {
		snap.Next = step.info(q.index + 1)
	}
	return snap
}

// startCurrentStep runs the current step and schedules the move to the
// next one at the step's absolute deadline.
func (q *Sequence) startCurrentStep() {
	step := q.steps[q.index]
	step.Run(q.sender, q.loop)

	q.stepEnds = q.raceStart.Add(-q.Scale(step.To))
	q.logger.Info("race step started",
		"step", q.index,
		"description", step.String(),
		"duration", q.stepEnds.Sub(q.loop.Now()),
	)

	q.advance = q.loop.At(q.stepEnds, q.moveToNextStep)
	q.notify()
}

// moveToNextStep ends the current step and starts the next, or finishes
// the sequence with the board dark.
func (q *Sequence) moveToNextStep() {
	q.advance = nil
	q.steps[q.index].Stop()

	if q.running && q.index < len(q.steps)-1 {
		q.index++
		q.startCurrentStep()
		return
	}

	q.sender.SendRelayCommand(lights.AllOff)
	q.running = false
	q.logger.Info("race sequence finished")
	q.notify()
}

func (q *Sequence) notify() {
	q.observers.Notify(q.Snapshot())
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
