package sequence

import (
	"fmt"
	"time"

	"github.com/hillheadsc/racelights/internal/lights"
	"github.com/hillheadsc/racelights/internal/scheduler"
)

// DefaultFlashInterval is the time between flash ticks.
const DefaultFlashInterval = 500 * time.Millisecond

// Sender accepts resolved light patterns. *relay.Session implements it.
type Sender interface {
	SendRelayCommand(state lights.State)
}

// Step is one timed phase of a sequence.
//
// From and To are seconds before the race start, From > To >= 0. The
// exported fields must not change once the step has been added to a
// running sequence.
type Step struct {
	From        int
	To          int
	Lights      lights.State
	Description string

	// FlashInterval overrides DefaultFlashInterval when positive.
	FlashInterval time.Duration

	// OnFirst shows a flashing light on at the first tick instead of off.
	OnFirst bool

	running bool
	phase   int
	run     uint64
}

// NewStep validates the window and returns a step.
func NewStep(from, to int, state lights.State, description string) (*Step, error) {
	if to < 0 || from <= to {
		return nil, fmt.Errorf("%w: %d -> %d", ErrInvalidStep, from, to)
	}
	return &Step{From: from, To: to, Lights: state, Description: description}, nil
}

// Duration returns the nominal length of the step.
func (s *Step) Duration() time.Duration {
	return time.Duration(s.From-s.To) * time.Second
}

// String renders the step for logs, e.g. "Race 1, 5 minute lights for 60 seconds".
func (s *Step) String() string {
	return fmt.Sprintf("%s for %d seconds", s.Description, s.From-s.To)
}

// IsRunning reports whether the step's driver is active.
func (s *Step) IsRunning() bool {
	return s.running
}

// Run drives the step's lights. A steady pattern is sent once. A pattern
// with a flashing light starts a tick loop: each tick advances the phase
// and sends the pattern resolved for it (odd phase off, even phase on), so
// the first tick shows the flashing light off unless OnFirst is set.
func (s *Step) Run(sender Sender, loop *scheduler.Loop) {
	s.running = true
	s.phase = 0
	if s.OnFirst {
		s.phase = -1
	}
	s.run++

	if !s.Lights.HasFlashing() {
		sender.SendRelayCommand(s.Lights)
		return
	}

	interval := s.FlashInterval
	if interval <= 0 {
		interval = DefaultFlashInterval
	}
	run := s.run

	var tick func()
	tick = func() {
		if !s.running || s.run != run {
			return
		}
		s.phase++
		sender.SendRelayCommand(s.Lights.Resolve(s.phase))
		loop.AfterFunc(interval, tick)
	}
	tick()
}

// Stop asks the driver to halt. A flash tick that is already scheduled
// still fires once and returns without sending.
func (s *Step) Stop() {
	s.running = false
}

// StepInfo is a read-only view of a step.
type StepInfo struct {
	Number      int          `json:"number"`
	From        int          `json:"from_seconds"`
	To          int          `json:"to_seconds"`
	Lights      lights.State `json:"lights"`
	Description string       `json:"description"`
}

func (s *Step) info(number int) *StepInfo {
	return &StepInfo{
		Number:      number,
		From:        s.From,
		To:          s.To,
		Lights:      s.Lights,
		Description: s.Description,
	}
}
