package racecontrol

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hillheadsc/racelights/internal/lights"
	"github.com/hillheadsc/racelights/internal/notify"
	"github.com/hillheadsc/racelights/internal/relay"
	"github.com/hillheadsc/racelights/internal/scheduler"
	"github.com/hillheadsc/racelights/internal/sequence"
)

// Default limits and timings.
const (
	DefaultMaxStarts         = 9
	DefaultMaxMinutesToStart = 5
	DefaultShutdownGrace     = time.Second
)

// Logger is the logging surface the controller needs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Relay is the part of *relay.Session the controller drives.
type Relay interface {
	sequence.Sender
	Connect()
	Disconnect()
	State() relay.SessionState
	IsConnected() bool
	Stats() relay.Stats
	LastCommand() (lights.State, bool)
	AddObserver(fn func(relay.SessionState)) (cancel func())
}

// Config holds the controller's limits.
type Config struct {
	// DefaultPolicy is used when a StartRequest names none.
	DefaultPolicy string

	MaxStarts         int
	MaxMinutesToStart int

	// FlashInterval drives manually set flashing lights.
	FlashInterval time.Duration

	// ShutdownGrace is the wait between the final lights-off and disconnect.
	ShutdownGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultPolicy == "" {
		c.DefaultPolicy = sequence.FlagPolicy{}.Name()
	}
	if c.MaxStarts <= 0 {
		c.MaxStarts = DefaultMaxStarts
	}
	if c.MaxMinutesToStart <= 0 {
		c.MaxMinutesToStart = DefaultMaxMinutesToStart
	}
	if c.FlashInterval <= 0 {
		c.FlashInterval = sequence.DefaultFlashInterval
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	return c
}

// Options configures a Controller.
type Options struct {
	Config   Config
	Loop     *scheduler.Loop
	Relay    Relay
	Sequence *sequence.Sequence
	Logger   Logger
}

// StartRequest asks for a countdown to a number of starts.
type StartRequest struct {
	// Policy names the start procedure. Empty means the configured default.
	Policy string `json:"policy,omitempty"`

	// Starts is the number of races started back to back.
	Starts int `json:"starts"`

	// MinutesToStart delays the first step of the sequence.
	MinutesToStart int `json:"minutes_to_start"`
}

// Controller runs the race lights.
type Controller struct {
	cfg    Config
	loop   *scheduler.Loop
	relay  Relay
	seq    *sequence.Sequence
	logger Logger

	// active is the countdown that is scheduled or running, nil when idle.
	active    *Countdown
	countdown *scheduler.Timer
	manual    *sequence.Step

	observers notify.Observers[Event]
}

// New wires a controller to its relay session and sequence and starts
// forwarding their changes to subscribers.
//
// Returns:
//   - *Controller: Idle controller
//   - error: ErrMissingDependency or sequence.ErrUnknownPolicy
func New(opts Options) (*Controller, error) {
	switch {
	case opts.Loop == nil:
		return nil, fmt.Errorf("%w: loop", ErrMissingDependency)
	case opts.Relay == nil:
		return nil, fmt.Errorf("%w: relay", ErrMissingDependency)
	case opts.Sequence == nil:
		return nil, fmt.Errorf("%w: sequence", ErrMissingDependency)
	}

	cfg := opts.Config.withDefaults()
	if _, err := sequence.LookupPolicy(cfg.DefaultPolicy); err != nil {
		return nil, fmt.Errorf("default policy %q: %w", cfg.DefaultPolicy, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	c := &Controller{
		cfg:    cfg,
		loop:   opts.Loop,
		relay:  opts.Relay,
		seq:    opts.Sequence,
		logger: logger,
	}
	c.relay.AddObserver(c.onSessionState)
	c.seq.AddObserver(c.onSequence)
	return c, nil
}

// Subscribe registers fn for every controller event. fn runs on the loop
// goroutine and must not block.
func (c *Controller) Subscribe(fn func(Event)) (cancel func()) {
	return c.observers.Add(fn)
}

// StartCountdown resets the sequence, builds it with the requested policy
// and schedules it to begin after MinutesToStart. The race start is
//
//	now + (Lead(starts) + MinutesToStart) / acceleration
//
// Returns:
//   - Countdown: The scheduled countdown
//   - error: ErrInvalidStarts, ErrInvalidMinutes, ErrCountdownActive,
//     sequence.ErrUnknownPolicy, or a loop error
func (c *Controller) StartCountdown(ctx context.Context, req StartRequest) (Countdown, error) {
	var cd Countdown
	var err error
	if doErr := c.loop.Do(ctx, func() { cd, err = c.startCountdown(req) }); doErr != nil {
		return Countdown{}, doErr
	}
	return cd, err
}

func (c *Controller) startCountdown(req StartRequest) (Countdown, error) {
	name := req.Policy
	if name == "" {
		name = c.cfg.DefaultPolicy
	}
	if req.Starts < 1 || req.Starts > c.cfg.MaxStarts {
		return Countdown{}, fmt.Errorf("%w: %d not in 1..%d", ErrInvalidStarts, req.Starts, c.cfg.MaxStarts)
	}
	if req.MinutesToStart < 0 || req.MinutesToStart > c.cfg.MaxMinutesToStart {
		return Countdown{}, fmt.Errorf("%w: %d not in 0..%d", ErrInvalidMinutes, req.MinutesToStart, c.cfg.MaxMinutesToStart)
	}
	policy, err := sequence.LookupPolicy(name)
	if err != nil {
		return Countdown{}, err
	}
	if c.active != nil || c.seq.IsRunning() {
		return Countdown{}, ErrCountdownActive
	}

	c.stopManual()
	c.seq.Reset()
	if err := policy.Build(c.seq, req.Starts); err != nil {
		c.seq.Reset()
		return Countdown{}, fmt.Errorf("building %s sequence: %w", policy.Name(), err)
	}

	accel := c.seq.Acceleration()
	now := c.loop.Now()
	startDelay := scale(time.Duration(req.MinutesToStart)*time.Minute, accel)
	raceStart := now.Add(scale(policy.Lead(req.Starts), accel) + startDelay)
	c.seq.SetRaceStart(raceStart)

	cd := &Countdown{
		ID:             uuid.NewString(),
		Policy:         policy.Name(),
		Starts:         req.Starts,
		MinutesToStart: req.MinutesToStart,
		SequenceStart:  now.Add(startDelay),
		RaceStart:      raceStart,
		ScheduledAt:    now,
		Phase:          PhaseScheduled,
	}
	c.active = cd
	c.countdown = c.loop.AfterFunc(startDelay, c.beginSequence)

	c.logger.Info("countdown scheduled",
		"id", cd.ID,
		"policy", cd.Policy,
		"starts", cd.Starts,
		"sequence_start", cd.SequenceStart,
		"race_start", cd.RaceStart,
	)
	c.publishCountdown(cd)
	return *cd, nil
}

// beginSequence fires when the countdown delay has elapsed.
func (c *Controller) beginSequence() {
	c.countdown = nil
	cd := c.active
	if cd == nil {
		return
	}

	if err := c.seq.Start(c.relay); err != nil {
		c.logger.Error("starting race sequence failed", "id", cd.ID, "error", err)
		c.active = nil
		cd.Phase = PhaseFailed
		c.publishCountdown(cd)
		return
	}
	cd.Phase = PhaseStarted
	c.publishCountdown(cd)
}

// Reset cancels any countdown and clears the sequence. The lights are left
// as they are.
func (c *Controller) Reset(ctx context.Context) error {
	return c.loop.Do(ctx, c.reset)
}

func (c *Controller) reset() {
	cd := c.cancelCountdown()
	if cd == nil {
		cd = &Countdown{}
	}
	cd.Phase = PhaseReset
	c.logger.Info("countdown reset", "id", cd.ID)
	c.publishCountdown(cd)
}

// cancelCountdown withdraws the pending start and resets the sequence. It
// returns the countdown that was active, if any.
func (c *Controller) cancelCountdown() *Countdown {
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
	cd := c.active
	c.active = nil
	c.seq.Reset()
	return cd
}

// SetLights drives the board to state by hand. A flashing light comes on
// at once and keeps flashing until the lights are set again. It is
// accepted during a countdown; a running sequence sets its next pattern
// at the following step boundary.
func (c *Controller) SetLights(ctx context.Context, state lights.State) error {
	return c.loop.Do(ctx, func() { c.setLights(state) })
}

func (c *Controller) setLights(state lights.State) {
	c.stopManual()
	c.manual = &sequence.Step{
		Lights:        state,
		Description:   "manual",
		FlashInterval: c.cfg.FlashInterval,
		OnFirst:       true,
	}
	c.logger.Info("manual lights", "lights", state.String(), "countdown", c.active != nil)
	c.manual.Run(c.relay, c.loop)
}

// SetPreset drives the board to a named preset.
func (c *Controller) SetPreset(ctx context.Context, name string) error {
	state, err := Preset(name)
	if err != nil {
		return err
	}
	return c.SetLights(ctx, state)
}

// LightsOff stops any manual flashing and switches every light off. It is
// accepted at any time; a running sequence will set its next pattern as
// usual.
func (c *Controller) LightsOff(ctx context.Context) error {
	return c.loop.Do(ctx, func() {
		c.stopManual()
		c.relay.SendRelayCommand(lights.AllOff)
	})
}

func (c *Controller) stopManual() {
	if c.manual != nil {
		c.manual.Stop()
		c.manual = nil
	}
}

// Connect opens the relay session.
func (c *Controller) Connect(ctx context.Context) error {
	return c.loop.Do(ctx, c.relay.Connect)
}

// Disconnect closes the relay session and stops manual flashing.
func (c *Controller) Disconnect(ctx context.Context) error {
	return c.loop.Do(ctx, func() {
		c.stopManual()
		c.relay.Disconnect()
	})
}

// Shutdown cancels everything, switches the board off if it is reachable,
// and disconnects after the shutdown grace period. It returns once the
// session is closed or ctx is done.
func (c *Controller) Shutdown(ctx context.Context) error {
	var done <-chan struct{}
	if err := c.loop.Do(ctx, func() { done = c.shutdown() }); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) shutdown() <-chan struct{} {
	done := make(chan struct{})
	if cd := c.cancelCountdown(); cd != nil {
		cd.Phase = PhaseReset
		c.publishCountdown(cd)
	}
	c.stopManual()
	if c.relay.IsConnected() {
		c.relay.SendRelayCommand(lights.AllOff)
	}
	c.logger.Info("shutting down race lights", "grace", c.cfg.ShutdownGrace)
	c.loop.AfterFunc(c.cfg.ShutdownGrace, func() {
		c.relay.Disconnect()
		close(done)
	})
	return done
}

// Snapshot returns the controller's status.
func (c *Controller) Snapshot(ctx context.Context) (Status, error) {
	var st Status
	err := c.loop.Do(ctx, func() { st = c.status() })
	return st, err
}

func (c *Controller) status() Status {
	st := Status{
		Session:      sessionStatus(c.relay.State()),
		Sequence:     c.seq.Snapshot(),
		Relay:        c.relay.Stats(),
		Policy:       c.cfg.DefaultPolicy,
		Acceleration: c.seq.Acceleration(),
	}
	if c.active != nil {
		cd := *c.active
		st.Countdown = &cd
	}
	if state, ok := c.relay.LastCommand(); ok {
		st.Lights = &state
	}
	return st
}

func (c *Controller) onSessionState(s relay.SessionState) {
	status := sessionStatus(s)
	c.observers.Notify(Event{Kind: KindSession, Time: c.loop.Now(), Session: &status})
}

func (c *Controller) onSequence(snap sequence.Snapshot) {
	c.observers.Notify(Event{Kind: KindSequence, Time: c.loop.Now(), Sequence: &snap})

	// A new step or the end of the countdown takes the board back from
	// manual control.
	if snap.Running || c.active != nil && c.active.Phase == PhaseStarted {
		c.stopManual()
	}

	// The sequence stopping on its own ends the countdown.
	if cd := c.active; cd != nil && cd.Phase == PhaseStarted && !snap.Running {
		c.active = nil
		cd.Phase = PhaseCompleted
		c.logger.Info("countdown completed", "id", cd.ID)
		c.publishCountdown(cd)
	}
}

func (c *Controller) publishCountdown(cd *Countdown) {
	v := *cd
	c.observers.Notify(Event{Kind: KindCountdown, Time: c.loop.Now(), Countdown: &v})
}

func scale(d time.Duration, accel float64) time.Duration {
	return time.Duration(float64(d) / accel)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
