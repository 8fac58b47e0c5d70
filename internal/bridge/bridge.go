package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hillheadsc/racelights/internal/audit"
	"github.com/hillheadsc/racelights/internal/infrastructure/mqtt"
	"github.com/hillheadsc/racelights/internal/lights"
	"github.com/hillheadsc/racelights/internal/racecontrol"
	"github.com/hillheadsc/racelights/internal/relay"
	"github.com/hillheadsc/racelights/internal/sequence"
)

const (
	// commandTimeout bounds each controller call made for a command.
	commandTimeout = 5 * time.Second

	// eventQueueSize is the number of controller events buffered for
	// publishing before new ones are dropped.
	eventQueueSize = 64
)

// Logger is the logging surface the bridge needs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the part of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Controller is the part of *racecontrol.Controller the bridge drives.
type Controller interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SetLights(ctx context.Context, state lights.State) error
	SetPreset(ctx context.Context, name string) error
	LightsOff(ctx context.Context) error
	StartCountdown(ctx context.Context, req racecontrol.StartRequest) (racecontrol.Countdown, error)
	Reset(ctx context.Context) error
	Snapshot(ctx context.Context) (racecontrol.Status, error)
	Subscribe(fn func(racecontrol.Event)) (cancel func())
}

// Options holds everything needed to create a Bridge.
type Options struct {
	MQTT       MQTTClient
	Controller Controller
	Topics     mqtt.Topics

	// QoS is used for acks and state. Health is always QoS 1.
	QoS byte

	Site           string
	Version        string
	HealthInterval time.Duration
	Logger         Logger

	// Audit, when set, records every command that reaches the controller.
	Audit audit.Repository
}

// Stats counts bridge activity.
type Stats struct {
	Commands      uint64 `json:"commands"`
	Failed        uint64 `json:"failed"`
	Published     uint64 `json:"published"`
	DroppedEvents uint64 `json:"dropped_events"`
}

// Bridge translates MQTT commands into controller calls and controller
// events into retained MQTT state.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt       MQTTClient
	controller Controller
	topics     mqtt.Topics
	qos        byte
	health     *HealthReporter
	audit      audit.Repository
	logger     Logger

	session atomic.Int32

	events      chan racecontrol.Event
	unsubscribe func()

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	commands  atomic.Uint64
	failed    atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("%w: MQTT client", ErrMissingDependency)
	}
	if opts.Controller == nil {
		return nil, fmt.Errorf("%w: controller", ErrMissingDependency)
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Topics.Prefix() == "" {
		opts.Topics = mqtt.NewTopics("")
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		mqtt:       opts.MQTT,
		controller: opts.Controller,
		topics:     opts.Topics,
		qos:        opts.QoS,
		audit:      opts.Audit,
		logger:     opts.Logger,
		events:     make(chan racecontrol.Event, eventQueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}
	b.session.Store(int32(relay.Disconnected))

	b.health = NewHealthReporter(HealthReporterConfig{
		Site:         opts.Site,
		Version:      opts.Version,
		Topic:        opts.Topics.Health(),
		Interval:     opts.HealthInterval,
		Publisher:    opts.MQTT,
		SessionState: b.sessionState,
	})
	b.health.SetLogger(opts.Logger)
	return b, nil
}

// Start subscribes to commands and controller events, publishes the
// current state and begins health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Warn("failed to publish starting status", "error", err)
	}

	if err := b.mqtt.Subscribe(b.topics.AllCommands(), b.qos, b.handleMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", b.topics.AllCommands())

	b.wg.Add(1)
	go b.publishLoop()
	b.unsubscribe = b.controller.Subscribe(b.enqueue)

	if err := b.PublishState(ctx); err != nil {
		b.logger.Warn("failed to publish initial state", "error", err)
	}

	b.health.Start(ctx)
	return nil
}

// Stop unsubscribes from the controller, publishes any queued events and
// a final "stopping" health status. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.unsubscribe != nil {
			b.unsubscribe()
		}
		b.cancel()
		b.wg.Wait()
		b.health.Stop()
		b.logger.Info("bridge stopped")
	})
}

// PublishState publishes the controller's current session, sequence and
// countdown as retained state. Call it after the broker reconnects.
func (b *Bridge) PublishState(ctx context.Context) error {
	status, err := b.controller.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	now := time.Now().UTC()
	b.session.Store(int32(status.Session.State))

	session := status.Session
	seq := status.Sequence
	events := []racecontrol.Event{
		{Kind: racecontrol.KindSession, Time: now, Session: &session},
		{Kind: racecontrol.KindSequence, Time: now, Sequence: &seq},
	}
	if status.Countdown != nil {
		events = append(events, racecontrol.Event{Kind: racecontrol.KindCountdown, Time: now, Countdown: status.Countdown})
	}

	var errs []error
	for _, ev := range events {
		if err := b.publishEvent(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Commands:      b.commands.Load(),
		Failed:        b.failed.Load(),
		Published:     b.published.Load(),
		DroppedEvents: b.dropped.Load(),
	}
}

func (b *Bridge) sessionState() relay.SessionState {
	return relay.SessionState(b.session.Load())
}

// enqueue runs on the scheduler loop and must not block.
func (b *Bridge) enqueue(ev racecontrol.Event) {
	if ev.Session != nil {
		b.session.Store(int32(ev.Session.State))
	}
	select {
	case b.events <- ev:
	default:
		b.dropped.Add(1)
		b.logger.Warn("MQTT event queue full, dropping event", "kind", ev.Kind)
	}
}

func (b *Bridge) publishLoop() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.events:
			b.publishQueued(ev)
		case <-b.ctx.Done():
			// The channel is never closed; a notification already in
			// flight may still land after Stop.
			for {
				select {
				case ev := <-b.events:
					b.publishQueued(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) publishQueued(ev racecontrol.Event) {
	if err := b.publishEvent(ev); err != nil {
		b.logger.Warn("failed to publish state", "kind", ev.Kind, "error", err)
	}
}

func (b *Bridge) publishEvent(ev racecontrol.Event) error {
	var topic string
	switch ev.Kind {
	case racecontrol.KindSession:
		topic = b.topics.SessionState()
	case racecontrol.KindSequence:
		topic = b.topics.SequenceState()
	case racecontrol.KindCountdown:
		topic = b.topics.CountdownState()
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Kind, err)
	}
	if err := b.mqtt.Publish(topic, payload, b.qos, true); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// handleMessage handles one command. Failures are reported in the ack,
// so it only returns an error when the message cannot be answered.
func (b *Bridge) handleMessage(topic string, payload []byte) error {
	action, ok := b.topics.ActionFromCommand(topic)
	if !ok {
		return fmt.Errorf("not a command topic: %s", topic)
	}
	b.commands.Add(1)

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		cmd.Action = action
		b.publishAck(action, NewAckError(cmd, ErrCodeInvalidCommand, "malformed command: "+err.Error()))
		return nil
	}
	if cmd.Action == "" {
		cmd.Action = action
	}
	if cmd.Action != action {
		b.publishAck(action, NewAckError(cmd, ErrCodeInvalidCommand,
			fmt.Sprintf("action %q does not match topic %q", cmd.Action, action)))
		return nil
	}

	b.logger.Info("received command",
		"command_id", cmd.ID,
		"action", cmd.Action,
		"source", cmd.Source)

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	ack, err := b.execute(ctx, cmd)
	if err != nil {
		ack = NewAckError(cmd, errorCode(err), err.Error())
		b.logger.Warn("command failed", "command_id", cmd.ID, "action", cmd.Action, "error", err)
	}
	b.recordCommand(ctx, cmd, err)
	b.publishAck(action, ack)
	return nil
}

// recordCommand writes an audit entry for cmd. A failed write is logged.
func (b *Bridge) recordCommand(ctx context.Context, cmd CommandMessage, cmdErr error) {
	if b.audit == nil {
		return
	}
	details := make(map[string]any, len(cmd.Parameters)+1)
	for k, v := range cmd.Parameters {
		details[k] = v
	}
	if cmd.ID != "" {
		details["command_id"] = cmd.ID
	}
	entry := audit.NewEntry(cmd.Action, audit.SourceMQTT, cmd.Source, details, cmdErr)
	if err := b.audit.Create(ctx, entry); err != nil {
		b.logger.Warn("failed to write audit entry", "command_id", cmd.ID, "error", err)
	}
}

func (b *Bridge) execute(ctx context.Context, cmd CommandMessage) (AckMessage, error) {
	ack := NewAckMessage(cmd)

	switch cmd.Action {
	case ActionConnect:
		return ack, b.controller.Connect(ctx)
	case ActionDisconnect:
		return ack, b.controller.Disconnect(ctx)
	case ActionLightsOff:
		return ack, b.controller.LightsOff(ctx)
	case ActionReset:
		return ack, b.controller.Reset(ctx)
	case ActionLights:
		state, preset, err := lightsParams(cmd.Parameters)
		if err != nil {
			return ack, err
		}
		if preset != "" {
			return ack, b.controller.SetPreset(ctx, preset)
		}
		return ack, b.controller.SetLights(ctx, state)
	case ActionStart:
		req, err := startParams(cmd.Parameters)
		if err != nil {
			return ack, err
		}
		cd, err := b.controller.StartCountdown(ctx, req)
		if err != nil {
			return ack, err
		}
		ack.Countdown = &cd
		return ack, nil
	default:
		return ack, fmt.Errorf("%w: %s", ErrUnknownAction, cmd.Action)
	}
}

func (b *Bridge) publishAck(action string, ack AckMessage) {
	if ack.Status == AckFailed {
		b.failed.Add(1)
	}
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("failed to marshal ack", "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Ack(action), payload, b.qos, false); err != nil {
		b.logger.Warn("failed to publish ack", "action", action, "error", err)
	}
}

// errorCode maps controller and parse errors onto ack codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownAction):
		return ErrCodeInvalidCommand
	case errors.Is(err, racecontrol.ErrCountdownActive):
		return ErrCodeConflict
	case errors.Is(err, ErrInvalidParameters),
		errors.Is(err, racecontrol.ErrInvalidStarts),
		errors.Is(err, racecontrol.ErrInvalidMinutes),
		errors.Is(err, racecontrol.ErrUnknownPreset),
		errors.Is(err, sequence.ErrUnknownPolicy),
		errors.Is(err, lights.ErrInvalidLight),
		errors.Is(err, lights.ErrInvalidLength):
		return ErrCodeInvalidParameters
	default:
		return ErrCodeControllerError
	}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
