package relay

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/hillheadsc/racelights/internal/infrastructure/serialport"
	"github.com/hillheadsc/racelights/internal/lights"
	"github.com/hillheadsc/racelights/internal/notify"
	"github.com/hillheadsc/racelights/internal/scheduler"
)

// Logger is the logging surface the session needs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Metrics receives telemetry about the session. Implementations must not
// block; they are called on the loop goroutine.
type Metrics interface {
	RecordPacket(p lights.Packet, at time.Time)
	RecordSessionState(state SessionState, at time.Time)
}

// Options configures a Session.
type Options struct {
	Config  Config
	Opener  serialport.Opener
	Loop    *scheduler.Loop
	Logger  Logger
	Metrics Metrics
}

// Stats is a snapshot of session counters.
type Stats struct {
	State           SessionState `json:"state"`
	PacketsTx       uint64       `json:"packets_tx"`
	CommandsTx      uint64       `json:"commands_tx"`
	HeartbeatsTx    uint64       `json:"heartbeats_tx"`
	StatusReads     uint64       `json:"status_reads"`
	ConnectAttempts uint64       `json:"connect_attempts"`
	ReconnectsTotal uint64       `json:"reconnects_total"`
	ErrorsTotal     uint64       `json:"errors_total"`
	LastPacket      time.Time    `json:"last_packet"`
}

// command is a C packet with an id so write completion can be matched to
// the command that was queued.
type command struct {
	id     uint64
	state  lights.State
	packet lights.Packet
}

// Session is the resilient connection to one relay card.
type Session struct {
	cfg     Config
	opener  serialport.Opener
	loop    *scheduler.Loop
	logger  Logger
	metrics Metrics

	state atomic.Int32
	port  serialport.Port

	// generation changes on every failure or disconnect so a caller can
	// tell that a synchronous write tore the session down.
	generation uint64

	lastPacket time.Time
	lastSlot   time.Time

	nextID   uint64
	current  *command
	previous *command

	settleTimer    *scheduler.Timer
	heartbeatTimer *scheduler.Timer
	readTimer      *scheduler.Timer
	reconnectTimer *scheduler.Timer
	pendingWrites  map[*scheduler.Timer]struct{}

	observers notify.Observers[SessionState]

	packetsTx       atomic.Uint64
	commandsTx      atomic.Uint64
	heartbeatsTx    atomic.Uint64
	statusReads     atomic.Uint64
	connectAttempts atomic.Uint64
	reconnects      atomic.Uint64
	errorsTotal     atomic.Uint64
	lastPacketNano  atomic.Int64
}

// NewSession creates a disconnected session. Nothing is opened until Connect.
//
// Parameters:
//   - opts: Session options; Opener and Loop are required
//
// Returns:
//   - *Session: Disconnected session
//   - error: ErrNoOpener, ErrNoLoop or ErrNoPort
func NewSession(opts Options) (*Session, error) {
	if opts.Opener == nil {
		return nil, ErrNoOpener
	}
	if opts.Loop == nil {
		return nil, ErrNoLoop
	}
	if strings.TrimSpace(opts.Config.Port) == "" {
		return nil, ErrNoPort
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Session{
		cfg:           opts.Config.withDefaults(),
		opener:        opts.Opener,
		loop:          opts.Loop,
		logger:        logger,
		metrics:       opts.Metrics,
		pendingWrites: make(map[*scheduler.Timer]struct{}),
	}, nil
}

// State returns the current session state. Safe from any goroutine.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// IsConnected reports whether the session is CONNECTED.
func (s *Session) IsConnected() bool {
	return s.State() == Connected
}

// AddObserver registers fn to be called with every new state.
// It returns a function that removes the observer.
func (s *Session) AddObserver(fn func(SessionState)) (cancel func()) {
	return s.observers.Add(fn)
}

// Stats returns a snapshot of the session counters. Safe from any goroutine.
func (s *Session) Stats() Stats {
	st := Stats{
		State:           s.State(),
		PacketsTx:       s.packetsTx.Load(),
		CommandsTx:      s.commandsTx.Load(),
		HeartbeatsTx:    s.heartbeatsTx.Load(),
		StatusReads:     s.statusReads.Load(),
		ConnectAttempts: s.connectAttempts.Load(),
		ReconnectsTotal: s.reconnects.Load(),
		ErrorsTotal:     s.errorsTotal.Load(),
	}
	if n := s.lastPacketNano.Load(); n != 0 {
		st.LastPacket = time.Unix(0, n)
	}
	return st
}

// Connect opens the port and, after the settle delay, establishes the
// session. It does nothing if already connected or if a connect is
// already settling. A pending reconnect is brought forward.
func (s *Session) Connect() {
	if s.State() == Connected {
		s.logger.Debug("connect requested when already connected")
		return
	}
	if s.settleTimer != nil {
		s.logger.Debug("connect requested while session is settling")
		return
	}
	stopTimer(&s.reconnectTimer)

	s.connectAttempts.Add(1)
	if s.port == nil {
		s.logger.Debug("opening relay port", "port", s.cfg.Port)
		port, err := s.opener.Open(s.cfg.Port, s.cfg.Serial)
		if err != nil {
			s.fail("open", err)
			return
		}
		if err := port.SetReadTimeout(s.cfg.ReadTimeout); err != nil {
			s.port = port
			s.fail("set read timeout", err)
			return
		}
		s.port = port
		s.logger.Debug("relay port open", "port", s.cfg.Port)
	}

	s.settleTimer = s.loop.AfterFunc(s.cfg.SettleDelay, func() {
		s.settleTimer = nil
		s.establishSession()
	})
}

// Disconnect closes the port, abandons every pending timer and moves to
// DISCONNECTED. The last commands are kept for the next replay.
func (s *Session) Disconnect() {
	s.cancelTimers()
	stopTimer(&s.reconnectTimer)
	s.closePort()
	s.generation++
	s.setState(Disconnected)
}

// SendRelayCommand drives the lights to state. Flashing lights must
// already be resolved; any light that is not Off is lit.
//
// While connected the command is paced and written. Otherwise it is only
// remembered, so a later re-established session replays it.
func (s *Session) SendRelayCommand(state lights.State) {
	s.nextID++
	cmd := &command{id: s.nextID, state: state, packet: lights.StatePacket(state)}
	s.current = cmd

	s.logger.Info("sending relay command", "packet", cmd.packet.String(), "lights", state.String())
	if s.State() == Connected {
		s.queue(cmd.packet, cmd)
	}
}

// LastCommand returns the most recently requested light state and
// whether any command has been sent.
func (s *Session) LastCommand() (lights.State, bool) {
	switch {
	case s.current != nil:
		return s.current.state, true
	case s.previous != nil:
		return s.previous.state, true
	default:
		return lights.AllOff, false
	}
}

// establishSession configures the card and becomes CONNECTED, replaying
// the last command if the session is recovering from a failure.
func (s *Session) establishSession() {
	prior := s.State()
	s.logger.Debug("establishing relay session", "state", prior.String())

	gen := s.generation
	s.queue(lights.ConfigurePacket(0), nil)
	if s.generation != gen {
		return
	}

	s.setState(Connected)

	if prior == Reconnecting {
		switch {
		case s.current != nil:
			s.logger.Info("recovering, sending current relay command", "packet", s.current.packet.String())
			s.queue(s.current.packet, s.current)
		case s.previous != nil:
			s.logger.Info("recovering, sending previous relay command", "packet", s.previous.packet.String())
			s.queue(s.previous.packet, s.previous)
		}
	}
	if s.State() != Connected {
		return
	}

	stopTimer(&s.heartbeatTimer)
	s.heartbeatTimer = s.loop.AfterFunc(s.cfg.HeartbeatInterval, s.maintainSession)
}

// maintainSession sends a status query when the link has been idle for a
// heartbeat interval and reschedules itself.
func (s *Session) maintainSession() {
	s.heartbeatTimer = nil
	if s.State() != Connected {
		return
	}

	idle := s.loop.Now().Sub(s.lastPacket)
	if idle < s.cfg.HeartbeatInterval {
		s.heartbeatTimer = s.loop.AfterFunc(s.cfg.HeartbeatInterval-idle, s.maintainSession)
		return
	}

	s.logger.Debug("relay idle, sending status query", "idle", idle)
	gen := s.generation
	s.queue(lights.QueryPacket(), nil)
	if s.generation != gen {
		return
	}
	s.heartbeatsTx.Add(1)

	stopTimer(&s.readTimer)
	s.readTimer = s.loop.AfterFunc(s.cfg.ReadTimeout, s.readStatus)
	s.heartbeatTimer = s.loop.AfterFunc(s.cfg.HeartbeatInterval, s.maintainSession)
}

// readStatus consumes the card's status byte. The value is not checked
// against the commanded state.
func (s *Session) readStatus() {
	s.readTimer = nil
	if s.port == nil {
		return
	}

	buf := make([]byte, 1)
	n, err := s.port.Read(buf)
	if err != nil {
		s.fail("read", err)
		return
	}
	if n > 0 {
		s.statusReads.Add(1)
		s.logger.Debug("relay status", "mask", buf[0], "lights", lights.Decode(buf[0]).String())
	}
}

// reconnect schedules a connect attempt after the fixed backoff.
func (s *Session) reconnect() {
	stopTimer(&s.reconnectTimer)
	s.logger.Info("reconnecting to relay", "port", s.cfg.Port, "backoff", s.cfg.ReconnectBackoff)
	s.reconnectTimer = s.loop.AfterFunc(s.cfg.ReconnectBackoff, func() {
		s.reconnectTimer = nil
		s.reconnects.Add(1)
		s.Connect()
	})
}

// queue writes p now if the pacing interval has passed since the last
// reserved slot, otherwise at the first free slot. cmd is nil for
// non-state packets.
func (s *Session) queue(p lights.Packet, cmd *command) {
	now := s.loop.Now()
	slot := now
	if !s.lastSlot.IsZero() {
		if earliest := s.lastSlot.Add(s.cfg.PacingInterval); earliest.After(now) {
			slot = earliest
		}
	}
	s.lastSlot = slot

	if !slot.After(now) {
		s.write(p, cmd)
		return
	}

	s.logger.Debug("delaying relay packet", "packet", p.String(), "delay", slot.Sub(now))
	var t *scheduler.Timer
	t = s.loop.At(slot, func() {
		delete(s.pendingWrites, t)
		s.write(p, cmd)
	})
	s.pendingWrites[t] = struct{}{}
}

// write transmits p and updates command bookkeeping.
func (s *Session) write(p lights.Packet, cmd *command) {
	if s.port == nil {
		s.logger.Warn("dropping relay packet, port closed", "packet", p.String())
		return
	}

	s.logger.Debug("writing to relay", "packet", p.String())
	if _, err := s.port.Write(p.Bytes()); err != nil {
		s.fail("write", err)
		return
	}

	now := s.loop.Now()
	s.lastPacket = now
	s.lastPacketNano.Store(now.UnixNano())
	s.packetsTx.Add(1)
	if s.metrics != nil {
		s.metrics.RecordPacket(p, now)
	}

	if cmd != nil {
		s.commandsTx.Add(1)
		if s.previous == nil || cmd.id >= s.previous.id {
			s.previous = cmd
		}
		if s.current == cmd {
			s.current = nil
		}
	}
}

// fail converts an I/O error into a RECONNECTING transition.
func (s *Session) fail(op string, err error) {
	s.errorsTotal.Add(1)
	s.logger.Error("relay I/O error", "op", op, "port", s.cfg.Port, "error", err)

	s.cancelTimers()
	s.closePort()
	s.generation++
	s.setState(Reconnecting)
	s.reconnect()
}

func (s *Session) setState(state SessionState) {
	if SessionState(s.state.Swap(int32(state))) == state {
		return
	}
	s.logger.Info("relay session state changed", "state", state.String(), "description", state.Description())
	if s.metrics != nil {
		s.metrics.RecordSessionState(state, s.loop.Now())
	}
	s.observers.Notify(state)
}

// cancelTimers stops everything tied to the open port. The reconnect
// timer is left alone.
func (s *Session) cancelTimers() {
	stopTimer(&s.settleTimer)
	stopTimer(&s.heartbeatTimer)
	stopTimer(&s.readTimer)
	for t := range s.pendingWrites {
		t.Stop()
		delete(s.pendingWrites, t)
	}
	s.lastSlot = s.lastPacket
}

func (s *Session) closePort() {
	if s.port == nil {
		return
	}
	if err := s.port.Close(); err != nil {
		s.logger.Warn("closing relay port", "error", err)
	}
	s.port = nil
}

func stopTimer(t **scheduler.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
