package racecontrol

import (
	"time"

	"github.com/hillheadsc/racelights/internal/lights"
	"github.com/hillheadsc/racelights/internal/relay"
	"github.com/hillheadsc/racelights/internal/sequence"
)

// EventKind names the channel an Event belongs to.
type EventKind string

const (
	KindSession   EventKind = "session"
	KindSequence  EventKind = "sequence"
	KindCountdown EventKind = "countdown"
)

// Phase is the stage of a countdown.
type Phase string

const (
	PhaseScheduled Phase = "scheduled"
	PhaseStarted   Phase = "started"
	PhaseCompleted Phase = "completed"
	PhaseReset     Phase = "reset"
	PhaseFailed    Phase = "failed"
)

// Countdown describes one scheduled run of the start sequence.
type Countdown struct {
	ID             string    `json:"id"`
	Policy         string    `json:"policy"`
	Starts         int       `json:"starts"`
	MinutesToStart int       `json:"minutes_to_start"`
	SequenceStart  time.Time `json:"sequence_start"`
	RaceStart      time.Time `json:"race_start"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	Phase          Phase     `json:"phase"`
}

// SessionStatus is the relay session state with its operator text.
type SessionStatus struct {
	State       relay.SessionState `json:"state"`
	Description string             `json:"description"`
}

func sessionStatus(s relay.SessionState) SessionStatus {
	return SessionStatus{State: s, Description: s.Description()}
}

// Event is published to subscribers on every change.
type Event struct {
	Kind      EventKind          `json:"kind"`
	Time      time.Time          `json:"time"`
	Session   *SessionStatus     `json:"session,omitempty"`
	Sequence  *sequence.Snapshot `json:"sequence,omitempty"`
	Countdown *Countdown         `json:"countdown,omitempty"`
}

// Status is a full view of the controller.
type Status struct {
	Session      SessionStatus     `json:"session"`
	Sequence     sequence.Snapshot `json:"sequence"`
	Countdown    *Countdown        `json:"countdown,omitempty"`
	Lights       *lights.State     `json:"lights,omitempty"`
	Relay        relay.Stats       `json:"relay"`
	Policy       string            `json:"default_policy"`
	Acceleration float64           `json:"time_acceleration"`
}
