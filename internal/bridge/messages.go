package bridge

import (
	"fmt"
	"math"
	"time"

	"github.com/hillheadsc/racelights/internal/lights"
	"github.com/hillheadsc/racelights/internal/racecontrol"
)

// Actions accepted on the command topics.
const (
	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"
	ActionLights     = "lights"
	ActionLightsOff  = "lights_off"
	ActionStart      = "start"
	ActionReset      = "reset"
)

// CommandMessage is sent by a remote console.
// Topic: {prefix}/command/{action}
type CommandMessage struct {
	// ID correlates the command with its AckMessage.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// Action may be omitted; the topic's action is used instead.
	Action string `json:"action,omitempty"`

	// Parameters holds action-specific values, e.g.
	//   {"lights": ["on","on","off","off","off"]}
	//   {"starts": 2, "minutes": 1, "policy": "class"}
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source names the console, e.g. "committee-boat".
	Source string `json:"source,omitempty"`
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	AckAccepted AckStatus = "accepted"
	AckFailed   AckStatus = "failed"
)

// AckMessage answers a CommandMessage.
// Topic: {prefix}/ack/{action}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	Status    AckStatus `json:"status"`

	// Countdown is set for an accepted start.
	Countdown *racecontrol.Countdown `json:"countdown,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError describes why a command failed.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in AckError.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeControllerError   = "CONTROLLER_ERROR"
)

// NewAckMessage creates an accepted acknowledgement.
func NewAckMessage(cmd CommandMessage) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Action:    cmd.Action,
		Timestamp: time.Now().UTC(),
		Status:    AckAccepted,
	}
}

// NewAckError creates a failed acknowledgement.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	ack := NewAckMessage(cmd)
	ack.Status = AckFailed
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// HealthStatus is the controller's operational status.
type HealthStatus string

const (
	// HealthHealthy means the relay session is connected.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded means the relay session is reconnecting.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy means the relay session is closed.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthOffline is published by the broker as the Last Will.
	HealthOffline HealthStatus = "offline"

	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published retained on {prefix}/health.
type HealthMessage struct {
	Site          string       `json:"site"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Session       string       `json:"session,omitempty"`
	Reason        string       `json:"reason,omitempty"`
}

// lightsParams reads either "lights" (five light names) or "preset".
func lightsParams(params map[string]any) (state lights.State, preset string, err error) {
	if name, ok := params["preset"].(string); ok && name != "" {
		return lights.State{}, name, nil
	}
	raw, ok := params["lights"].([]any)
	if !ok {
		return lights.State{}, "", fmt.Errorf("%w: lights or preset is required", ErrInvalidParameters)
	}
	names := make([]string, len(raw))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			return lights.State{}, "", fmt.Errorf("%w: light %d is not a string", ErrInvalidParameters, i+1)
		}
		names[i] = s
	}
	state, err = lights.ParseState(names)
	if err != nil {
		return lights.State{}, "", err
	}
	return state, "", nil
}

// startParams builds a StartRequest. JSON numbers arrive as float64.
func startParams(params map[string]any) (racecontrol.StartRequest, error) {
	var req racecontrol.StartRequest
	if p, ok := params["policy"]; ok {
		s, ok := p.(string)
		if !ok {
			return req, fmt.Errorf("%w: policy must be a string", ErrInvalidParameters)
		}
		req.Policy = s
	}

	starts, err := intParam(params, "starts", true)
	if err != nil {
		return req, err
	}
	minutes, err := intParam(params, "minutes", false)
	if err != nil {
		return req, err
	}
	req.Starts = starts
	req.MinutesToStart = minutes
	return req, nil
}

func intParam(params map[string]any, key string, required bool) (int, error) {
	v, ok := params[key]
	if !ok {
		if required {
			return 0, fmt.Errorf("%w: %s is required", ErrInvalidParameters, key)
		}
		return 0, nil
	}
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s must be a whole number", ErrInvalidParameters, key)
	}
	return int(f), nil
}
