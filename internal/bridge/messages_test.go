package bridge

import (
	"errors"
	"testing"

	"github.com/hillheadsc/racelights/internal/lights"
	"github.com/hillheadsc/racelights/internal/racecontrol"
)

func TestLightsParams(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		state   lights.State
		preset  string
		wantErr error
	}{
		{
			name:   "lights",
			params: map[string]any{"lights": []any{"on", "off", "flashing", "off", "off"}},
			state:  lights.State{lights.On, lights.Off, lights.Flashing, lights.Off, lights.Off},
		},
		{
			name:   "preset wins",
			params: map[string]any{"preset": "flash", "lights": []any{"on"}},
			preset: "flash",
		},
		{name: "nothing", params: nil, wantErr: ErrInvalidParameters},
		{name: "not a list", params: map[string]any{"lights": "on"}, wantErr: ErrInvalidParameters},
		{name: "not strings", params: map[string]any{"lights": []any{1.0, 0.0, 0.0, 0.0, 0.0}}, wantErr: ErrInvalidParameters},
		{name: "too short", params: map[string]any{"lights": []any{"on"}}, wantErr: lights.ErrInvalidLength},
		{name: "bad name", params: map[string]any{"lights": []any{"on", "on", "on", "on", "blue"}}, wantErr: lights.ErrInvalidLight},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, preset, err := lightsParams(tt.params)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("lightsParams() error = %v", err)
			}
			if state != tt.state || preset != tt.preset {
				t.Errorf("got (%v, %q), want (%v, %q)", state, preset, tt.state, tt.preset)
			}
		})
	}
}

func TestStartParams(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		want    racecontrol.StartRequest
		wantErr bool
	}{
		{"full", map[string]any{"policy": "flag", "starts": 2.0, "minutes": 5.0}, racecontrol.StartRequest{Policy: "flag", Starts: 2, MinutesToStart: 5}, false},
		{"minutes optional", map[string]any{"starts": 1.0}, racecontrol.StartRequest{Starts: 1}, false},
		{"starts required", map[string]any{"minutes": 1.0}, racecontrol.StartRequest{}, true},
		{"fractional", map[string]any{"starts": 1.5}, racecontrol.StartRequest{}, true},
		{"string number", map[string]any{"starts": "2"}, racecontrol.StartRequest{}, true},
		{"policy not string", map[string]any{"starts": 1.0, "policy": 3.0}, racecontrol.StartRequest{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := startParams(tt.params)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidParameters) {
					t.Errorf("error = %v, want ErrInvalidParameters", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("startParams() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNewAckError(t *testing.T) {
	cmd := CommandMessage{ID: "abc", Action: ActionStart}
	ack := NewAckError(cmd, ErrCodeConflict, "countdown active")

	if ack.Status != AckFailed || ack.CommandID != "abc" || ack.Action != ActionStart {
		t.Errorf("ack = %+v", ack)
	}
	if ack.Error == nil || ack.Error.Code != ErrCodeConflict {
		t.Errorf("ack.Error = %+v", ack.Error)
	}
	if ack.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}
