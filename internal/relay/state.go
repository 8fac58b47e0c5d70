package relay

import (
	"fmt"
	"strings"
)

// SessionState is the connection state of a Session.
type SessionState int32

const (
	Disconnected SessionState = iota
	Reconnecting
	Connected
)

// String returns the upper-case state name.
func (s SessionState) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Reconnecting:
		return "RECONNECTING"
	case Connected:
		return "CONNECTED"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// Description returns the operator-facing status text.
func (s SessionState) Description() string {
	switch s {
	case Connected:
		return "CONNECTED"
	case Disconnected:
		return "Warning: DISCONNECTED"
	case Reconnecting:
		return "Warning: DISCONNECTED ATTEMPTING TO RECONNECT"
	default:
		return s.String()
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Names are matched
// without regard to case.
func (s *SessionState) UnmarshalText(text []byte) error {
	for _, st := range []SessionState{Disconnected, Reconnecting, Connected} {
		if strings.EqualFold(string(text), st.String()) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("relay: unknown session state %q", text)
}
