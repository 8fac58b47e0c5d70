package lights

import (
	"fmt"
	"strings"
)

// Count is the number of lights on the start board.
const Count = 5

// Light is the logical value of a single light.
type Light uint8

const (
	Off Light = iota
	On
	Flashing
)

// String returns the lower-case name of the light value.
func (l Light) String() string {
	switch l {
	case Off:
		return "off"
	case On:
		return "on"
	case Flashing:
		return "flashing"
	default:
		return fmt.Sprintf("light(%d)", uint8(l))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Light) MarshalText() ([]byte, error) {
	if l > Flashing {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLight, uint8(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Light) UnmarshalText(text []byte) error {
	v, err := ParseLight(string(text))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// ParseLight converts a name ("off", "on", "flashing") into a Light.
// Matching is case-insensitive; "0", "1" and "f" are accepted as shorthand.
func ParseLight(s string) (Light, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "0":
		return Off, nil
	case "on", "1":
		return On, nil
	case "flashing", "flash", "f":
		return Flashing, nil
	default:
		return Off, fmt.Errorf("%w: %q", ErrInvalidLight, s)
	}
}

// State is the pattern shown on the board, one value per light.
// Index 0 is the first light.
type State [Count]Light

// AllOff is the dark board.
var AllOff = State{}

// ParseState converts exactly Count light names into a State.
func ParseState(names []string) (State, error) {
	var s State
	if len(names) != Count {
		return s, fmt.Errorf("%w: got %d", ErrInvalidLength, len(names))
	}
	for i, name := range names {
		l, err := ParseLight(name)
		if err != nil {
			return State{}, fmt.Errorf("light %d: %w", i+1, err)
		}
		s[i] = l
	}
	return s, nil
}

// Lit returns a steady state with the first n lights on.
// n is clamped to [0, Count].
func Lit(n int) State {
	var s State
	for i := 0; i < n && i < Count; i++ {
		s[i] = On
	}
	return s
}

// HasFlashing reports whether any light in the state is Flashing.
func (s State) HasFlashing() bool {
	for _, l := range s {
		if l == Flashing {
			return true
		}
	}
	return false
}

// Resolve replaces Flashing with On for an even phase and Off for an odd
// phase. Steady lights are unchanged.
func (s State) Resolve(phase int) State {
	lit := Off
	if phase%2 == 0 {
		lit = On
	}
	out := s
	for i, l := range out {
		if l == Flashing {
			out[i] = lit
		}
	}
	return out
}

// Strings returns the light names in board order.
func (s State) Strings() []string {
	out := make([]string, Count)
	for i, l := range s {
		out[i] = l.String()
	}
	return out
}

// String renders the state as e.g. "[on on off off off]".
func (s State) String() string {
	return "[" + strings.Join(s.Strings(), " ") + "]"
}
