package lights

import "fmt"

// Packet prefixes understood by the relay card.
const (
	PrefixQuery     byte = 'A'
	PrefixConfigure byte = 'B'
	PrefixState     byte = 'C'
)

// PacketSize is the length of every packet written to the card.
const PacketSize = 2

// Packet is a single relay card command.
type Packet struct {
	Prefix byte
	Mask   byte
}

// Bytes returns the two-byte wire form of the packet.
func (p Packet) Bytes() []byte {
	return []byte{p.Prefix, p.Mask}
}

// IsState reports whether the packet drives the lights.
func (p Packet) IsState() bool {
	return p.Prefix == PrefixState
}

// String renders the packet as "<prefix>,<mask>", e.g. "C,3".
func (p Packet) String() string {
	return fmt.Sprintf("%c,%d", p.Prefix, p.Mask)
}

// Encode converts a state to its bitmask. Bit i is set iff light i is not
// Off, so callers must resolve Flashing first if they want it to blink.
func Encode(s State) byte {
	var mask byte
	for i, l := range s {
		if l != Off {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// Decode converts a bitmask back into a steady state. Bits above Count are
// ignored.
func Decode(mask byte) State {
	var s State
	for i := range s {
		if mask&(1<<uint(i)) != 0 {
			s[i] = On
		}
	}
	return s
}

// StatePacket builds a C packet for the state.
func StatePacket(s State) Packet {
	return Packet{Prefix: PrefixState, Mask: Encode(s)}
}

// ConfigurePacket builds a B packet with the given relay mask.
func ConfigurePacket(mask byte) Packet {
	return Packet{Prefix: PrefixConfigure, Mask: mask}
}

// QueryPacket builds the A packet used as a heartbeat.
func QueryPacket() Packet {
	return Packet{Prefix: PrefixQuery}
}
