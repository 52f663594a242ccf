package bus

import "strings"

// ControlState is the set of asserted control lines.
//
// Bit n set means control line n is asserted, regardless of the electrical
// polarity of that line. The zero value de-asserts every control and is the
// safe state restored after a reset.
type ControlState uint8

// Control line bits.
const (
	ControlALEL  ControlState = 1 << iota // Address latch, low half
	ControlALEH                           // Address latch, high half
	ControlRead                           // Read strobe (/RD)
	ControlWrite                          // Write strobe (/WR)
	ControlReset                          // Cartridge reset (/RESET)
	ControlNMI                            // Non-maskable interrupt (/NMI)
)

// NumControls is the number of control lines.
const NumControls = 6

// ControlMask covers every defined control bit.
const ControlMask ControlState = 1<<NumControls - 1

// SafeState de-asserts every control line.
const SafeState ControlState = 0

var controlNames = [NumControls]string{"ALE_L", "ALE_H", "RD", "WR", "RESET", "NMI"}

// String returns the asserted controls joined by '|', or "none".
func (s ControlState) String() string {
	s &= ControlMask
	if s == 0 {
		return "none"
	}
	var b strings.Builder
	for i := 0; i < NumControls; i++ {
		if s&(1<<i) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('|')
		}
		b.WriteString(controlNames[i])
	}
	return b.String()
}

// Asserted reports whether every control in c is asserted in s.
func (s ControlState) Asserted(c ControlState) bool {
	return s&c == c
}

// Direction selects who drives the data line during a transaction.
type Direction uint8

// Transfer directions.
const (
	DirWrite Direction = iota // Device drives the bus
	DirRead                   // Target drives the bus, device samples
)

// String returns "write" or "read".
func (d Direction) String() string {
	if d == DirRead {
		return "read"
	}
	return "write"
}
