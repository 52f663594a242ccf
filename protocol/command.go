package protocol

import (
	"fmt"

	"github.com/ardnew/partner64/bus"
	"github.com/ardnew/partner64/pkg"
)

// Command byte layout. The two high bits select the class, the low six bits
// are the immediate operand. Writes of a single bit carry the bit in the
// operand (0x40 low, 0x41 high); longer writes carry a bit count of 2..63
// and are followed by their payload.
const (
	classMask    = 0xC0
	operandMask  = 0x3F
	classNoOp    = 0x00 // 00xxxxxx
	classWrite   = 0x40 // 01nnnnnn
	classControl = 0x80 // 10cccccc
	classRead    = 0xC0 // 11nnnnnn
)

// Padding is the canonical no-op byte. Hosts may use it to fill out a
// packet.
const Padding byte = 0x00

// MaxShiftBits is the largest bit count one shift command can carry.
const MaxShiftBits = operandMask

// Kind identifies the variant of a decoded command.
type Kind uint8

// Command kinds.
const (
	KindNoOp    Kind = iota // No bus effect and no response
	KindControl             // Replace the control state
	KindShift               // Shift bits in or out
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNoOp:
		return "noop"
	case KindControl:
		return "control"
	case KindShift:
		return "shift"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Command is one decoded command byte.
//
// Only the fields of the command's Kind are meaningful: Control for
// KindControl; Bits and Dir for KindShift. Imm holds the bit of a
// single-bit write.
type Command struct {
	Raw     byte
	Kind    Kind
	Control bus.ControlState
	Bits    int
	Dir     bus.Direction
	Imm     uint64
}

// Decode classifies a command byte. Every byte decodes: reserved patterns and
// zero-length reads become KindNoOp.
func Decode(b byte) Command {
	c := Command{Raw: b}
	operand := b & operandMask
	switch b & classMask {
	case classControl:
		c.Kind = KindControl
		c.Control = bus.ControlState(operand) & bus.ControlMask
	case classWrite:
		c.Kind = KindShift
		c.Dir = bus.DirWrite
		c.Bits = int(operand)
		if operand <= 1 {
			c.Bits = 1
			c.Imm = uint64(operand)
		}
	case classRead:
		if operand == 0 {
			break
		}
		c.Kind = KindShift
		c.Bits = int(operand)
		c.Dir = bus.DirRead
	}
	return c
}

// PayloadLen returns how many bytes follow the command byte in the stream.
// Only multi-bit shift writes carry a payload: the bits packed least
// significant bit first into whole bytes.
func (c Command) PayloadLen() int {
	if c.Kind != KindShift || c.Dir != bus.DirWrite || c.Bits < 2 {
		return 0
	}
	return (c.Bits + 7) / 8
}

// ResponseLen returns how many response bytes the command produces.
func (c Command) ResponseLen() int {
	if c.Kind != KindShift || c.Dir != bus.DirRead {
		return 0
	}
	return c.Bits
}

// String returns a short description for logs.
func (c Command) String() string {
	switch c.Kind {
	case KindControl:
		return fmt.Sprintf("control(%s)", c.Control)
	case KindShift:
		return fmt.Sprintf("shift(%s, %d)", c.Dir, c.Bits)
	default:
		return fmt.Sprintf("noop(%#02x)", c.Raw)
	}
}

// UnpackPayload returns the shift data carried by payload, which must hold
// at least PayloadLen bytes. Bits beyond the command's count are cleared.
// A single-bit write ignores payload and returns its immediate bit.
func (c Command) UnpackPayload(payload []byte) uint64 {
	if c.PayloadLen() == 0 {
		return c.Imm
	}
	var data uint64
	for i := 0; i < c.PayloadLen() && i < len(payload); i++ {
		data |= uint64(payload[i]) << (8 * i)
	}
	if c.Bits < 64 {
		data &= 1<<c.Bits - 1
	}
	return data
}

// ControlSet returns the command byte that replaces the control state with s.
func ControlSet(s bus.ControlState) byte {
	return classControl | byte(s&bus.ControlMask)
}

// ShiftRead returns the command byte that samples n bits. n must be in
// 1..MaxShiftBits.
func ShiftRead(n int) (byte, error) {
	if n <= 0 || n > MaxShiftBits {
		return 0, fmt.Errorf("shift read of %d bits: %w", n, errBitCount)
	}
	return classRead | byte(n), nil
}

// AppendShiftWrite appends a shift write of the low n bits of data, command
// byte first, to dst.
func AppendShiftWrite(dst []byte, n int, data uint64) ([]byte, error) {
	if n <= 0 || n > MaxShiftBits {
		return dst, fmt.Errorf("shift write of %d bits: %w", n, errBitCount)
	}
	if n == 1 {
		return append(dst, classWrite|byte(data&1)), nil
	}
	dst = append(dst, classWrite|byte(n))
	for i := 0; i < (n+7)/8; i++ {
		dst = append(dst, byte(data>>(8*i)))
	}
	// Clear padding bits in the final byte.
	if rem := n % 8; rem != 0 {
		dst[len(dst)-1] &= 1<<rem - 1
	}
	return dst, nil
}

var errBitCount = fmt.Errorf("bit count outside 1..%d: %w", MaxShiftBits, pkg.ErrInvalidParameter)
