package bus

import (
	"fmt"

	"github.com/ardnew/partner64/pkg"
)

// Pin is a GPIO number on the port (0-31).
type Pin uint8

// MaxPin is the highest pin number a [Port] can address.
const MaxPin Pin = 31

// Mask returns the single-bit port mask for p.
func (p Pin) Mask() uint32 {
	return 1 << (p & 31)
}

// ControlPin binds one control line to a pin and its electrical polarity.
type ControlPin struct {
	Pin       Pin
	ActiveLow bool
}

// PinMap is the static assignment of port pins to bus signals.
type PinMap struct {
	Addr       [8]Pin // Parallel address lines, bit 0 first
	Data       [8]Pin // Parallel data lines, bit 0 first
	SerialData Pin    // Bidirectional shift data line
	Clock      Pin    // Shift and cycle clock
	Dir        Pin    // High while the device drives the data lines

	Controls [NumControls]ControlPin
}

// DefaultPinMap is the board wiring: address on GPIO0-7, data on GPIO8-15,
// DIR and CLK on GPIO16-17 and the control lines on GPIO18-23. The serial data
// line shares GPIO8 with data bit 0.
var DefaultPinMap = PinMap{
	Addr:       [8]Pin{0, 1, 2, 3, 4, 5, 6, 7},
	Data:       [8]Pin{8, 9, 10, 11, 12, 13, 14, 15},
	SerialData: 8,
	Dir:        16,
	Clock:      17,
	Controls: [NumControls]ControlPin{
		{Pin: 18},                  // ALE_L
		{Pin: 19},                  // ALE_H
		{Pin: 20, ActiveLow: true}, // /RD
		{Pin: 21, ActiveLow: true}, // /WR
		{Pin: 22, ActiveLow: true}, // /RESET
		{Pin: 23, ActiveLow: true}, // /NMI
	},
}

// AddrMask returns the port mask of the address lines.
func (m *PinMap) AddrMask() uint32 {
	return groupMask(m.Addr[:])
}

// DataMask returns the port mask of the data lines.
func (m *PinMap) DataMask() uint32 {
	return groupMask(m.Data[:])
}

// ControlMask returns the port mask of the control lines.
func (m *PinMap) ControlMask() uint32 {
	var mask uint32
	for _, c := range m.Controls {
		mask |= c.Pin.Mask()
	}
	return mask
}

// OutputMask returns every pin the device always drives.
func (m *PinMap) OutputMask() uint32 {
	return m.AddrMask() | m.ControlMask() | m.Clock.Mask() | m.Dir.Mask()
}

// ControlLevels converts a control state to electrical port levels, honoring
// each line's polarity. Only bits within ControlMask are meaningful.
func (m *PinMap) ControlLevels(s ControlState) uint32 {
	var levels uint32
	for i, c := range m.Controls {
		asserted := s&(1<<i) != 0
		if asserted != c.ActiveLow {
			levels |= c.Pin.Mask()
		}
	}
	return levels
}

// ControlState decodes the control state from sampled port levels.
func (m *PinMap) ControlState(levels uint32) ControlState {
	var s ControlState
	for i, c := range m.Controls {
		high := levels&c.Pin.Mask() != 0
		if high != c.ActiveLow {
			s |= 1 << i
		}
	}
	return s
}

// AddrLevels spreads an address byte over the address lines.
func (m *PinMap) AddrLevels(addr uint8) uint32 {
	return spread(m.Addr[:], addr)
}

// DataLevels spreads a data byte over the data lines.
func (m *PinMap) DataLevels(data uint8) uint32 {
	return spread(m.Data[:], data)
}

// AddrByte gathers the address byte from sampled port levels.
func (m *PinMap) AddrByte(levels uint32) uint8 {
	return gather(m.Addr[:], levels)
}

// DataByte gathers the data byte from sampled port levels.
func (m *PinMap) DataByte(levels uint32) uint8 {
	return gather(m.Data[:], levels)
}

// Validate checks that pins are in range and that no two signals share a
// pin, except the serial data line which may double as a data line.
func (m *PinMap) Validate() error {
	used := make(map[Pin]string)
	claim := func(p Pin, name string) error {
		if p > MaxPin {
			return fmt.Errorf("pin %d for %s out of range: %w", p, name, pkg.ErrInvalidParameter)
		}
		if other, ok := used[p]; ok {
			return fmt.Errorf("pin %d assigned to both %s and %s: %w", p, other, name, pkg.ErrInvalidParameter)
		}
		used[p] = name
		return nil
	}
	for i, p := range m.Addr {
		if err := claim(p, fmt.Sprintf("A%d", i)); err != nil {
			return err
		}
	}
	for i, p := range m.Data {
		if err := claim(p, fmt.Sprintf("D%d", i)); err != nil {
			return err
		}
	}
	if err := claim(m.Clock, "CLK"); err != nil {
		return err
	}
	if err := claim(m.Dir, "DIR"); err != nil {
		return err
	}
	for i, c := range m.Controls {
		if err := claim(c.Pin, controlNames[i]); err != nil {
			return err
		}
	}
	if m.SerialData > MaxPin {
		return fmt.Errorf("pin %d for SDAT out of range: %w", m.SerialData, pkg.ErrInvalidParameter)
	}
	if name, ok := used[m.SerialData]; ok && m.SerialData.Mask()&m.DataMask() == 0 {
		return fmt.Errorf("SDAT pin %d already assigned to %s: %w", m.SerialData, name, pkg.ErrInvalidParameter)
	}
	return nil
}

func groupMask(pins []Pin) uint32 {
	var mask uint32
	for _, p := range pins {
		mask |= p.Mask()
	}
	return mask
}

func spread(pins []Pin, v uint8) uint32 {
	var levels uint32
	for i, p := range pins {
		if v&(1<<i) != 0 {
			levels |= p.Mask()
		}
	}
	return levels
}

func gather(pins []Pin, levels uint32) uint8 {
	var v uint8
	for i, p := range pins {
		if levels&p.Mask() != 0 {
			v |= 1 << i
		}
	}
	return v
}
