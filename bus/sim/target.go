package sim

import (
	"sync"

	"github.com/ardnew/partner64/bus"
)

// Handler receives cartridge-level events decoded from line changes.
type Handler interface {
	// ShiftIn receives one serial bit clocked out by the device.
	ShiftIn(bit bool)

	// ShiftOut returns the serial bit to present for the device to sample.
	ShiftOut() bool

	// Write receives a parallel write strobe.
	Write(addr, data uint8)

	// Read returns the byte to drive for a parallel read strobe.
	Read(addr uint8) uint8

	// Control observes every change of the control state.
	Control(state bus.ControlState)
}

// Decoder is a [Target] that turns pin changes into [Handler] events using a
// pin map.
//
// A rising clock edge moves one serial bit: into the handler when the device
// drives the serial data line, out of it otherwise. An outgoing bit is held
// on the line until the clock falls. Asserting /WR delivers a
// parallel write; asserting /RD makes the decoder drive the handler's byte
// on the data lines until /RD is released.
type Decoder struct {
	mutex   sync.Mutex
	pins    bus.PinMap
	handler Handler

	primed  bool
	clock   bool
	state   bus.ControlState
	serial  bool
	reading bool
	readVal uint8
}

// NewDecoder creates a decoder for the given wiring.
func NewDecoder(pins bus.PinMap, h Handler) *Decoder {
	return &Decoder{pins: pins, handler: h, serial: true}
}

// Step implements Target.
func (d *Decoder) Step(levels, outputs uint32) uint32 {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	clk := levels&d.pins.Clock.Mask() != 0 && outputs&d.pins.Clock.Mask() != 0
	state := d.pins.ControlState(levels) & bus.ControlMask
	if outputs&d.pins.ControlMask() != d.pins.ControlMask() {
		state = bus.SafeState
	}

	if !d.primed {
		d.primed = true
		d.clock = clk
		d.state = state
		return d.drive()
	}

	if state != d.state {
		prev := d.state
		d.state = state
		d.handler.Control(state)

		if state.Asserted(bus.ControlWrite) && !prev.Asserted(bus.ControlWrite) {
			d.handler.Write(d.pins.AddrByte(levels), d.pins.DataByte(levels))
		}
		if state.Asserted(bus.ControlRead) && !prev.Asserted(bus.ControlRead) {
			d.reading = true
			d.readVal = d.handler.Read(d.pins.AddrByte(levels))
		}
		if !state.Asserted(bus.ControlRead) {
			d.reading = false
		}
	}

	if clk && !d.clock {
		sdat := d.pins.SerialData.Mask()
		if outputs&sdat != 0 {
			d.handler.ShiftIn(levels&sdat != 0)
		} else {
			d.serial = d.handler.ShiftOut()
		}
	}
	if !clk && d.clock {
		d.serial = true
	}
	d.clock = clk

	return d.drive()
}

// drive returns the levels the target presents: pulled high everywhere
// except where it actively drives low.
func (d *Decoder) drive() uint32 {
	levels := ^uint32(0)
	if d.reading {
		levels &^= d.pins.DataMask()
		return levels | d.pins.DataLevels(d.readVal)
	}
	if !d.serial {
		levels &^= d.pins.SerialData.Mask()
	}
	return levels
}
