package bus

import (
	"fmt"
	"time"

	"github.com/ardnew/partner64/pkg"
)

// MaxShift is the largest bit count a single shift may move.
const MaxShift = 63

// Driver sequences bus transactions on a [Port].
//
// A Driver is owned by a single goroutine. Shifts and cycles never touch the
// control lines, so the last applied [ControlState] persists between
// commands.
type Driver struct {
	port   Port
	pins   PinMap
	timing Timing
	timer  Timer

	addrMask    uint32
	dataMask    uint32
	controlMask uint32
	sdatMask    uint32
	clkMask     uint32
	dirMask     uint32

	state ControlState
	fault error
}

// NewDriver validates the pin map and timing and returns a driver bound to
// port. Call [Driver.Init] before the first transaction.
func NewDriver(port Port, pins PinMap, timing Timing, timer Timer) (*Driver, error) {
	if port == nil || timer == nil {
		return nil, fmt.Errorf("bus driver: %w", pkg.ErrNotConfigured)
	}
	if err := pins.Validate(); err != nil {
		return nil, fmt.Errorf("bus driver pins: %w", err)
	}
	if err := timing.Validate(); err != nil {
		return nil, fmt.Errorf("bus driver timing: %w", err)
	}
	return &Driver{
		port:        port,
		pins:        pins,
		timing:      timing,
		timer:       timer,
		addrMask:    pins.AddrMask(),
		dataMask:    pins.DataMask(),
		controlMask: pins.ControlMask(),
		sdatMask:    pins.SerialData.Mask(),
		clkMask:     pins.Clock.Mask(),
		dirMask:     pins.Dir.Mask(),
	}, nil
}

// Init configures pin directions and drives the safe state: every control
// de-asserted, clock low, direction toward the device and the data lines
// released. It also clears any latched timing fault.
func (d *Driver) Init() {
	d.fault = nil
	d.port.SetDirection(d.dataMask|d.sdatMask, false)
	d.port.Write(d.pins.OutputMask(), d.pins.ControlLevels(SafeState))
	d.port.SetDirection(d.pins.OutputMask(), true)
	d.state = SafeState
	d.wait(d.timing.Hold)

	pkg.LogDebug(pkg.ComponentBus, "bus initialized",
		"outputs", fmt.Sprintf("%#08x", d.pins.OutputMask()))
}

// Pins returns the pin map the driver was built with.
func (d *Driver) Pins() PinMap {
	return d.pins
}

// State returns the last applied control state.
func (d *Driver) State() ControlState {
	return d.state
}

// Fault returns the first timing fault latched since Init, or nil.
func (d *Driver) Fault() error {
	return d.fault
}

// ApplyControl drives the control lines to s and holds them for the hold
// time, so they are stable before any following strobe.
func (d *Driver) ApplyControl(s ControlState) {
	s &= ControlMask
	d.port.Write(d.controlMask, d.pins.ControlLevels(s))
	d.state = s
	d.wait(d.timing.Hold)
}

// Shift clocks n bits (1 to MaxShift) over the serial data line, least
// significant bit of data first. For DirWrite the bits of data are driven;
// for DirRead data is ignored and the sampled bits are returned in the same
// order. Counts outside the valid range do nothing.
func (d *Driver) Shift(n int, dir Direction, data uint64) uint64 {
	if n <= 0 || n > MaxShift {
		return 0
	}

	if dir == DirWrite {
		d.port.Write(d.dirMask, d.dirMask)
		d.port.SetDirection(d.sdatMask, true)
		d.wait(d.timing.Setup)
		for i := 0; i < n; i++ {
			var level uint32
			if data&(1<<i) != 0 {
				level = d.sdatMask
			}
			d.port.Write(d.sdatMask, level)
			d.wait(d.timing.Setup)
			d.pulse()
		}
		d.port.SetDirection(d.sdatMask, false)
		d.port.Write(d.dirMask, 0)
		d.wait(d.timing.Setup)
		return 0
	}

	var sampled uint64
	d.port.SetDirection(d.sdatMask, false)
	d.port.Write(d.dirMask, 0)
	d.wait(d.timing.Setup)
	for i := 0; i < n; i++ {
		d.port.Write(d.clkMask, d.clkMask)
		d.wait(d.timing.Strobe)
		if d.port.Read()&d.sdatMask != 0 {
			sampled |= 1 << i
		}
		d.port.Write(d.clkMask, 0)
		d.wait(d.timing.Hold)
	}
	return sampled
}

// Cycle performs one parallel bus cycle at addr, strobing /WR for DirWrite
// or /RD for DirRead on top of the current control state. A write cycle
// drives data and returns it; a read cycle returns the byte the target
// drives while /RD is asserted. The control state is restored afterwards.
func (d *Driver) Cycle(addr, data uint8, dir Direction) uint8 {
	d.port.Write(d.addrMask, d.pins.AddrLevels(addr))

	if dir == DirWrite {
		d.port.Write(d.dataMask, d.pins.DataLevels(data))
		d.port.Write(d.dirMask, d.dirMask)
		d.port.SetDirection(d.dataMask, true)
		d.wait(d.timing.Setup)
		d.strobe(ControlWrite)
		d.port.SetDirection(d.dataMask, false)
		d.port.Write(d.dirMask, 0)
		d.wait(d.timing.Setup)
		return data
	}

	d.port.SetDirection(d.dataMask, false)
	d.port.Write(d.dirMask, 0)
	d.wait(d.timing.Setup)
	d.port.Write(d.controlMask, d.pins.ControlLevels(d.state|ControlRead))
	d.wait(d.timing.Strobe)
	value := d.pins.DataByte(d.port.Read())
	d.port.Write(d.controlMask, d.pins.ControlLevels(d.state))
	d.wait(d.timing.Hold)
	return value
}

// strobe asserts c for the strobe width, then restores the control state
// and holds.
func (d *Driver) strobe(c ControlState) {
	d.port.Write(d.controlMask, d.pins.ControlLevels(d.state|c))
	d.wait(d.timing.Strobe)
	d.port.Write(d.controlMask, d.pins.ControlLevels(d.state))
	d.wait(d.timing.Hold)
}

// pulse raises the clock for the strobe width, then lowers it and holds.
func (d *Driver) pulse() {
	d.port.Write(d.clkMask, d.clkMask)
	d.wait(d.timing.Strobe)
	d.port.Write(d.clkMask, 0)
	d.wait(d.timing.Hold)
}

func (d *Driver) wait(dur time.Duration) {
	if !d.timer.Wait(dur) && d.fault == nil {
		d.fault = pkg.ErrTimingViolation
		pkg.LogError(pkg.ComponentBus, "timer failed to guarantee delay",
			"delay", dur)
	}
}
