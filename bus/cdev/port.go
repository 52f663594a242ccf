//go:build linux

package cdev

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"

	"github.com/ardnew/partner64/bus"
	"github.com/ardnew/partner64/pkg"
)

// Consumer labels the requested lines in the kernel.
const Consumer = "partner64"

// line is the subset of *gpiocdev.Line the port uses.
type line interface {
	Value() (int, error)
	SetValue(value int) error
	Reconfigure(options ...gpiocdev.LineConfigOption) error
	Close() error
}

// Port implements bus.Port over GPIO character device lines. Line errors
// cannot be returned through bus.Port, so the first one is kept for Err.
type Port struct {
	mutex   sync.Mutex
	lines   [bus.MaxPin + 1]line
	used    uint32
	outputs uint32
	levels  uint32
	err     error
}

// Open requests every pin used by pins on chip (for example "gpiochip0"),
// starting as inputs so nothing is driven until the driver configures
// directions.
func Open(chip string, pins bus.PinMap, base int) (*Port, error) {
	if err := pins.Validate(); err != nil {
		return nil, err
	}
	p := &Port{}
	mask := pins.OutputMask() | pins.DataMask() | pins.SerialData.Mask()
	for pin := bus.Pin(0); pin <= bus.MaxPin; pin++ {
		if mask&pin.Mask() == 0 {
			continue
		}
		l, err := gpiocdev.RequestLine(chip, base+int(pin), gpiocdev.AsInput, gpiocdev.WithConsumer(Consumer))
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("request %s line %d for pin %d: %w", chip, base+int(pin), pin, err)
		}
		p.lines[pin] = l
		p.used |= pin.Mask()
	}
	pkg.LogInfo(pkg.ComponentBus, "gpio lines requested", "chip", chip, "base", base, "mask", fmt.Sprintf("%#08x", p.used))
	return p, nil
}

func newPort(lines map[bus.Pin]line) *Port {
	p := &Port{}
	for pin, l := range lines {
		p.lines[pin] = l
		p.used |= pin.Mask()
	}
	return p
}

// SetDirection implements bus.Port. Lines switched to output start at their
// last written level.
func (p *Port) SetDirection(mask uint32, output bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.each(mask, func(pin bus.Pin, l line) error {
		m := pin.Mask()
		if output == (p.outputs&m != 0) {
			return nil
		}
		if output {
			if err := l.Reconfigure(gpiocdev.AsOutput(level(p.levels, m))); err != nil {
				return err
			}
			p.outputs |= m
			return nil
		}
		if err := l.Reconfigure(gpiocdev.AsInput); err != nil {
			return err
		}
		p.outputs &^= m
		return nil
	})
}

// Write implements bus.Port. Levels of input pins are remembered for when
// they become outputs.
func (p *Port) Write(mask, levels uint32) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.each(mask, func(pin bus.Pin, l line) error {
		m := pin.Mask()
		p.levels = p.levels&^m | levels&m
		if p.outputs&m == 0 {
			return nil
		}
		return l.SetValue(level(levels, m))
	})
}

// Read implements bus.Port. Outputs read back their driven level.
func (p *Port) Read() uint32 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	var levels uint32
	p.each(p.used, func(pin bus.Pin, l line) error {
		m := pin.Mask()
		if p.outputs&m != 0 {
			levels |= p.levels & m
			return nil
		}
		v, err := l.Value()
		if err != nil {
			return err
		}
		if v != 0 {
			levels |= m
		}
		return nil
	})
	return levels
}

func (p *Port) each(mask uint32, fn func(bus.Pin, line) error) {
	mask &= p.used
	for pin := bus.Pin(0); mask != 0; pin++ {
		if mask&pin.Mask() == 0 {
			continue
		}
		mask &^= pin.Mask()
		if err := fn(pin, p.lines[pin]); err != nil && p.err == nil {
			p.err = fmt.Errorf("gpio pin %d: %w", pin, err)
			pkg.LogError(pkg.ComponentBus, "gpio line failed", "pin", pin, "error", err)
		}
	}
}

func level(levels, mask uint32) int {
	if levels&mask != 0 {
		return 1
	}
	return 0
}

// Err returns the first line error.
func (p *Port) Err() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.err
}

// Close releases every line, leaving them as inputs.
func (p *Port) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	var first error
	for pin, l := range p.lines {
		if l == nil {
			continue
		}
		l.Reconfigure(gpiocdev.AsInput)
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
		p.lines[pin] = nil
	}
	p.used, p.outputs = 0, 0
	return first
}

var _ bus.Port = (*Port)(nil)
