package sim

import (
	"sync"
	"time"
)

// Edge is one recorded change of a line driven by the device.
type Edge struct {
	At    time.Duration // Simulated time of the change
	Mask  uint32        // Lines that changed
	Level uint32        // New levels of the changed lines
}

// Target models the hardware on the far side of the connector.
type Target interface {
	// Step observes the levels and output mask the device drives after a
	// change and returns the levels the target drives onto the lines the
	// device does not.
	Step(levels, outputs uint32) uint32
}

// Port is an in-memory GPIO port. Lines that neither side drives read high,
// matching the pull-ups on the real board.
type Port struct {
	mutex   sync.Mutex
	clock   *Clock
	target  Target
	outputs uint32
	levels  uint32
	driven  uint32
	edges   []Edge
	record  bool
}

// NewPort creates a port timed by clock and connected to target. A nil
// target leaves every input floating high.
func NewPort(clock *Clock, target Target) *Port {
	if clock == nil {
		clock = &Clock{}
	}
	p := &Port{clock: clock, target: target, record: true}
	p.step()
	return p
}

// Clock returns the clock used to timestamp edges.
func (p *Port) Clock() *Clock {
	return p.clock
}

// SetRecording enables or disables the edge log.
func (p *Port) SetRecording(on bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.record = on
}

// SetDirection implements bus.Port.
func (p *Port) SetDirection(mask uint32, output bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if output {
		p.outputs |= mask
	} else {
		p.outputs &^= mask
	}
	p.step()
}

// Write implements bus.Port.
func (p *Port) Write(mask, levels uint32) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	prev := p.levels
	p.levels = (p.levels &^ mask) | (levels & mask)
	if changed := (prev ^ p.levels) & p.outputs; changed != 0 && p.record {
		p.edges = append(p.edges, Edge{
			At:    p.clock.Now(),
			Mask:  changed,
			Level: p.levels & changed,
		})
	}
	p.step()
}

// Read implements bus.Port.
func (p *Port) Read() uint32 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.read()
}

// Levels returns the levels the device currently drives on its outputs.
func (p *Port) Levels() uint32 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.levels & p.outputs
}

// Outputs returns the mask of lines configured as outputs.
func (p *Port) Outputs() uint32 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.outputs
}

// Edges returns a copy of the edge log.
func (p *Port) Edges() []Edge {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]Edge(nil), p.edges...)
}

// ResetEdges clears the edge log.
func (p *Port) ResetEdges() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.edges = p.edges[:0]
}

func (p *Port) read() uint32 {
	return (p.levels & p.outputs) | (p.driven &^ p.outputs)
}

func (p *Port) step() {
	if p.target == nil {
		p.driven = ^uint32(0)
		return
	}
	p.driven = p.target.Step(p.levels&p.outputs, p.outputs)
}
