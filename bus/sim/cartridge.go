package sim

import (
	"sync"

	"github.com/ardnew/partner64/bus"
)

// Cartridge is a [Handler] wired in loopback: serial bits clocked in are
// queued and clocked back out in the same order, and parallel cycles read
// and write a 256-byte memory.
type Cartridge struct {
	mutex   sync.Mutex
	bits    []bool
	mem     [256]byte
	state   bus.ControlState
	changes int
}

// NewCartridge returns an empty loopback cartridge.
func NewCartridge() *Cartridge {
	return &Cartridge{}
}

// ShiftIn implements Handler.
func (c *Cartridge) ShiftIn(bit bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.bits = append(c.bits, bit)
}

// ShiftOut implements Handler. An empty shift register reads high.
func (c *Cartridge) ShiftOut() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if len(c.bits) == 0 {
		return true
	}
	bit := c.bits[0]
	c.bits = c.bits[1:]
	return bit
}

// Write implements Handler.
func (c *Cartridge) Write(addr, data uint8) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.mem[addr] = data
}

// Read implements Handler.
func (c *Cartridge) Read(addr uint8) uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.mem[addr]
}

// Control implements Handler.
func (c *Cartridge) Control(state bus.ControlState) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.state = state
	c.changes++
}

// Pending returns the number of serial bits waiting to be clocked out.
func (c *Cartridge) Pending() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.bits)
}

// Memory returns the byte stored at addr.
func (c *Cartridge) Memory(addr uint8) uint8 {
	return c.Read(addr)
}

// State returns the last observed control state and how many changes were
// seen.
func (c *Cartridge) State() (bus.ControlState, int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state, c.changes
}

// New builds a simulated bus: a loopback cartridge behind a decoder on a
// port timed by a fresh clock.
func New(pins bus.PinMap) (*Port, *Cartridge) {
	cart := NewCartridge()
	port := NewPort(&Clock{}, NewDecoder(pins, cart))
	return port, cart
}
