package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/partner64/bus"
)

func TestClockWait(t *testing.T) {
	var c Clock
	assert.True(t, c.Wait(3*time.Microsecond))
	assert.True(t, c.Wait(0))
	assert.False(t, c.Wait(-time.Nanosecond))
	assert.Equal(t, 3*time.Microsecond, c.Now())
	assert.Equal(t, 3, c.Waits())

	c.Fail = func(d time.Duration) bool { return d == time.Microsecond }
	assert.False(t, c.Wait(time.Microsecond))
	assert.True(t, c.Wait(2*time.Microsecond))
}

func TestPortFloatsHigh(t *testing.T) {
	p := NewPort(nil, nil)
	assert.Equal(t, ^uint32(0), p.Read())

	p.SetDirection(0x0F, true)
	p.Write(0xFF, 0x05)
	assert.Equal(t, uint32(0x05), p.Levels())
	assert.Equal(t, ^uint32(0)&^0x0A, p.Read())
}

func TestPortRecordsOutputEdges(t *testing.T) {
	clock := &Clock{}
	p := NewPort(clock, nil)
	p.SetDirection(0x3, true)

	p.Write(0x1, 0x1)
	clock.Wait(time.Microsecond)
	p.Write(0x3, 0x2)
	p.Write(0x3, 0x2) // no change
	p.Write(0x4, 0x4) // input pin, not recorded

	edges := p.Edges()
	require.Len(t, edges, 2)
	assert.Equal(t, Edge{At: 0, Mask: 0x1, Level: 0x1}, edges[0])
	assert.Equal(t, Edge{At: time.Microsecond, Mask: 0x3, Level: 0x2}, edges[1])

	p.ResetEdges()
	p.SetRecording(false)
	p.Write(0x3, 0x0)
	assert.Empty(t, p.Edges())
}

func TestCartridgeLoopback(t *testing.T) {
	c := NewCartridge()
	assert.True(t, c.ShiftOut(), "empty shift register reads high")

	for _, b := range []bool{true, false, false, true} {
		c.ShiftIn(b)
	}
	assert.Equal(t, 4, c.Pending())

	var got []bool
	for c.Pending() > 0 {
		got = append(got, c.ShiftOut())
	}
	assert.Equal(t, []bool{true, false, false, true}, got)
}

type recorder struct {
	Cartridge
	writes [][2]uint8
}

func (r *recorder) Write(addr, data uint8) {
	r.writes = append(r.writes, [2]uint8{addr, data})
	r.Cartridge.Write(addr, data)
}

func TestDecoderParallelWrite(t *testing.T) {
	pins := bus.DefaultPinMap
	h := &recorder{}
	d := NewDecoder(pins, h)
	out := pins.OutputMask() | pins.DataMask()

	idle := pins.ControlLevels(bus.SafeState) | pins.AddrLevels(0x22) | pins.DataLevels(0x99)
	d.Step(idle, out)
	assert.Empty(t, h.writes)

	d.Step(pins.ControlLevels(bus.ControlWrite)|pins.AddrLevels(0x22)|pins.DataLevels(0x99), out)
	require.Len(t, h.writes, 1)
	assert.Equal(t, [2]uint8{0x22, 0x99}, h.writes[0])

	// Holding /WR does not repeat the write.
	d.Step(pins.ControlLevels(bus.ControlWrite)|pins.AddrLevels(0x22)|pins.DataLevels(0x99), out)
	assert.Len(t, h.writes, 1)

	state, changes := h.State()
	assert.Equal(t, bus.ControlWrite, state)
	assert.Equal(t, 1, changes)
}

func TestDecoderParallelRead(t *testing.T) {
	pins := bus.DefaultPinMap
	c := NewCartridge()
	c.Write(0x40, 0xC3)
	d := NewDecoder(pins, c)
	out := pins.OutputMask()

	d.Step(pins.ControlLevels(bus.SafeState), out)
	levels := d.Step(pins.ControlLevels(bus.ControlRead)|pins.AddrLevels(0x40), out)
	assert.Equal(t, uint8(0xC3), pins.DataByte(levels))

	levels = d.Step(pins.ControlLevels(bus.SafeState)|pins.AddrLevels(0x40), out)
	assert.Equal(t, uint8(0xFF), pins.DataByte(levels), "data released after /RD")
}

func TestDecoderIgnoresUnconfiguredControls(t *testing.T) {
	pins := bus.DefaultPinMap
	c := NewCartridge()
	d := NewDecoder(pins, c)

	// Before the control lines are outputs their levels are meaningless.
	d.Step(0, 0)
	d.Step(0, pins.AddrMask())
	_, changes := c.State()
	assert.Zero(t, changes)
}
