package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/partner64/bus"
)

const fifoCart = `
bits = {}
mem = {}
last_state = -1

function shift_in(bit)
  table.insert(bits, bit)
end

function shift_out()
  if #bits == 0 then return true end
  return table.remove(bits, 1)
end

function write(addr, data)
  mem[addr] = data
end

function read(addr)
  return (mem[addr] or 0) + 1
end

function control(state)
  last_state = state
  if state % (2 * RESET) >= RESET then
    bits = {}
    log("reset")
  end
end
`

func newDriver(t *testing.T, c *Cartridge) *bus.Driver {
	t.Helper()
	port := New(bus.DefaultPinMap, c)
	port.SetRecording(false)
	drv, err := bus.NewDriver(port, bus.DefaultPinMap, bus.DefaultTiming, port.Clock())
	require.NoError(t, err)
	drv.Init()
	return drv
}

func TestScriptShiftLoopback(t *testing.T) {
	c, err := Load("fifo", fifoCart)
	require.NoError(t, err)
	defer c.Close()
	drv := newDriver(t, c)

	drv.Shift(12, bus.DirWrite, 0xA5C)
	assert.Equal(t, uint64(0xA5C), drv.Shift(12, bus.DirRead, 0))
	assert.Equal(t, uint64(0xF), drv.Shift(4, bus.DirRead, 0), "empty register reads high")
	assert.NoError(t, c.Err())
}

func TestScriptCycles(t *testing.T) {
	c, err := Load("fifo", fifoCart)
	require.NoError(t, err)
	defer c.Close()
	drv := newDriver(t, c)

	drv.Cycle(0x10, 0x41, bus.DirWrite)
	assert.Equal(t, uint8(0x42), drv.Cycle(0x10, 0, bus.DirRead))
	assert.Equal(t, uint8(0x01), drv.Cycle(0x11, 0, bus.DirRead))
}

func TestScriptControl(t *testing.T) {
	c, err := Load("fifo", fifoCart)
	require.NoError(t, err)
	defer c.Close()
	drv := newDriver(t, c)

	drv.Shift(3, bus.DirWrite, 0x2)
	drv.ApplyControl(bus.ControlReset | bus.ControlNMI)
	assert.Equal(t, float64(bus.ControlReset|bus.ControlNMI), c.Global("last_state"))

	// The script clears its register on reset, so it reads high.
	assert.Equal(t, uint64(0x7), drv.Shift(3, bus.DirRead, 0))
}

func TestScriptDefaults(t *testing.T) {
	c, err := Load("empty", "")
	require.NoError(t, err)
	defer c.Close()

	assert.True(t, c.ShiftOut())
	assert.Equal(t, uint8(0xFF), c.Read(0))
	c.ShiftIn(true)
	c.Write(1, 2)
	c.Control(bus.ControlWrite)
	assert.Zero(t, c.Calls())
	assert.NoError(t, c.Err())
}

func TestScriptReturnConversions(t *testing.T) {
	c, err := Load("conv", `
function shift_out() return 0 end
function read(addr) return 0x1FF end
name = "cart"
flag = true
`)
	require.NoError(t, err)
	defer c.Close()

	assert.False(t, c.ShiftOut(), "zero is low")
	assert.Equal(t, uint8(0xFF), c.Read(0), "truncated to a byte")
	assert.Equal(t, "cart", c.Global("name"))
	assert.Equal(t, true, c.Global("flag"))
	assert.Nil(t, c.Global("missing"))
	assert.Equal(t, float64(bus.ControlNMI), c.Global("NMI"))
}

func TestScriptErrors(t *testing.T) {
	_, err := Load("broken", "function (")
	assert.Error(t, err)

	c, err := Load("faulty", `function read(addr) error("no bank") end`)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, uint8(0xFF), c.Read(3))
	require.Error(t, c.Err())
	assert.Contains(t, c.Err().Error(), "no bank")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cart.lua")
	require.NoError(t, os.WriteFile(path, []byte(fifoCart), 0o644))
	c, err := LoadFile(path)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, float64(-1), c.Global("last_state"))

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.lua"))
	assert.Error(t, err)
}
