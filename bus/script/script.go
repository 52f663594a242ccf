package script

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/ardnew/partner64/bus"
	"github.com/ardnew/partner64/bus/sim"
	"github.com/ardnew/partner64/pkg"
)

// Cartridge runs a Lua script as a sim.Handler. Its methods are safe for
// concurrent use.
type Cartridge struct {
	mutex sync.Mutex
	L     *lua.LState
	name  string
	err   error
	calls int
}

// Load compiles and runs src once so it can define its callbacks. name
// labels the script in errors and logs.
func Load(name, src string) (*Cartridge, error) {
	c := newCartridge(name)
	if err := c.L.DoString(src); err != nil {
		c.L.Close()
		return nil, fmt.Errorf("load script %s: %w", name, err)
	}
	return c, nil
}

// LoadFile is Load for a script on disk.
func LoadFile(path string) (*Cartridge, error) {
	c := newCartridge(path)
	if err := c.L.DoFile(path); err != nil {
		c.L.Close()
		return nil, fmt.Errorf("load script %s: %w", path, err)
	}
	return c, nil
}

func newCartridge(name string) *Cartridge {
	L := lua.NewState()
	c := &Cartridge{L: L, name: name}

	for i, n := range []string{"ALE_L", "ALE_H", "RD", "WR", "RESET", "NMI"} {
		L.SetGlobal(n, lua.LNumber(int(1)<<i))
	}
	L.SetGlobal("log", L.NewFunction(func(L *lua.LState) int {
		pkg.LogDebug(pkg.ComponentBus, "script", "name", name, "msg", L.CheckString(1))
		return 0
	}))
	return c
}

// call invokes the global fn with args. It reports false when fn is not
// defined or fails; the first failure is kept for Err.
func (c *Cartridge) call(fn string, nret int, args ...lua.LValue) (lua.LValue, bool) {
	f, ok := c.L.GetGlobal(fn).(*lua.LFunction)
	if !ok {
		return lua.LNil, false
	}
	c.calls++
	if err := c.L.CallByParam(lua.P{Fn: f, NRet: nret, Protect: true}, args...); err != nil {
		if c.err == nil {
			c.err = fmt.Errorf("script %s: %s: %w", c.name, fn, err)
			pkg.LogWarn(pkg.ComponentBus, "script callback failed", "name", c.name, "fn", fn, "error", err)
		}
		return lua.LNil, false
	}
	if nret == 0 {
		return lua.LNil, true
	}
	ret := c.L.Get(-1)
	c.L.Pop(1)
	return ret, true
}

// ShiftIn implements sim.Handler.
func (c *Cartridge) ShiftIn(bit bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.call("shift_in", 0, lua.LBool(bit))
}

// ShiftOut implements sim.Handler. Numbers are true when non-zero.
func (c *Cartridge) ShiftOut() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	v, ok := c.call("shift_out", 1)
	if !ok {
		return true
	}
	if n, isNum := v.(lua.LNumber); isNum {
		return n != 0
	}
	return lua.LVAsBool(v)
}

// Write implements sim.Handler.
func (c *Cartridge) Write(addr, data uint8) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.call("write", 0, lua.LNumber(addr), lua.LNumber(data))
}

// Read implements sim.Handler. Results are truncated to a byte.
func (c *Cartridge) Read(addr uint8) uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	v, ok := c.call("read", 1, lua.LNumber(addr))
	if !ok {
		return 0xFF
	}
	n, isNum := v.(lua.LNumber)
	if !isNum {
		return 0xFF
	}
	return uint8(int64(n))
}

// Control implements sim.Handler.
func (c *Cartridge) Control(state bus.ControlState) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.call("control", 0, lua.LNumber(state))
}

// Global returns the value of a Lua global converted to a Go value: nil,
// bool, float64 or string. Tables and functions are returned as their
// string form.
func (c *Cartridge) Global(name string) any {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	switch v := c.L.GetGlobal(name).(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	default:
		return v.String()
	}
}

// Calls returns how many callbacks were invoked.
func (c *Cartridge) Calls() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.calls
}

// Err returns the first callback error.
func (c *Cartridge) Err() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.err
}

// Close releases the interpreter.
func (c *Cartridge) Close() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.L.Close()
}

var _ sim.Handler = (*Cartridge)(nil)

// New builds a simulated bus around a script cartridge, the way sim.New does
// for the loopback cartridge.
func New(pins bus.PinMap, c *Cartridge) *sim.Port {
	return sim.NewPort(&sim.Clock{}, sim.NewDecoder(pins, c))
}
