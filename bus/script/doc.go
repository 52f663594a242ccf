// Package script implements a simulated cartridge whose behavior is written
// in Lua.
//
// A script defines any of these global functions; missing ones fall back to
// an idle cartridge that floats high:
//
//	shift_in(bit)        -- bit clocked out by the bridge (boolean)
//	shift_out() -> bit   -- bit for the bridge to sample (boolean or 0/1)
//	write(addr, data)    -- parallel write strobe
//	read(addr) -> byte   -- byte driven for a parallel read strobe
//	control(state)       -- control state after each change (integer)
//
// The control bit constants ALE_L, ALE_H, RD, WR, RESET and NMI are
// predefined, as is log(msg), which writes to the bridge logger.
package script
