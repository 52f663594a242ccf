// Package bus implements the cartridge bus driver.
//
// The driver owns the GPIO lines wired to the debugging-cartridge connector
// and performs single bus transactions with fixed timing. It is the only
// code that changes line levels, and it is driven from exactly one
// goroutine: the command engine in [github.com/ardnew/partner64/bridge].
//
// # Lines
//
// The connector is described by a static [PinMap]:
//
//   - eight address lines and eight data lines for parallel cycles
//   - a serial data line and a clock line for bit shifts
//   - a direction line that tells the level shifters who drives the data bus
//   - six control lines (ALE_L, ALE_H, /RD, /WR, /RESET, /NMI) whose asserted
//     levels form the persistent [ControlState]
//
// # Transactions
//
// [Driver.ApplyControl] drives the control lines and holds them for the
// configured hold time. [Driver.Shift] clocks up to [MaxShift] bits out of or
// into the serial data line, one bit per rising clock edge. [Driver.Cycle]
// performs one parallel address/data read or write strobe.
//
// All delays go through a [Timer]. A timer that cannot guarantee a delay
// latches a fault that the engine reports as [pkg.ErrTimingViolation]; the
// primitives themselves never return errors.
//
// # Hardware Access
//
// Line levels are read and written through the [Port] interface. Backends
// exist for the simulated bus ([github.com/ardnew/partner64/bus/sim]), Linux
// GPIO character devices ([github.com/ardnew/partner64/bus/gpiocdev]) and
// TinyGo machine pins (the firmware command).
package bus
