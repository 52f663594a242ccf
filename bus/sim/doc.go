// Package sim provides a simulated cartridge bus for tests and the
// simulator command.
//
// A [Port] implements [bus.Port] in memory and records every line change
// against a simulated [Clock], which also serves as the driver's
// [bus.Timer]. Delays therefore cost no wall time, and tests can inspect the
// recorded [Edge] log to check setup, strobe and hold times.
//
// The far side of the connector is a [Target]. [Decoder] turns raw pin
// changes into cartridge-level events (serial bits, parallel cycles, control
// changes) for a [Handler], and [Cartridge] is a Handler that loops serial
// bits back and backs parallel cycles with a 256-byte memory.
package sim
