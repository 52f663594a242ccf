// Package bridge implements the command engine between the byte streams and
// the cartridge bus.
//
// An [Engine] pops command bytes from the receive queue, decodes them with
// [protocol.Decode] and runs each one to completion on the bus before
// looking at the next. A shift write is only started once all of its
// payload bytes have arrived, and a shift read samples every bit before the
// response is encoded, so a full queue can delay a command but never split
// one.
//
// The engine goroutine is the only one that touches the bus. Control
// requests that need a bus cycle are handed to it through [Engine.Cycle] and
// run between commands. [Engine.Reset] may be called from the transport on
// disconnect: it clears both queues at once and the engine drives the safe
// control state before executing anything else.
//
// A timing fault latched by the bus driver stops the engine with
// [pkg.ErrTimingViolation].
package bridge
