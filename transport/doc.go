// Package transport moves the command and response streams between a host
// link and the engine queues.
//
// [USB] runs on a [hal.DeviceHAL]: one goroutine copies bulk OUT packets
// into the command queue, one drains the response queue into bulk IN
// packets of at most 64 bytes, and one answers vendor requests on EP0 by
// calling [bridge.Engine.Request]. A bus reset or detach resets the engine,
// discarding whatever was buffered.
//
// [Stream] does the same over any io.ReadWriter, such as a serial port from
// [github.com/ardnew/partner64/transport/serialport].
//
// The pumps only touch the queues; the bus is driven solely by the engine
// goroutine. A [Tap] can observe every transfer for capture.
package transport
