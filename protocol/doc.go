// Package protocol defines the byte-level wire format between the host and
// the bridge.
//
// # Command Stream
//
// The bulk OUT stream is a sequence of single-byte commands. The two high
// bits of a command select its class and the low six bits are its operand:
//
//	10cccccc  control set: assert exactly the controls in c
//	0100000d  shift write of one bit: clock out d
//	01nnnnnn  shift write, n >= 2: clock out n bits, followed by (n+7)/8 data bytes
//	11nnnnnn  shift read:  clock in n bits
//	00xxxxxx  no-op (0x00 is padding)
//
// A read with n == 0 is also a no-op. Data bytes are packed least
// significant bit first, so bit 0 of the first data byte is clocked first.
//
// # Response Stream
//
// Each bit sampled by a shift read becomes one byte on the bulk IN stream,
// with the bit value in bit 0. Commands that sample nothing produce nothing.
//
// # Control Requests
//
// A handful of vendor requests on EP0 give out-of-band access to parallel
// bus cycles, the queue fill levels and a reset. See [Request].
package protocol
