// Package fifo implements [hal.DeviceHAL] over named pipes so the bridge can
// run as an ordinary process and be driven by tests or host tooling.
//
// # Layout
//
// Each device creates a directory under a shared bus directory, named after
// a random UUID:
//
//	/tmp/partner64-bus/
//	└── device-{uuid}/
//	    ├── connection       # 0x01 on attach, 0x00 on detach (device → host)
//	    ├── host_to_device   # SETUP and reset frames
//	    ├── device_to_host   # data, ACK and STALL replies on EP0
//	    ├── ep2_out          # bulk OUT packets (command stream)
//	    └── ep1_in           # bulk IN packets (response stream)
//
// # Framing
//
// Every pipe carries frames of a one-byte type, a little-endian 16-bit
// length and the payload. A SETUP frame holds the 8-byte setup packet
// followed by the OUT data stage, if any. The device answers each SETUP
// frame on device_to_host with a data frame, an ACK or a STALL, and answers
// a reset frame with an ACK.
//
// [Host] is the other end: it finds a device directory, issues control
// transfers and moves bulk packets.
//
// [hal.DeviceHAL]: github.com/ardnew/partner64/hal.DeviceHAL
package fifo
