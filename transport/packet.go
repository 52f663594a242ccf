package transport

import (
	"time"

	"github.com/ardnew/partner64/hal"
)

// Packet is one transfer seen by the transport, reported to a tap for
// capture.
type Packet struct {
	Time     time.Time
	Endpoint uint8            // Endpoint address; 0 for control transfers
	Setup    *hal.SetupPacket // Control transfers only
	Data     []byte           // Valid only during the tap call
	Stalled  bool             // Control request rejected
	Reset    bool             // Bus reset; no data
}

// Tap receives a copy of every transfer. It runs on the pump goroutines and
// must be safe for concurrent use.
type Tap func(Packet)
