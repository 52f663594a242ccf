package bridge

import (
	"time"

	"github.com/ardnew/partner64/bus"
	"github.com/ardnew/partner64/protocol"
)

// Source tells where an executed operation came from.
type Source uint8

// Operation sources.
const (
	SourceStream Source = iota // Command byte from the bulk stream
	SourceCycle                // Parallel cycle from a control request
)

// String returns "stream" or "cycle".
func (s Source) String() string {
	if s == SourceCycle {
		return "cycle"
	}
	return "stream"
}

// Record describes one executed operation.
type Record struct {
	Seq     uint64
	At      time.Time
	Source  Source
	Command protocol.Command // SourceStream only

	// Addr and Dir describe a SourceCycle operation.
	Addr uint8
	Dir  bus.Direction

	// Data is the shifted or cycled value: the bits written, or the bits
	// or byte sampled.
	Data uint64

	// State is the control state after the operation.
	State bus.ControlState
}

// Observer receives a Record after each operation.
type Observer func(Record)

// Stats holds engine counters.
type Stats struct {
	Commands  uint64 // Command bytes executed, no-ops included
	NoOps     uint64 // Commands with no bus effect
	BitsOut   uint64 // Bits clocked to the target
	BitsIn    uint64 // Bits sampled from the target
	Responses uint64 // Response bytes produced
	Cycles    uint64 // Parallel cycles from control requests
	Resets    uint64 // Completed resets
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Commands:  e.commands.Load(),
		NoOps:     e.noops.Load(),
		BitsOut:   e.bitsOut.Load(),
		BitsIn:    e.bitsIn.Load(),
		Responses: e.responses.Load(),
		Cycles:    e.cycles.Load(),
		Resets:    e.resets.Load(),
	}
}
