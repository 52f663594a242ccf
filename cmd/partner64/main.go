//go:build tinygo && rp2350

// Command partner64 is the bridge firmware for an RP2350 board built with
// TinyGo.
//
// The cartridge bus is wired as in bus.DefaultPinMap. The host talks to the
// bridge over the USB CDC serial port, which carries the command and
// response streams; vendor control requests need the full USB transport and
// are not offered here.
//
// Build and flash:
//
//	tinygo flash -target=pico2 ./cmd/partner64
package main

import (
	"context"
	"machine"
	"time"

	"github.com/ardnew/partner64/bridge"
	"github.com/ardnew/partner64/bus"
	"github.com/ardnew/partner64/queue"
	"github.com/ardnew/partner64/transport"
)

// numPins is the GPIO count of the RP2350A package.
const numPins = 30

// idlePoll is how long a read waits between checks of an empty serial
// buffer.
const idlePoll = 50 * time.Microsecond

// pinPort implements bus.Port over the SIO pins. Inputs are pulled up so
// an absent cartridge reads high.
type pinPort struct{}

func (pinPort) SetDirection(mask uint32, output bool) {
	mode := machine.PinInputPullup
	if output {
		mode = machine.PinOutput
	}
	for i := 0; i < numPins; i++ {
		if mask&(1<<i) != 0 {
			machine.Pin(i).Configure(machine.PinConfig{Mode: mode})
		}
	}
}

func (pinPort) Write(mask, levels uint32) {
	for i := 0; i < numPins; i++ {
		if mask&(1<<i) != 0 {
			machine.Pin(i).Set(levels&(1<<i) != 0)
		}
	}
}

func (pinPort) Read() uint32 {
	var levels uint32
	for i := 0; i < numPins; i++ {
		if machine.Pin(i).Get() {
			levels |= 1 << i
		}
	}
	return levels
}

// serialLink blocks reads until the CDC buffer has data.
type serialLink struct {
	s machine.Serialer
}

func (l serialLink) Read(p []byte) (int, error) {
	for l.s.Buffered() == 0 {
		time.Sleep(idlePoll)
	}
	return l.s.Read(p)
}

func (l serialLink) Write(p []byte) (int, error) {
	return l.s.Write(p)
}

func main() {
	drv, err := bus.NewDriver(pinPort{}, bus.DefaultPinMap, bus.DefaultTiming, bus.BusyTimer{})
	if err != nil {
		halt()
	}
	drv.Init()

	engine, err := bridge.New(drv, queue.New(queue.DefaultCapacity), queue.New(queue.DefaultCapacity))
	if err != nil {
		halt()
	}

	ctx := context.Background()
	go engine.Run(ctx)

	// The stream ends only if the link fails; start over with a clean
	// session.
	link := transport.NewStream(serialLink{s: machine.Serial}, engine)
	for {
		link.Run(ctx)
		engine.Reset()
	}
}

// halt parks the firmware after a configuration error.
func halt() {
	for {
		time.Sleep(time.Second)
	}
}
