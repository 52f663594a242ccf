package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ardnew/partner64/bridge"
	"github.com/ardnew/partner64/hal"
	"github.com/ardnew/partner64/pkg"
	"github.com/ardnew/partner64/protocol"
)

// USB connects an engine to a USB device controller: bulk OUT packets feed
// the command queue, the response queue drains into bulk IN packets, and
// vendor requests on EP0 are answered through the engine.
type USB struct {
	hal    hal.DeviceHAL
	engine *bridge.Engine

	mutex sync.RWMutex
	tap   Tap

	outBuf [protocol.MaxPacketSize]byte
	inBuf  [protocol.MaxPacketSize]byte
	ep0Buf [protocol.MaxControlData]byte
}

// NewUSB creates a USB transport for engine on h.
func NewUSB(h hal.DeviceHAL, engine *bridge.Engine) *USB {
	return &USB{hal: h, engine: engine}
}

// SetTap installs a callback that sees every transfer.
func (u *USB) SetTap(t Tap) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.tap = t
}

// Run initializes and attaches the controller, then moves data until ctx is
// done or the host detaches. A bus reset from the host resets the engine
// and keeps the session running; a detach resets the engine and returns
// pkg.ErrDisconnected. The controller is stopped before Run returns.
func (u *USB) Run(ctx context.Context) error {
	if err := u.hal.Init(ctx); err != nil {
		return fmt.Errorf("init controller: %w", err)
	}
	if err := u.hal.ConfigureEndpoints(hal.BridgeEndpoints); err != nil {
		u.hal.Stop()
		return fmt.Errorf("configure endpoints: %w", err)
	}
	if err := u.hal.Start(); err != nil {
		u.hal.Stop()
		return fmt.Errorf("start controller: %w", err)
	}
	pkg.LogInfo(pkg.ComponentTransport, "usb transport started",
		"out", fmt.Sprintf("%#02x", protocol.EndpointOut),
		"in", fmt.Sprintf("%#02x", protocol.EndpointIn))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return u.pumpOut(gctx) })
	g.Go(func() error { return u.pumpIn(gctx) })
	g.Go(func() error { return u.control(gctx) })
	g.Go(func() error { return u.watch(gctx) })

	err := g.Wait()
	u.hal.Stop()
	pkg.LogInfo(pkg.ComponentTransport, "usb transport stopped", "error", err)
	return err
}

// pumpOut copies bulk OUT packets into the command queue verbatim.
func (u *USB) pumpOut(ctx context.Context) error {
	rx := u.engine.RX()
	for {
		n, err := u.hal.Read(ctx, protocol.EndpointOut, u.outBuf[:])
		if err != nil {
			return fmt.Errorf("bulk out: %w", err)
		}
		if n == 0 {
			continue
		}
		u.emit(Packet{Endpoint: protocol.EndpointOut, Data: u.outBuf[:n]})
		err = rx.PushAll(ctx, u.outBuf[:n])
		if errors.Is(err, pkg.ErrReset) {
			pkg.LogDebug(pkg.ComponentTransport, "bulk out packet discarded by reset")
			continue
		}
		if err != nil {
			return fmt.Errorf("queue command bytes: %w", err)
		}
	}
}

// pumpIn sends whatever the response queue holds, one packet at a time.
func (u *USB) pumpIn(ctx context.Context) error {
	tx := u.engine.TX()
	for {
		n, err := tx.ReadAvailable(ctx, u.inBuf[:])
		if err != nil {
			return fmt.Errorf("dequeue responses: %w", err)
		}
		if _, err := u.hal.Write(ctx, protocol.EndpointIn, u.inBuf[:n]); err != nil {
			return fmt.Errorf("bulk in: %w", err)
		}
		u.emit(Packet{Endpoint: protocol.EndpointIn, Data: u.inBuf[:n]})
	}
}

// control serves vendor requests on EP0.
func (u *USB) control(ctx context.Context) error {
	var setup hal.SetupPacket
	for {
		err := u.hal.ReadSetup(ctx, &setup)
		if errors.Is(err, pkg.ErrReset) {
			pkg.LogInfo(pkg.ComponentTransport, "bus reset")
			u.engine.Reset()
			u.emit(Packet{Reset: true})
			continue
		}
		if err != nil {
			return fmt.Errorf("read setup: %w", err)
		}
		if err := u.handleSetup(ctx, &setup); err != nil {
			return err
		}
	}
}

func (u *USB) handleSetup(ctx context.Context, setup *hal.SetupPacket) error {
	req := protocol.Request(setup.Request)
	if !setup.IsVendor() || !req.Known() || setup.IsIn() != (req.ResponseLen() > 0) {
		pkg.LogWarn(pkg.ComponentTransport, "unsupported control request",
			"reqType", setup.RequestType, "req", setup.Request)
		u.emit(Packet{Setup: setup, Stalled: true})
		return u.hal.StallEP0()
	}

	var out []byte
	if !setup.IsIn() && setup.Length > 0 {
		if int(setup.Length) > len(u.ep0Buf) {
			pkg.LogWarn(pkg.ComponentTransport, "control data stage too long",
				"req", req, "length", setup.Length)
			u.emit(Packet{Setup: setup, Stalled: true})
			return u.hal.StallEP0()
		}
		n, err := u.hal.ReadEP0(ctx, u.ep0Buf[:setup.Length])
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			pkg.LogWarn(pkg.ComponentTransport, "control data stage failed",
				"req", req, "error", err)
			u.emit(Packet{Setup: setup, Stalled: true})
			return u.hal.StallEP0()
		}
		out = u.ep0Buf[:n]
	}

	data, err := u.engine.Request(ctx, req, setup.Value, setup.Index, out)
	if err != nil {
		if pkg.Fatal(err) || ctx.Err() != nil {
			return err
		}
		pkg.LogWarn(pkg.ComponentTransport, "control request failed",
			"req", req, "error", err)
		u.emit(Packet{Setup: setup, Stalled: true})
		return u.hal.StallEP0()
	}

	if setup.IsIn() {
		u.emit(Packet{Setup: setup, Data: data})
		if int(setup.Length) < len(data) {
			data = data[:setup.Length]
		}
		return u.hal.WriteEP0(ctx, data)
	}
	u.emit(Packet{Setup: setup, Data: out})
	return u.hal.AckEP0()
}

// watch ends the session when the host detaches.
func (u *USB) watch(ctx context.Context) error {
	if err := u.hal.WaitDisconnect(ctx); err != nil {
		return err
	}
	pkg.LogInfo(pkg.ComponentTransport, "host detached")
	u.engine.Reset()
	return pkg.ErrDisconnected
}

func (u *USB) emit(p Packet) {
	u.mutex.RLock()
	t := u.tap
	u.mutex.RUnlock()
	if t == nil {
		return
	}
	p.Time = time.Now()
	t(p)
}
