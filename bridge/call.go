package bridge

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ardnew/partner64/bus"
	"github.com/ardnew/partner64/pkg"
	"github.com/ardnew/partner64/protocol"
)

// call is a run of parallel cycles at one address handed to the engine
// goroutine. A read call performs exactly one cycle.
type call struct {
	addr  uint8
	data  []uint8
	dir   bus.Direction
	value uint8
	err   error
	done  chan struct{}
}

// Cycle performs one parallel bus cycle on the engine goroutine, between
// commands, and returns the data byte. It blocks until the engine has run
// the cycle or ctx is done.
func (e *Engine) Cycle(ctx context.Context, addr, data uint8, dir bus.Direction) (uint8, error) {
	return e.submit(ctx, &call{addr: addr, data: []uint8{data}, dir: dir})
}

// WriteCycles performs one parallel write cycle at addr for every byte of
// data, in order, without any stream command running in between.
func (e *Engine) WriteCycles(ctx context.Context, addr uint8, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	_, err := e.submit(ctx, &call{addr: addr, data: data, dir: bus.DirWrite})
	return err
}

func (e *Engine) submit(ctx context.Context, c *call) (uint8, error) {
	c.done = make(chan struct{})
	select {
	case e.calls <- c:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case <-c.done:
		return c.value, c.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// serve runs a cycle request. The returned error is fatal to the engine.
func (e *Engine) serve(c *call) error {
	defer close(c.done)

	e.serviceReset()
	for _, data := range c.data {
		c.value = e.bus.Cycle(c.addr, data, c.dir)
		if err := e.checkFault(); err != nil {
			c.err = err
			return err
		}
		e.cycles.Add(1)
		e.seq++
		e.notify(Record{
			Seq:    e.seq,
			Source: SourceCycle,
			Addr:   c.addr,
			Data:   uint64(c.value),
			Dir:    c.dir,
			State:  e.bus.State(),
		})
		if c.dir == bus.DirRead {
			break
		}
	}
	return nil
}

// Request executes a vendor control request and returns its data stage.
// value and index are the request's wValue and wIndex; data is its OUT data
// stage. Length queries are answered directly from the queues; bus cycles
// run on the engine goroutine. Unsupported or malformed requests fail with
// [pkg.ErrInvalidRequest], which the transport answers with a stall.
func (e *Engine) Request(ctx context.Context, req protocol.Request, value, index uint16, data []byte) ([]byte, error) {
	switch req {
	case protocol.RequestWrite:
		_, err := e.Cycle(ctx, uint8(value>>8), uint8(value), bus.DirWrite)
		return nil, err

	case protocol.RequestRead:
		v, err := e.Cycle(ctx, uint8(value), 0, bus.DirRead)
		if err != nil {
			return nil, err
		}
		return []byte{v}, nil

	case protocol.RequestWriteFromBuf, protocol.RequestWriteBitsFromBuf:
		if int(index) > len(data) {
			return nil, fmt.Errorf("request %s: %d bytes wanted, %d sent: %w",
				req, index, len(data), pkg.ErrInvalidRequest)
		}
		return nil, e.WriteCycles(ctx, uint8(value>>8), cycleData(req, uint8(value), data[:index]))

	case protocol.RequestRecvLen:
		return binary.BigEndian.AppendUint32(nil, uint32(e.rx.Len())), nil

	case protocol.RequestSendLen:
		return binary.BigEndian.AppendUint32(nil, uint32(e.tx.Len())), nil

	case protocol.RequestReset:
		e.Reset()
		return nil, nil

	default:
		return nil, fmt.Errorf("request %s: %w", req, pkg.ErrInvalidRequest)
	}
}

// cycleData expands the data stage of a buffered write into the byte
// written by each cycle.
func cycleData(req protocol.Request, base uint8, buf []byte) []byte {
	if req == protocol.RequestWriteFromBuf {
		out := make([]byte, len(buf))
		for i, b := range buf {
			out[i] = base | b
		}
		return out
	}
	out := make([]byte, 0, 8*len(buf))
	for _, b := range buf {
		for i := 0; i < 8; i++ {
			out = append(out, base|(b>>i)&1)
		}
	}
	return out
}
