package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ardnew/partner64/bridge"
	"github.com/ardnew/partner64/pkg"
	"github.com/ardnew/partner64/protocol"
)

// Stream carries the command and response streams over a plain byte link
// such as a serial port or a USB CDC interface. A stream has no control
// endpoint, so vendor requests are not available over it.
type Stream struct {
	rw     io.ReadWriter
	engine *bridge.Engine

	mutex sync.RWMutex
	tap   Tap

	rxBuf [protocol.MaxPacketSize]byte
	txBuf [protocol.MaxPacketSize]byte
}

// NewStream creates a stream transport for engine over rw. If rw is also an
// io.Closer it is closed when Run returns so a blocked read ends.
func NewStream(rw io.ReadWriter, engine *bridge.Engine) *Stream {
	return &Stream{rw: rw, engine: engine}
}

// SetTap installs a callback that sees every chunk moved. Endpoint numbers
// in the reported packets are those of the bulk pair the stream replaces.
func (s *Stream) SetTap(t Tap) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.tap = t
}

// Run moves bytes until ctx is done or the link fails. End of input resets
// the engine, like a USB detach, and returns pkg.ErrDisconnected.
func (s *Stream) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.pumpRX(gctx) })
	g.Go(func() error { return s.pumpTX(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		if c, ok := s.rw.(io.Closer); ok {
			c.Close()
		}
		return nil
	})

	err := g.Wait()
	pkg.LogInfo(pkg.ComponentTransport, "stream transport stopped", "error", err)
	return err
}

func (s *Stream) pumpRX(ctx context.Context) error {
	rx := s.engine.RX()
	for {
		n, err := s.rw.Read(s.rxBuf[:])
		if n > 0 {
			s.emit(protocol.EndpointOut, s.rxBuf[:n])
			perr := rx.PushAll(ctx, s.rxBuf[:n])
			if errors.Is(perr, pkg.ErrReset) {
				pkg.LogDebug(pkg.ComponentTransport, "stream bytes discarded by reset")
			} else if perr != nil {
				return fmt.Errorf("queue command bytes: %w", perr)
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			s.engine.Reset()
			return pkg.ErrDisconnected
		case ctx.Err() != nil, errors.Is(err, os.ErrClosed):
			return ctx.Err()
		default:
			return fmt.Errorf("stream read: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *Stream) pumpTX(ctx context.Context) error {
	tx := s.engine.TX()
	for {
		n, err := tx.ReadAvailable(ctx, s.txBuf[:])
		if err != nil {
			return fmt.Errorf("dequeue responses: %w", err)
		}
		if _, err := s.rw.Write(s.txBuf[:n]); err != nil {
			return fmt.Errorf("stream write: %w", err)
		}
		s.emit(protocol.EndpointIn, s.txBuf[:n])
	}
}

func (s *Stream) emit(ep uint8, data []byte) {
	s.mutex.RLock()
	t := s.tap
	s.mutex.RUnlock()
	if t != nil {
		t(Packet{Time: time.Now(), Endpoint: ep, Data: data})
	}
}
