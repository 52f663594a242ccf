package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/partner64/bus"
	"github.com/ardnew/partner64/pkg"
	"github.com/ardnew/partner64/protocol"
	"github.com/ardnew/partner64/queue"
)

// Bus is the part of [bus.Driver] the engine uses.
type Bus interface {
	ApplyControl(s bus.ControlState)
	Shift(n int, dir bus.Direction, data uint64) uint64
	Cycle(addr, data uint8, dir bus.Direction) uint8
	State() bus.ControlState
	Fault() error
}

// Engine decodes the command stream and executes it on the bus.
//
// Every bus access happens on the goroutine calling [Engine.Run] or
// [Engine.ProcessNext]. Other goroutines interact with the engine only
// through the queues, [Engine.Reset] and [Engine.Cycle].
type Engine struct {
	bus Bus
	rx  *queue.Queue
	tx  *queue.Queue
	enc *protocol.Encoder

	// Command being assembled from the stream.
	cmd     protocol.Command
	have    bool
	got     int
	payload [8]byte

	calls chan *call
	wake  chan struct{}

	resetPending atomic.Bool
	running      atomic.Bool
	seq          uint64

	commands  atomic.Uint64
	noops     atomic.Uint64
	bitsOut   atomic.Uint64
	bitsIn    atomic.Uint64
	cycles    atomic.Uint64
	resets    atomic.Uint64
	responses atomic.Uint64

	mutex    sync.RWMutex
	observer Observer
}

// New creates an engine that reads commands from rx and writes responses
// to tx.
func New(b Bus, rx, tx *queue.Queue) (*Engine, error) {
	if b == nil || rx == nil || tx == nil {
		return nil, fmt.Errorf("engine: %w", pkg.ErrNotConfigured)
	}
	return &Engine{
		bus:   b,
		rx:    rx,
		tx:    tx,
		enc:   protocol.NewEncoder(tx),
		calls: make(chan *call),
		wake:  make(chan struct{}, 1),
	}, nil
}

// RX returns the command queue.
func (e *Engine) RX() *queue.Queue {
	return e.rx
}

// TX returns the response queue.
func (e *Engine) TX() *queue.Queue {
	return e.tx
}

// SetObserver installs a callback invoked after every executed command and
// cycle. It runs on the engine goroutine and must not block for long.
func (e *Engine) SetObserver(o Observer) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.observer = o
}

// Run executes commands until ctx is done, the command queue is closed, or
// the bus reports a timing fault. A timing fault is returned as
// [pkg.ErrTimingViolation] and leaves the bus in an unknown state.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return pkg.ErrAlreadyRunning
	}
	defer e.running.Store(false)

	pkg.LogInfo(pkg.ComponentEngine, "engine started")
	for {
		if err := e.ProcessNext(ctx); err != nil {
			pkg.LogInfo(pkg.ComponentEngine, "engine stopped", "error", err)
			return err
		}
	}
}

// ProcessNext executes exactly one command from the stream, waiting for it
// to arrive. Pending resets and cycle requests are served while waiting.
// No-op bytes count as commands.
func (e *Engine) ProcessNext(ctx context.Context) error {
	for {
		e.serviceReset()
		if e.fill() {
			return e.execute(ctx)
		}
		if e.rx.Closed() && e.rx.Len() == 0 {
			return pkg.ErrClosed
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.wake:
		case c := <-e.calls:
			if err := e.serve(c); err != nil {
				return err
			}
		case <-e.rx.Readable():
		case <-e.rx.Done():
		}
	}
}

// Reset discards both queues and any partly received command, then has the
// engine drive the safe control state before it executes anything else. It
// may be called from any goroutine and does not wait for the engine.
func (e *Engine) Reset() {
	dropped := e.rx.Reset() + e.tx.Reset()
	e.resetPending.Store(true)
	select {
	case e.wake <- struct{}{}:
	default:
	}
	pkg.LogInfo(pkg.ComponentEngine, "reset requested", "discarded", dropped)
}

// serviceReset completes a pending reset on the engine goroutine.
func (e *Engine) serviceReset() {
	if !e.resetPending.Swap(false) {
		return
	}
	e.have = false
	e.got = 0
	// Drop responses pushed by a command that was executing when the reset
	// arrived. Only this goroutine produces responses.
	e.tx.Reset()
	e.bus.ApplyControl(bus.SafeState)
	e.resets.Add(1)
	pkg.LogDebug(pkg.ComponentEngine, "bus returned to safe state")
}

// fill moves bytes from the command queue into the pending command and
// reports whether a complete command is ready. It never blocks.
func (e *Engine) fill() bool {
	for {
		if e.have && e.got == e.cmd.PayloadLen() {
			return true
		}
		b, ok := e.rx.TryPop()
		if !ok {
			return false
		}
		if !e.have {
			e.cmd = protocol.Decode(b)
			e.have = true
			e.got = 0
			continue
		}
		e.payload[e.got] = b
		e.got++
	}
}

// execute runs the assembled command.
func (e *Engine) execute(ctx context.Context) error {
	cmd := e.cmd
	e.have = false
	e.seq++
	e.commands.Add(1)

	rec := Record{
		Seq:     e.seq,
		Source:  SourceStream,
		Command: cmd,
	}

	switch cmd.Kind {
	case protocol.KindControl:
		e.bus.ApplyControl(cmd.Control)

	case protocol.KindShift:
		if cmd.Dir == bus.DirWrite {
			rec.Data = cmd.UnpackPayload(e.payload[:e.got])
			e.bus.Shift(cmd.Bits, bus.DirWrite, rec.Data)
			e.bitsOut.Add(uint64(cmd.Bits))
		} else {
			rec.Data = e.bus.Shift(cmd.Bits, bus.DirRead, 0)
			e.bitsIn.Add(uint64(cmd.Bits))
		}

	default:
		e.noops.Add(1)
	}

	if err := e.checkFault(); err != nil {
		return err
	}
	rec.State = e.bus.State()

	if cmd.ResponseLen() > 0 {
		err := e.enc.Encode(ctx, cmd.Bits, rec.Data)
		switch {
		case errors.Is(err, pkg.ErrReset):
			pkg.LogDebug(pkg.ComponentEngine, "responses discarded by reset",
				"command", cmd)
		case err != nil:
			return fmt.Errorf("push response: %w", err)
		default:
			e.responses.Add(uint64(cmd.Bits))
		}
	}

	e.notify(rec)
	return nil
}

func (e *Engine) checkFault() error {
	if err := e.bus.Fault(); err != nil {
		pkg.LogError(pkg.ComponentEngine, "bus fault", "error", err,
			"state", e.bus.State())
		return fmt.Errorf("engine: %w", pkg.ErrTimingViolation)
	}
	return nil
}

func (e *Engine) notify(rec Record) {
	e.mutex.RLock()
	o := e.observer
	e.mutex.RUnlock()
	if o == nil {
		return
	}
	rec.At = time.Now()
	o(rec)
}
