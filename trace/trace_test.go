package trace

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/partner64/bridge"
	"github.com/ardnew/partner64/bus"
	"github.com/ardnew/partner64/bus/sim"
	"github.com/ardnew/partner64/protocol"
	"github.com/ardnew/partner64/queue"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndQueryOperations(t *testing.T) {
	s := openStore(t)
	id, err := s.StartSession("usb", "unit")
	require.NoError(t, err)

	at := time.Unix(1700000000, 42)
	recs := []bridge.Record{
		{Seq: 1, At: at, Command: protocol.Decode(0x81), State: bus.ControlALEL},
		{Seq: 2, At: at, Command: protocol.Decode(0x43), Data: 0x5, State: bus.ControlALEL},
		{Seq: 3, At: at, Command: protocol.Decode(0xC8), Data: 0xA5, State: bus.ControlALEL},
		{Seq: 4, At: at, Command: protocol.Decode(0x00)},
		{Seq: 5, At: at, Source: bridge.SourceCycle, Addr: 0x12, Dir: bus.DirRead, Data: 0x34},
	}
	require.NoError(t, s.Insert(id, recs))

	ops, err := s.Operations(id, 0)
	require.NoError(t, err)
	require.Len(t, ops, len(recs))

	assert.Equal(t, "control", ops[0].Kind)
	require.NotNil(t, ops[0].Raw)
	assert.Equal(t, uint8(0x81), *ops[0].Raw)
	assert.Equal(t, bus.ControlALEL, ops[0].State)
	assert.Nil(t, ops[0].Addr)
	assert.True(t, ops[0].At.Equal(at))

	assert.Equal(t, "shift", ops[1].Kind)
	assert.Equal(t, "write", ops[1].Dir)
	assert.Equal(t, 3, ops[1].Bits)
	assert.Equal(t, uint64(0x5), ops[1].Data)

	assert.Equal(t, "read", ops[2].Dir)
	assert.Equal(t, "noop", ops[3].Kind)

	cycle := ops[4]
	assert.Equal(t, "cycle", cycle.Source)
	assert.Nil(t, cycle.Raw)
	require.NotNil(t, cycle.Addr)
	assert.Equal(t, uint8(0x12), *cycle.Addr)
	assert.Equal(t, "read", cycle.Dir)

	limited, err := s.Operations(id, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	sum, err := s.Summarize(id)
	require.NoError(t, err)
	assert.Equal(t, "usb", sum.Transport)
	assert.True(t, sum.Ended.IsZero())
	assert.Equal(t, uint64(4), sum.Commands)
	assert.Equal(t, uint64(1), sum.NoOps)
	assert.Equal(t, uint64(1), sum.Cycles)
	assert.Equal(t, uint64(3), sum.BitsOut)
	assert.Equal(t, uint64(8), sum.BitsIn)

	require.NoError(t, s.EndSession(id, 7))
	sum, err = s.Summarize(id)
	require.NoError(t, err)
	assert.False(t, sum.Ended.IsZero())
	assert.Equal(t, uint64(7), sum.Dropped)
}

func TestSessionsAreIsolated(t *testing.T) {
	s := openStore(t)
	a, err := s.StartSession("usb", "")
	require.NoError(t, err)
	b, err := s.StartSession("serial", "")
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	require.NoError(t, s.Insert(a, []bridge.Record{{Seq: 1, Command: protocol.Decode(0x80)}}))
	ops, err := s.Operations(b, 0)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestSummarizeUnknownSession(t *testing.T) {
	s := openStore(t)
	_, err := s.Summarize(99)
	assert.Error(t, err)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")
	s, err := Open(path)
	require.NoError(t, err)
	id, err := s.StartSession("usb", "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// The schema is idempotent and earlier sessions survive a reopen.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Summarize(id)
	assert.NoError(t, err)
}

func TestRecorderObservesEngine(t *testing.T) {
	s := openStore(t)
	rec, err := NewRecorder(s, "sim", "loopback", 0)
	require.NoError(t, err)

	port, _ := sim.New(bus.DefaultPinMap)
	port.SetRecording(false)
	drv, err := bus.NewDriver(port, bus.DefaultPinMap, bus.DefaultTiming, port.Clock())
	require.NoError(t, err)
	drv.Init()
	engine, err := bridge.New(drv, queue.New(0), queue.New(0))
	require.NoError(t, err)
	engine.SetObserver(rec.Observe)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- rec.Run(ctx) }()

	stream, err := protocol.AppendShiftWrite([]byte{0x82}, 8, 0x3C)
	require.NoError(t, err)
	stream = append(stream, 0xC8, 0x00)
	engine.RX().Write(stream)

	pctx, pcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer pcancel()
	for engine.RX().Len() > 0 {
		require.NoError(t, engine.ProcessNext(pctx))
	}

	cancel()
	require.NoError(t, <-errc)
	<-rec.Done()
	assert.Equal(t, uint64(4), rec.Written())
	assert.Zero(t, rec.Dropped())

	ops, err := s.Operations(rec.Session(), 0)
	require.NoError(t, err)
	require.Len(t, ops, 4)
	assert.Equal(t, "control", ops[0].Kind)
	assert.Equal(t, uint64(0x3C), ops[1].Data)
	assert.Equal(t, uint64(0x3C), ops[2].Data, "loopback returns the written byte")
	assert.Equal(t, "noop", ops[3].Kind)
	for i := 1; i < len(ops); i++ {
		assert.Greater(t, ops[i].Seq, ops[i-1].Seq)
	}

	sum, err := s.Summarize(rec.Session())
	require.NoError(t, err)
	assert.False(t, sum.Ended.IsZero())
	assert.Equal(t, "sim", sum.Transport)
}

func TestRecorderDropsWhenFull(t *testing.T) {
	s := openStore(t)
	rec, err := NewRecorder(s, "sim", "", 2)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		rec.Observe(bridge.Record{Seq: uint64(i), Command: protocol.Decode(0x80)})
	}
	assert.Equal(t, uint64(3), rec.Dropped())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, rec.Run(ctx))
	assert.Equal(t, uint64(2), rec.Written())

	sum, err := s.Summarize(rec.Session())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), sum.Dropped)
	assert.Equal(t, uint64(2), sum.Commands)
}
