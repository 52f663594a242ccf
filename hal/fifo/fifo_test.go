package fifo

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/partner64/hal"
	"github.com/ardnew/partner64/pkg"
	"github.com/ardnew/partner64/protocol"
)

func attach(t *testing.T) (*HAL, *Host, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	busDir := t.TempDir()
	d := New(busDir)
	require.NoError(t, d.Init(ctx))
	require.NoError(t, d.Start())
	t.Cleanup(func() { d.Stop() })

	h, err := Dial(ctx, busDir)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return d, h, ctx
}

func TestEndpointPipe(t *testing.T) {
	assert.Equal(t, "ep2_out", endpointPipe(0x02))
	assert.Equal(t, "ep1_in", endpointPipe(0x81))
}

func TestInitCreatesDeviceDir(t *testing.T) {
	d, h, _ := attach(t)
	assert.Equal(t, d.DeviceDir(), h.Dir())
	assert.Equal(t, "device-"+d.ID().String(), filepath.Base(d.DeviceDir()))
	for _, name := range []string{fifoHostToDevice, fifoDeviceToHost, fifoConnection, "ep2_out", "ep1_in"} {
		info, err := os.Stat(filepath.Join(d.DeviceDir(), name))
		require.NoError(t, err, name)
		assert.Equal(t, os.ModeNamedPipe, info.Mode().Type(), name)
	}
	assert.True(t, d.IsConnected())
	assert.NoError(t, d.WaitConnect(context.Background()))
}

func TestInitTwice(t *testing.T) {
	d, _, ctx := attach(t)
	assert.ErrorIs(t, d.Init(ctx), pkg.ErrAlreadyRunning)
}

func TestConfigureEndpoints(t *testing.T) {
	d, _, _ := attach(t)
	require.NoError(t, d.ConfigureEndpoints(hal.BridgeEndpoints))
	err := d.ConfigureEndpoints([]hal.EndpointConfig{{Address: 0x83, Attributes: hal.TransferBulk, MaxPacketSize: 64}})
	assert.ErrorIs(t, err, pkg.ErrInvalidEndpoint)
}

func TestControlIn(t *testing.T) {
	d, h, ctx := attach(t)

	done := make(chan hal.SetupPacket, 1)
	go func() {
		var s hal.SetupPacket
		if err := d.ReadSetup(ctx, &s); err == nil {
			d.WriteEP0(ctx, []byte{0x34})
		}
		done <- s
	}()

	setup := &hal.SetupPacket{RequestType: 0xC0, Request: uint8(protocol.RequestRead), Value: 0x12, Length: 1}
	buf := make([]byte, 4)
	n, err := h.Control(ctx, setup, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x34}, buf[:n])
	assert.Equal(t, *setup, <-done)
}

func TestControlOutCarriesData(t *testing.T) {
	d, h, ctx := attach(t)

	got := make(chan []byte, 1)
	go func() {
		var s hal.SetupPacket
		if err := d.ReadSetup(ctx, &s); err != nil {
			got <- nil
			return
		}
		buf := make([]byte, 8)
		n, _ := d.ReadEP0(ctx, buf)
		got <- buf[:n]
		d.AckEP0()
	}()

	setup := &hal.SetupPacket{RequestType: 0x40, Request: 0x42, Length: 3}
	n, err := h.Control(ctx, setup, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []byte{1, 2, 3}, <-got)
}

func TestControlStall(t *testing.T) {
	d, h, ctx := attach(t)
	go func() {
		var s hal.SetupPacket
		if d.ReadSetup(ctx, &s) == nil {
			d.StallEP0()
		}
	}()

	_, err := h.Control(ctx, &hal.SetupPacket{RequestType: 0xC0, Request: 0x10, Length: 1}, make([]byte, 1))
	assert.ErrorIs(t, err, pkg.ErrStall)
}

func TestBusReset(t *testing.T) {
	d, h, ctx := attach(t)
	errc := make(chan error, 1)
	go func() {
		var s hal.SetupPacket
		errc <- d.ReadSetup(ctx, &s)
	}()

	require.NoError(t, h.Reset(ctx))
	assert.ErrorIs(t, <-errc, pkg.ErrReset)
}

func TestBusResetAckFailureLogged(t *testing.T) {
	var buf bytes.Buffer
	original := pkg.DefaultLogger
	defer func() { pkg.DefaultLogger = original }()
	pkg.SetLogOutput(&buf, pkg.LogFormatText)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d := New(t.TempDir())
	require.NoError(t, d.Init(ctx))
	t.Cleanup(func() { d.Stop() })

	var frame [headerSize]byte
	require.NoError(t, writeFrame(ctx, d.closeCh, d.hostToDevice, frame[:], msgReset, nil))

	// With the status pipe gone the acknowledgement cannot be sent.
	d.mutex.Lock()
	d.deviceToHost.Close()
	d.deviceToHost = nil
	d.mutex.Unlock()

	var s hal.SetupPacket
	assert.ErrorIs(t, d.ReadSetup(ctx, &s), pkg.ErrReset)
	assert.Contains(t, buf.String(), "failed to acknowledge bus reset")
}

func TestBulkTransfers(t *testing.T) {
	d, h, ctx := attach(t)

	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, h.BulkOut(ctx, protocol.EndpointOut, data, protocol.MaxPacketSize))

	var got []byte
	buf := make([]byte, protocol.MaxPacketSize)
	for len(got) < len(data) {
		n, err := d.Read(ctx, protocol.EndpointOut, buf)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, protocol.MaxPacketSize)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, data, got)

	n, err := d.Write(ctx, protocol.EndpointIn, []byte{1, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = h.BulkIn(ctx, protocol.EndpointIn, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 1}, buf[:n])
}

func TestBulkEndpointChecks(t *testing.T) {
	d, h, ctx := attach(t)

	_, err := d.Read(ctx, protocol.EndpointIn, make([]byte, 8))
	assert.ErrorIs(t, err, pkg.ErrInvalidEndpoint)
	_, err = d.Write(ctx, protocol.EndpointOut, []byte{0})
	assert.ErrorIs(t, err, pkg.ErrInvalidEndpoint)
	_, err = d.Write(ctx, 0x83, []byte{0})
	assert.ErrorIs(t, err, pkg.ErrInvalidEndpoint)

	assert.ErrorIs(t, h.BulkOut(ctx, protocol.EndpointIn, []byte{0}, 64), pkg.ErrInvalidEndpoint)
	assert.ErrorIs(t, h.BulkOut(ctx, protocol.EndpointOut, []byte{0}, 0), pkg.ErrInvalidParameter)
	_, err = h.BulkIn(ctx, protocol.EndpointOut, make([]byte, 8))
	assert.ErrorIs(t, err, pkg.ErrInvalidEndpoint)
}

func TestReadHonorsContext(t *testing.T) {
	d, _, _ := attach(t)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err := d.Read(ctx, protocol.EndpointOut, make([]byte, 64))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStopUnblocksAndCleansUp(t *testing.T) {
	d, _, ctx := attach(t)
	dir := d.DeviceDir()

	errc := make(chan error, 1)
	go func() {
		_, err := d.Read(ctx, protocol.EndpointOut, make([]byte, 64))
		errc <- err
	}()

	waitc := make(chan error, 1)
	go func() { waitc <- d.WaitDisconnect(ctx) }()

	require.NoError(t, d.Stop())
	assert.NoError(t, <-waitc)
	assert.Error(t, <-errc)
	assert.False(t, d.IsConnected())
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestDialTimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	_, err := Dial(ctx, t.TempDir())
	assert.ErrorIs(t, err, ErrNoDevice)
}
