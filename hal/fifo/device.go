package fifo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ardnew/partner64/hal"
	"github.com/ardnew/partner64/pkg"
)

// HAL implements hal.DeviceHAL over named pipes. Each instance creates its
// own device-{uuid} directory under the bus directory.
type HAL struct {
	busDir    string
	deviceDir string
	id        uuid.UUID

	endpoints []hal.EndpointConfig

	hostToDevice *os.File
	deviceToHost *os.File
	connection   *os.File
	pipes        map[uint8]*os.File

	connected atomic.Bool

	mutex     sync.RWMutex
	ep0Mutex  sync.Mutex // Serializes EP0 frames to the host
	initDone  bool
	connectCh chan struct{}
	disconnCh chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once

	setupBuf [headerSize + maxPayload]byte
	ep0Buf   [headerSize + maxPayload]byte
	outData  []byte // OUT data stage carried by the last SETUP frame
}

// New creates a HAL rooted at busDir that exposes the given data endpoints.
// With none, the bridge bulk pair is used.
func New(busDir string, endpoints ...hal.EndpointConfig) *HAL {
	if len(endpoints) == 0 {
		endpoints = hal.BridgeEndpoints
	}
	return &HAL{
		busDir:    busDir,
		endpoints: endpoints,
		pipes:     make(map[uint8]*os.File),
		connectCh: make(chan struct{}, 1),
		disconnCh: make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
	}
}

// Init creates the device directory and its pipes.
func (h *HAL) Init(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.initDone {
		return pkg.ErrAlreadyRunning
	}

	h.id = uuid.New()
	h.deviceDir = filepath.Join(h.busDir, "device-"+h.id.String())
	if err := os.MkdirAll(h.deviceDir, 0o755); err != nil {
		return fmt.Errorf("create device dir: %w", err)
	}

	names := []string{fifoHostToDevice, fifoDeviceToHost, fifoConnection}
	for _, ep := range h.endpoints {
		names = append(names, endpointPipe(ep.Address))
	}
	for _, name := range names {
		if err := mkfifo(h.deviceDir, name); err != nil {
			h.cleanup()
			return fmt.Errorf("mkfifo %s: %w", name, err)
		}
	}

	// Every pipe is opened read-write so neither side blocks in open and
	// the host can attach at any time.
	var err error
	open := func(name string) *os.File {
		if err != nil {
			return nil
		}
		var f *os.File
		f, err = openPipe(h.deviceDir, name, os.O_RDWR)
		if err != nil {
			err = fmt.Errorf("open %s: %w", name, err)
		}
		return f
	}
	h.hostToDevice = open(fifoHostToDevice)
	h.deviceToHost = open(fifoDeviceToHost)
	h.connection = open(fifoConnection)
	for _, ep := range h.endpoints {
		if f := open(endpointPipe(ep.Address)); f != nil {
			h.pipes[ep.Address] = f
		}
	}
	if err != nil {
		h.cleanup()
		return err
	}

	h.initDone = true
	pkg.LogInfo(pkg.ComponentHAL, "fifo device HAL initialized",
		"deviceDir", h.deviceDir,
		"endpoints", len(h.endpoints))
	return nil
}

// Start signals the host that the device is attached.
func (h *HAL) Start() error {
	h.mutex.RLock()
	ready := h.initDone
	conn := h.connection
	h.mutex.RUnlock()
	if !ready {
		return pkg.ErrNotConfigured
	}

	if _, err := conn.Write([]byte{sigConnect}); err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "failed to signal connection", "error", err)
	}
	h.connected.Store(true)
	select {
	case h.connectCh <- struct{}{}:
	default:
	}

	pkg.LogInfo(pkg.ComponentHAL, "fifo device HAL started")
	return nil
}

// Stop signals disconnection, unblocks pending calls and removes the device
// directory.
func (h *HAL) Stop() error {
	h.mutex.RLock()
	if h.connection != nil {
		h.connection.Write([]byte{sigDisconnect})
	}
	h.mutex.RUnlock()

	h.connected.Store(false)
	select {
	case h.disconnCh <- struct{}{}:
	default:
	}
	h.closeOnce.Do(func() { close(h.closeCh) })

	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.cleanup()
	h.initDone = false

	pkg.LogInfo(pkg.ComponentHAL, "fifo device HAL stopped")
	return nil
}

func (h *HAL) cleanup() {
	for _, f := range []*os.File{h.hostToDevice, h.deviceToHost, h.connection} {
		if f != nil {
			f.Close()
		}
	}
	h.hostToDevice, h.deviceToHost, h.connection = nil, nil, nil
	for addr, f := range h.pipes {
		f.Close()
		delete(h.pipes, addr)
	}
	if h.deviceDir != "" {
		os.RemoveAll(h.deviceDir)
	}
}

// ConfigureEndpoints checks that every requested endpoint has a pipe.
func (h *HAL) ConfigureEndpoints(endpoints []hal.EndpointConfig) error {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for _, ep := range endpoints {
		if _, ok := h.pipes[ep.Address]; !ok {
			return fmt.Errorf("endpoint %#02x: %w", ep.Address, pkg.ErrInvalidEndpoint)
		}
	}
	pkg.LogDebug(pkg.ComponentHAL, "endpoints configured", "count", len(endpoints))
	return nil
}

// ReadSetup waits for the next SETUP frame. A reset frame is acknowledged
// and reported as pkg.ErrReset.
func (h *HAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	h.mutex.RLock()
	f := h.hostToDevice
	h.mutex.RUnlock()
	if f == nil {
		return pkg.ErrNotConfigured
	}

	for {
		typ, payload, err := readFrame(ctx, h.closeCh, f, h.setupBuf[:])
		if err != nil {
			return err
		}

		switch typ {
		case msgSetup:
			if !hal.ParseSetupPacket(payload, out) {
				return pkg.ErrSetupPacketTooShort
			}
			h.outData = payload[hal.SetupPacketSize:]
			pkg.LogDebug(pkg.ComponentHAL, "setup received",
				"reqType", out.RequestType,
				"req", out.Request,
				"value", out.Value,
				"length", out.Length)
			return nil

		case msgReset:
			if err := h.AckEP0(); err != nil {
				pkg.LogWarn(pkg.ComponentHAL, "failed to acknowledge bus reset", "error", err)
			}
			pkg.LogDebug(pkg.ComponentHAL, "bus reset received")
			return pkg.ErrReset

		default:
			pkg.LogWarn(pkg.ComponentHAL, "unexpected message on EP0", "type", typ)
		}
	}
}

// WriteEP0 sends the IN data stage.
func (h *HAL) WriteEP0(ctx context.Context, data []byte) error {
	return h.sendEP0(ctx, msgData, data)
}

// ReadEP0 returns the OUT data stage, which arrives inside the SETUP frame.
func (h *HAL) ReadEP0(ctx context.Context, buf []byte) (int, error) {
	n := copy(buf, h.outData)
	h.outData = nil
	return n, nil
}

// StallEP0 rejects the current control transfer.
func (h *HAL) StallEP0() error {
	pkg.LogDebug(pkg.ComponentHAL, "EP0 stalled")
	return h.sendEP0(context.Background(), msgStall, nil)
}

// AckEP0 sends the status stage.
func (h *HAL) AckEP0() error {
	return h.sendEP0(context.Background(), msgAck, nil)
}

func (h *HAL) sendEP0(ctx context.Context, typ byte, data []byte) error {
	h.mutex.RLock()
	f := h.deviceToHost
	h.mutex.RUnlock()
	if f == nil {
		return pkg.ErrNotConfigured
	}

	h.ep0Mutex.Lock()
	defer h.ep0Mutex.Unlock()
	return writeFrame(ctx, h.closeCh, f, h.ep0Buf[:], typ, data)
}

// Read receives one packet from an OUT endpoint. Callers must not share an
// endpoint between goroutines.
func (h *HAL) Read(ctx context.Context, address uint8, buf []byte) (int, error) {
	f, err := h.pipe(address, false)
	if err != nil {
		return 0, err
	}

	var frame [headerSize + maxPayload]byte
	typ, payload, err := readFrame(ctx, h.closeCh, f, frame[:])
	if err != nil {
		return 0, err
	}
	if typ != msgData {
		return 0, pkg.ErrProtocol
	}
	if len(payload) > len(buf) {
		return 0, pkg.ErrBufferTooSmall
	}
	return copy(buf, payload), nil
}

// Write sends one packet on an IN endpoint.
func (h *HAL) Write(ctx context.Context, address uint8, data []byte) (int, error) {
	f, err := h.pipe(address, true)
	if err != nil {
		return 0, err
	}

	var frame [headerSize + maxPayload]byte
	if err := writeFrame(ctx, h.closeCh, f, frame[:], msgData, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (h *HAL) pipe(address uint8, in bool) (*os.File, error) {
	if (address&0x80 != 0) != in || address&0x0F == 0 {
		return nil, pkg.ErrInvalidEndpoint
	}
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	f, ok := h.pipes[address]
	if !ok {
		return nil, pkg.ErrInvalidEndpoint
	}
	return f, nil
}

// IsConnected reports whether Start has been called without a later Stop.
func (h *HAL) IsConnected() bool {
	return h.connected.Load()
}

// WaitConnect blocks until Start.
func (h *HAL) WaitConnect(ctx context.Context) error {
	if h.IsConnected() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.connectCh:
		return nil
	case <-h.closeCh:
		return pkg.ErrCancelled
	}
}

// WaitDisconnect blocks until Stop.
func (h *HAL) WaitDisconnect(ctx context.Context) error {
	if !h.IsConnected() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.disconnCh:
		return nil
	case <-h.closeCh:
		return nil
	}
}

// DeviceDir returns the device directory created by Init.
func (h *HAL) DeviceDir() string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.deviceDir
}

// ID returns the device's identifier.
func (h *HAL) ID() uuid.UUID {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.id
}

var _ hal.DeviceHAL = (*HAL)(nil)
