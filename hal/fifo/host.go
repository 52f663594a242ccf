package fifo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ardnew/partner64/hal"
	"github.com/ardnew/partner64/pkg"
)

// ErrNoDevice indicates no device directory appeared on the bus.
var ErrNoDevice = errors.New("no device available")

// discoverInterval is how often Dial rescans the bus directory.
const discoverInterval = 50 * time.Millisecond

// Host is the host end of a fifo HAL device: it issues control requests and
// moves bulk packets the way a USB host would.
type Host struct {
	dir string

	hostToDevice *os.File
	deviceToHost *os.File
	pipes        map[uint8]*os.File

	mutex    sync.Mutex // Serializes control transfers
	ctrlBuf  [headerSize + maxPayload]byte
	closeCh  chan struct{}
	closeOne sync.Once
}

// Dial waits for a device directory to appear under busDir and opens its
// pipes.
func Dial(ctx context.Context, busDir string, endpoints ...hal.EndpointConfig) (*Host, error) {
	if len(endpoints) == 0 {
		endpoints = hal.BridgeEndpoints
	}
	ticker := time.NewTicker(discoverInterval)
	defer ticker.Stop()
	for {
		matches, _ := filepath.Glob(filepath.Join(busDir, "device-*"))
		for _, dir := range matches {
			if h, err := Open(dir, endpoints...); err == nil {
				return h, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrNoDevice, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Open attaches to the device directory dir.
func Open(dir string, endpoints ...hal.EndpointConfig) (*Host, error) {
	if len(endpoints) == 0 {
		endpoints = hal.BridgeEndpoints
	}
	h := &Host{
		dir:     dir,
		pipes:   make(map[uint8]*os.File),
		closeCh: make(chan struct{}),
	}

	var err error
	if h.hostToDevice, err = openPipe(dir, fifoHostToDevice, os.O_WRONLY); err != nil {
		return nil, fmt.Errorf("open %s: %w", fifoHostToDevice, err)
	}
	if h.deviceToHost, err = openPipe(dir, fifoDeviceToHost, os.O_RDONLY); err != nil {
		h.Close()
		return nil, fmt.Errorf("open %s: %w", fifoDeviceToHost, err)
	}
	for _, ep := range endpoints {
		flag := os.O_WRONLY
		if ep.IsIn() {
			flag = os.O_RDONLY
		}
		f, err := openPipe(dir, endpointPipe(ep.Address), flag)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("open endpoint %#02x: %w", ep.Address, err)
		}
		h.pipes[ep.Address] = f
	}

	pkg.LogDebug(pkg.ComponentHAL, "host attached", "dir", dir)
	return h, nil
}

// Dir returns the device directory.
func (h *Host) Dir() string {
	return h.dir
}

// Control performs a control transfer. For IN requests up to len(data)
// bytes of the data stage are copied into data; for OUT requests data is
// sent as the data stage. A rejected request returns pkg.ErrStall.
func (h *Host) Control(ctx context.Context, setup *hal.SetupPacket, data []byte) (int, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var payload [maxPayload]byte
	n := setup.MarshalTo(payload[:])
	if !setup.IsIn() {
		n += copy(payload[n:], data)
	}
	if err := writeFrame(ctx, h.closeCh, h.hostToDevice, h.ctrlBuf[:], msgSetup, payload[:n]); err != nil {
		return 0, err
	}
	return h.status(ctx, data)
}

// Reset signals a bus reset and waits for the device to acknowledge it.
func (h *Host) Reset(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if err := writeFrame(ctx, h.closeCh, h.hostToDevice, h.ctrlBuf[:], msgReset, nil); err != nil {
		return err
	}
	_, err := h.status(ctx, nil)
	return err
}

func (h *Host) status(ctx context.Context, data []byte) (int, error) {
	typ, payload, err := readFrame(ctx, h.closeCh, h.deviceToHost, h.ctrlBuf[:])
	if err != nil {
		return 0, err
	}
	switch typ {
	case msgData:
		return copy(data, payload), nil
	case msgAck:
		return 0, nil
	case msgStall:
		return 0, pkg.ErrStall
	default:
		return 0, pkg.ErrProtocol
	}
}

// BulkOut sends data to an OUT endpoint in packets of at most maxPacket
// bytes.
func (h *Host) BulkOut(ctx context.Context, address uint8, data []byte, maxPacket int) error {
	f, ok := h.pipes[address]
	if !ok || address&0x80 != 0 {
		return pkg.ErrInvalidEndpoint
	}
	if maxPacket <= 0 {
		return pkg.ErrInvalidParameter
	}
	var frame [headerSize + maxPayload]byte
	for len(data) > 0 {
		n := min(len(data), maxPacket)
		if err := writeFrame(ctx, h.closeCh, f, frame[:], msgData, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// BulkIn receives one packet from an IN endpoint.
func (h *Host) BulkIn(ctx context.Context, address uint8, buf []byte) (int, error) {
	f, ok := h.pipes[address]
	if !ok || address&0x80 == 0 {
		return 0, pkg.ErrInvalidEndpoint
	}
	var frame [headerSize + maxPayload]byte
	typ, payload, err := readFrame(ctx, h.closeCh, f, frame[:])
	if err != nil {
		return 0, err
	}
	if typ != msgData {
		return 0, pkg.ErrProtocol
	}
	return copy(buf, payload), nil
}

// Close releases the pipes.
func (h *Host) Close() error {
	h.closeOne.Do(func() { close(h.closeCh) })
	for _, f := range []*os.File{h.hostToDevice, h.deviceToHost} {
		if f != nil {
			f.Close()
		}
	}
	for _, f := range h.pipes {
		f.Close()
	}
	return nil
}
