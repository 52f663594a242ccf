package fifo

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ardnew/partner64/pkg"
)

// Message types shared by both ends of the pipes.
const (
	msgSetup = 0x01 // SETUP packet, optionally followed by OUT data
	msgData  = 0x02 // Data packet
	msgAck   = 0x03 // Zero-length status stage
	msgStall = 0x05 // Control request rejected
	msgReset = 0x12 // Bus reset from the host
)

// Connection signal bytes written by the device.
const (
	sigConnect    = 0x01
	sigDisconnect = 0x00
)

// Pipe names inside a device directory.
const (
	fifoHostToDevice = "host_to_device"
	fifoDeviceToHost = "device_to_host"
	fifoConnection   = "connection"
)

// headerSize is the frame header: type (1) + little-endian length (2).
const headerSize = 3

// maxPayload bounds a frame payload. A SETUP frame carries the setup packet
// plus at most one control data stage.
const maxPayload = 1024

// pollInterval bounds how long a pipe read or write waits before checking
// for cancellation.
const pollInterval = 100 * time.Millisecond

func endpointPipe(address uint8) string {
	if address&0x80 != 0 {
		return fmt.Sprintf("ep%d_in", address&0x0F)
	}
	return fmt.Sprintf("ep%d_out", address&0x0F)
}

func mkfifo(dir, name string) error {
	path := filepath.Join(dir, name)
	os.Remove(path)
	return syscall.Mkfifo(path, 0o666)
}

func openPipe(dir, name string, flag int) (*os.File, error) {
	return os.OpenFile(filepath.Join(dir, name), flag|syscall.O_NONBLOCK, 0)
}

// readFull reads exactly len(buf) bytes, polling for cancellation.
func readFull(ctx context.Context, done <-chan struct{}, f *os.File, buf []byte) error {
	total := 0
	for total < len(buf) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return pkg.ErrCancelled
		default:
		}

		f.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := f.Read(buf[total:])
		total += n
		if err != nil && !os.IsTimeout(err) {
			return err
		}
	}
	return nil
}

// readFrame reads one frame into buf and returns its type and payload.
func readFrame(ctx context.Context, done <-chan struct{}, f *os.File, buf []byte) (byte, []byte, error) {
	if err := readFull(ctx, done, f, buf[:headerSize]); err != nil {
		return 0, nil, err
	}
	typ := buf[0]
	n := int(binary.LittleEndian.Uint16(buf[1:headerSize]))
	if n > len(buf)-headerSize {
		return 0, nil, pkg.ErrBufferTooSmall
	}
	payload := buf[headerSize : headerSize+n]
	if err := readFull(ctx, done, f, payload); err != nil {
		return 0, nil, err
	}
	return typ, payload, nil
}

// writeFrame writes one frame, polling for cancellation while the pipe is
// full. The frame is assembled in scratch, which must hold the header and
// payload.
func writeFrame(ctx context.Context, done <-chan struct{}, f *os.File, scratch []byte, typ byte, payload []byte) error {
	if headerSize+len(payload) > len(scratch) {
		return pkg.ErrBufferTooSmall
	}
	scratch[0] = typ
	binary.LittleEndian.PutUint16(scratch[1:headerSize], uint16(len(payload)))
	n := headerSize + copy(scratch[headerSize:], payload)

	written := 0
	for written < n {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return pkg.ErrCancelled
		default:
		}

		f.SetWriteDeadline(time.Now().Add(pollInterval))
		m, err := f.Write(scratch[written:n])
		written += m
		if err != nil && !os.IsTimeout(err) {
			return err
		}
	}
	return nil
}
