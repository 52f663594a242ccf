package capture

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/ardnew/partner64/hal"
	"github.com/ardnew/partner64/pkg"
	"github.com/ardnew/partner64/protocol"
	"github.com/ardnew/partner64/transport"
)

// HeaderSize is the usbmon mmapped header preceding each event's data.
const HeaderSize = 64

// Snaplen is the capture length written to the file header.
const Snaplen = 65535

// statusPipe is -EPIPE, reported by usbmon for a stalled endpoint.
const statusPipe = -32

// Header flag values for a missing setup or data stage.
const (
	setupAbsent = '-'
	dataAbsent  = '<'
)

// Writer encodes transport packets as usbmon events. It is safe for
// concurrent use; its Tap method can be installed directly on a transport.
type Writer struct {
	mutex  sync.Mutex
	w      *pcapgo.Writer
	flush  func() error
	closer io.Closer

	Bus    uint16 // usbmon bus number
	Device uint8  // usbmon device address

	id     uint64
	events int
	err    error
	buf    []byte
}

// NewWriter writes the pcap file header to w and returns a Writer.
func NewWriter(w io.Writer) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(Snaplen, layers.LinkTypeLinuxUSB); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Writer{w: pw, Bus: 1, Device: 1}, nil
}

// Create opens path for writing and returns a buffered Writer that owns the
// file until Close.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriter(f)
	w, err := NewWriter(bw)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.flush = bw.Flush
	w.closer = f
	pkg.LogInfo(pkg.ComponentCapture, "capture started", "path", path)
	return w, nil
}

// Tap records p, keeping the first write error for Err. Its signature
// matches transport.Tap.
func (w *Writer) Tap(p transport.Packet) {
	if err := w.WriteTransfer(p); err != nil {
		pkg.LogWarn(pkg.ComponentCapture, "capture write failed", "error", err)
	}
}

var _ transport.Tap = (*Writer)(nil).Tap

// WriteTransfer appends the submit and complete events for one transfer.
// Bus resets have no usbmon representation and are skipped.
func (w *Writer) WriteTransfer(p transport.Packet) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.err != nil {
		return w.err
	}
	if p.Reset {
		return nil
	}

	w.id++
	var err error
	switch {
	case p.Setup != nil:
		err = w.control(p)
	case p.Endpoint&0x80 != 0:
		err = w.bulkIn(p)
	default:
		err = w.bulkOut(p)
	}
	if err != nil {
		w.err = err
	}
	return err
}

func (w *Writer) bulkOut(p transport.Packet) error {
	ev := event{typ: layers.USBEventTypeSubmit, xfer: layers.USBTransportTypeBulk, ep: p.Endpoint, length: len(p.Data)}
	if err := w.write(p, ev, nil, p.Data); err != nil {
		return err
	}
	ev.typ = layers.USBEventTypeComplete
	return w.write(p, ev, nil, nil)
}

func (w *Writer) bulkIn(p transport.Packet) error {
	ev := event{typ: layers.USBEventTypeSubmit, xfer: layers.USBTransportTypeBulk, ep: p.Endpoint, length: protocol.MaxPacketSize}
	if err := w.write(p, ev, nil, nil); err != nil {
		return err
	}
	ev.typ = layers.USBEventTypeComplete
	ev.length = len(p.Data)
	return w.write(p, ev, nil, p.Data)
}

func (w *Writer) control(p transport.Packet) error {
	var ep uint8
	if p.Setup.IsIn() {
		ep = 0x80
	}
	// OUT data stages travel with the submission, IN data with the
	// completion.
	var out, in []byte
	if p.Setup.IsIn() {
		in = p.Data
	} else {
		out = p.Data
	}
	ev := event{typ: layers.USBEventTypeSubmit, xfer: layers.USBTransportTypeControl, ep: ep, length: int(p.Setup.Length)}
	if err := w.write(p, ev, p.Setup, out); err != nil {
		return err
	}
	ev.typ = layers.USBEventTypeComplete
	ev.length = len(p.Data)
	if p.Stalled {
		ev.status = statusPipe
		ev.length = 0
		return w.write(p, ev, nil, nil)
	}
	return w.write(p, ev, nil, in)
}

type event struct {
	typ    layers.USBEventType
	xfer   layers.USBTransportType
	ep     uint8
	status int32
	length int
}

func (w *Writer) write(p transport.Packet, ev event, setup *hal.SetupPacket, data []byte) error {
	n := HeaderSize + len(data)
	if cap(w.buf) < n {
		w.buf = make([]byte, n)
	}
	b := w.buf[:n]
	clear(b[:HeaderSize])

	binary.LittleEndian.PutUint64(b[0:8], w.id)
	b[8] = byte(ev.typ)
	b[9] = byte(ev.xfer)
	b[10] = ev.ep
	b[11] = w.Device
	binary.LittleEndian.PutUint16(b[12:14], w.Bus)
	b[14] = setupAbsent
	if setup != nil {
		b[14] = 0
		setup.MarshalTo(b[40:48])
	}
	b[15] = dataAbsent
	if len(data) > 0 {
		b[15] = 0
	}
	binary.LittleEndian.PutUint64(b[16:24], uint64(p.Time.Unix()))
	binary.LittleEndian.PutUint32(b[24:28], uint32(p.Time.Nanosecond()/1000))
	binary.LittleEndian.PutUint32(b[28:32], uint32(ev.status))
	binary.LittleEndian.PutUint32(b[32:36], uint32(ev.length))
	binary.LittleEndian.PutUint32(b[36:40], uint32(len(data)))
	copy(b[HeaderSize:], data)

	ci := gopacket.CaptureInfo{Timestamp: p.Time, CaptureLength: n, Length: n}
	if err := w.w.WritePacket(ci, b); err != nil {
		return err
	}
	w.events++
	return nil
}

// Events returns the number of usbmon events written.
func (w *Writer) Events() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.events
}

// Err returns the first write error, if any.
func (w *Writer) Err() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.err
}

// Close flushes buffered events and closes the file opened by Create.
func (w *Writer) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	var err error
	if w.flush != nil {
		err = w.flush()
	}
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	w.flush, w.closer = nil, nil
	return err
}
