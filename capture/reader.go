package capture

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/ardnew/partner64/hal"
	"github.com/ardnew/partner64/pkg"
)

// Event is one decoded usbmon record.
type Event struct {
	Time     time.Time
	ID       uint64
	Type     layers.USBEventType
	Transfer layers.USBTransportType
	Endpoint uint8 // Endpoint address including the direction bit
	Setup    *hal.SetupPacket
	Status   int32
	Length   uint32 // URB length
	Data     []byte
}

func (e Event) String() string {
	return fmt.Sprintf("%c %s ep=%#02x len=%d status=%d data=% x",
		byte(e.Type), e.Transfer, e.Endpoint, e.Length, e.Status, e.Data)
}

// ReadEvents decodes every event in a capture written by Writer.
func ReadEvents(r io.Reader) ([]Event, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, err
	}
	if pr.LinkType() != layers.LinkTypeLinuxUSB {
		return nil, fmt.Errorf("link type %s: %w", pr.LinkType(), pkg.ErrProtocol)
	}

	var events []Event
	for {
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		ev, err := decode(data)
		if err != nil {
			return events, err
		}
		ev.Time = ci.Timestamp
		events = append(events, ev)
	}
}

func decode(data []byte) (Event, error) {
	if len(data) < HeaderSize {
		return Event{}, fmt.Errorf("event of %d bytes: %w", len(data), pkg.ErrProtocol)
	}
	p := gopacket.NewPacket(data, layers.LinkTypeLinuxUSB, gopacket.Default)
	usb, ok := p.Layer(layers.LayerTypeUSB).(*layers.USB)
	if !ok {
		return Event{}, fmt.Errorf("no usb layer: %w", pkg.ErrProtocol)
	}

	ev := Event{
		ID:       usb.ID,
		Type:     usb.EventType,
		Transfer: usb.TransferType,
		Endpoint: usb.EndpointNumber,
		Status:   usb.Status,
		Length:   usb.UrbLength,
	}
	if usb.Direction == layers.USBDirectionTypeIn {
		ev.Endpoint |= 0x80
	}
	if usb.Setup {
		if s, ok := p.Layer(layers.LayerTypeUSBRequestBlockSetup).(*layers.USBRequestBlockSetup); ok {
			ev.Setup = &hal.SetupPacket{
				RequestType: s.RequestType,
				Request:     uint8(s.Request),
				Value:       s.Value,
				Index:       s.Index,
				Length:      s.Length,
			}
		}
	}
	if n := int(usb.UrbDataLength); usb.Data && n > 0 && HeaderSize+n <= len(data) {
		ev.Data = append([]byte(nil), data[HeaderSize:HeaderSize+n]...)
	}
	return ev, nil
}
