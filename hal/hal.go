package hal

import (
	"context"
	"encoding/binary"

	"github.com/ardnew/partner64/protocol"
)

// Endpoint transfer types (bmAttributes bits 1:0).
const (
	TransferControl     = 0x00
	TransferIsochronous = 0x01
	TransferBulk        = 0x02
	TransferInterrupt   = 0x03
)

// EndpointConfig describes a data endpoint to activate.
type EndpointConfig struct {
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type in bits 1:0
	MaxPacketSize uint16 // Largest packet the endpoint moves
}

// Number returns the endpoint number (0-15).
func (e EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn reports whether the endpoint carries data to the host.
func (e EndpointConfig) IsIn() bool {
	return e.Address&0x80 != 0
}

// TransferType returns the transfer type bits.
func (e EndpointConfig) TransferType() uint8 {
	return e.Attributes & 0x03
}

// BridgeEndpoints is the bulk pair carrying the command and response
// streams.
var BridgeEndpoints = []EndpointConfig{
	{Address: protocol.EndpointOut, Attributes: TransferBulk, MaxPacketSize: protocol.MaxPacketSize},
	{Address: protocol.EndpointIn, Attributes: TransferBulk, MaxPacketSize: protocol.MaxPacketSize},
}

// SetupPacketSize is the size of a SETUP packet on the wire.
const SetupPacketSize = 8

// SetupPacket is a control request received on EP0.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// ParseSetupPacket decodes a little-endian SETUP packet. It reports false
// when data is shorter than SetupPacketSize.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = binary.LittleEndian.Uint16(data[2:])
	out.Index = binary.LittleEndian.Uint16(data[4:])
	out.Length = binary.LittleEndian.Uint16(data[6:])
	return true
}

// MarshalTo encodes the packet into buf and returns SetupPacketSize, or 0 if
// buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	binary.LittleEndian.PutUint16(buf[2:], s.Value)
	binary.LittleEndian.PutUint16(buf[4:], s.Index)
	binary.LittleEndian.PutUint16(buf[6:], s.Length)
	return SetupPacketSize
}

// IsIn reports whether the data stage flows to the host.
func (s *SetupPacket) IsIn() bool {
	return s.RequestType&protocol.RequestDirectionIn != 0
}

// IsVendor reports whether the packet carries a vendor request.
func (s *SetupPacket) IsVendor() bool {
	return protocol.IsVendor(s.RequestType)
}

// DeviceHAL is the USB device controller boundary.
//
// Enumeration, descriptors and standard requests are handled beneath this
// interface; the bridge sees only vendor requests on EP0 and the two bulk
// endpoints. Implementations must allow EP0 and each data endpoint to be
// used from different goroutines at once.
type DeviceHAL interface {
	// Init prepares the controller. The context can cancel a slow start-up.
	Init(ctx context.Context) error

	// Start attaches to the bus so the host can see the device.
	Start() error

	// Stop detaches from the bus and releases the controller. Blocked
	// calls return with an error.
	Stop() error

	// ConfigureEndpoints activates the data endpoints. Nil deactivates all.
	ConfigureEndpoints(endpoints []EndpointConfig) error

	// ReadSetup blocks for the next control request addressed to the
	// function. A bus reset from the host is reported as pkg.ErrReset.
	ReadSetup(ctx context.Context, out *SetupPacket) error

	// WriteEP0 sends the IN data stage of the current control transfer.
	WriteEP0(ctx context.Context, data []byte) error

	// ReadEP0 receives the OUT data stage of the current control transfer.
	ReadEP0(ctx context.Context, buf []byte) (int, error)

	// StallEP0 rejects the current control transfer.
	StallEP0() error

	// AckEP0 completes a control transfer with a zero-length status stage.
	AckEP0() error

	// Read blocks for one packet on an OUT endpoint.
	Read(ctx context.Context, address uint8, buf []byte) (int, error)

	// Write sends one packet on an IN endpoint.
	Write(ctx context.Context, address uint8, data []byte) (int, error)

	// IsConnected reports whether a host is attached.
	IsConnected() bool

	// WaitConnect blocks until a host attaches.
	WaitConnect(ctx context.Context) error

	// WaitDisconnect blocks until the host detaches.
	WaitDisconnect(ctx context.Context) error
}
