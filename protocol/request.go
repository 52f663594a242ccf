package protocol

import "fmt"

// USB identity of the bridge.
const (
	VendorID  = 0x0ED2
	ProductID = 0x64DD

	Manufacturer = "Partner"
	Product      = "Partner-N64 USB interface"
)

// Bulk endpoints carrying the command and response streams.
const (
	EndpointOut   uint8 = 0x02
	EndpointIn    uint8 = 0x81
	MaxPacketSize       = 64
)

// Request is a vendor control request on EP0.
type Request uint8

// Vendor requests.
const (
	// RequestWrite performs one parallel write cycle. wValue holds the
	// address in its high byte and the data in its low byte.
	RequestWrite Request = 0x00

	// RequestRead performs one parallel read cycle at the address in the low
	// byte of wValue and returns the sampled byte.
	RequestRead Request = 0x01

	// RequestWriteFromBuf performs one parallel write cycle per byte of the
	// OUT data stage. wIndex gives the byte count, the high byte of wValue
	// the address and its low byte is ORed into each data byte.
	RequestWriteFromBuf Request = 0x10

	// RequestWriteBitsFromBuf is RequestWriteFromBuf with every byte split
	// into eight cycles, one per bit, least significant first. Each cycle
	// writes the bit ORed into the low byte of wValue.
	RequestWriteBitsFromBuf Request = 0x12

	// RequestRecvLen returns the number of bytes waiting in the command
	// queue as a 4-byte big-endian integer.
	RequestRecvLen Request = 0x80

	// RequestSendLen returns the number of bytes waiting in the response
	// queue as a 4-byte big-endian integer.
	RequestSendLen Request = 0x81

	// RequestReset discards both queues and returns the bus to the safe
	// state.
	RequestReset Request = 0xFF
)

// MaxControlData bounds the OUT data stage of a buffered write request.
const MaxControlData = 512

// Vendor request type bits of bmRequestType.
const (
	RequestTypeVendor   = 0x40
	RequestTypeMask     = 0x60
	RequestDirectionIn  = 0x80
	RequestRecipientDev = 0x00
)

// IsVendor reports whether bmRequestType selects a vendor request.
func IsVendor(requestType uint8) bool {
	return requestType&RequestTypeMask == RequestTypeVendor
}

// String returns the request name.
func (r Request) String() string {
	switch r {
	case RequestWrite:
		return "Write"
	case RequestRead:
		return "Read"
	case RequestWriteFromBuf:
		return "WriteFromBuf"
	case RequestWriteBitsFromBuf:
		return "WriteBitsFromBuf"
	case RequestRecvLen:
		return "GetRecvLen"
	case RequestSendLen:
		return "GetSendLen"
	case RequestReset:
		return "Reset"
	default:
		return fmt.Sprintf("Request(%#02x)", uint8(r))
	}
}

// ResponseLen returns how many bytes the request returns in its data stage.
func (r Request) ResponseLen() int {
	switch r {
	case RequestRead:
		return 1
	case RequestRecvLen, RequestSendLen:
		return 4
	default:
		return 0
	}
}

// Known reports whether r is a supported request.
func (r Request) Known() bool {
	switch r {
	case RequestWrite, RequestRead, RequestWriteFromBuf, RequestWriteBitsFromBuf,
		RequestRecvLen, RequestSendLen, RequestReset:
		return true
	}
	return false
}
