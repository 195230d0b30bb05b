package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/nerrad567/knxnetip/internal/knx/address"
)

// FrameType is bit 7 of the first control byte.
type FrameType uint8

// Frame types.
const (
	FrameExtended FrameType = 0
	FrameStandard FrameType = 1
)

// Priority is the 2-bit frame priority.
type Priority uint8

// Priorities, highest first.
const (
	PrioritySystem Priority = 0
	PriorityNormal Priority = 1
	PriorityUrgent Priority = 2
	PriorityLow    Priority = 3
)

// Control is the 16-bit CEMI control field.
//
//	byte 1: frameType(7) reserved(6) repeat(5) broadcast(4) priority(3-2) ack(1) confirm(0)
//	byte 2: destAddrType(7) hopCount(6-4) extendedFrame(3-0)
type Control struct {
	FrameType     FrameType
	Reserved      bool
	Repeat        bool
	Broadcast     bool
	Priority      Priority
	Ack           bool
	Confirm       bool
	DestAddrType  address.Kind
	HopCount      uint8
	ExtendedFrame uint8
}

// DefaultControl is the control field used for outbound group telegrams:
// standard frame, repeat and broadcast bits set, low priority, group
// destination, hop count 6.
func DefaultControl() Control {
	return Control{
		FrameType:    FrameStandard,
		Repeat:       true,
		Broadcast:    true,
		Priority:     PriorityLow,
		DestAddrType: address.KindGroup,
		HopCount:     6, //nolint:mnd // default routing counter
	}
}

func boolBit(v bool, shift uint) byte {
	if v {
		return 1 << shift
	}
	return 0
}

// Bytes returns the two control bytes.
func (c Control) Bytes() [2]byte {
	b1 := byte(c.FrameType&1)<<7 |
		boolBit(c.Reserved, 6) |
		boolBit(c.Repeat, 5) |
		boolBit(c.Broadcast, 4) |
		byte(c.Priority&3)<<2 |
		boolBit(c.Ack, 1) |
		boolBit(c.Confirm, 0)
	b2 := byte(c.DestAddrType&1)<<7 |
		(c.HopCount&7)<<4 |
		c.ExtendedFrame&0x0F
	return [2]byte{b1, b2}
}

// ParseControl decodes the two control bytes.
func ParseControl(b1, b2 byte) Control {
	return Control{
		FrameType:     FrameType(b1 >> 7),
		Reserved:      b1&(1<<6) != 0,
		Repeat:        b1&(1<<5) != 0,
		Broadcast:     b1&(1<<4) != 0,
		Priority:      Priority((b1 >> 2) & 3),
		Ack:           b1&(1<<1) != 0,
		Confirm:       b1&1 != 0,
		DestAddrType:  address.Kind(b2 >> 7),
		HopCount:      (b2 >> 4) & 7,
		ExtendedFrame: b2 & 0x0F,
	}
}

// CEMI is a common EMI link-layer frame.
//
// Source is always an individual address. Destination's kind must match
// Control.DestAddrType. APDU is required for L_Data.req/ind/con and ignored
// for other message codes.
type CEMI struct {
	MessageCode    MessageCode
	AdditionalInfo []byte
	Control        Control
	Source         address.DeviceAddress
	Destination    address.Address
	APDU           *APDU
}

// Encode returns the wire form of the frame.
func (c CEMI) Encode() ([]byte, error) {
	return c.append(nil)
}

func (c CEMI) append(b []byte) ([]byte, error) {
	if len(c.AdditionalInfo) > 0xFF {
		return nil, fmt.Errorf("%w: additional info is %d bytes", ErrPayloadTooLarge, len(c.AdditionalInfo))
	}
	if c.Destination.Kind != c.Control.DestAddrType {
		return nil, fmt.Errorf("%w: destination %s is a %s address but the control field says %s",
			ErrInvalidAddressForField, c.Destination, c.Destination.Kind, c.Control.DestAddrType)
	}
	if c.MessageCode.HasAPDU() && c.APDU == nil {
		return nil, fmt.Errorf("%w: %s needs an APDU", ErrMissingRequiredField, c.MessageCode)
	}

	ctrl := c.Control.Bytes()
	b = append(b, byte(c.MessageCode), byte(len(c.AdditionalInfo)))
	b = append(b, c.AdditionalInfo...)
	b = append(b, ctrl[0], ctrl[1])
	b = binary.BigEndian.AppendUint16(b, uint16(c.Source))
	b = binary.BigEndian.AppendUint16(b, c.Destination.Value)

	if !c.MessageCode.HasAPDU() {
		return b, nil
	}
	return c.APDU.append(b)
}

// DecodeCEMI reads a CEMI frame from the start of b.
func DecodeCEMI(b []byte) (CEMI, int, error) {
	r := newReader(b)
	c, err := readCEMI(r)
	return c, r.pos, err
}

func readCEMI(r *reader) (CEMI, error) {
	var c CEMI
	code, err := r.uint8("message code")
	if err != nil {
		return c, err
	}
	c.MessageCode = MessageCode(code)

	infoLen, err := r.uint8("additional info length")
	if err != nil {
		return c, err
	}
	if infoLen > 0 {
		if c.AdditionalInfo, err = r.bytes(int(infoLen), "additional info"); err != nil {
			return c, err
		}
	}

	ctrl, err := r.bytes(2, "control field") //nolint:mnd // 16-bit control
	if err != nil {
		return c, err
	}
	c.Control = ParseControl(ctrl[0], ctrl[1])

	src, err := r.uint16("source address")
	if err != nil {
		return c, err
	}
	c.Source = address.DeviceAddress(src)

	dst, err := r.uint16("destination address")
	if err != nil {
		return c, err
	}
	c.Destination = address.Address{Kind: c.Control.DestAddrType, Value: dst}

	if c.MessageCode.HasAPDU() {
		apdu, err := readAPDU(r)
		if err != nil {
			return c, err
		}
		c.APDU = &apdu
	}
	return c, nil
}

// EncodedLen returns the encoded size of the frame.
func (c CEMI) EncodedLen() (int, error) {
	n := 8 + len(c.AdditionalInfo) //nolint:mnd // code, info length, control, source, destination
	if !c.MessageCode.HasAPDU() || c.APDU == nil {
		return n, nil
	}
	total, err := c.APDU.EncodedLen()
	if err != nil {
		return 0, err
	}
	return n + total, nil
}
