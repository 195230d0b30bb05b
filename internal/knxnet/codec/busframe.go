package codec

import (
	"encoding/binary"
	"fmt"
)

// TP1 frame control patterns (first control byte, high nibble).
const (
	busMsgStandard = 0x80
	busMsgPoll     = 0xF0
)

// RebuildBusFrame reconstructs the TP1 frame, as it travelled on the twisted
// pair bus, from a raw TUNNELING_REQUEST or ROUTING_INDICATION. The header is
// located by its own length byte, so non-standard header lengths are accepted,
// and the CEMI additional info is skipped.
//
// Standard frames are laid out as [ctrl1, src, dst, (ctrl2&0xF0)|length,
// apdu..., checksum], extended frames as [ctrl1, ctrl2, src, dst, length,
// apdu..., checksum]. The checksum is NOT(XOR of all preceding bytes).
//
// Returns:
//   - []byte: Bus frame including checksum
//   - error: ErrPollFrame for poll frames, ErrTruncatedBuffer, ErrUnknownServiceType
func RebuildBusFrame(raw []byte) ([]byte, error) {
	if len(raw) < 4 { //nolint:mnd // header length, version, service type
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncatedBuffer, len(raw))
	}
	hl := int(raw[0])
	st := ServiceType(binary.BigEndian.Uint16(raw[2:4]))

	var off int
	switch st {
	case ServiceTunnelingRequest:
		if len(raw) <= hl {
			return nil, fmt.Errorf("%w: no connection header", ErrTruncatedBuffer)
		}
		off = hl + int(raw[hl])
	case ServiceRoutingIndication:
		off = hl
	default:
		return nil, fmt.Errorf("%w: %s carries no bus frame", ErrUnknownServiceType, st)
	}
	if off > len(raw) {
		return nil, fmt.Errorf("%w: CEMI offset %d beyond %d bytes", ErrTruncatedBuffer, off, len(raw))
	}
	return busFrameFromCEMI(raw[off:])
}

// BusFrame returns the TP1 frame for the CEMI frame. See RebuildBusFrame.
func (c CEMI) BusFrame() ([]byte, error) {
	b, err := c.Encode()
	if err != nil {
		return nil, err
	}
	return busFrameFromCEMI(b)
}

func busFrameFromCEMI(b []byte) ([]byte, error) {
	r := newReader(b)
	if _, err := r.uint8("message code"); err != nil {
		return nil, err
	}
	infoLen, err := r.uint8("additional info length")
	if err != nil {
		return nil, err
	}
	if _, err := r.bytes(int(infoLen), "additional info"); err != nil {
		return nil, err
	}
	// ctrl1, ctrl2, source, destination, length
	head, err := r.bytes(7, "link header") //nolint:mnd // fixed link-layer fields
	if err != nil {
		return nil, err
	}
	ctrl1, ctrl2, length := head[0], head[1], head[6]

	if ctrl1&busMsgPoll == busMsgPoll {
		return nil, ErrPollFrame
	}

	apdu, err := r.bytes(int(length)+1, "APDU")
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, 8+len(apdu)) //nolint:mnd // link header + checksum
	if ctrl1&busMsgStandard != 0 {
		frame = append(frame, ctrl1)
		frame = append(frame, head[2:6]...)
		frame = append(frame, ctrl2&0xF0|length&0x0F)
	} else {
		frame = append(frame, ctrl1, ctrl2)
		frame = append(frame, head[2:6]...)
		frame = append(frame, length)
	}
	frame = append(frame, apdu...)
	return append(frame, checksum(frame)), nil
}

// checksum is the TP1 frame check: the inverted XOR of all bytes.
func checksum(b []byte) byte {
	var x byte
	for _, v := range b {
		x ^= v
	}
	return ^x
}

// PeekSeqnum returns the TunnState sequence number of a raw TUNNELING_REQUEST
// or TUNNELING_ACK without decoding it. The offset is derived from the header
// length byte, so non-standard header lengths are tolerated.
func PeekSeqnum(raw []byte) (uint8, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("%w: empty datagram", ErrTruncatedBuffer)
	}
	idx := int(raw[0]) + 2 //nolint:mnd // TunnState length byte, channel ID
	if idx >= len(raw) {
		return 0, fmt.Errorf("%w: sequence number at offset %d, have %d bytes", ErrTruncatedBuffer, idx, len(raw))
	}
	return raw[idx], nil
}
