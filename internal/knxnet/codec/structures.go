package codec

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/nerrad567/knxnetip/internal/knx/address"
)

// Header is the 6-byte KNXnet/IP header.
type Header struct {
	HeaderLength    uint8
	ProtocolVersion uint8
	ServiceType     ServiceType
	TotalLength     uint16
}

// DecodeHeader reads a header from the start of b.
//
// Returns:
//   - Header: Parsed header
//   - int: Bytes consumed (always HeaderLength on success)
//   - error: ErrTruncatedBuffer or ErrInvalidHeader
func DecodeHeader(b []byte) (Header, int, error) {
	r := newReader(b)
	h, err := readHeader(r)
	return h, r.pos, err
}

func readHeader(r *reader) (Header, error) {
	var h Header
	var err error
	if h.HeaderLength, err = r.uint8("header length"); err != nil {
		return h, err
	}
	if h.ProtocolVersion, err = r.uint8("protocol version"); err != nil {
		return h, err
	}
	st, err := r.uint16("service type")
	if err != nil {
		return h, err
	}
	h.ServiceType = ServiceType(st)
	if h.TotalLength, err = r.uint16("total length"); err != nil {
		return h, err
	}

	if h.HeaderLength != HeaderLength {
		return h, fmt.Errorf("%w: header length %d", ErrInvalidHeader, h.HeaderLength)
	}
	if h.ProtocolVersion != ProtocolVersion {
		return h, fmt.Errorf("%w: protocol version 0x%02X", ErrInvalidHeader, h.ProtocolVersion)
	}
	if h.TotalLength < HeaderLength {
		return h, fmt.Errorf("%w: total length %d", ErrInvalidHeader, h.TotalLength)
	}
	return h, nil
}

func appendHeader(b []byte, st ServiceType, total int) []byte {
	b = append(b, HeaderLength, ProtocolVersion)
	b = binary.BigEndian.AppendUint16(b, uint16(st))
	return binary.BigEndian.AppendUint16(b, uint16(total)) //nolint:gosec // bounded by UDP payload size
}

// HPAI is a host protocol address information block: a UDP endpoint.
type HPAI struct {
	Protocol ProtocolType
	Endpoint netip.AddrPort
}

// NewHPAI returns a UDP HPAI for the endpoint.
func NewHPAI(ep netip.AddrPort) HPAI {
	return HPAI{Protocol: ProtocolUDP, Endpoint: ep}
}

// Encode returns the 8-byte wire form.
func (h HPAI) Encode() ([]byte, error) {
	return h.append(make([]byte, 0, hpaiLength))
}

func (h HPAI) append(b []byte) ([]byte, error) {
	if h.Protocol != ProtocolUDP {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnsupportedProtocolType, uint8(h.Protocol))
	}

	ip := [4]byte{}
	var port uint16
	if h.Endpoint.IsValid() {
		addr := h.Endpoint.Addr().Unmap()
		if !addr.Is4() {
			return nil, fmt.Errorf("%w: HPAI endpoint %s is not IPv4", ErrInvalidAddressForField, h.Endpoint)
		}
		ip = addr.As4()
		port = h.Endpoint.Port()
	}

	b = append(b, hpaiLength, byte(h.Protocol))
	b = append(b, ip[:]...)
	return binary.BigEndian.AppendUint16(b, port), nil
}

// DecodeHPAI reads an HPAI from the start of b.
func DecodeHPAI(b []byte) (HPAI, int, error) {
	r := newReader(b)
	h, err := readHPAI(r)
	return h, r.pos, err
}

func readHPAI(r *reader) (HPAI, error) {
	raw, err := r.bytes(hpaiLength, "HPAI")
	if err != nil {
		return HPAI{}, err
	}
	if raw[0] != hpaiLength {
		return HPAI{}, fmt.Errorf("%w: HPAI length %d", ErrInvalidStructureLength, raw[0])
	}
	proto := ProtocolType(raw[1])
	if proto != ProtocolUDP {
		return HPAI{}, fmt.Errorf("%w: 0x%02X", ErrUnsupportedProtocolType, raw[1])
	}

	ip := netip.AddrFrom4([4]byte{raw[2], raw[3], raw[4], raw[5]})
	port := binary.BigEndian.Uint16(raw[6:8])
	return HPAI{Protocol: proto, Endpoint: netip.AddrPortFrom(ip, port)}, nil
}

// CRI is a connection request information block. The same layout carries the
// connection response data block in CONNECT_RESPONSE, where KNXLayer and
// Unused hold the individual address assigned to the tunnel.
type CRI struct {
	ConnectionType ConnectionType
	KNXLayer       uint8
	Unused         uint8
}

// TunnelCRI requests a link-layer tunnel.
func TunnelCRI() CRI {
	return CRI{ConnectionType: TunnelConnection, KNXLayer: TunnelLinkLayer}
}

// IndividualAddress interprets the last two bytes as an individual address.
func (c CRI) IndividualAddress() address.DeviceAddress {
	return address.DeviceAddress(uint16(c.KNXLayer)<<8 | uint16(c.Unused))
}

// Encode returns the 4-byte wire form.
func (c CRI) Encode() []byte {
	return c.append(make([]byte, 0, criLength))
}

func (c CRI) append(b []byte) []byte {
	return append(b, criLength, byte(c.ConnectionType), c.KNXLayer, c.Unused)
}

// DecodeCRI reads a CRI from the start of b.
func DecodeCRI(b []byte) (CRI, int, error) {
	r := newReader(b)
	c, err := readCRI(r)
	return c, r.pos, err
}

func readCRI(r *reader) (CRI, error) {
	raw, err := r.bytes(criLength, "CRI")
	if err != nil {
		return CRI{}, err
	}
	if raw[0] != criLength {
		return CRI{}, fmt.Errorf("%w: CRI length %d", ErrInvalidStructureLength, raw[0])
	}
	return CRI{ConnectionType: ConnectionType(raw[1]), KNXLayer: raw[2], Unused: raw[3]}, nil
}

// ConnState carries the channel ID and status of a tunneling connection.
type ConnState struct {
	ChannelID uint8
	Status    Status
}

// Encode returns the 2-byte wire form.
func (c ConnState) Encode() []byte {
	return c.append(make([]byte, 0, connStateLength))
}

func (c ConnState) append(b []byte) []byte {
	return append(b, c.ChannelID, byte(c.Status))
}

// DecodeConnState reads a ConnState from the start of b.
func DecodeConnState(b []byte) (ConnState, int, error) {
	r := newReader(b)
	c, err := readConnState(r)
	return c, r.pos, err
}

func readConnState(r *reader) (ConnState, error) {
	raw, err := r.bytes(connStateLength, "ConnState")
	if err != nil {
		return ConnState{}, err
	}
	return ConnState{ChannelID: raw[0], Status: Status(raw[1])}, nil
}

// TunnState is the connection header of TUNNELING_REQUEST and TUNNELING_ACK.
//
// Seqnum is the sender's counter. Outbound requests carry the local counter;
// acknowledgements echo the peer's value.
type TunnState struct {
	ChannelID uint8
	Seqnum    uint8
	Reserved  uint8
}

// Encode returns the 4-byte wire form.
func (t TunnState) Encode() []byte {
	return t.append(make([]byte, 0, tunnStateLength))
}

func (t TunnState) append(b []byte) []byte {
	return append(b, tunnStateLength, t.ChannelID, t.Seqnum, t.Reserved)
}

// DecodeTunnState reads a TunnState from the start of b.
func DecodeTunnState(b []byte) (TunnState, int, error) {
	r := newReader(b)
	t, err := readTunnState(r)
	return t, r.pos, err
}

func readTunnState(r *reader) (TunnState, error) {
	raw, err := r.bytes(tunnStateLength, "TunnState")
	if err != nil {
		return TunnState{}, err
	}
	if raw[0] != tunnStateLength {
		return TunnState{}, fmt.Errorf("%w: TunnState length %d", ErrInvalidStructureLength, raw[0])
	}
	return TunnState{ChannelID: raw[1], Seqnum: raw[2], Reserved: raw[3]}, nil
}
