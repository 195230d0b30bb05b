package codec

import "fmt"

// Datagram is a decoded KNXnet/IP payload. The set of implementations is
// closed: one struct per supported service type.
type Datagram interface {
	ServiceType() ServiceType
	appendPayload(b []byte) ([]byte, error)
}

// ConnectRequest opens a tunnel (CONNECT_REQUEST).
type ConnectRequest struct {
	Control HPAI
	Tunnel  HPAI
	CRI     CRI
}

// ConnectResponse answers a ConnectRequest (CONNECT_RESPONSE). Endpoint and
// CRI are absent when the gateway refuses the connection.
type ConnectResponse struct {
	ConnState ConnState
	Endpoint  *HPAI
	CRI       *CRI
}

// ConnectionStateRequest is the tunnel keepalive (CONNECTIONSTATE_REQUEST).
type ConnectionStateRequest struct {
	ConnState ConnState
	Control   *HPAI
}

// ConnectionStateResponse answers a keepalive (CONNECTIONSTATE_RESPONSE).
type ConnectionStateResponse struct {
	ConnState ConnState
}

// DisconnectRequest closes a tunnel (DISCONNECT_REQUEST).
type DisconnectRequest struct {
	ConnState ConnState
	Control   *HPAI
}

// DisconnectResponse acknowledges a DisconnectRequest (DISCONNECT_RESPONSE).
type DisconnectResponse struct {
	ConnState ConnState
}

// DescriptionResponse carries the undecoded DIB blocks of a DESCRIPTION_RESPONSE.
type DescriptionResponse struct {
	Raw []byte
}

// TunnelingRequest carries a CEMI frame through a tunnel (TUNNELING_REQUEST).
type TunnelingRequest struct {
	TunnState TunnState
	CEMI      CEMI
}

// TunnelingAck acknowledges a TunnelingRequest (TUNNELING_ACK).
type TunnelingAck struct {
	TunnState TunnState
}

// RoutingIndication carries a CEMI frame over multicast (ROUTING_INDICATION).
type RoutingIndication struct {
	CEMI CEMI
}

// ServiceType implements Datagram.
func (ConnectRequest) ServiceType() ServiceType { return ServiceConnectRequest }

// ServiceType implements Datagram.
func (ConnectResponse) ServiceType() ServiceType { return ServiceConnectResponse }

// ServiceType implements Datagram.
func (ConnectionStateRequest) ServiceType() ServiceType { return ServiceConnStateRequest }

// ServiceType implements Datagram.
func (ConnectionStateResponse) ServiceType() ServiceType { return ServiceConnStateResponse }

// ServiceType implements Datagram.
func (DisconnectRequest) ServiceType() ServiceType { return ServiceDisconnectRequest }

// ServiceType implements Datagram.
func (DisconnectResponse) ServiceType() ServiceType { return ServiceDisconnectResponse }

// ServiceType implements Datagram.
func (DescriptionResponse) ServiceType() ServiceType { return ServiceDescriptionResponse }

// ServiceType implements Datagram.
func (TunnelingRequest) ServiceType() ServiceType { return ServiceTunnelingRequest }

// ServiceType implements Datagram.
func (TunnelingAck) ServiceType() ServiceType { return ServiceTunnelingAck }

// ServiceType implements Datagram.
func (RoutingIndication) ServiceType() ServiceType { return ServiceRoutingIndication }

func (d ConnectRequest) appendPayload(b []byte) ([]byte, error) {
	b, err := d.Control.append(b)
	if err != nil {
		return nil, fmt.Errorf("control endpoint: %w", err)
	}
	if b, err = d.Tunnel.append(b); err != nil {
		return nil, fmt.Errorf("data endpoint: %w", err)
	}
	return d.CRI.append(b), nil
}

func (d ConnectResponse) appendPayload(b []byte) ([]byte, error) {
	b = d.ConnState.append(b)
	if d.Endpoint == nil {
		if d.CRI != nil {
			return nil, fmt.Errorf("%w: CONNECT_RESPONSE with CRI needs an endpoint", ErrMissingRequiredField)
		}
		return b, nil
	}
	b, err := d.Endpoint.append(b)
	if err != nil {
		return nil, err
	}
	if d.CRI != nil {
		b = d.CRI.append(b)
	}
	return b, nil
}

func (d ConnectionStateRequest) appendPayload(b []byte) ([]byte, error) {
	return appendConnStateHPAI(d.ConnState, d.Control, d.ServiceType(), b)
}

func (d DisconnectRequest) appendPayload(b []byte) ([]byte, error) {
	return appendConnStateHPAI(d.ConnState, d.Control, d.ServiceType(), b)
}

func appendConnStateHPAI(cs ConnState, ctrl *HPAI, st ServiceType, b []byte) ([]byte, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("%w: %s needs a control endpoint", ErrMissingRequiredField, st)
	}
	return ctrl.append(cs.append(b))
}

func (d ConnectionStateResponse) appendPayload(b []byte) ([]byte, error) {
	return d.ConnState.append(b), nil
}

func (d DisconnectResponse) appendPayload(b []byte) ([]byte, error) {
	return d.ConnState.append(b), nil
}

func (d DescriptionResponse) appendPayload(b []byte) ([]byte, error) {
	return append(b, d.Raw...), nil
}

func (d TunnelingRequest) appendPayload(b []byte) ([]byte, error) {
	return d.CEMI.append(d.TunnState.append(b))
}

func (d TunnelingAck) appendPayload(b []byte) ([]byte, error) {
	return d.TunnState.append(b), nil
}

func (d RoutingIndication) appendPayload(b []byte) ([]byte, error) {
	return d.CEMI.append(b)
}

// Encode serializes a datagram with its header. The total length field is
// always computed from the serialized payload.
//
// Returns:
//   - []byte: Complete datagram ready to send
//   - error: Any encode error from the payload structures; nothing is returned
//     alongside an error
func Encode(d Datagram) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: datagram", ErrMissingRequiredField)
	}

	payload, err := d.appendPayload(make([]byte, 0, 64)) //nolint:mnd // typical datagram size
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", d.ServiceType(), err)
	}
	total := HeaderLength + len(payload)
	if total > 0xFFFF {
		return nil, fmt.Errorf("%w: %d byte datagram", ErrPayloadTooLarge, total)
	}

	b := appendHeader(make([]byte, 0, total), d.ServiceType(), total)
	return append(b, payload...), nil
}

// Decode parses a complete datagram.
//
// Bytes beyond the header's total length are ignored. A datagram whose service
// type is not handled returns the parsed header and ErrUnknownServiceType;
// callers log and drop it.
//
// Returns:
//   - Header: Parsed header (valid whenever err is nil or ErrUnknownServiceType)
//   - Datagram: Decoded payload
//   - error: ErrTruncatedBuffer, ErrInvalidHeader, ErrUnsupportedProtocolType,
//     ErrInvalidStructureLength or ErrUnknownServiceType
func Decode(b []byte) (Header, Datagram, error) {
	r := newReader(b)
	hdr, err := readHeader(r)
	if err != nil {
		return hdr, nil, err
	}
	if int(hdr.TotalLength) > len(b) {
		return hdr, nil, fmt.Errorf("%w: header says %d bytes, got %d", ErrTruncatedBuffer, hdr.TotalLength, len(b))
	}
	r.buf = b[:hdr.TotalLength]

	d, err := decodePayload(r, hdr)
	if err != nil {
		return hdr, nil, err
	}
	return hdr, d, nil
}

func decodePayload(r *reader, hdr Header) (Datagram, error) {
	switch hdr.ServiceType {
	case ServiceConnectRequest:
		var d ConnectRequest
		var err error
		if d.Control, err = readHPAI(r); err != nil {
			return nil, err
		}
		if d.Tunnel, err = readHPAI(r); err != nil {
			return nil, err
		}
		if d.CRI, err = readCRI(r); err != nil {
			return nil, err
		}
		return d, nil

	case ServiceConnectResponse, ServiceConnStateRequest, ServiceConnStateResponse,
		ServiceDisconnectRequest, ServiceDisconnectResponse:
		return decodeConnStateService(r, hdr)

	case ServiceDescriptionResponse:
		raw, err := r.bytes(r.remaining(), "description")
		if err != nil {
			return nil, err
		}
		return DescriptionResponse{Raw: raw}, nil

	case ServiceTunnelingRequest:
		ts, err := readTunnState(r)
		if err != nil {
			return nil, err
		}
		cemi, err := readCEMI(r)
		if err != nil {
			return nil, err
		}
		return TunnelingRequest{TunnState: ts, CEMI: cemi}, nil

	case ServiceTunnelingAck:
		ts, err := readTunnState(r)
		if err != nil {
			return nil, err
		}
		return TunnelingAck{TunnState: ts}, nil

	case ServiceRoutingIndication:
		cemi, err := readCEMI(r)
		if err != nil {
			return nil, err
		}
		return RoutingIndication{CEMI: cemi}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownServiceType, hdr.ServiceType)
	}
}

// decodeConnStateService reads the services that start with a ConnState. An
// HPAI follows only when the total length exceeds 8 and a CRI only when it
// exceeds 16.
func decodeConnStateService(r *reader, hdr Header) (Datagram, error) {
	cs, err := readConnState(r)
	if err != nil {
		return nil, err
	}

	var hpai *HPAI
	if hdr.TotalLength > HeaderLength+connStateLength {
		h, err := readHPAI(r)
		if err != nil {
			return nil, err
		}
		hpai = &h
	}

	var cri *CRI
	if hdr.TotalLength > HeaderLength+connStateLength+hpaiLength {
		c, err := readCRI(r)
		if err != nil {
			return nil, err
		}
		cri = &c
	}

	switch hdr.ServiceType {
	case ServiceConnectResponse:
		return ConnectResponse{ConnState: cs, Endpoint: hpai, CRI: cri}, nil
	case ServiceConnStateRequest:
		return ConnectionStateRequest{ConnState: cs, Control: hpai}, nil
	case ServiceConnStateResponse:
		return ConnectionStateResponse{ConnState: cs}, nil
	case ServiceDisconnectRequest:
		return DisconnectRequest{ConnState: cs, Control: hpai}, nil
	default:
		return DisconnectResponse{ConnState: cs}, nil
	}
}
