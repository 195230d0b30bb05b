package codec

import (
	"fmt"
	"net/netip"
)

// Protocol constants.
const (
	// HeaderLength is the fixed size of a KNXnet/IP header.
	HeaderLength = 6

	// ProtocolVersion is the KNXnet/IP protocol version byte (1.0).
	ProtocolVersion = 0x10

	// DefaultPort is the IANA-assigned KNXnet/IP UDP port.
	DefaultPort = 3671

	// Fixed structure sizes.
	hpaiLength      = 8
	criLength       = 4
	connStateLength = 2
	tunnStateLength = 4
)

// MulticastGroup is the KNXnet/IP routing multicast address.
var MulticastGroup = netip.AddrFrom4([4]byte{224, 0, 23, 12})

// MulticastEndpoint is MulticastGroup on DefaultPort.
var MulticastEndpoint = netip.AddrPortFrom(MulticastGroup, DefaultPort)

// ServiceType identifies the payload of a KNXnet/IP datagram.
type ServiceType uint16

// Service types.
const (
	ServiceSearchRequest       ServiceType = 0x0201
	ServiceSearchResponse      ServiceType = 0x0202
	ServiceDescriptionRequest  ServiceType = 0x0203
	ServiceDescriptionResponse ServiceType = 0x0204
	ServiceConnectRequest      ServiceType = 0x0205
	ServiceConnectResponse     ServiceType = 0x0206
	ServiceConnStateRequest    ServiceType = 0x0207
	ServiceConnStateResponse   ServiceType = 0x0208
	ServiceDisconnectRequest   ServiceType = 0x0209
	ServiceDisconnectResponse  ServiceType = 0x020A
	ServiceDeviceConfigRequest ServiceType = 0x0310
	ServiceDeviceConfigAck     ServiceType = 0x0311
	ServiceTunnelingRequest    ServiceType = 0x0420
	ServiceTunnelingAck        ServiceType = 0x0421
	ServiceRoutingIndication   ServiceType = 0x0530
	ServiceRoutingLostMessage  ServiceType = 0x0531
)

var serviceTypeNames = map[ServiceType]string{
	ServiceSearchRequest:       "SEARCH_REQUEST",
	ServiceSearchResponse:      "SEARCH_RESPONSE",
	ServiceDescriptionRequest:  "DESCRIPTION_REQUEST",
	ServiceDescriptionResponse: "DESCRIPTION_RESPONSE",
	ServiceConnectRequest:      "CONNECT_REQUEST",
	ServiceConnectResponse:     "CONNECT_RESPONSE",
	ServiceConnStateRequest:    "CONNECTIONSTATE_REQUEST",
	ServiceConnStateResponse:   "CONNECTIONSTATE_RESPONSE",
	ServiceDisconnectRequest:   "DISCONNECT_REQUEST",
	ServiceDisconnectResponse:  "DISCONNECT_RESPONSE",
	ServiceDeviceConfigRequest: "DEVICE_CONFIGURATION_REQUEST",
	ServiceDeviceConfigAck:     "DEVICE_CONFIGURATION_ACK",
	ServiceTunnelingRequest:    "TUNNELING_REQUEST",
	ServiceTunnelingAck:        "TUNNELING_ACK",
	ServiceRoutingIndication:   "ROUTING_INDICATION",
	ServiceRoutingLostMessage:  "ROUTING_LOST_MESSAGE",
}

// String returns the service type name, e.g. "TUNNELING_REQUEST".
func (s ServiceType) String() string {
	if name, ok := serviceTypeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SERVICE_TYPE(0x%04X)", uint16(s))
}

// ConnectionType is the CRI connection type.
type ConnectionType uint8

// Connection types.
const (
	DeviceMgmtConnection ConnectionType = 0x03
	TunnelConnection     ConnectionType = 0x04
	RemlogConnection     ConnectionType = 0x06
	RemconfConnection    ConnectionType = 0x07
	ObjsvrConnection     ConnectionType = 0x08
)

// TunnelLinkLayer is the knx_layer value requesting a link-layer tunnel.
const TunnelLinkLayer uint8 = 0x02

// ProtocolType is the HPAI host protocol code.
type ProtocolType uint8

// Host protocols. Only UDP is supported.
const (
	ProtocolUDP ProtocolType = 0x01
	ProtocolTCP ProtocolType = 0x02
)

// MessageCode is the CEMI message code.
type MessageCode uint8

// CEMI message codes.
const (
	LRawReq       MessageCode = 0x10
	LDataReq      MessageCode = 0x11
	LPollDataReq  MessageCode = 0x13
	LPollDataCon  MessageCode = 0x25
	LDataInd      MessageCode = 0x29
	LBusmonInd    MessageCode = 0x2B
	LRawInd       MessageCode = 0x2D
	LDataCon      MessageCode = 0x2E
	LRawCon       MessageCode = 0x2F
	MResetInd     MessageCode = 0xF0
	MResetReq     MessageCode = 0xF1
	MPropWriteCon MessageCode = 0xF5
	MPropWriteReq MessageCode = 0xF6
	MPropInfoInd  MessageCode = 0xF7
	MPropReadCon  MessageCode = 0xFB
	MPropReadReq  MessageCode = 0xFC
)

var messageCodeNames = map[MessageCode]string{
	LRawReq:       "L_Raw.req",
	LDataReq:      "L_Data.req",
	LPollDataReq:  "L_Poll_Data.req",
	LPollDataCon:  "L_Poll_Data.con",
	LDataInd:      "L_Data.ind",
	LBusmonInd:    "L_Busmon.ind",
	LRawInd:       "L_Raw.ind",
	LDataCon:      "L_Data.con",
	LRawCon:       "L_Raw.con",
	MResetInd:     "M_Reset.ind",
	MResetReq:     "M_Reset.req",
	MPropWriteCon: "M_PropWrite.con",
	MPropWriteReq: "M_PropWrite.req",
	MPropInfoInd:  "M_PropInfo.ind",
	MPropReadCon:  "M_PropRead.con",
	MPropReadReq:  "M_PropRead.req",
}

// String returns the primitive name, e.g. "L_Data.ind".
func (m MessageCode) String() string {
	if name, ok := messageCodeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("MSGCODE(0x%02X)", uint8(m))
}

// HasAPDU reports whether frames with this code carry an APDU.
func (m MessageCode) HasAPDU() bool {
	switch m {
	case LDataReq, LDataInd, LDataCon:
		return true
	default:
		return false
	}
}

// Status is a KNXnet/IP response code carried in ConnState.
type Status uint8

// Response codes.
const (
	StatusOK                     Status = 0x00
	StatusHostProtocolType       Status = 0x01
	StatusVersionNotSupported    Status = 0x02
	StatusSequenceNumber         Status = 0x04
	StatusConnectionID           Status = 0x21
	StatusConnectionType         Status = 0x22
	StatusConnectionOption       Status = 0x23
	StatusNoMoreConnections      Status = 0x24
	StatusNoMoreUniqueConnection Status = 0x25
	StatusDataConnection         Status = 0x26
	StatusKNXConnection          Status = 0x27
	StatusTunnelingLayer         Status = 0x29
)

var statusNames = map[Status]string{
	StatusOK:                     "E_NO_ERROR",
	StatusHostProtocolType:       "E_HOST_PROTOCOL_TYPE",
	StatusVersionNotSupported:    "E_VERSION_NOT_SUPPORTED",
	StatusSequenceNumber:         "E_SEQUENCE_NUMBER",
	StatusConnectionID:           "E_CONNECTION_ID",
	StatusConnectionType:         "E_CONNECTION_TYPE",
	StatusConnectionOption:       "E_CONNECTION_OPTION",
	StatusNoMoreConnections:      "E_NO_MORE_CONNECTIONS",
	StatusNoMoreUniqueConnection: "E_NO_MORE_UNIQUE_CONNECTIONS",
	StatusDataConnection:         "E_DATA_CONNECTION",
	StatusKNXConnection:          "E_KNX_CONNECTION",
	StatusTunnelingLayer:         "E_TUNNELING_LAYER",
}

// String returns the response code name, e.g. "E_NO_MORE_CONNECTIONS".
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("E_UNKNOWN(0x%02X)", uint8(s))
}
