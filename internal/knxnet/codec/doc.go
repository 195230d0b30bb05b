// Package codec encodes and decodes KNXnet/IP datagrams.
//
// Every structure carried over the wire has an encode/decode pair:
//
//   - Header: 6 bytes (header length, protocol version, service type, total length)
//   - HPAI: 8-byte host protocol address information (UDP endpoint)
//   - CRI: 4-byte connection request information (also used for the response CRD)
//   - ConnState: channel ID and status
//   - TunnState: 4-byte tunneling connection header with sequence number
//   - CEMI: link-layer frame (message code, control field, addresses, APDU)
//   - APDU: transport and application control information plus payload
//
// Datagrams are a closed set of structs, one per service type, all satisfying
// the Datagram interface. Encode always computes the header's total length
// from the serialized payload. Decode returns the header alongside the
// datagram.
//
// The package is stateless and safe for concurrent use.
package codec
