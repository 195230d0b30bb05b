// Package transport moves raw KNXnet/IP datagrams over UDP.
//
// Two bindings are provided:
//
//   - Tunnel: a unicast socket bound to a discovered local IPv4 address that
//     exchanges datagrams with one KNXnet/IP gateway.
//   - Router: a socket joined to the KNXnet/IP multicast group
//     (224.0.23.12:3671) for routing mode.
//
// Both satisfy Transport. Inbound datagrams are delivered to the Handler from
// a single read goroutine, one at a time, in arrival order. The package knows
// nothing about datagram contents; decoding is left to the caller.
package transport
