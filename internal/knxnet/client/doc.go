// Package client manages a KNXnet/IP session with a router or IP gateway.
//
// A Connection is a single-actor state machine. Inbound datagrams, API calls
// and timer expirations are all posted as events to one goroutine that owns
// the session: channel ID, sequence counter, pending confirmations and the
// transport socket. Each event is processed to completion before the next.
//
// The session runs in one of two modes, chosen from the remote address:
//
//   - Tunneling (unicast gateway): CONNECT_REQUEST handshake, periodic
//     CONNECTIONSTATE_REQUEST keepalive, TUNNELING_REQUEST frames that are
//     acknowledged by the gateway.
//   - Routing (multicast group): no handshake, ROUTING_INDICATION frames.
//
// Inbound L_Data indications are fanned out to handlers registered with On
// and Once, in this order:
//
//  1. "event_<dest>"        (APCI, source, data)
//  2. "<apci>_<dest>"       (source, data)
//  3. "<apci>"              (source, destination, data)
//  4. "event"               (APCI, source, destination, data)
//
// Handlers run on a dispatcher goroutine, never on the actor.
//
// One-shot template listeners (Expect) see every decoded inbound datagram
// before the state machine does. They back Read and the device management
// helpers.
package client
