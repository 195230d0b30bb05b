// Package management reads and writes device memory and interface object
// properties over a client.Connection.
//
// Every helper except Restart runs inside a transport-layer connection to
// the target device:
//
//  1. UCD connect
//  2. the request as a numbered data frame (NDP)
//  3. the device's NCD acknowledgement of the request
//  4. the response, if the service has one, acknowledged with NCD ACK
//  5. UCD disconnect
//
// A device accepts one transport-layer connection at a time, so a Manager
// serializes its helpers.
package management
