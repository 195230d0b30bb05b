// Package api implements the HTTP status and control API for the KNXnet/IP
// gateway.
//
// This package provides:
//   - Health and connection status endpoints
//   - Group address and device listings from the bus recorder
//   - Group write and read endpoints executed on the KNX connection
//   - A WebSocket hub streaming inbound telegrams
//   - Optional HS256 bearer-token checks on the control endpoints
//
// # Architecture
//
// The API sits beside the MQTT bridge. Both run commands through the same
// bridge.Executor, so a write sent over HTTP behaves exactly like one
// published to {prefix}/command/{addr}. Telegrams reach WebSocket clients
// straight from the connection's event stream.
//
// # Security
//
// When api.jwt_secret is set, write and read require an
// "Authorization: Bearer <token>" header and the WebSocket requires a
// token query parameter. Tokens are HS256 JWTs with a subject; use
// IssueToken (or "knxnetip token") to mint one.
//
// # Graceful Degradation
//
// The server runs without the recorder; listings then answer 503. Commands
// fail with 503 while the gateway is disconnected.
package api
