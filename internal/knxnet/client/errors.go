package client

import "errors"

var (
	// ErrInvalidConfig indicates unusable connection options.
	ErrInvalidConfig = errors.New("client: invalid configuration")

	// ErrNotConnected is returned when a frame is sent while no session exists.
	ErrNotConnected = errors.New("client: not connected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client: closed")

	// ErrDisconnected is returned to Connect callers when the session ends
	// before it was established.
	ErrDisconnected = errors.New("client: disconnected")

	// ErrConnectTimeout indicates the gateway never answered CONNECT_REQUEST.
	ErrConnectTimeout = errors.New("client: connection timed out")

	// ErrPeerStatus indicates a non-zero status from the gateway.
	ErrPeerStatus = errors.New("client: gateway reported an error")

	// ErrTimeout is returned by Listener.Wait when the listener expired.
	ErrTimeout = errors.New("client: timed out waiting for response")

	// ErrCancelled is returned by Listener.Wait after Cancel.
	ErrCancelled = errors.New("client: listener cancelled")
)
