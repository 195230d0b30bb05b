package transport

import "errors"

var (
	// ErrClosed is returned when the transport has been closed.
	ErrClosed = errors.New("transport: closed")

	// ErrAlreadyBound is returned when Bind is called twice.
	ErrAlreadyBound = errors.New("transport: already bound")

	// ErrNotBound is returned when Send is called before Bind.
	ErrNotBound = errors.New("transport: not bound")

	// ErrNoInterface is returned when no usable IPv4 interface exists.
	ErrNoInterface = errors.New("transport: no usable IPv4 interface")

	// ErrInterfaceNotFound is returned when the named interface does not exist
	// or carries no IPv4 address.
	ErrInterfaceNotFound = errors.New("transport: interface not found")

	// ErrInvalidRemote is returned for a remote endpoint that is not a
	// unicast or multicast IPv4 address.
	ErrInvalidRemote = errors.New("transport: invalid remote endpoint")
)
