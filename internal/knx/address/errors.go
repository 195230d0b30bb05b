package address

import "errors"

// Domain errors for address parsing.
var (
	// ErrInvalidAddress is returned when an address string has invalid
	// syntax or a component is out of range.
	ErrInvalidAddress = errors.New("address: invalid address")

	// ErrUnknownKind is returned when a string contains neither a "."
	// nor a "/" separator and its kind cannot be determined.
	ErrUnknownKind = errors.New("address: cannot determine address kind")
)
