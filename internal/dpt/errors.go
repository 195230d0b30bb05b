package dpt

import "errors"

var (
	// ErrUnknownType is returned for a datapoint ID with no converter.
	ErrUnknownType = errors.New("dpt: unknown datapoint type")

	// ErrEncode is returned when a value cannot be represented.
	ErrEncode = errors.New("dpt: encoding failed")

	// ErrDecode is returned when data is too short or holds the invalid
	// value marker.
	ErrDecode = errors.New("dpt: decoding failed")
)
