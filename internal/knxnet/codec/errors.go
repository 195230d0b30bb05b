package codec

import "errors"

// Decode errors.
var (
	// ErrTruncatedBuffer indicates the input ended before a structure was complete.
	ErrTruncatedBuffer = errors.New("codec: truncated buffer")

	// ErrInvalidHeader indicates a header with an unexpected length or version.
	ErrInvalidHeader = errors.New("codec: invalid header")

	// ErrInvalidStructureLength indicates a structure whose length byte does not
	// match its fixed wire size.
	ErrInvalidStructureLength = errors.New("codec: invalid structure length")

	// ErrUnsupportedProtocolType indicates an HPAI with a protocol other than UDP.
	ErrUnsupportedProtocolType = errors.New("codec: unsupported protocol type")

	// ErrUnknownServiceType indicates a datagram this package does not decode.
	// Callers log and drop such datagrams.
	ErrUnknownServiceType = errors.New("codec: unknown service type")
)

// Encode errors.
var (
	// ErrMissingRequiredField indicates a structure lacking a field its service type needs.
	ErrMissingRequiredField = errors.New("codec: missing required field")

	// ErrPayloadTooLarge indicates APDU data longer than 14 bytes, on encode
	// or in a received length byte.
	ErrPayloadTooLarge = errors.New("codec: payload too large")

	// ErrPayloadTooSmall indicates an APDU marked Appended with no data to
	// append.
	ErrPayloadTooSmall = errors.New("codec: payload too small")

	// ErrInvalidAddressForField indicates an address that does not fit its field,
	// such as a group destination with a device destination-address-type bit.
	ErrInvalidAddressForField = errors.New("codec: invalid address for field")

	// ErrUnknownAPCI indicates an APCI code missing from the code table.
	ErrUnknownAPCI = errors.New("codec: unknown APCI")

	// ErrPollFrame indicates a poll-data frame, which has no bus frame rebuild.
	ErrPollFrame = errors.New("codec: poll frames are not supported")
)
