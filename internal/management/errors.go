package management

import "errors"

var (
	// ErrTimeout indicates the device did not acknowledge or answer in time.
	ErrTimeout = errors.New("management: timed out waiting for device")

	// ErrInvalidLength indicates a request or response of unusable length.
	ErrInvalidLength = errors.New("management: invalid length")

	// ErrNacked indicates the device rejected a request with NCD NACK or
	// acknowledged the wrong sequence number.
	ErrNacked = errors.New("management: request not acknowledged")

	// ErrPropertyUnavailable indicates a property response with zero
	// elements: the object or property does not exist or cannot be written.
	ErrPropertyUnavailable = errors.New("management: property unavailable")
)

// ErrInvalidApplication indicates an application index other than 1 or 2.
var ErrInvalidApplication = errors.New("management: application index must be 1 or 2")
