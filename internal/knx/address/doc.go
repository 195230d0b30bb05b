// Package address converts KNX individual and group addresses between their
// human-readable string forms and the 16-bit values carried on the wire.
//
// Individual (device) addresses use the area.line.device notation:
//   - Area:   0-15  (4 bits)
//   - Line:   0-15  (4 bits)
//   - Device: 0-255 (8 bits)
//
// Group addresses come in two notations:
//   - 3-level main/middle/sub: 5/3/8 bits (e.g. "1/2/3")
//   - 2-level main/sub:        5/11 bits (e.g. "1/700")
//
// The binary form has no invalid states, so formatting always succeeds.
// Only parsing can fail, and every failure wraps ErrInvalidAddress.
//
// Whether a 16-bit value is a device or a group address is not recoverable
// from the value itself; it is carried out-of-band (for example by the
// destination-address-type bit of a CEMI control field). The Address type
// pairs a value with its Kind for that reason.
package address
