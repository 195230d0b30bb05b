package address

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind distinguishes device (individual) addresses from group addresses.
// The numeric values match the destination-address-type bit of a CEMI
// control field.
type Kind uint8

const (
	// KindDevice is an individual address (area.line.device).
	KindDevice Kind = 0

	// KindGroup is a group address (main/middle/sub or main/sub).
	KindGroup Kind = 1
)

// String returns "device" or "group".
func (k Kind) String() string {
	if k == KindGroup {
		return "group"
	}
	return "device"
}

// Level selects the string notation used for group addresses.
type Level uint8

const (
	// ThreeLevel renders group addresses as main/middle/sub.
	ThreeLevel Level = 3

	// TwoLevel renders group addresses as main/sub.
	TwoLevel Level = 2
)

// Component limits.
const (
	maxArea   = 15
	maxLine   = 15
	maxDevice = 255

	maxMain    = 31
	maxMiddle  = 7
	maxSub3    = 255
	maxSub2    = 2047
	mainShift  = 11
	middleMask = 0x07
	subMask3   = 0xFF
	subMask2   = 0x7FF
	mainMask   = 0x1F
)

var (
	deviceRe = regexp.MustCompile(`^(\d{1,4})\.(\d{1,4})\.(\d{1,4})$`)
	group2Re = regexp.MustCompile(`^(\d+)/(\d+)$`)
	group3Re = regexp.MustCompile(`^(\d+)/(\d+)/(\d+)$`)
)

// DeviceAddress is a 16-bit KNX individual address.
//
// Layout: AAAA LLLL DDDD DDDD
type DeviceAddress uint16

// GroupAddress is a 16-bit KNX group address.
//
// Layout: MMMM MSSS SSSS SSSS (3-level splits S into 3 middle + 8 sub bits)
type GroupAddress uint16

// Address is a 16-bit value tagged with its kind.
type Address struct {
	Kind  Kind
	Value uint16
}

// NewDevice builds a device address from its components. Components are
// masked to their bit widths.
func NewDevice(area, line, device uint8) DeviceAddress {
	return DeviceAddress(uint16(area&0x0F)<<12 | uint16(line&0x0F)<<8 | uint16(device))
}

// NewGroup builds a 3-level group address from its components. Components
// are masked to their bit widths.
func NewGroup(main, middle, sub uint8) GroupAddress {
	return GroupAddress(uint16(main&mainMask)<<mainShift | uint16(middle&middleMask)<<8 | uint16(sub))
}

// Parse validates an address string of the expected kind and returns its
// 16-bit value.
//
// Device addresses must match area.line.device with area 0-15, line 0-15 and
// device 0-255. Group addresses may be 2-level (main 0-31, sub 0-2047) or
// 3-level (main 0-31, middle 0-7, sub 0-255). Strings mixing separators are
// rejected.
//
// Parameters:
//   - s: Address string (e.g. "1.1.5", "1/2/3", "1/700")
//   - kind: Expected kind
//
// Returns:
//   - uint16: Binary address
//   - error: ErrInvalidAddress on syntax, range, or kind mismatch
func Parse(s string, kind Kind) (uint16, error) {
	switch kind {
	case KindDevice:
		a, err := ParseDevice(s)
		return uint16(a), err
	case KindGroup:
		g, err := ParseGroup(s)
		return uint16(g), err
	default:
		return 0, fmt.Errorf("%w: unknown kind %d", ErrInvalidAddress, kind)
	}
}

// ParseDevice parses an individual address such as "1.1.5".
func ParseDevice(s string) (DeviceAddress, error) {
	m := deviceRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q is not an individual address (area.line.device)", ErrInvalidAddress, s)
	}

	area, err := component(m[1], maxArea, "area", s)
	if err != nil {
		return 0, err
	}
	line, err := component(m[2], maxLine, "line", s)
	if err != nil {
		return 0, err
	}
	device, err := component(m[3], maxDevice, "device", s)
	if err != nil {
		return 0, err
	}

	return DeviceAddress(area<<12 | line<<8 | device), nil
}

// ParseGroup parses a 2-level ("1/700") or 3-level ("1/2/3") group address.
func ParseGroup(s string) (GroupAddress, error) {
	if m := group3Re.FindStringSubmatch(s); m != nil {
		main, err := component(m[1], maxMain, "main group", s)
		if err != nil {
			return 0, err
		}
		middle, err := component(m[2], maxMiddle, "middle group", s)
		if err != nil {
			return 0, err
		}
		sub, err := component(m[3], maxSub3, "sub group", s)
		if err != nil {
			return 0, err
		}
		return GroupAddress(main<<mainShift | middle<<8 | sub), nil
	}

	if m := group2Re.FindStringSubmatch(s); m != nil {
		main, err := component(m[1], maxMain, "main group", s)
		if err != nil {
			return 0, err
		}
		sub, err := component(m[2], maxSub2, "sub group", s)
		if err != nil {
			return 0, err
		}
		return GroupAddress(main<<mainShift | sub), nil
	}

	return 0, fmt.Errorf("%w: %q is not a group address (main/middle/sub or main/sub)", ErrInvalidAddress, s)
}

// component parses one decimal component and checks its upper bound.
func component(digits string, limit uint64, name, full string) (uint16, error) {
	v, err := strconv.ParseUint(digits, 10, 16)
	if err != nil || v > limit {
		return 0, fmt.Errorf("%w: %s must be 0-%d in %q", ErrInvalidAddress, name, limit, full)
	}
	return uint16(v), nil
}

// KindOf classifies an address string by its separator.
//
// Returns:
//   - Kind: KindDevice for "." separated strings, KindGroup for "/"
//   - error: ErrUnknownKind if neither separator is present, ErrInvalidAddress
//     if both are present
func KindOf(s string) (Kind, error) {
	hasDot := strings.Contains(s, ".")
	hasSlash := strings.Contains(s, "/")

	switch {
	case hasDot && hasSlash:
		return 0, fmt.Errorf("%w: mixed separators in %q", ErrInvalidAddress, s)
	case hasDot:
		return KindDevice, nil
	case hasSlash:
		return KindGroup, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// ParseAny parses a string whose kind is inferred from its separator.
func ParseAny(s string) (Address, error) {
	kind, err := KindOf(s)
	if err != nil {
		return Address{}, err
	}
	v, err := Parse(s, kind)
	if err != nil {
		return Address{}, err
	}
	return Address{Kind: kind, Value: v}, nil
}

// Format renders a 16-bit value in the notation of the given kind. The level
// is ignored for device addresses. Every 16-bit input renders.
func Format(v uint16, kind Kind, level Level) string {
	if kind == KindDevice {
		return DeviceAddress(v).String()
	}
	return GroupAddress(v).Format(level)
}

// String returns the address as area.line.device.
func (a DeviceAddress) String() string {
	return fmt.Sprintf("%d.%d.%d", a.Area(), a.Line(), a.Device())
}

// Area returns the upper 4 bits.
func (a DeviceAddress) Area() uint8 { return uint8(a >> 12) }

// Line returns bits 11-8.
func (a DeviceAddress) Line() uint8 { return uint8(a>>8) & 0x0F }

// Device returns the low byte.
func (a DeviceAddress) Device() uint8 { return uint8(a) }

// Bytes returns the big-endian wire form.
func (a DeviceAddress) Bytes() [2]byte { return [2]byte{byte(a >> 8), byte(a)} }

// Address returns the value tagged as a device address.
func (a DeviceAddress) Address() Address { return Address{Kind: KindDevice, Value: uint16(a)} }

// String returns the address in 3-level notation.
func (g GroupAddress) String() string {
	return g.Format(ThreeLevel)
}

// Format returns the address in 2-level or 3-level notation.
func (g GroupAddress) Format(level Level) string {
	main := (uint16(g) >> mainShift) & mainMask
	if level == TwoLevel {
		return fmt.Sprintf("%d/%d", main, uint16(g)&subMask2)
	}
	return fmt.Sprintf("%d/%d/%d", main, (uint16(g)>>8)&middleMask, uint16(g)&subMask3)
}

// Bytes returns the big-endian wire form.
func (g GroupAddress) Bytes() [2]byte { return [2]byte{byte(g >> 8), byte(g)} }

// Address returns the value tagged as a group address.
func (g GroupAddress) Address() Address { return Address{Kind: KindGroup, Value: uint16(g)} }

// String renders the address in its kind's notation (3-level for groups).
func (a Address) String() string {
	return Format(a.Value, a.Kind, ThreeLevel)
}

// IsGroup reports whether the address is a group address.
func (a Address) IsGroup() bool { return a.Kind == KindGroup }

// Device returns the value as a DeviceAddress regardless of kind.
func (a Address) Device() DeviceAddress { return DeviceAddress(a.Value) }

// Group returns the value as a GroupAddress regardless of kind.
func (a Address) Group() GroupAddress { return GroupAddress(a.Value) }

// Bytes returns the big-endian wire form.
func (a Address) Bytes() [2]byte { return [2]byte{byte(a.Value >> 8), byte(a.Value)} }

// MustDevice parses an individual address and panics on error.
// Intended for constants and tests.
func MustDevice(s string) DeviceAddress {
	a, err := ParseDevice(s)
	if err != nil {
		panic(err)
	}
	return a
}

// MustGroup parses a group address and panics on error.
// Intended for constants and tests.
func MustGroup(s string) GroupAddress {
	g, err := ParseGroup(s)
	if err != nil {
		panic(err)
	}
	return g
}

// LevelOf returns the notation level of a group address string: 3 for
// main/middle/sub, 2 for main/sub and 1 for a bare number. The string is not
// range checked.
func LevelOf(s string) Level {
	return Level(strings.Count(s, "/") + 1)
}

// Valid reports whether s parses as either a device or a group address.
func Valid(s string) bool {
	_, err := ParseAny(s)
	return err == nil
}
