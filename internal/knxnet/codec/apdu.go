package codec

import (
	"encoding/binary"
	"fmt"
)

// APDU size limits.
const (
	// MaxAPDUData is the largest payload a standard frame carries.
	MaxAPDUData = 14

	minAPDUTotal = 3
	maxAPDUTotal = minAPDUTotal + MaxAPDUData

	// maxAPDULength is the largest length byte of a standard frame: the
	// APCI byte plus MaxAPDUData.
	maxAPDULength = maxAPDUTotal - 2

	inWordMask = 0x3F
	apciMask   = 0x3FF
)

// APDU is the transport and application part of a CEMI frame.
//
// With an APCI, the TPCI's two low bits are not transmitted. Without one
// (APCI == NoAPCI) the frame is a pure transport control message and the
// whole TPCI byte is sent, including the UCD/NCD subtype bits.
//
// Payload placement follows apduLayout: for a 4-bit APCI family, a single data
// byte of 0-63 is folded into the low 6 bits of the control word unless
// Appended is set or InWord is used; anything else follows the control word.
// InWord carries the low 6 bits of the control word for services that need
// both in-word and appended data (Memory_Read's byte count, for example).
type APDU struct {
	TPCI     byte
	APCI     APCI
	Data     []byte
	InWord   uint8
	Appended bool
}

// ControlAPDU returns a transport-only APDU such as a UCD connect or an NCD ack.
func ControlAPDU(tpci byte) APDU {
	return APDU{TPCI: tpci, APCI: NoAPCI}
}

// IsControl reports whether the APDU carries no application service.
func (a APDU) IsControl() bool {
	return a.APCI == NoAPCI
}

// Label names the APDU: the APCI name, or the ParseTPCI label for transport
// control messages.
func (a APDU) Label() string {
	if a.IsControl() {
		return ParseTPCI(a.TPCI)
	}
	return a.APCI.String()
}

// apduLayout decides how an APDU is laid out on the wire.
//
// Returns:
//   - total: Encoded size including the length byte
//   - fold: Whether the single data byte goes into the control word
//   - err: ErrUnknownAPCI, ErrPayloadTooLarge or ErrPayloadTooSmall
func apduLayout(a APDU) (total int, fold bool, err error) {
	if a.IsControl() {
		return 2, false, nil //nolint:mnd // length byte + TPCI
	}
	if !a.APCI.Known() {
		return 0, false, fmt.Errorf("%w: 0x%03X", ErrUnknownAPCI, uint16(a.APCI))
	}
	if len(a.Data) > MaxAPDUData {
		return 0, false, fmt.Errorf("%w: %d data bytes (max %d)", ErrPayloadTooLarge, len(a.Data), MaxAPDUData)
	}
	if a.InWord > inWordMask {
		return 0, false, fmt.Errorf("%w: in-word value %d exceeds 6 bits", ErrPayloadTooLarge, a.InWord)
	}
	if a.InWord != 0 && a.APCI&inWordMask != 0 {
		return 0, false, fmt.Errorf("%w: %s has no in-word bits", ErrPayloadTooLarge, a.APCI)
	}
	if a.Appended && len(a.Data) == 0 {
		return 0, false, fmt.Errorf("%w: %s marked appended without data", ErrPayloadTooSmall, a.APCI)
	}

	switch {
	case len(a.Data) == 0:
		return minAPDUTotal, false, nil
	case len(a.Data) == 1 && a.Data[0] <= inWordMask && !a.Appended && a.InWord == 0 && a.APCI&inWordMask == 0:
		return minAPDUTotal, true, nil
	default:
		return minAPDUTotal + len(a.Data), false, nil
	}
}

// EncodedLen returns the encoded size of the APDU including its length byte.
func (a APDU) EncodedLen() (int, error) {
	total, _, err := apduLayout(a)
	return total, err
}

// Encode returns the wire form: length byte, control word, appended data.
func (a APDU) Encode() ([]byte, error) {
	return a.append(nil)
}

func (a APDU) append(b []byte) ([]byte, error) {
	total, fold, err := apduLayout(a)
	if err != nil {
		return nil, err
	}
	if a.IsControl() {
		return append(b, 0, a.TPCI), nil
	}

	word := uint16(a.TPCI&^tpciSubtypeMask)<<8 | uint16(a.APCI)&apciMask
	if fold {
		word |= uint16(a.Data[0])
	} else {
		word |= uint16(a.InWord)
	}

	b = append(b, byte(total-2)) //nolint:mnd // length excludes itself and the TPCI byte
	b = binary.BigEndian.AppendUint16(b, word)
	if !fold {
		b = append(b, a.Data...)
	}
	return b, nil
}

// DecodeAPDU reads an APDU from the start of b.
func DecodeAPDU(b []byte) (APDU, int, error) {
	r := newReader(b)
	a, err := readAPDU(r)
	return a, r.pos, err
}

// readAPDU resolves the APCI in a fixed order. A zero length byte means a
// transport-only frame; one above maxAPDULength is rejected before the body
// is read. Otherwise the low 10 bits of the control word are
// tried against the full-width table first, but only above MemoryRead:
// smaller codes may carry data in their low bits and resolve through the
// 4-bit family.
func readAPDU(r *reader) (APDU, error) {
	length, err := r.uint8("APDU length")
	if err != nil {
		return APDU{}, err
	}
	if length == 0 {
		tpci, err := r.uint8("TPCI")
		if err != nil {
			return APDU{}, err
		}
		return ControlAPDU(tpci), nil
	}
	if length > maxAPDULength {
		return APDU{}, fmt.Errorf("%w: APDU length %d (max %d)", ErrPayloadTooLarge, length, maxAPDULength)
	}

	raw, err := r.bytes(int(length)+1, "APDU")
	if err != nil {
		return APDU{}, err
	}
	word := binary.BigEndian.Uint16(raw)
	a := APDU{TPCI: raw[0] &^ tpciSubtypeMask}

	if alt := APCI(word & apciMask); alt > MemoryRead && alt.FullWidth() {
		a.APCI = alt
		a.Data = raw[2:]
		return a, nil
	}

	a.APCI = APCI((word>>6)&0x0F) << 6 //nolint:mnd // 4-bit family
	if length > 1 {
		a.Data = raw[2:]
		a.InWord = uint8(word & inWordMask)
		// A lone small byte sent out of band must stay out of band on re-encode.
		a.Appended = len(a.Data) == 1 && a.Data[0] <= inWordMask && a.InWord == 0
	} else {
		a.Data = []byte{uint8(word & inWordMask)}
	}
	return a, nil
}
