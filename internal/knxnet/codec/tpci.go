package codec

import "fmt"

// TPCI packet types (bits 7-6 of the transport byte).
const (
	TPCIUnnumberedData    byte = 0x00 // UDP
	TPCINumberedData      byte = 0x40 // NDP
	TPCIUnnumberedControl byte = 0x80 // UCD
	TPCINumberedControl   byte = 0xC0 // NCD
)

// TPCI control subtypes (bits 1-0), meaningful only without an APCI.
const (
	TPCIConnect    byte = 0x00 // UCD
	TPCIDisconnect byte = 0x01 // UCD
	TPCIAck        byte = 0x02 // NCD
	TPCINack       byte = 0x03 // NCD
)

const (
	tpciTypeMask    = 0xC0
	tpciSeqnumMask  = 0x3C
	tpciSubtypeMask = 0x03
)

// TPCI builds a transport byte from a packet type, a 4-bit sequence number
// and a control subtype.
func TPCI(packetType, seqnum, subtype byte) byte {
	return packetType&tpciTypeMask | (seqnum<<2)&tpciSeqnumMask | subtype&tpciSubtypeMask
}

// TPCISeqnum extracts the 4-bit sequence number.
func TPCISeqnum(b byte) byte {
	return (b & tpciSeqnumMask) >> 2
}

// TPCIType extracts the packet type bits.
func TPCIType(b byte) byte {
	return b & tpciTypeMask
}

// ParseTPCI labels a transport byte, e.g. "NCD_ACK Seqnum: 10".
func ParseTPCI(b byte) string {
	seq := TPCISeqnum(b)
	sub := b & tpciSubtypeMask

	switch b & tpciTypeMask {
	case TPCIUnnumberedData:
		return "UDP_APCI"
	case TPCINumberedData:
		return fmt.Sprintf("NDP_APCI Seqnum: %d", seq)
	case TPCIUnnumberedControl:
		switch sub {
		case TPCIConnect:
			return "UCD_CON"
		case TPCIDisconnect:
			return "UCD_DCON"
		default:
			return "UCD_UNKNOWN"
		}
	default:
		switch sub {
		case TPCIAck:
			return fmt.Sprintf("NCD_ACK Seqnum: %d", seq)
		case TPCINack:
			return fmt.Sprintf("NCD_NACK Seqnum: %d", seq)
		default:
			return fmt.Sprintf("NCD_UNKNOWN Seqnum: %d", seq)
		}
	}
}
