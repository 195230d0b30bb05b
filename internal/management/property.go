package management

import (
	"bytes"
	"context"
	"fmt"

	"github.com/nerrad567/knxnetip/internal/knx/address"
	"github.com/nerrad567/knxnetip/internal/knxnet/codec"
)

// propertyHeaderLen is object index, property ID, count and start index.
const propertyHeaderLen = 4

// maxPropertyBytes is the value space left in a standard frame.
const maxPropertyBytes = codec.MaxAPDUData - propertyHeaderLen

// Property identifies elements of an interface object property.
type Property struct {
	Object uint8  // object index
	ID     uint8  // property ID
	Count  uint8  // number of elements, 1 to 15
	Start  uint16 // first element, 0 to 4095
}

func (p Property) header() ([]byte, error) {
	if p.Count < 1 || p.Count > 0x0F {
		return nil, fmt.Errorf("%w: element count %d", ErrInvalidLength, p.Count)
	}
	if p.Start > 0x0FFF {
		return nil, fmt.Errorf("%w: start index %d", ErrInvalidLength, p.Start)
	}
	return []byte{
		p.Object,
		p.ID,
		p.Count<<4 | uint8(p.Start>>8)&0x0F, //nolint:mnd // count and start share a byte
		uint8(p.Start),                      //nolint:gosec // low byte
	}, nil
}

// ReadProperty reads property elements from an interface object.
//
// Returns:
//   - []byte: Element data following the 4-byte header
//   - error: ErrPropertyUnavailable when the device returns no elements,
//     ErrInvalidLength, ErrTimeout, ErrNacked or a send error
func (m *Manager) ReadProperty(ctx context.Context, target address.DeviceAddress, p Property) ([]byte, error) {
	hdr, err := p.header()
	if err != nil {
		return nil, err
	}

	resp, err := m.exchange(ctx, target, codec.APDU{APCI: codec.PropertyValueRead, Data: hdr}, codec.PropertyValueResponse)
	if err != nil {
		return nil, err
	}
	return propertyValue(resp.Data, p, target)
}

// WriteProperty writes property elements and waits for the device to echo
// the stored value.
//
// Returns:
//   - []byte: Value echoed by the device
//   - error: ErrPropertyUnavailable when the write was refused,
//     ErrInvalidLength, ErrTimeout, ErrNacked or a send error
func (m *Manager) WriteProperty(ctx context.Context, target address.DeviceAddress, p Property, value []byte) ([]byte, error) {
	hdr, err := p.header()
	if err != nil {
		return nil, err
	}
	if len(value) == 0 || len(value) > maxPropertyBytes {
		return nil, fmt.Errorf("%w: %d byte property value", ErrInvalidLength, len(value))
	}

	req := codec.APDU{APCI: codec.PropertyValueWrite, Data: append(hdr, value...)}
	resp, err := m.exchange(ctx, target, req, codec.PropertyValueResponse)
	if err != nil {
		return nil, err
	}
	return propertyValue(resp.Data, p, target)
}

func propertyValue(data []byte, p Property, target address.DeviceAddress) ([]byte, error) {
	if len(data) < propertyHeaderLen {
		return nil, fmt.Errorf("%w: %d byte PropertyValue_Response from %s", ErrInvalidLength, len(data), target)
	}
	if data[0] != p.Object || data[1] != p.ID {
		return nil, fmt.Errorf("%w: response for object %d property %d, want %d/%d",
			ErrInvalidLength, data[0], data[1], p.Object, p.ID)
	}
	if data[2]>>4 == 0 {
		return nil, fmt.Errorf("%w: object %d property %d on %s", ErrPropertyUnavailable, p.Object, p.ID, target)
	}
	return bytes.Clone(data[propertyHeaderLen:]), nil
}
