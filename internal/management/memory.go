package management

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/nerrad567/knxnetip/internal/knx/address"
	"github.com/nerrad567/knxnetip/internal/knxnet/codec"
)

// MaxMemoryBytes is the largest memory block one request can carry.
const MaxMemoryBytes = 12

// ReadMemory reads n bytes of device memory starting at addr.
//
// Parameters:
//   - target: Individual address of the device
//   - addr: Memory address
//   - n: Number of bytes, 1 to MaxMemoryBytes
//
// Returns:
//   - []byte: Memory contents
//   - error: ErrInvalidLength, ErrTimeout, ErrNacked or a send error
func (m *Manager) ReadMemory(ctx context.Context, target address.DeviceAddress, addr uint16, n int) ([]byte, error) {
	if n < 1 || n > MaxMemoryBytes {
		return nil, fmt.Errorf("%w: cannot read %d bytes", ErrInvalidLength, n)
	}

	req := codec.APDU{
		APCI:   codec.MemoryRead,
		InWord: uint8(n), //nolint:gosec // bounded above
		Data:   binary.BigEndian.AppendUint16(nil, addr),
	}
	resp, err := m.exchange(ctx, target, req, codec.MemoryResponse)
	if err != nil {
		return nil, err
	}

	if len(resp.Data) < 2 { //nolint:mnd // echoed memory address
		return nil, fmt.Errorf("%w: %d byte Memory_Response from %s", ErrInvalidLength, len(resp.Data), target)
	}
	if got := binary.BigEndian.Uint16(resp.Data); got != addr {
		return nil, fmt.Errorf("%w: Memory_Response for 0x%04X, want 0x%04X", ErrInvalidLength, got, addr)
	}
	data := resp.Data[2:]
	if len(data) != n {
		// A device answers with zero bytes when the range is protected.
		return nil, fmt.Errorf("%w: %s returned %d of %d bytes at 0x%04X", ErrInvalidLength, target, len(data), n, addr)
	}
	return bytes.Clone(data), nil
}

// WriteMemory writes data to device memory starting at addr. It returns once
// the device has acknowledged the request.
//
// Returns:
//   - error: ErrInvalidLength, ErrTimeout, ErrNacked or a send error
func (m *Manager) WriteMemory(ctx context.Context, target address.DeviceAddress, addr uint16, data []byte) error {
	if len(data) < 1 || len(data) > MaxMemoryBytes {
		return fmt.Errorf("%w: cannot write %d bytes", ErrInvalidLength, len(data))
	}

	req := codec.APDU{
		APCI:   codec.MemoryWrite,
		InWord: uint8(len(data)), //nolint:gosec // bounded above
		Data:   append(binary.BigEndian.AppendUint16(nil, addr), data...),
	}
	_, err := m.exchange(ctx, target, req, codec.NoAPCI)
	return err
}
