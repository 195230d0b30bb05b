package management

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/nerrad567/knxnetip/internal/knx/address"
	"github.com/nerrad567/knxnetip/internal/knxnet/codec"
)

// Well-known locations.
const (
	// ProgrammingModeAddress holds the programming mode flag in bit 0.
	ProgrammingModeAddress uint16 = 0x0060

	// SerialNumberLength is the size of a KNX serial number.
	SerialNumberLength = 6
)

// Interface object indexes of a System B (BCU 2) device.
const (
	DeviceObject           uint8 = 0
	AddressTableObject     uint8 = 1
	AssociationTableObject uint8 = 2
	ApplicationObject      uint8 = 3 // application 1
	InterfaceProgramObject uint8 = 4 // application 2, the PEI program
)

// Property IDs used by the helpers below.
const (
	PropLoadStateControl uint8 = 5
	PropRunStateControl  uint8 = 6
	PropSerialNumber     uint8 = 11
	PropManufacturerID   uint8 = 12
	PropProgramVersion   uint8 = 13
	PropOrderInfo        uint8 = 15
)

// ProgrammingMode reports whether the device is in programming mode.
func (m *Manager) ProgrammingMode(ctx context.Context, target address.DeviceAddress) (bool, error) {
	b, err := m.ReadMemory(ctx, target, ProgrammingModeAddress, 1)
	if err != nil {
		return false, err
	}
	return b[0]&0x01 != 0, nil
}

// SetProgrammingMode switches programming mode on or off. The other bits of
// the flag byte are preserved.
func (m *Manager) SetProgrammingMode(ctx context.Context, target address.DeviceAddress, on bool) error {
	b, err := m.ReadMemory(ctx, target, ProgrammingModeAddress, 1)
	if err != nil {
		return err
	}
	v := b[0] &^ 0x01
	if on {
		v |= 0x01
	}
	if v == b[0] {
		return nil
	}
	return m.WriteMemory(ctx, target, ProgrammingModeAddress, []byte{v})
}

// ReadSerialNumber reads the 6-byte serial number of the device object.
func (m *Manager) ReadSerialNumber(ctx context.Context, target address.DeviceAddress) ([]byte, error) {
	sn, err := m.ReadProperty(ctx, target, Property{Object: DeviceObject, ID: PropSerialNumber, Count: 1, Start: 1})
	if err != nil {
		return nil, err
	}
	if len(sn) != SerialNumberLength {
		return nil, fmt.Errorf("%w: %d byte serial number from %s", ErrInvalidLength, len(sn), target)
	}
	return sn, nil
}

// ReadDeviceDescriptor reads device descriptor type 0, the mask version.
func (m *Manager) ReadDeviceDescriptor(ctx context.Context, target address.DeviceAddress) (uint16, error) {
	req := codec.APDU{APCI: codec.DeviceDescriptorRead, Data: []byte{0}}
	resp, err := m.exchange(ctx, target, req, codec.DeviceDescriptorResponse)
	if err != nil {
		return 0, err
	}
	if len(resp.Data) != 2 { //nolint:mnd // mask version
		return 0, fmt.Errorf("%w: %d byte device descriptor from %s", ErrInvalidLength, len(resp.Data), target)
	}
	return binary.BigEndian.Uint16(resp.Data), nil
}

// Restart sends a connectionless A_Restart. The device does not answer.
func (m *Manager) Restart(ctx context.Context, target address.DeviceAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.send(ctx, target, codec.APDU{APCI: codec.Restart}); err != nil {
		return fmt.Errorf("restarting %s: %w", target, err)
	}
	m.logger.Info("restart sent", "target", target.String())
	return nil
}
