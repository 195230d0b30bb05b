package management

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/nerrad567/knxnetip/internal/knx/address"
)

// RunState is the value of an application's run state property.
type RunState uint8

// Run states.
const (
	RunHalted RunState = iota
	RunRunning
	RunReady
	RunTerminated
	RunStarting
	RunShuttingDown
)

var runStateNames = [...]string{"halted", "running", "ready", "terminated", "starting", "shutting down"}

func (s RunState) String() string {
	if int(s) < len(runStateNames) {
		return runStateNames[s]
	}
	return fmt.Sprintf("run state %d", uint8(s))
}

// RunEvent is written to the run state property to control an application.
type RunEvent uint8

// Run control events.
const (
	RunNoOp    RunEvent = 0
	RunRestart RunEvent = 1
	RunStop    RunEvent = 2
)

// LoadState is the value of a load state property.
type LoadState uint8

// Load states.
const (
	LoadUnloaded LoadState = iota
	LoadLoaded
	LoadLoading
	LoadError
	LoadUnloading
	LoadCompleting
)

var loadStateNames = [...]string{"unloaded", "loaded", "loading", "error", "unloading", "load completing"}

func (s LoadState) String() string {
	if int(s) < len(loadStateNames) {
		return loadStateNames[s]
	}
	return fmt.Sprintf("load state %d", uint8(s))
}

// ApplicationID is the program version property of an application object:
// which program of which manufacturer is loaded.
type ApplicationID struct {
	Manufacturer uint16
	DeviceType   uint16
	Version      uint8
}

// applicationIDLength is the size of the program version property.
const applicationIDLength = 5

func (id ApplicationID) String() string {
	return fmt.Sprintf("%04X-%04X-%02X", id.Manufacturer, id.DeviceType, id.Version)
}

// applicationObject maps application index 1 or 2 to its interface object.
func applicationObject(app int) (uint8, error) {
	switch app {
	case 1:
		return ApplicationObject, nil
	case 2: //nolint:mnd // second application
		return InterfaceProgramObject, nil
	}
	return 0, fmt.Errorf("%w: got %d", ErrInvalidApplication, app)
}

// readElement reads element 1 of a property and checks its size.
func (m *Manager) readElement(ctx context.Context, target address.DeviceAddress, obj, id uint8, size int) ([]byte, error) {
	b, err := m.ReadProperty(ctx, target, Property{Object: obj, ID: id, Count: 1, Start: 1})
	if err != nil {
		return nil, err
	}
	if size > 0 && len(b) != size {
		return nil, fmt.Errorf("%w: %d bytes for object %d property %d from %s, want %d",
			ErrInvalidLength, len(b), obj, id, target, size)
	}
	return b, nil
}

// ReadApplicationRunState reads the run state of application 1 or 2.
//
// Returns:
//   - RunState: The application's run state
//   - error: ErrInvalidApplication before anything is sent, or a
//     ReadProperty error
func (m *Manager) ReadApplicationRunState(ctx context.Context, target address.DeviceAddress, app int) (RunState, error) {
	obj, err := applicationObject(app)
	if err != nil {
		return 0, err
	}
	b, err := m.readElement(ctx, target, obj, PropRunStateControl, 1)
	if err != nil {
		return 0, err
	}
	return RunState(b[0]), nil
}

// SetApplicationRunState writes a run control event to application 1 or 2
// and returns the run state the device reports afterwards.
func (m *Manager) SetApplicationRunState(ctx context.Context, target address.DeviceAddress, app int, event RunEvent) (RunState, error) {
	obj, err := applicationObject(app)
	if err != nil {
		return 0, err
	}
	p := Property{Object: obj, ID: PropRunStateControl, Count: 1, Start: 1}
	b, err := m.WriteProperty(ctx, target, p, []byte{byte(event)})
	if err != nil {
		return 0, err
	}
	if len(b) != 1 {
		return 0, fmt.Errorf("%w: %d byte run state from %s", ErrInvalidLength, len(b), target)
	}
	m.logger.Info("run state set", "target", target.String(), "application", app, "state", RunState(b[0]).String())
	return RunState(b[0]), nil
}

// ReadApplicationLoadState reads the load state of application 1 or 2.
func (m *Manager) ReadApplicationLoadState(ctx context.Context, target address.DeviceAddress, app int) (LoadState, error) {
	obj, err := applicationObject(app)
	if err != nil {
		return 0, err
	}
	b, err := m.readElement(ctx, target, obj, PropLoadStateControl, 1)
	if err != nil {
		return 0, err
	}
	return LoadState(b[0]), nil
}

// ReadApplicationID reads the program version of application 1 or 2.
func (m *Manager) ReadApplicationID(ctx context.Context, target address.DeviceAddress, app int) (ApplicationID, error) {
	obj, err := applicationObject(app)
	if err != nil {
		return ApplicationID{}, err
	}
	b, err := m.readElement(ctx, target, obj, PropProgramVersion, applicationIDLength)
	if err != nil {
		return ApplicationID{}, err
	}
	return ApplicationID{
		Manufacturer: binary.BigEndian.Uint16(b[0:2]),
		DeviceType:   binary.BigEndian.Uint16(b[2:4]),
		Version:      b[4],
	}, nil
}

// ReadManufacturerID reads the KNX manufacturer code of the device object.
func (m *Manager) ReadManufacturerID(ctx context.Context, target address.DeviceAddress) (uint16, error) {
	b, err := m.readElement(ctx, target, DeviceObject, PropManufacturerID, 2) //nolint:mnd // 16-bit code
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadOrderNumber reads the manufacturer's order number of the device
// object. Its layout is manufacturer specific; it is usually 10 bytes of
// ASCII padded with zeros.
func (m *Manager) ReadOrderNumber(ctx context.Context, target address.DeviceAddress) ([]byte, error) {
	b, err := m.readElement(ctx, target, DeviceObject, PropOrderInfo, 0)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty order number from %s", ErrInvalidLength, target)
	}
	return b, nil
}
