package management

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/knxnetip/internal/knx/address"
	"github.com/nerrad567/knxnetip/internal/knxnet/client"
	"github.com/nerrad567/knxnetip/internal/knxnet/codec"
)

var (
	testLocal  = address.MustDevice("1.1.254")
	testTarget = address.MustDevice("1.1.7")
)

// MockWaiter resolves with the first datagram delivered to it.
type MockWaiter struct {
	tpl     client.Template
	timeout time.Duration
	ch      chan codec.Datagram
}

func (w *MockWaiter) Wait(ctx context.Context) (codec.Datagram, error) {
	select {
	case dg, ok := <-w.ch:
		if !ok {
			return nil, client.ErrCancelled
		}
		return dg, nil
	case <-time.After(w.timeout):
		return nil, client.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *MockWaiter) Cancel() {}

// MockDevice plays a device behind the connection. respond is called for
// every frame sent and returns the frames the device answers with.
type MockDevice struct {
	mu      sync.Mutex
	sent    []codec.CEMI
	waiters []*MockWaiter
	sendErr error
	respond func(req codec.CEMI) []codec.APDU
}

func (d *MockDevice) Send(_ context.Context, cemi codec.CEMI) error {
	d.mu.Lock()
	if d.sendErr != nil {
		d.mu.Unlock()
		return d.sendErr
	}
	d.sent = append(d.sent, cemi)
	respond := d.respond
	d.mu.Unlock()

	if respond == nil {
		return nil
	}
	for _, apdu := range respond(cemi) {
		d.deliver(apdu)
	}
	return nil
}

func (d *MockDevice) deliver(apdu codec.APDU) {
	dg := codec.TunnelingRequest{CEMI: codec.CEMI{
		MessageCode: codec.LDataInd,
		Control:     codec.DefaultControl(),
		Source:      testTarget,
		Destination: testLocal.Address(),
		APDU:        &apdu,
	}}

	d.mu.Lock()
	defer d.mu.Unlock()
	for i, w := range d.waiters {
		if w.tpl.Match(dg) {
			w.ch <- dg
			d.waiters = append(d.waiters[:i:i], d.waiters[i+1:]...)
			return
		}
	}
}

func (d *MockDevice) Expect(tpl client.Template, timeout time.Duration) waiter {
	w := &MockWaiter{tpl: tpl, timeout: timeout, ch: make(chan codec.Datagram, 1)}
	d.mu.Lock()
	d.waiters = append(d.waiters, w)
	d.mu.Unlock()
	return w
}

func (d *MockDevice) LocalAddress() address.DeviceAddress { return testLocal }

func (d *MockDevice) GetSent() []codec.APDU {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]codec.APDU, 0, len(d.sent))
	for _, c := range d.sent {
		out = append(out, *c.APDU)
	}
	return out
}

func (d *MockDevice) GetFrames() []codec.CEMI {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]codec.CEMI(nil), d.sent...)
}

func ack(seq uint8) codec.APDU {
	return codec.ControlAPDU(codec.TPCI(codec.TPCINumberedControl, seq, codec.TPCIAck))
}

func nack(seq uint8) codec.APDU {
	return codec.ControlAPDU(codec.TPCI(codec.TPCINumberedControl, seq, codec.TPCINack))
}

// answer acknowledges every numbered data frame and adds the response
// built by fn, sent with device sequence number 0.
func answer(fn func(req codec.APDU) *codec.APDU) func(codec.CEMI) []codec.APDU {
	return func(req codec.CEMI) []codec.APDU {
		if codec.TPCIType(req.APDU.TPCI) != codec.TPCINumberedData {
			return nil
		}
		out := []codec.APDU{ack(codec.TPCISeqnum(req.APDU.TPCI))}
		if fn != nil {
			if resp := fn(*req.APDU); resp != nil {
				resp.TPCI = codec.TPCI(codec.TPCINumberedData, 0, 0)
				out = append(out, *resp)
			}
		}
		return out
	}
}

func newTestManager(d *MockDevice) *Manager {
	return newManager(d, 50*time.Millisecond, nil)
}

func labels(apdus []codec.APDU) []string {
	out := make([]string, len(apdus))
	for i, a := range apdus {
		out[i] = a.Label()
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestReadMemory(t *testing.T) {
	d := &MockDevice{respond: answer(func(req codec.APDU) *codec.APDU {
		return &codec.APDU{
			APCI:   codec.MemoryResponse,
			InWord: req.InWord,
			Data:   append(append([]byte{}, req.Data...), 0xAA, 0xBB),
		}
	})}
	m := newTestManager(d)

	got, err := m.ReadMemory(context.Background(), testTarget, 0x0104, 2)
	if err != nil {
		t.Fatalf("ReadMemory() error = %v", err)
	}
	if !bytes.Equal(got, []byte{0xAA, 0xBB}) {
		t.Errorf("ReadMemory() = % X, want AA BB", got)
	}

	sent := d.GetSent()
	want := []string{"UCD_CON", "Memory_Read", "NCD_ACK Seqnum: 0", "UCD_DCON"}
	if !equalStrings(labels(sent), want) {
		t.Fatalf("sent %v, want %v", labels(sent), want)
	}
	req := sent[1]
	if req.TPCI != codec.TPCI(codec.TPCINumberedData, 0, 0) {
		t.Errorf("request TPCI = %#02x, want NDP seq 0", req.TPCI)
	}
	if req.InWord != 2 || !bytes.Equal(req.Data, []byte{0x01, 0x04}) {
		t.Errorf("request = count %d data % X, want count 2 data 01 04", req.InWord, req.Data)
	}
}

func TestManagementFrameControl(t *testing.T) {
	d := &MockDevice{respond: answer(nil)}
	m := newTestManager(d)

	if err := m.WriteMemory(context.Background(), testTarget, 0x0060, []byte{0x81}); err != nil {
		t.Fatalf("WriteMemory() error = %v", err)
	}
	for _, f := range d.GetFrames() {
		if f.MessageCode != codec.LDataReq {
			t.Errorf("%s message code = %v, want L_Data.req", f.APDU.Label(), f.MessageCode)
		}
		if f.Source != testLocal || f.Destination != testTarget.Address() {
			t.Errorf("%s %s -> %s, want %s -> %s", f.APDU.Label(), f.Source, f.Destination, testLocal, testTarget)
		}
		if f.Control.Priority != codec.PrioritySystem || f.Control.DestAddrType != address.KindDevice {
			t.Errorf("%s control = %+v, want system priority to a device", f.APDU.Label(), f.Control)
		}
	}
}

func TestWriteMemory(t *testing.T) {
	d := &MockDevice{respond: answer(nil)}
	m := newTestManager(d)

	if err := m.WriteMemory(context.Background(), testTarget, 0x0060, []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("WriteMemory() error = %v", err)
	}

	sent := d.GetSent()
	want := []string{"UCD_CON", "Memory_Write", "UCD_DCON"}
	if !equalStrings(labels(sent), want) {
		t.Fatalf("sent %v, want %v", labels(sent), want)
	}
	if sent[1].InWord != 3 || !bytes.Equal(sent[1].Data, []byte{0x00, 0x60, 0x01, 0x02, 0x03}) {
		t.Errorf("request = count %d data % X", sent[1].InWord, sent[1].Data)
	}
}

func TestMemoryLengthValidation(t *testing.T) {
	d := &MockDevice{respond: answer(nil)}
	m := newTestManager(d)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
	}{
		{"read zero", func() error { _, err := m.ReadMemory(ctx, testTarget, 0, 0); return err }},
		{"read thirteen", func() error { _, err := m.ReadMemory(ctx, testTarget, 0, 13); return err }},
		{"write empty", func() error { return m.WriteMemory(ctx, testTarget, 0, nil) }},
		{"write thirteen", func() error { return m.WriteMemory(ctx, testTarget, 0, make([]byte, 13)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, ErrInvalidLength) {
				t.Errorf("error = %v, want ErrInvalidLength", err)
			}
		})
	}
	if n := len(d.GetSent()); n != 0 {
		t.Errorf("sent %d frames for invalid requests, want 0", n)
	}
}

func TestReadMemoryShortResponse(t *testing.T) {
	d := &MockDevice{respond: answer(func(req codec.APDU) *codec.APDU {
		return &codec.APDU{APCI: codec.MemoryResponse, Data: req.Data}
	})}
	m := newTestManager(d)

	if _, err := m.ReadMemory(context.Background(), testTarget, 0x4000, 4); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("ReadMemory() error = %v, want ErrInvalidLength", err)
	}
	if got := labels(d.GetSent()); got[len(got)-1] != "UCD_DCON" {
		t.Errorf("last frame %s, want UCD_DCON", got[len(got)-1])
	}
}

func TestNacked(t *testing.T) {
	tests := []struct {
		name  string
		reply codec.APDU
	}{
		{"nack", nack(0)},
		{"wrong sequence", ack(3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &MockDevice{respond: func(req codec.CEMI) []codec.APDU {
				if codec.TPCIType(req.APDU.TPCI) == codec.TPCINumberedData {
					return []codec.APDU{tt.reply}
				}
				return nil
			}}
			m := newTestManager(d)

			err := m.WriteMemory(context.Background(), testTarget, 0x0060, []byte{0x01})
			if !errors.Is(err, ErrNacked) {
				t.Errorf("WriteMemory() error = %v, want ErrNacked", err)
			}
			want := []string{"UCD_CON", "Memory_Write", "UCD_DCON"}
			if got := labels(d.GetSent()); !equalStrings(got, want) {
				t.Errorf("sent %v, want %v", got, want)
			}
		})
	}
}

func TestTimeouts(t *testing.T) {
	tests := []struct {
		name    string
		respond func(codec.CEMI) []codec.APDU
	}{
		{"no acknowledgement", nil},
		{"no response", answer(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &MockDevice{respond: tt.respond}
			m := newTestManager(d)

			_, err := m.ReadMemory(context.Background(), testTarget, 0x0060, 1)
			if !errors.Is(err, ErrTimeout) {
				t.Errorf("ReadMemory() error = %v, want ErrTimeout", err)
			}
			if got := labels(d.GetSent()); got[len(got)-1] != "UCD_DCON" {
				t.Errorf("last frame %s, want UCD_DCON", got[len(got)-1])
			}
		})
	}
}

func TestContextDeadlineIsTimeout(t *testing.T) {
	d := &MockDevice{}
	m := newManager(d, time.Minute, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.ReadMemory(ctx, testTarget, 0x0060, 1); !errors.Is(err, ErrTimeout) {
		t.Errorf("ReadMemory() error = %v, want ErrTimeout", err)
	}
	// Disconnect is still sent after the caller's deadline.
	if got := labels(d.GetSent()); got[len(got)-1] != "UCD_DCON" {
		t.Errorf("last frame %s, want UCD_DCON", got[len(got)-1])
	}
}

func TestSendError(t *testing.T) {
	sendErr := errors.New("socket closed")
	d := &MockDevice{sendErr: sendErr}
	m := newTestManager(d)

	if _, err := m.ReadSerialNumber(context.Background(), testTarget); !errors.Is(err, sendErr) {
		t.Errorf("ReadSerialNumber() error = %v, want %v", err, sendErr)
	}
	// The manager is usable again after a failed connect.
	d.mu.Lock()
	d.sendErr = nil
	d.mu.Unlock()
	if err := m.Restart(context.Background(), testTarget); err != nil {
		t.Errorf("Restart() after failure error = %v", err)
	}
}

func propertyResponder(value []byte, count uint8) func(codec.CEMI) []codec.APDU {
	return answer(func(req codec.APDU) *codec.APDU {
		hdr := append([]byte{}, req.Data[:4]...)
		hdr[2] = count<<4 | hdr[2]&0x0F
		return &codec.APDU{APCI: codec.PropertyValueResponse, Data: append(hdr, value...)}
	})
}

func TestReadSerialNumber(t *testing.T) {
	serial := []byte{0x00, 0xFA, 0x12, 0x34, 0x56, 0x78}
	d := &MockDevice{respond: propertyResponder(serial, 1)}
	m := newTestManager(d)

	got, err := m.ReadSerialNumber(context.Background(), testTarget)
	if err != nil {
		t.Fatalf("ReadSerialNumber() error = %v", err)
	}
	if !bytes.Equal(got, serial) {
		t.Errorf("ReadSerialNumber() = % X, want % X", got, serial)
	}

	req := d.GetSent()[1]
	if req.APCI != codec.PropertyValueRead || !bytes.Equal(req.Data, []byte{0x00, 0x0B, 0x10, 0x01}) {
		t.Errorf("request = %s % X, want PropertyValue_Read 00 0B 10 01", req.Label(), req.Data)
	}
}

func TestReadProperty(t *testing.T) {
	tests := []struct {
		name    string
		prop    Property
		count   uint8
		value   []byte
		wantHdr []byte
		wantErr error
	}{
		{
			name:    "start index spans both bytes",
			prop:    Property{Object: 3, ID: 52, Count: 2, Start: 0x123},
			count:   2,
			value:   []byte{0x01, 0x02},
			wantHdr: []byte{0x03, 0x34, 0x21, 0x23},
		},
		{
			name:    "zero elements",
			prop:    Property{Object: 9, ID: 1, Count: 1, Start: 1},
			count:   0,
			wantErr: ErrPropertyUnavailable,
		},
		{name: "count zero", prop: Property{Count: 0}, wantErr: ErrInvalidLength},
		{name: "count sixteen", prop: Property{Count: 16}, wantErr: ErrInvalidLength},
		{name: "start too large", prop: Property{Count: 1, Start: 0x1000}, wantErr: ErrInvalidLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &MockDevice{respond: propertyResponder(tt.value, tt.count)}
			m := newTestManager(d)

			got, err := m.ReadProperty(context.Background(), testTarget, tt.prop)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ReadProperty() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if !bytes.Equal(got, tt.value) {
				t.Errorf("ReadProperty() = % X, want % X", got, tt.value)
			}
			if req := d.GetSent()[1]; !bytes.Equal(req.Data, tt.wantHdr) {
				t.Errorf("request header = % X, want % X", req.Data, tt.wantHdr)
			}
		})
	}
}

func TestWriteProperty(t *testing.T) {
	d := &MockDevice{respond: answer(func(req codec.APDU) *codec.APDU {
		return &codec.APDU{APCI: codec.PropertyValueResponse, Data: req.Data}
	})}
	m := newTestManager(d)

	p := Property{Object: 0, ID: 54, Count: 1, Start: 1}
	got, err := m.WriteProperty(context.Background(), testTarget, p, []byte{0x01})
	if err != nil {
		t.Fatalf("WriteProperty() error = %v", err)
	}
	if !bytes.Equal(got, []byte{0x01}) {
		t.Errorf("WriteProperty() echo = % X, want 01", got)
	}

	want := []string{"UCD_CON", "PropertyValue_Write", "NCD_ACK Seqnum: 0", "UCD_DCON"}
	if got := labels(d.GetSent()); !equalStrings(got, want) {
		t.Errorf("sent %v, want %v", got, want)
	}

	if _, err := m.WriteProperty(context.Background(), testTarget, p, make([]byte, 11)); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("WriteProperty() oversized error = %v, want ErrInvalidLength", err)
	}
}

func TestProgrammingMode(t *testing.T) {
	var mu sync.Mutex
	flags := byte(0x80)

	d := &MockDevice{}
	d.respond = answer(func(req codec.APDU) *codec.APDU {
		mu.Lock()
		defer mu.Unlock()
		switch req.APCI {
		case codec.MemoryRead:
			return &codec.APDU{APCI: codec.MemoryResponse, InWord: 1, Data: []byte{0x00, 0x60, flags}}
		case codec.MemoryWrite:
			flags = req.Data[2]
		}
		return nil
	})
	m := newTestManager(d)
	ctx := context.Background()

	on, err := m.ProgrammingMode(ctx, testTarget)
	if err != nil || on {
		t.Fatalf("ProgrammingMode() = %v, %v, want false", on, err)
	}

	if err := m.SetProgrammingMode(ctx, testTarget, true); err != nil {
		t.Fatalf("SetProgrammingMode(true) error = %v", err)
	}
	mu.Lock()
	got := flags
	mu.Unlock()
	if got != 0x81 {
		t.Errorf("flags = %#02x, want 0x81", got)
	}

	on, err = m.ProgrammingMode(ctx, testTarget)
	if err != nil || !on {
		t.Errorf("ProgrammingMode() = %v, %v, want true", on, err)
	}

	// Already on: no write.
	before := len(d.GetSent())
	if err := m.SetProgrammingMode(ctx, testTarget, true); err != nil {
		t.Fatalf("SetProgrammingMode(true) again error = %v", err)
	}
	for _, a := range d.GetSent()[before:] {
		if a.APCI == codec.MemoryWrite {
			t.Error("SetProgrammingMode wrote an unchanged flag")
		}
	}
}

func TestReadDeviceDescriptor(t *testing.T) {
	d := &MockDevice{respond: answer(func(req codec.APDU) *codec.APDU {
		return &codec.APDU{APCI: codec.DeviceDescriptorResponse, Data: []byte{0x07, 0x05}}
	})}
	m := newTestManager(d)

	got, err := m.ReadDeviceDescriptor(context.Background(), testTarget)
	if err != nil {
		t.Fatalf("ReadDeviceDescriptor() error = %v", err)
	}
	if got != 0x0705 {
		t.Errorf("ReadDeviceDescriptor() = %#04x, want 0x0705", got)
	}
}

func TestRestart(t *testing.T) {
	d := &MockDevice{}
	m := newTestManager(d)

	if err := m.Restart(context.Background(), testTarget); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	sent := d.GetSent()
	if len(sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(sent))
	}
	if sent[0].APCI != codec.Restart || codec.TPCIType(sent[0].TPCI) != codec.TPCIUnnumberedData {
		t.Errorf("sent %s TPCI %#02x, want connectionless Restart", sent[0].Label(), sent[0].TPCI)
	}
}

func TestResponseFromOtherDeviceIgnored(t *testing.T) {
	d := &MockDevice{respond: answer(nil)}
	m := newTestManager(d)

	tpl := m.fromDevice(testTarget).WithAPCI(codec.MemoryResponse)
	other := codec.TunnelingRequest{CEMI: codec.CEMI{
		MessageCode: codec.LDataInd,
		Source:      address.MustDevice("1.1.8"),
		Destination: testLocal.Address(),
		APDU:        &codec.APDU{APCI: codec.MemoryResponse, Data: []byte{0, 0}},
	}}
	if tpl.Match(other) {
		t.Error("template matched a response from another device")
	}
}

func TestApplicationProperties(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		value   []byte
		call    func(m *Manager) (any, error)
		wantHdr []byte
		want    any
		wantErr error
	}{
		{
			name:    "run state application 1",
			value:   []byte{0x01},
			call:    func(m *Manager) (any, error) { return m.ReadApplicationRunState(ctx, testTarget, 1) },
			wantHdr: []byte{0x03, 0x06, 0x10, 0x01},
			want:    RunRunning,
		},
		{
			name:    "run state application 2",
			value:   []byte{0x00},
			call:    func(m *Manager) (any, error) { return m.ReadApplicationRunState(ctx, testTarget, 2) },
			wantHdr: []byte{0x04, 0x06, 0x10, 0x01},
			want:    RunHalted,
		},
		{
			name:    "load state application 1",
			value:   []byte{0x01},
			call:    func(m *Manager) (any, error) { return m.ReadApplicationLoadState(ctx, testTarget, 1) },
			wantHdr: []byte{0x03, 0x05, 0x10, 0x01},
			want:    LoadLoaded,
		},
		{
			name:    "load state application 2",
			value:   []byte{0x03},
			call:    func(m *Manager) (any, error) { return m.ReadApplicationLoadState(ctx, testTarget, 2) },
			wantHdr: []byte{0x04, 0x05, 0x10, 0x01},
			want:    LoadError,
		},
		{
			name:    "application id",
			value:   []byte{0x00, 0x83, 0x00, 0x1A, 0x12},
			call:    func(m *Manager) (any, error) { return m.ReadApplicationID(ctx, testTarget, 1) },
			wantHdr: []byte{0x03, 0x0D, 0x10, 0x01},
			want:    ApplicationID{Manufacturer: 0x0083, DeviceType: 0x001A, Version: 0x12},
		},
		{
			name:    "manufacturer id",
			value:   []byte{0x00, 0x83},
			call:    func(m *Manager) (any, error) { return m.ReadManufacturerID(ctx, testTarget) },
			wantHdr: []byte{0x00, 0x0C, 0x10, 0x01},
			want:    uint16(0x0083),
		},
		{
			name:    "order number",
			value:   []byte("MTN6725-00"),
			call:    func(m *Manager) (any, error) { return m.ReadOrderNumber(ctx, testTarget) },
			wantHdr: []byte{0x00, 0x0F, 0x10, 0x01},
			want:    []byte("MTN6725-00"),
		},
		{
			name:    "short manufacturer id",
			value:   []byte{0x83},
			call:    func(m *Manager) (any, error) { return m.ReadManufacturerID(ctx, testTarget) },
			wantErr: ErrInvalidLength,
		},
		{
			name:    "short application id",
			value:   []byte{0x00, 0x83, 0x00},
			call:    func(m *Manager) (any, error) { return m.ReadApplicationID(ctx, testTarget, 2) },
			wantErr: ErrInvalidLength,
		},
		{
			name:    "two byte run state",
			value:   []byte{0x01, 0x00},
			call:    func(m *Manager) (any, error) { return m.ReadApplicationRunState(ctx, testTarget, 1) },
			wantErr: ErrInvalidLength,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &MockDevice{respond: propertyResponder(tt.value, 1)}
			m := newTestManager(d)

			got, err := tt.call(m)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			req := d.GetSent()[1]
			if req.APCI != codec.PropertyValueRead || !bytes.Equal(req.Data, tt.wantHdr) {
				t.Errorf("request = %s % X, want PropertyValue_Read % X", req.Label(), req.Data, tt.wantHdr)
			}
		})
	}
}

func TestApplicationIndexRejected(t *testing.T) {
	ctx := context.Background()

	calls := map[string]func(m *Manager, app int) error{
		"ReadApplicationRunState": func(m *Manager, app int) error {
			_, err := m.ReadApplicationRunState(ctx, testTarget, app)
			return err
		},
		"ReadApplicationLoadState": func(m *Manager, app int) error {
			_, err := m.ReadApplicationLoadState(ctx, testTarget, app)
			return err
		},
		"ReadApplicationID": func(m *Manager, app int) error {
			_, err := m.ReadApplicationID(ctx, testTarget, app)
			return err
		},
		"SetApplicationRunState": func(m *Manager, app int) error {
			_, err := m.SetApplicationRunState(ctx, testTarget, app, RunRestart)
			return err
		},
	}

	for name, call := range calls {
		for _, app := range []int{0, 3, -1} {
			d := &MockDevice{respond: propertyResponder([]byte{0x01}, 1)}
			m := newTestManager(d)

			if err := call(m, app); !errors.Is(err, ErrInvalidApplication) {
				t.Errorf("%s(app %d) error = %v, want ErrInvalidApplication", name, app, err)
			}
			if sent := d.GetSent(); len(sent) != 0 {
				t.Errorf("%s(app %d) sent %v, want nothing", name, app, labels(sent))
			}
		}
	}
}

func TestSetApplicationRunState(t *testing.T) {
	tests := []struct {
		name    string
		app     int
		event   RunEvent
		count   uint8
		reply   RunState
		wantReq []byte
		wantErr error
	}{
		{"restart application 1", 1, RunRestart, 1, RunRunning, []byte{0x03, 0x06, 0x10, 0x01, 0x01}, nil},
		{"stop application 2", 2, RunStop, 1, RunTerminated, []byte{0x04, 0x06, 0x10, 0x01, 0x02}, nil},
		{"refused", 1, RunStop, 0, 0, []byte{0x03, 0x06, 0x10, 0x01, 0x02}, ErrPropertyUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &MockDevice{respond: answer(func(req codec.APDU) *codec.APDU {
				hdr := append([]byte{}, req.Data[:4]...)
				hdr[2] = tt.count<<4 | hdr[2]&0x0F
				return &codec.APDU{APCI: codec.PropertyValueResponse, Data: append(hdr, byte(tt.reply))}
			})}
			m := newTestManager(d)

			got, err := m.SetApplicationRunState(context.Background(), testTarget, tt.app, tt.event)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SetApplicationRunState() error = %v, want %v", err, tt.wantErr)
			}
			if req := d.GetSent()[1]; req.APCI != codec.PropertyValueWrite || !bytes.Equal(req.Data, tt.wantReq) {
				t.Errorf("request = %s % X, want PropertyValue_Write % X", req.Label(), req.Data, tt.wantReq)
			}
			if tt.wantErr == nil && got != tt.reply {
				t.Errorf("SetApplicationRunState() = %v, want %v", got, tt.reply)
			}
		})
	}
}

func TestStateNames(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{RunRunning.String(), "running"},
		{RunShuttingDown.String(), "shutting down"},
		{RunState(9).String(), "run state 9"},
		{LoadLoaded.String(), "loaded"},
		{LoadState(7).String(), "load state 7"},
		{ApplicationID{Manufacturer: 0x83, DeviceType: 0x1A, Version: 0x12}.String(), "0083-001A-12"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("String() = %q, want %q", tt.got, tt.want)
		}
	}
}
