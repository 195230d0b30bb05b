package management

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/knxnetip/internal/knx/address"
	"github.com/nerrad567/knxnetip/internal/knxnet/client"
	"github.com/nerrad567/knxnetip/internal/knxnet/codec"
)

// DefaultTimeout is how long to wait for each acknowledgement or response.
// It matches the transport-layer connection timeout devices use.
const DefaultTimeout = 3 * time.Second

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// waiter is the part of client.Listener the helpers use.
type waiter interface {
	Wait(ctx context.Context) (codec.Datagram, error)
	Cancel()
}

// bus is the part of client.Connection the helpers use.
type bus interface {
	Send(ctx context.Context, cemi codec.CEMI) error
	Expect(tpl client.Template, timeout time.Duration) waiter
	LocalAddress() address.DeviceAddress
}

// connBus adapts a Connection, whose Expect returns the concrete listener.
type connBus struct {
	*client.Connection
}

func (b connBus) Expect(tpl client.Template, timeout time.Duration) waiter {
	return b.Connection.Expect(tpl, timeout)
}

// Manager runs device management services over a connection.
type Manager struct {
	bus     bus
	timeout time.Duration
	logger  Logger

	mu sync.Mutex // one transport-layer connection at a time
}

// New creates a Manager for conn. A non-positive timeout selects
// DefaultTimeout.
func New(conn *client.Connection, timeout time.Duration, logger Logger) *Manager {
	return newManager(connBus{conn}, timeout, logger)
}

func newManager(b bus, timeout time.Duration, logger Logger) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Manager{bus: b, timeout: timeout, logger: logger}
}

// frame builds a point-to-point frame to target with system priority.
func (m *Manager) frame(target address.DeviceAddress, apdu codec.APDU) codec.CEMI {
	return codec.CEMI{
		MessageCode: codec.LDataReq,
		Control: codec.Control{
			FrameType:    codec.FrameStandard,
			Priority:     codec.PrioritySystem,
			DestAddrType: address.KindDevice,
			HopCount:     6, //nolint:mnd // default routing counter
		},
		Source:      m.bus.LocalAddress(),
		Destination: target.Address(),
		APDU:        &apdu,
	}
}

func (m *Manager) send(ctx context.Context, target address.DeviceAddress, apdu codec.APDU) error {
	return m.bus.Send(ctx, m.frame(target, apdu))
}

// fromDevice matches L_Data.ind frames that target addresses to us.
func (m *Manager) fromDevice(target address.DeviceAddress) client.Template {
	return client.Template{}.
		WithMessageCode(codec.LDataInd).
		WithSource(target).
		WithDestination(m.bus.LocalAddress().Address())
}

// waitErr maps listener and context expiry to ErrTimeout.
func waitErr(err error, what string, target address.DeviceAddress) error {
	if errors.Is(err, client.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s from %s", ErrTimeout, what, target)
	}
	return fmt.Errorf("waiting for %s from %s: %w", what, target, err)
}

// session is an open transport-layer connection.
type session struct {
	m      *Manager
	target address.DeviceAddress
	seq    uint8
}

// open sends UCD connect and holds the Manager until close.
func (m *Manager) open(ctx context.Context, target address.DeviceAddress) (*session, error) {
	m.mu.Lock()
	connect := codec.ControlAPDU(codec.TPCI(codec.TPCIUnnumberedControl, 0, codec.TPCIConnect))
	if err := m.send(ctx, target, connect); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("connecting to %s: %w", target, err)
	}
	m.logger.Debug("transport connection opened", "target", target.String())
	return &session{m: m, target: target}, nil
}

// close sends UCD disconnect. It runs even when ctx is already done.
func (s *session) close(ctx context.Context) {
	defer s.m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.m.timeout)
	defer cancel()

	disconnect := codec.ControlAPDU(codec.TPCI(codec.TPCIUnnumberedControl, 0, codec.TPCIDisconnect))
	if err := s.m.send(ctx, s.target, disconnect); err != nil {
		s.m.logger.Warn("transport disconnect failed", "target", s.target.String(), "error", err)
		return
	}
	s.m.logger.Debug("transport connection closed", "target", s.target.String())
}

// request sends apdu as the next numbered data frame and waits for the
// device to acknowledge it. When response is not codec.NoAPCI it then waits
// for that response, acknowledges it and returns its APDU.
func (s *session) request(ctx context.Context, apdu codec.APDU, response codec.APCI) (*codec.APDU, error) {
	seq := s.seq
	label := apdu.APCI.String()

	ack := s.m.bus.Expect(
		s.m.fromDevice(s.target).
			WithAPCI(codec.NoAPCI).
			WithTPCI(codec.TPCINumberedControl, 0xC0), //nolint:mnd // packet type bits
		s.m.timeout,
	)
	defer ack.Cancel()

	var reply waiter
	if response != codec.NoAPCI {
		reply = s.m.bus.Expect(s.m.fromDevice(s.target).WithAPCI(response), s.m.timeout)
		defer reply.Cancel()
	}

	apdu.TPCI = codec.TPCI(codec.TPCINumberedData, seq, 0)
	if err := s.m.send(ctx, s.target, apdu); err != nil {
		return nil, fmt.Errorf("sending %s to %s: %w", label, s.target, err)
	}

	if err := s.waitAck(ctx, ack, seq, label); err != nil {
		return nil, err
	}
	s.seq = (seq + 1) & 0x0F //nolint:mnd // 4-bit sequence number

	if reply == nil {
		return nil, nil //nolint:nilnil // no response service
	}

	dg, err := reply.Wait(ctx)
	if err != nil {
		return nil, waitErr(err, response.String(), s.target)
	}
	cemi := indication(dg)

	rseq := codec.TPCISeqnum(cemi.APDU.TPCI)
	ackResp := codec.ControlAPDU(codec.TPCI(codec.TPCINumberedControl, rseq, codec.TPCIAck))
	if err := s.m.send(ctx, s.target, ackResp); err != nil {
		return nil, fmt.Errorf("acknowledging %s from %s: %w", response, s.target, err)
	}
	return cemi.APDU, nil
}

func (s *session) waitAck(ctx context.Context, ack waiter, seq uint8, label string) error {
	dg, err := ack.Wait(ctx)
	if err != nil {
		return waitErr(err, "acknowledgement of "+label, s.target)
	}
	tpci := indication(dg).APDU.TPCI

	if tpci&0x03 == codec.TPCINack { //nolint:mnd // control subtype bits
		return fmt.Errorf("%w: %s by %s", ErrNacked, label, s.target)
	}
	if got := codec.TPCISeqnum(tpci); got != seq {
		return fmt.Errorf("%w: %s by %s acknowledged sequence %d, want %d", ErrNacked, label, s.target, got, seq)
	}
	return nil
}

// indication extracts the CEMI frame from a matched datagram. Listener
// templates only match frames that carry an APDU.
func indication(dg codec.Datagram) codec.CEMI {
	switch v := dg.(type) {
	case codec.TunnelingRequest:
		return v.CEMI
	case codec.RoutingIndication:
		return v.CEMI
	default:
		return codec.CEMI{APDU: &codec.APDU{}}
	}
}

// exchange runs one request inside its own transport-layer connection.
func (m *Manager) exchange(ctx context.Context, target address.DeviceAddress, apdu codec.APDU, response codec.APCI) (*codec.APDU, error) {
	s, err := m.open(ctx, target)
	if err != nil {
		return nil, err
	}
	defer s.close(ctx)
	return s.request(ctx, apdu, response)
}
