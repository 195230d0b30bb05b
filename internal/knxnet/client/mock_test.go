package client

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/knxnetip/internal/knx/address"
	"github.com/nerrad567/knxnetip/internal/knxnet/codec"
	"github.com/nerrad567/knxnetip/internal/knxnet/transport"
)

var (
	testLocal    = netip.MustParseAddrPort("192.168.1.10:50123")
	testGateway  = netip.MustParseAddr("192.168.1.20")
	testAssigned = address.MustDevice("1.1.254")
)

// sentDatagram is one datagram the connection handed to the transport.
type sentDatagram struct {
	At time.Time
	DG codec.Datagram
}

// MockTransport implements transport.Transport. Sent datagrams are decoded
// and recorded; the reply function plays the gateway.
type MockTransport struct {
	tunneling bool
	reply     func(codec.Datagram) []codec.Datagram

	mu        sync.Mutex
	handler   transport.Handler
	sent      []sentDatagram
	decodeErr error
	bound     bool
	closed    bool
	sendErr   error
}

func (m *MockTransport) Bind(context.Context) (netip.AddrPort, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return netip.AddrPort{}, transport.ErrClosed
	}
	m.bound = true
	return testLocal, nil
}

func (m *MockTransport) SetHandler(h transport.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

func (m *MockTransport) Send(pkt []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return transport.ErrClosed
	}
	if m.sendErr != nil {
		err := m.sendErr
		m.mu.Unlock()
		return err
	}
	_, dg, err := codec.Decode(pkt)
	if err != nil {
		if m.decodeErr == nil {
			m.decodeErr = err
		}
		m.mu.Unlock()
		return nil
	}
	m.sent = append(m.sent, sentDatagram{At: time.Now(), DG: dg})
	reply := m.reply
	m.mu.Unlock()

	if reply != nil {
		for _, r := range reply(dg) {
			m.Deliver(r)
		}
	}
	return nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Deliver feeds a datagram to the connection as if it came off the wire.
func (m *MockTransport) Deliver(dg codec.Datagram) {
	pkt, err := codec.Encode(dg)
	if err != nil {
		panic(err)
	}
	m.DeliverRaw(pkt)
}

// DeliverRaw feeds raw bytes to the connection.
func (m *MockTransport) DeliverRaw(pkt []byte) {
	m.mu.Lock()
	h := m.handler
	closed := m.closed
	m.mu.Unlock()
	if h != nil && !closed {
		h(pkt, netip.AddrPortFrom(testGateway, codec.DefaultPort))
	}
}

func (m *MockTransport) SetReply(fn func(codec.Datagram) []codec.Datagram) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reply = fn
}

func (m *MockTransport) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

func (m *MockTransport) GetSent() []sentDatagram {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentDatagram(nil), m.sent...)
}

// GetSentOf returns the sent datagrams of one service type.
func (m *MockTransport) GetSentOf(st codec.ServiceType) []sentDatagram {
	var out []sentDatagram
	for _, s := range m.GetSent() {
		if s.DG.ServiceType() == st {
			out = append(out, s)
		}
	}
	return out
}

// DecodeError returns the first outbound datagram that failed to decode.
func (m *MockTransport) DecodeError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decodeErr
}

func (m *MockTransport) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// mockGateway answers tunneling requests the way a KNXnet/IP interface does.
type mockGateway struct {
	mu sync.Mutex

	channel       uint8
	connectStatus codec.Status
	silent        bool // ignore CONNECT_REQUEST
	noAck         bool
	confirm       bool
	noKeepalive   bool
	ackStatus     codec.Status
	responses     map[address.Address][]byte // GroupValue_Read answers
	seq           uint8
}

func newMockGateway() *mockGateway {
	return &mockGateway{channel: 5, responses: make(map[address.Address][]byte)}
}

func (g *mockGateway) set(fn func(g *mockGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

func (g *mockGateway) reply(dg codec.Datagram) []codec.Datagram {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch d := dg.(type) {
	case codec.ConnectRequest:
		if g.silent {
			return nil
		}
		if g.connectStatus != codec.StatusOK {
			return []codec.Datagram{codec.ConnectResponse{
				ConnState: codec.ConnState{Status: g.connectStatus},
			}}
		}
		ep := codec.NewHPAI(netip.AddrPortFrom(testGateway, codec.DefaultPort))
		cri := codec.CRI{
			ConnectionType: codec.TunnelConnection,
			KNXLayer:       byte(testAssigned >> 8),
			Unused:         byte(testAssigned),
		}
		return []codec.Datagram{codec.ConnectResponse{
			ConnState: codec.ConnState{ChannelID: g.channel},
			Endpoint:  &ep,
			CRI:       &cri,
		}}

	case codec.ConnectionStateRequest:
		if g.noKeepalive {
			return nil
		}
		return []codec.Datagram{codec.ConnectionStateResponse{ConnState: codec.ConnState{ChannelID: g.channel}}}

	case codec.DisconnectRequest:
		return []codec.Datagram{codec.DisconnectResponse{ConnState: codec.ConnState{ChannelID: g.channel}}}

	case codec.TunnelingRequest:
		var out []codec.Datagram
		if !g.noAck {
			out = append(out, codec.TunnelingAck{TunnState: codec.TunnState{
				ChannelID: g.channel,
				Seqnum:    d.TunnState.Seqnum,
				Reserved:  uint8(g.ackStatus),
			}})
		}
		if g.confirm {
			con := d.CEMI
			con.MessageCode = codec.LDataCon
			out = append(out, g.nextRequest(con))
		}
		if d.CEMI.APDU != nil && d.CEMI.APDU.APCI == codec.GroupValueRead {
			if data, ok := g.responses[d.CEMI.Destination]; ok {
				out = append(out, g.nextRequest(groupIndication(d.CEMI.Destination, codec.GroupValueResponse, data)))
			}
		}
		return out
	}
	return nil
}

func (g *mockGateway) nextRequest(cemi codec.CEMI) codec.TunnelingRequest {
	tr := codec.TunnelingRequest{
		TunnState: codec.TunnState{ChannelID: g.channel, Seqnum: g.seq},
		CEMI:      cemi,
	}
	g.seq++
	return tr
}

// groupIndication is an L_Data.ind from device 1.1.7.
func groupIndication(dest address.Address, apci codec.APCI, data []byte) codec.CEMI {
	ctrl := codec.DefaultControl()
	ctrl.DestAddrType = dest.Kind
	return codec.CEMI{
		MessageCode: codec.LDataInd,
		Control:     ctrl,
		Source:      address.MustDevice("1.1.7"),
		Destination: dest,
		APDU:        &codec.APDU{APCI: apci, Data: data},
	}
}

// testHarness wires a Connection to mock transports.
type testHarness struct {
	conn *Connection
	gw   *mockGateway

	mu         sync.Mutex
	transports []*MockTransport
}

// fastOptions shortens every timer so scenarios finish quickly.
func fastOptions() Options {
	return Options{
		IPAddr:                   testGateway,
		ReconnectDelay:           80 * time.Millisecond,
		ReceiveAckTimeout:        60 * time.Millisecond,
		MinimumDelay:             time.Millisecond,
		ConnstateRequestInterval: 10 * time.Second,
		ConnstateResponseTimeout: 60 * time.Millisecond,
		DisconnectTimeout:        60 * time.Millisecond,
	}
}

func newHarness(t *testing.T, opts Options, gw *mockGateway) *testHarness {
	t.Helper()
	h := &testHarness{gw: gw}
	opts.Transport = func(tunneling bool) (transport.Transport, error) {
		m := &MockTransport{tunneling: tunneling}
		if gw != nil && tunneling {
			m.reply = gw.reply
		}
		h.mu.Lock()
		h.transports = append(h.transports, m)
		h.mu.Unlock()
		return m, nil
	}

	conn, err := New(opts, nil)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	h.conn = conn
	t.Cleanup(func() { _ = conn.Close() })
	return h
}

// transport returns the i-th transport the connection opened.
func (h *testHarness) transport(t *testing.T, i int) *MockTransport {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if i >= len(h.transports) {
		t.Fatalf("transport %d not opened (have %d)", i, len(h.transports))
	}
	return h.transports[i]
}

func (h *testHarness) transportCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.transports)
}

func (h *testHarness) connect(t *testing.T) *MockTransport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.conn.Connect(ctx); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}
	h.flushEvents(t)
	return h.transport(t, h.transportCount()-1)
}

// flushEvents waits until the dispatcher has delivered every event emitted
// so far, so handlers registered afterwards only see new events.
func (h *testHarness) flushEvents(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	h.conn.Once("test_flush", func(Event) { close(done) })
	h.conn.disp.emit(Event{Name: "test_flush"})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not drain")
	}
}

// eventRecorder collects events from the dispatcher.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) get() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) names() []string {
	var out []string
	for _, ev := range r.get() {
		out = append(out, ev.Name)
	}
	return out
}

func (r *eventRecorder) count(name string) int {
	n := 0
	for _, ev := range r.get() {
		if ev.Name == name {
			n++
		}
	}
	return n
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
