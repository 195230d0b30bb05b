package client

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/knxnetip/internal/knx/address"
	"github.com/nerrad567/knxnetip/internal/knxnet/codec"
	"github.com/nerrad567/knxnetip/internal/knxnet/transport"
)

// Connection is a KNXnet/IP session with a gateway or router.
//
// All session state is owned by one actor goroutine started by New. Public
// methods post events to it and wait for the outcome; they are safe for
// concurrent use.
type Connection struct {
	opts    Options
	logger  Logger
	factory TransportFactory
	tunnel  bool // mode chosen from the remote address

	events    chan event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	disp      *dispatcher
	listeners listenerRegistry
	counters  counters

	state     atomic.Int32
	connected atomic.Bool
	localAddr atomic.Uint32

	// Actor-owned session state.
	cur              State
	tr               transport.Transport
	local            netip.AddrPort
	tunneling        bool
	channelID        uint8
	haveChannel      bool
	nextSeq          uint8
	seqnumRecv       int
	attempts         int
	reconnectCycles  int
	pendingAck       map[address.Address]codec.Datagram
	awaiting         codec.TunnelingRequest
	disconnectCalled bool
	lastSent         time.Time
	lastErr          error

	timer     *time.Timer
	timerGen  uint64
	paceTimer *time.Timer
	deferred  []event
	replaying bool

	connectWaiters    []chan error
	disconnectWaiters []chan error
}

// New validates opts and starts the session actor. No socket is opened until
// Connect.
//
// Parameters:
//   - opts: Connection options; zero values take the documented defaults
//   - logger: Logger for session diagnostics (nil disables logging)
//
// Returns:
//   - *Connection: Ready to connect
//   - error: ErrInvalidConfig when the address or timings are unusable
func New(opts Options, logger Logger) (*Connection, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	tunneling, err := selectMode(opts.IPAddr, opts.ForceTunneling)
	if err != nil {
		return nil, err
	}
	opts.IPAddr = opts.IPAddr.Unmap()

	c := &Connection{
		opts:       opts,
		logger:     logger,
		factory:    opts.Transport,
		tunnel:     tunneling,
		events:     make(chan event, opts.EventQueueSize),
		done:       make(chan struct{}),
		disp:       newDispatcher(opts.EventQueueSize, logger),
		pendingAck: make(map[address.Address]codec.Datagram),
		seqnumRecv: -1,
	}
	if c.factory == nil {
		c.factory = opts.defaultTransport(logger)
	}
	c.localAddr.Store(uint32(opts.PhysAddr))
	c.counters.tunneling.Store(tunneling)

	c.wg.Add(1)
	go c.run()
	return c, nil
}

// Connect opens the transport and blocks until the session is established,
// the attempt fails, or ctx is done. With auto-reconnect enabled a gateway
// that never answers keeps Connect waiting until ctx expires.
//
// Returns:
//   - error: nil once connected; a transport or interface error before any
//     socket is opened; ErrPeerStatus, ErrConnectTimeout or ErrDisconnected
//     when the attempt ends; ErrClosed; ctx.Err()
func (c *Connection) Connect(ctx context.Context) error {
	reply := make(chan error, 1)
	if !c.post(event{kind: evConnect, ctx: ctx, reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// Disconnect ends the session and disables auto-reconnect until the next
// Connect. It waits for the gateway's DISCONNECT_RESPONSE or the disconnect
// timeout.
func (c *Connection) Disconnect(ctx context.Context) error {
	reply := make(chan error, 1)
	if !c.post(event{kind: evDisconnect, reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return nil
	}
}

// Close disconnects if needed, stops the actor and the dispatcher, and
// releases the socket. Pending sends and listeners fail with ErrClosed and
// ErrCancelled.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		if c.State() != StateUninitialized {
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.DisconnectTimeout+time.Second)
			if err := c.Disconnect(ctx); err != nil {
				c.logger.Warn("disconnect on close failed", "error", err)
			}
			cancel()
		}
		close(c.done)
		c.wg.Wait()
		c.listeners.cancelAll()
		c.disp.close()
	})
	return nil
}

// Write sends GroupValue_Write to dest. A single byte of 0-63 is folded into
// the APCI word; use WriteAppended to force it after the word.
//
// Returns once the frame has been handed to the transport, not when the
// gateway acknowledges it. Acknowledgement failures surface as the
// "tunnelreqfailed" event.
func (c *Connection) Write(ctx context.Context, dest address.Address, data []byte) error {
	return c.Send(ctx, c.groupFrame(dest, codec.GroupValueWrite, data, false))
}

// WriteAppended sends GroupValue_Write with the payload after the APCI word.
func (c *Connection) WriteAppended(ctx context.Context, dest address.Address, data []byte) error {
	return c.Send(ctx, c.groupFrame(dest, codec.GroupValueWrite, data, true))
}

// Respond sends GroupValue_Response to dest.
func (c *Connection) Respond(ctx context.Context, dest address.Address, data []byte) error {
	return c.Send(ctx, c.groupFrame(dest, codec.GroupValueResponse, data, false))
}

// RespondAppended sends GroupValue_Response with the payload after the APCI
// word.
func (c *Connection) RespondAppended(ctx context.Context, dest address.Address, data []byte) error {
	return c.Send(ctx, c.groupFrame(dest, codec.GroupValueResponse, data, true))
}

// Read sends GroupValue_Read to dest and returns the payload of the first
// GroupValue_Response for it. Without a ctx deadline the wait is bounded by
// DefaultReadTimeout.
//
// Returns:
//   - []byte: Response payload
//   - error: ErrTimeout when no response arrives, or any send error
func (c *Connection) Read(ctx context.Context, dest address.Address) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultReadTimeout)
		defer cancel()
	}

	l := c.Expect(Template{}.
		WithMessageCode(codec.LDataInd).
		WithDestination(dest).
		WithAPCI(codec.GroupValueResponse), 0)
	defer l.Cancel()

	if err := c.Send(ctx, c.groupFrame(dest, codec.GroupValueRead, nil, false)); err != nil {
		return nil, err
	}

	dg, err := l.Wait(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no response from %s", ErrTimeout, dest)
		}
		return nil, err
	}
	cemi, _ := cemiOf(dg)
	return cemi.APDU.Data, nil
}

// Send transmits an arbitrary CEMI frame through the session. Tunneling wraps
// it in a TUNNELING_REQUEST with the next sequence number; routing wraps it
// in a ROUTING_INDICATION and turns L_Data.req into L_Data.ind. A zero
// source is replaced by LocalAddress.
//
// Encode errors are returned before anything is queued. Frames sent before
// the session is established wait for it; frames sent while disconnected
// fail with ErrNotConnected.
func (c *Connection) Send(ctx context.Context, cemi codec.CEMI) error {
	if cemi.Source == 0 {
		cemi.Source = c.LocalAddress()
	}
	if _, err := cemi.Encode(); err != nil {
		return err
	}

	req := &sendRequest{ctx: ctx, cemi: cemi, done: make(chan error, 1)}
	if !c.post(event{kind: evSend, req: req}) {
		return ErrClosed
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// On registers fn for every event called name and returns a function that
// removes it.
func (c *Connection) On(name string, fn Handler) (cancel func()) {
	return c.disp.subscribe(name, fn, false)
}

// Once registers fn for the next event called name.
func (c *Connection) Once(name string, fn Handler) (cancel func()) {
	return c.disp.subscribe(name, fn, true)
}

// Expect registers a one-shot listener for the next inbound datagram that
// matches tpl. A positive timeout expires the listener with ErrTimeout.
// Register before sending the request the response answers.
func (c *Connection) Expect(tpl Template, timeout time.Duration) *Listener {
	return c.listeners.add(tpl, timeout)
}

// IsConnected reports whether the session is established.
func (c *Connection) IsConnected() bool { return c.connected.Load() }

// State returns the current state machine state.
func (c *Connection) State() State { return State(c.state.Load()) }

// Tunneling reports whether the session tunnels (true) or routes.
func (c *Connection) Tunneling() bool { return c.counters.tunneling.Load() }

// LocalAddress returns the individual address frames are sent from: the one
// the gateway assigned, or Options.PhysAddr.
func (c *Connection) LocalAddress() address.DeviceAddress {
	return address.DeviceAddress(c.localAddr.Load()) //nolint:gosec // stored from a uint16
}

func (c *Connection) groupFrame(dest address.Address, apci codec.APCI, data []byte, appended bool) codec.CEMI {
	ctrl := codec.DefaultControl()
	ctrl.DestAddrType = dest.Kind
	return codec.CEMI{
		MessageCode: codec.LDataReq,
		Control:     ctrl,
		Source:      c.LocalAddress(),
		Destination: dest,
		APDU:        &codec.APDU{APCI: apci, Data: data, Appended: appended},
	}
}
