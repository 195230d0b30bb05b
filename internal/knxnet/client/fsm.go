package client

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/nerrad567/knxnetip/internal/knxnet/codec"
	"github.com/nerrad567/knxnetip/internal/knxnet/transport"
)

// connectAttempts is the number of CONNECT_REQUESTs per connect cycle.
const connectAttempts = 2

type eventKind int

const (
	evInbound eventKind = iota
	evSend
	evTimer
	evPace
	evConnect
	evDisconnect
)

var eventKindNames = [...]string{
	evInbound:    "inbound",
	evSend:       "send",
	evTimer:      "timer",
	evPace:       "pace",
	evConnect:    "connect",
	evDisconnect: "disconnect",
}

func (k eventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "unknown"
}

// event is one input to the actor.
type event struct {
	kind eventKind

	dg  codec.Datagram      // evInbound
	src transport.Transport // evInbound: transport that received dg

	req        *sendRequest // evSend
	replayed   bool         // evSend taken from the deferred queue
	heldForAck bool         // evSend deferred while a TUNNELING_ACK was outstanding

	gen uint64 // evTimer

	ctx   context.Context //nolint:containedctx // evConnect: bounds Bind
	reply chan error      // evConnect, evDisconnect
}

func (ev event) String() string {
	if ev.kind == evInbound && ev.dg != nil {
		return ev.dg.ServiceType().String()
	}
	return ev.kind.String()
}

// sendRequest is an outbound frame waiting for its turn on the wire.
type sendRequest struct {
	ctx  context.Context //nolint:containedctx // caller's cancellation, checked before transmit
	cemi codec.CEMI
	done chan error
}

func (r *sendRequest) complete(err error) {
	select {
	case r.done <- err:
	default:
	}
}

// post queues an event for the actor, blocking while the queue is full.
func (c *Connection) post(ev event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// tryPost queues an event without blocking. The transport read loop uses it:
// the actor closes the transport and waits for that loop, so the loop must
// never wait on the actor.
func (c *Connection) tryPost(ev event) bool {
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

// inbound returns the datagram handler for tr.
func (c *Connection) inbound(tr transport.Transport) transport.Handler {
	return func(pkt []byte, from netip.AddrPort) {
		c.counters.lastActivity.Store(time.Now().UnixNano())

		hdr, dg, err := codec.Decode(pkt)
		if err != nil {
			if errors.Is(err, codec.ErrUnknownServiceType) {
				c.logger.Debug("ignoring datagram", "service", hdr.ServiceType, "from", from)
				return
			}
			c.counters.decodeErrors.Add(1)
			c.logger.Warn("dropping undecodable datagram", "from", from, "error", err)
			return
		}
		if !c.tryPost(event{kind: evInbound, dg: dg, src: tr}) {
			c.counters.eventsDropped.Add(1)
			c.logger.Warn("event queue full, dropping datagram", "service", dg.ServiceType())
		}
	}
}

// run is the actor loop.
func (c *Connection) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			c.shutdown()
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Connection) handle(ev event) {
	switch ev.kind {
	case evConnect:
		c.onConnect(ev)
		return
	case evDisconnect:
		c.onDisconnect(ev)
		return
	case evPace:
		c.paceTimer = nil
		if c.cur == StateIdle {
			c.replayDeferred()
		}
		return
	case evTimer:
		if ev.gen != c.timerGen {
			return
		}
	case evInbound:
		if ev.src != c.tr {
			return
		}
		if n := c.listeners.match(ev.dg); n > 0 {
			c.logger.Debug("datagram matched listeners", "service", ev.dg.ServiceType(), "listeners", n)
		}
	case evSend:
	}
	c.dispatch(ev)
}

// dispatch runs the current state's handler. Events it does not handle go to
// unhandled.
func (c *Connection) dispatch(ev event) {
	var handled bool
	switch c.cur {
	case StateUninitialized:
		handled = c.onUninitialized(ev)
	case StateConnecting:
		handled = c.onConnecting(ev)
	case StateIdle:
		handled = c.onIdle(ev)
	case StateRequestingConnState:
		handled = c.onRequestingConnState(ev)
	case StateSendTunnReqWaitAck:
		handled = c.onWaitAck(ev)
	case StateDisconnecting:
		handled = c.onDisconnecting(ev)
	case StateJumpToConnecting, StateConnected, StateSendDatagram, StateRecvTunnReqIndication:
		// transient: left from their enter hooks
	}
	if !handled {
		c.unhandled(ev)
	}
}

// unhandled defers an event until the next Idle entry. Idle itself drops
// what it cannot handle; replaying it again would never terminate.
func (c *Connection) unhandled(ev event) {
	switch {
	case ev.kind == evTimer:
	case c.cur == StateIdle:
		c.logger.Debug("dropping unhandled event", "state", c.cur, "event", ev)
	default:
		c.logger.Debug("deferring event", "state", c.cur, "event", ev)
		ev.replayed = false
		if ev.kind == evSend && c.cur == StateSendTunnReqWaitAck {
			ev.heldForAck = true
		}
		c.deferred = append(c.deferred, ev)
	}
}

// replayDeferred feeds deferred events to Idle in arrival order until the
// queue is empty, the state changes, or pacing holds a send back.
func (c *Connection) replayDeferred() {
	if c.replaying {
		return
	}
	c.replaying = true
	defer func() { c.replaying = false }()

	for c.cur == StateIdle && len(c.deferred) > 0 && c.paceTimer == nil {
		ev := c.deferred[0]
		c.deferred = c.deferred[1:]
		ev.replayed = true
		c.dispatch(ev)
	}
}

// transition stops the current state's timer and runs the enter hook of
// the next state. Enter hooks may transition again.
func (c *Connection) transition(to State, arg any) {
	from := c.cur
	c.stopTimer()
	c.cur = to
	c.state.Store(int32(to))
	c.logger.Debug("state transition", "from", from, "to", to)
	c.enter(to, arg)
}

func (c *Connection) enter(s State, arg any) {
	switch s {
	case StateUninitialized:
		c.enterUninitialized()
	case StateConnecting:
		c.enterConnecting()
	case StateJumpToConnecting:
		c.reconnectCycles++
		c.counters.reconnects.Add(1)
		c.transition(StateConnecting, nil)
	case StateConnected:
		c.enterConnected()
	case StateIdle:
		c.enterIdle()
	case StateRequestingConnState:
		c.enterRequestingConnState()
	case StateSendDatagram:
		c.enterSendDatagram(arg.(*sendRequest)) //nolint:forcetypeassert // set by idleSend
	case StateSendTunnReqWaitAck:
		c.enterWaitAck(arg.(codec.TunnelingRequest)) //nolint:forcetypeassert // set by enterSendDatagram
	case StateDisconnecting:
		c.enterDisconnecting()
	case StateRecvTunnReqIndication:
		c.enterRecvIndication(arg.(codec.TunnelingRequest)) //nolint:forcetypeassert // set by idleInbound
	}
}

// armTimer replaces the state timer. The expiry is delivered as an evTimer
// tagged with the current generation.
func (c *Connection) armTimer(d time.Duration) {
	c.stopTimer()
	gen := c.timerGen
	c.timer = time.AfterFunc(d, func() {
		c.post(event{kind: evTimer, gen: gen})
	})
}

// stopTimer stops the state timer and invalidates any expiry already queued.
func (c *Connection) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
}

func (c *Connection) armPace(d time.Duration) {
	if c.paceTimer != nil {
		return
	}
	c.paceTimer = time.AfterFunc(d, func() {
		c.post(event{kind: evPace})
	})
}

func (c *Connection) stopPace() {
	if c.paceTimer != nil {
		c.paceTimer.Stop()
		c.paceTimer = nil
	}
}

// --- API events ---

func (c *Connection) onConnect(ev event) {
	switch c.cur {
	case StateUninitialized:
	case StateDisconnecting:
		ev.reply <- fmt.Errorf("%w: disconnect in progress", ErrNotConnected)
		return
	default:
		if c.connected.Load() {
			ev.reply <- nil
			return
		}
		c.connectWaiters = append(c.connectWaiters, ev.reply)
		return
	}

	c.disconnectCalled = false
	c.lastErr = nil
	c.tunneling = c.tunnel
	c.counters.tunneling.Store(c.tunneling)

	ctx := ev.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.openTransport(ctx, c.tunneling); err != nil {
		ev.reply <- err
		return
	}
	c.connectWaiters = append(c.connectWaiters, ev.reply)
	c.transition(StateConnecting, nil)
}

func (c *Connection) onDisconnect(ev event) {
	switch c.cur {
	case StateUninitialized:
		ev.reply <- nil
	case StateConnecting, StateJumpToConnecting:
		c.disconnectCalled = true
		c.lastErr = ErrDisconnected
		c.terminate()
		ev.reply <- nil
	case StateDisconnecting:
		c.disconnectWaiters = append(c.disconnectWaiters, ev.reply)
	default:
		c.disconnectWaiters = append(c.disconnectWaiters, ev.reply)
		c.transition(StateDisconnecting, nil)
	}
}

// --- states ---

func (c *Connection) enterUninitialized() {
	c.connected.Store(false)
	c.counters.connectedSince.Store(0)
	clear(c.pendingAck)
	c.haveChannel = false
	c.stopPace()

	for _, ev := range c.deferred {
		c.reject(ev, ErrDisconnected)
	}
	c.deferred = nil

	err := c.lastErr
	if err == nil {
		err = ErrDisconnected
	}
	c.releaseWaiters(err)
}

func (c *Connection) onUninitialized(ev event) bool {
	if ev.kind == evSend {
		ev.req.complete(ErrNotConnected)
	}
	return true
}

func (c *Connection) enterConnecting() {
	c.connected.Store(false)
	c.counters.connectedSince.Store(0)
	clear(c.pendingAck)
	c.disp.emit(Event{Name: EventDisconnected})

	if !c.tunneling {
		c.transition(StateConnected, nil)
		return
	}

	c.attempts = 0
	c.haveChannel = false
	c.seqnumRecv = -1
	c.logger.Debug("connecting", "remote", c.opts.Remote(), "local", c.local)
	c.sendConnectRequest()
	c.armTimer(c.opts.ReconnectDelay / 2) //nolint:mnd // two attempts per cycle
}

func (c *Connection) onConnecting(ev event) bool {
	switch ev.kind {
	case evTimer:
		c.attempts++
		if c.attempts < connectAttempts {
			c.logger.Debug("resending CONNECT_REQUEST", "attempt", c.attempts+1)
			c.sendConnectRequest()
			c.armTimer(c.opts.ReconnectDelay / 2) //nolint:mnd // two attempts per cycle
			return true
		}
		c.connectTimedOut()
		return true

	case evInbound:
		switch dg := ev.dg.(type) {
		case codec.ConnectResponse:
			c.onConnectResponse(dg)
			return true
		case codec.ConnectionStateResponse:
			c.onConnectingConnState(dg)
			return true
		}
	}
	return false
}

func (c *Connection) connectTimedOut() {
	switch {
	case c.opts.IPAddr.IsMulticast():
		// Many gateways drop tunneling requests sent to the multicast group.
		c.logger.Warn("connection timed out, falling back to routing", "remote", c.opts.Remote())
		c.fallBackToRouting()
	case c.autoReconnect():
		c.logger.Warn("connection timed out, reconnecting", "remote", c.opts.Remote(), "cycle", c.reconnectCycles+1)
		c.transition(StateJumpToConnecting, nil)
	default:
		c.logger.Warn("connection timed out, disconnecting", "remote", c.opts.Remote())
		c.fail(ErrConnectTimeout)
		c.transition(StateDisconnecting, nil)
	}
}

func (c *Connection) fallBackToRouting() {
	c.closeTransport()
	c.tunneling = false
	c.counters.tunneling.Store(false)
	if err := c.openTransport(context.Background(), false); err != nil {
		c.fail(fmt.Errorf("routing fallback: %w", err))
		c.terminate()
		return
	}
	c.transition(StateConnected, nil)
}

func (c *Connection) onConnectResponse(dg codec.ConnectResponse) {
	if dg.ConnState.Status != codec.StatusOK {
		c.logger.Error("gateway refused connection", "remote", c.opts.Remote(), "status", dg.ConnState.Status)
		c.fail(fmt.Errorf("%w: %s", ErrPeerStatus, dg.ConnState.Status))
		c.transition(StateDisconnecting, nil)
		return
	}

	c.channelID = dg.ConnState.ChannelID
	c.haveChannel = true
	c.counters.channelID.Store(uint32(c.channelID))
	if dg.CRI != nil {
		if addr := dg.CRI.IndividualAddress(); addr != 0 {
			c.localAddr.Store(uint32(addr))
		}
	}
	c.logger.Debug("tunnel opened", "channel", c.channelID, "address", c.LocalAddress())
	c.sendControl(codec.ConnectionStateRequest{
		ConnState: codec.ConnState{ChannelID: c.channelID},
		Control:   c.controlHPAI(),
	})
}

func (c *Connection) onConnectingConnState(dg codec.ConnectionStateResponse) {
	if dg.ConnState.Status == codec.StatusOK {
		c.transition(StateConnected, nil)
		return
	}
	c.fail(fmt.Errorf("%w: %s", ErrPeerStatus, dg.ConnState.Status))
	if c.autoReconnect() {
		c.transition(StateJumpToConnecting, nil)
		return
	}
	c.transition(StateDisconnecting, nil)
}

func (c *Connection) enterConnected() {
	c.reconnectCycles = 0
	c.nextSeq = 0
	c.lastErr = nil
	now := time.Now()
	c.lastSent = now
	c.connected.Store(true)
	c.counters.connectedSince.Store(now.UnixNano())

	c.logger.Info("connected",
		"remote", c.opts.Remote(),
		"tunneling", c.tunneling,
		"channel", c.channelID,
		"address", c.LocalAddress(),
	)
	c.disp.emit(Event{Name: EventConnected})
	c.transition(StateIdle, nil)
	c.releaseWaiters(nil)
}

func (c *Connection) enterIdle() {
	if c.tunneling {
		c.armTimer(c.opts.ConnstateRequestInterval)
	}
	c.replayDeferred()
}

func (c *Connection) onIdle(ev event) bool {
	switch ev.kind {
	case evTimer:
		c.transition(StateRequestingConnState, nil)
		return true
	case evSend:
		if !ev.replayed {
			// Queue behind anything already waiting so sends keep their order.
			c.deferred = append(c.deferred, ev)
			c.replayDeferred()
			return true
		}
		c.idleSend(ev.req, ev.heldForAck)
		return true
	case evInbound:
		return c.idleInbound(ev.dg)
	default:
		return false
	}
}

// idleSend transmits req or, when the previous frame went out less than
// MinimumDelay ago, puts it back at the head of the queue and wakes up when
// the gap has passed. A tunneling send that was held back by an outstanding
// TUNNELING_ACK waits tunnelingGuardMargin longer once.
func (c *Connection) idleSend(req *sendRequest, heldForAck bool) {
	if err := req.ctx.Err(); err != nil {
		c.logger.Debug("dropping cancelled send", "destination", req.cemi.Destination)
		req.complete(err)
		return
	}

	wait := c.opts.MinimumDelay - time.Since(c.lastSent)
	if c.tunneling && heldForAck {
		wait = max(wait, 0) + tunnelingGuardMargin
	}
	if wait > 0 {
		c.deferred = append([]event{{kind: evSend, req: req}}, c.deferred...)
		c.armPace(wait)
		return
	}
	c.transition(StateSendDatagram, req)
}

func (c *Connection) idleInbound(dg codec.Datagram) bool {
	switch dg := dg.(type) {
	case codec.TunnelingRequest:
		if dg.TunnState.ChannelID != c.channelID {
			c.logger.Debug("ignoring frame for another channel", "channel", dg.TunnState.ChannelID)
			return true
		}
		if int(dg.TunnState.Seqnum) == c.seqnumRecv {
			c.logger.Debug("repeated frame, acknowledging only", "seqnum", dg.TunnState.Seqnum)
			c.acknowledge(dg.TunnState)
			return true
		}

		switch dg.CEMI.MessageCode {
		case codec.LDataInd:
			c.transition(StateRecvTunnReqIndication, dg)
		case codec.LDataCon:
			c.seqnumRecv = int(dg.TunnState.Seqnum)
			c.confirm(dg)
			c.acknowledge(dg.TunnState)
		default:
			c.seqnumRecv = int(dg.TunnState.Seqnum)
			c.acknowledge(dg.TunnState)
			c.logger.Debug("ignoring tunneled frame", "code", dg.CEMI.MessageCode)
		}
		return true

	case codec.RoutingIndication:
		if dg.CEMI.MessageCode != codec.LDataInd {
			c.logger.Debug("ignoring routed frame", "code", dg.CEMI.MessageCode)
			return true
		}
		c.dispatchIndication(dg.CEMI)
		return true

	case codec.DisconnectRequest:
		if !c.tunneling || dg.ConnState.ChannelID != c.channelID {
			return true
		}
		c.logger.Warn("gateway closed the tunnel", "remote", c.opts.Remote(), "channel", c.channelID)
		c.sendControl(codec.DisconnectResponse{ConnState: codec.ConnState{ChannelID: c.channelID}})
		c.haveChannel = false
		c.transition(StateConnecting, nil)
		return true

	default:
		return false
	}
}

// confirm matches an L_Data.con with the frame sent to the same destination.
func (c *Connection) confirm(dg codec.TunnelingRequest) {
	dest := dg.CEMI.Destination
	if _, ok := c.pendingAck[dest]; !ok {
		c.logger.Debug("confirmation without pending frame", "destination", dest)
		return
	}
	delete(c.pendingAck, dest)
	c.disp.emit(Event{
		Name:        EventConfirmed,
		Source:      dg.CEMI.Source,
		Destination: dest,
		Datagram:    dg,
	})
}

func (c *Connection) enterRecvIndication(dg codec.TunnelingRequest) {
	c.seqnumRecv = int(dg.TunnState.Seqnum)
	c.acknowledge(dg.TunnState)
	c.transition(StateIdle, nil)
	c.dispatchIndication(dg.CEMI)
}

func (c *Connection) dispatchIndication(cemi codec.CEMI) {
	if cemi.APDU == nil {
		return
	}
	c.counters.telegramsRx.Add(1)
	c.disp.emitIndication(cemi)
}

func (c *Connection) enterRequestingConnState() {
	c.sendControl(codec.ConnectionStateRequest{
		ConnState: codec.ConnState{ChannelID: c.channelID},
		Control:   c.controlHPAI(),
	})
	c.armTimer(c.opts.ConnstateResponseTimeout)
}

func (c *Connection) onRequestingConnState(ev event) bool {
	switch ev.kind {
	case evTimer:
		c.logger.Warn("keepalive timed out", "remote", c.opts.Remote(), "channel", c.channelID)
		c.emitError(fmt.Errorf("%w: CONNECTIONSTATE_RESPONSE", ErrTimeout))
		c.haveChannel = false
		c.transition(StateConnecting, nil)
		return true

	case evInbound:
		dg, ok := ev.dg.(codec.ConnectionStateResponse)
		if !ok {
			return false
		}
		if dg.ConnState.Status != codec.StatusOK {
			c.logger.Warn("keepalive rejected", "remote", c.opts.Remote(), "status", dg.ConnState.Status)
			c.emitError(fmt.Errorf("%w: %s", ErrPeerStatus, dg.ConnState.Status))
			c.haveChannel = false
			c.transition(StateConnecting, nil)
			return true
		}
		c.transition(StateIdle, nil)
		return true

	default:
		return false
	}
}

func (c *Connection) enterSendDatagram(req *sendRequest) {
	dg := c.wrap(req.cemi)
	pkt, err := codec.Encode(dg)
	if err == nil {
		err = c.tr.Send(pkt)
	}
	if err != nil {
		c.counters.sendErrors.Add(1)
		err = fmt.Errorf("sending %s: %w", dg.ServiceType(), err)
		c.emitError(err)
		req.complete(err)
		c.transition(StateIdle, nil)
		return
	}

	c.lastSent = time.Now()
	c.counters.telegramsTx.Add(1)
	defer req.complete(nil)

	treq, ok := dg.(codec.TunnelingRequest)
	if !ok {
		c.transition(StateIdle, nil)
		return
	}
	c.nextSeq++
	c.pendingAck[req.cemi.Destination] = treq
	c.transition(StateSendTunnReqWaitAck, treq)
}

// wrap puts a CEMI frame in the datagram for the current mode.
func (c *Connection) wrap(cemi codec.CEMI) codec.Datagram {
	if c.tunneling {
		return codec.TunnelingRequest{
			TunnState: codec.TunnState{ChannelID: c.channelID, Seqnum: c.nextSeq},
			CEMI:      cemi,
		}
	}
	if cemi.MessageCode == codec.LDataReq {
		cemi.MessageCode = codec.LDataInd
	}
	return codec.RoutingIndication{CEMI: cemi}
}

func (c *Connection) enterWaitAck(sent codec.TunnelingRequest) {
	c.awaiting = sent
	c.armTimer(c.opts.ReceiveAckTimeout)
}

func (c *Connection) onWaitAck(ev event) bool {
	switch ev.kind {
	case evTimer:
		sent := c.awaiting
		c.counters.ackTimeouts.Add(1)
		c.logger.Warn("no TUNNELING_ACK",
			"channel", c.channelID,
			"seqnum", sent.TunnState.Seqnum,
			"destination", sent.CEMI.Destination,
		)
		delete(c.pendingAck, sent.CEMI.Destination)
		c.disp.emit(Event{
			Name:        EventTunnelReqFailed,
			Destination: sent.CEMI.Destination,
			Datagram:    sent,
			Err:         fmt.Errorf("%w: TUNNELING_ACK", ErrTimeout),
		})
		c.transition(StateIdle, nil)
		return true

	case evInbound:
		ack, ok := ev.dg.(codec.TunnelingAck)
		if !ok {
			return false
		}
		if ack.TunnState.ChannelID != c.channelID || ack.TunnState.Seqnum != c.awaiting.TunnState.Seqnum {
			c.logger.Debug("ignoring stray TUNNELING_ACK",
				"channel", ack.TunnState.ChannelID,
				"seqnum", ack.TunnState.Seqnum,
			)
			return true
		}
		c.counters.acksReceived.Add(1)
		// The reserved byte of an acknowledgement carries its status.
		if status := codec.Status(ack.TunnState.Reserved); status != codec.StatusOK {
			sent := c.awaiting
			delete(c.pendingAck, sent.CEMI.Destination)
			c.disp.emit(Event{
				Name:        EventTunnelReqFailed,
				Destination: sent.CEMI.Destination,
				Datagram:    sent,
				Err:         fmt.Errorf("%w: %s", ErrPeerStatus, status),
			})
		}
		c.transition(StateIdle, nil)
		return true

	default:
		return false
	}
}

func (c *Connection) enterDisconnecting() {
	c.disconnectCalled = true
	c.connected.Store(false)
	if !c.tunneling || !c.haveChannel {
		c.terminate()
		return
	}
	c.armTimer(c.opts.DisconnectTimeout)
	c.sendControl(codec.DisconnectRequest{
		ConnState: codec.ConnState{ChannelID: c.channelID},
		Control:   c.controlHPAI(),
	})
}

func (c *Connection) onDisconnecting(ev event) bool {
	switch ev.kind {
	case evTimer:
		c.logger.Warn("no DISCONNECT_RESPONSE, closing anyway", "remote", c.opts.Remote())
		c.terminate()
	case evSend:
		ev.req.complete(ErrNotConnected)
	case evInbound:
		switch dg := ev.dg.(type) {
		case codec.DisconnectResponse:
			c.terminate()
		case codec.DisconnectRequest:
			c.sendControl(codec.DisconnectResponse{ConnState: codec.ConnState{ChannelID: dg.ConnState.ChannelID}})
			c.terminate()
		}
	default:
	}
	return true
}

// --- helpers ---

// terminate closes the socket and ends the session.
func (c *Connection) terminate() {
	c.closeTransport()
	c.transition(StateUninitialized, nil)
	c.disp.emit(Event{Name: EventDisconnected})
	c.logger.Info("disconnected", "remote", c.opts.Remote())
}

func (c *Connection) openTransport(ctx context.Context, tunneling bool) error {
	tr, err := c.factory(tunneling)
	if err != nil {
		return err
	}
	c.tr = tr
	tr.SetHandler(c.inbound(tr))

	local, err := tr.Bind(ctx)
	if err != nil {
		c.tr = nil
		_ = tr.Close()
		return fmt.Errorf("binding transport: %w", err)
	}
	c.local = local
	c.logger.Debug("transport bound", "local", local, "tunneling", tunneling)
	return nil
}

func (c *Connection) closeTransport() {
	if c.tr == nil {
		return
	}
	if err := c.tr.Close(); err != nil {
		c.logger.Warn("closing transport failed", "error", err)
	}
	c.tr = nil
}

func (c *Connection) controlHPAI() *codec.HPAI {
	h := codec.NewHPAI(c.local)
	return &h
}

func (c *Connection) sendConnectRequest() {
	hpai := codec.NewHPAI(c.local)
	c.sendControl(codec.ConnectRequest{Control: hpai, Tunnel: hpai, CRI: codec.TunnelCRI()})
}

func (c *Connection) acknowledge(in codec.TunnState) {
	c.sendControl(codec.TunnelingAck{TunnState: codec.TunnState{ChannelID: c.channelID, Seqnum: in.Seqnum}})
}

// sendControl transmits a protocol datagram directly, outside the send queue.
func (c *Connection) sendControl(dg codec.Datagram) {
	pkt, err := codec.Encode(dg)
	if err == nil {
		if c.tr == nil {
			err = ErrNotConnected
		} else {
			err = c.tr.Send(pkt)
		}
	}
	if err != nil {
		c.counters.sendErrors.Add(1)
		c.emitError(fmt.Errorf("sending %s: %w", dg.ServiceType(), err))
	}
}

func (c *Connection) autoReconnect() bool {
	return !c.opts.DisableAutoReconnect && !c.disconnectCalled
}

func (c *Connection) emitError(err error) {
	c.logger.Warn("session error", "remote", c.opts.Remote(), "error", err)
	c.disp.emit(Event{Name: EventError, Err: err})
}

// fail records err as the reason the session ends and reports it.
func (c *Connection) fail(err error) {
	c.lastErr = err
	c.emitError(err)
}

// releaseWaiters answers pending Connect calls with connErr. Pending
// Disconnect calls are released only once the session is down.
func (c *Connection) releaseWaiters(connErr error) {
	for _, w := range c.connectWaiters {
		w <- connErr
	}
	c.connectWaiters = nil
	if c.cur != StateUninitialized {
		return
	}
	for _, w := range c.disconnectWaiters {
		w <- nil
	}
	c.disconnectWaiters = nil
}

func (c *Connection) reject(ev event, err error) {
	switch ev.kind {
	case evSend:
		ev.req.complete(err)
	case evConnect, evDisconnect:
		ev.reply <- err
	default:
	}
}

// shutdown runs on the actor after Close.
func (c *Connection) shutdown() {
	c.stopTimer()
	c.stopPace()
	c.closeTransport()
	c.cur = StateUninitialized
	c.state.Store(int32(StateUninitialized))
	c.connected.Store(false)

	for _, ev := range c.deferred {
		c.reject(ev, ErrClosed)
	}
	c.deferred = nil

	for {
		select {
		case ev := <-c.events:
			c.reject(ev, ErrClosed)
		default:
			c.releaseWaiters(ErrClosed)
			return
		}
	}
}
