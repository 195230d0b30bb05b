package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/knxnetip/internal/knx/address"
	"github.com/nerrad567/knxnetip/internal/knxnet/codec"
)

// Template is a partial datagram. A datagram matches when every field the
// template sets is equal; unset fields match anything. Templates are built
// with the With methods:
//
//	tpl := client.Template{}.
//		WithMessageCode(codec.LDataInd).
//		WithSource(target).
//		WithAPCI(codec.MemoryResponse)
type Template struct {
	serviceType *codec.ServiceType
	channelID   *uint8
	messageCode *codec.MessageCode
	source      *address.DeviceAddress
	destination *address.Address
	apci        *codec.APCI
	tpci        *uint8
	tpciMask    uint8
}

// WithServiceType requires a service type.
func (t Template) WithServiceType(st codec.ServiceType) Template {
	t.serviceType = &st
	return t
}

// WithChannel requires a channel ID in the ConnState or TunnState.
func (t Template) WithChannel(id uint8) Template {
	t.channelID = &id
	return t
}

// WithMessageCode requires a CEMI message code.
func (t Template) WithMessageCode(mc codec.MessageCode) Template {
	t.messageCode = &mc
	return t
}

// WithSource requires a CEMI source address.
func (t Template) WithSource(src address.DeviceAddress) Template {
	t.source = &src
	return t
}

// WithDestination requires a CEMI destination address, kind included.
func (t Template) WithDestination(dst address.Address) Template {
	t.destination = &dst
	return t
}

// WithAPCI requires an APCI. Use codec.NoAPCI to match transport control
// frames only.
func (t Template) WithAPCI(apci codec.APCI) Template {
	t.apci = &apci
	return t
}

// WithTPCI requires the TPCI bits selected by mask to equal tpci. A zero
// mask compares the whole byte.
func (t Template) WithTPCI(tpci, mask uint8) Template {
	if mask == 0 {
		mask = 0xFF
	}
	t.tpci = &tpci
	t.tpciMask = mask
	return t
}

// Match reports whether d satisfies the template.
func (t Template) Match(d codec.Datagram) bool {
	if d == nil {
		return false
	}
	if t.serviceType != nil && d.ServiceType() != *t.serviceType {
		return false
	}
	if t.channelID != nil {
		id, ok := channelOf(d)
		if !ok || id != *t.channelID {
			return false
		}
	}
	if !t.needsCEMI() {
		return true
	}

	cemi, ok := cemiOf(d)
	if !ok {
		return false
	}
	if t.messageCode != nil && cemi.MessageCode != *t.messageCode {
		return false
	}
	if t.source != nil && cemi.Source != *t.source {
		return false
	}
	if t.destination != nil && cemi.Destination != *t.destination {
		return false
	}
	if t.apci == nil && t.tpci == nil {
		return true
	}

	if cemi.APDU == nil {
		return false
	}
	if t.apci != nil && cemi.APDU.APCI != *t.apci {
		return false
	}
	if t.tpci != nil && cemi.APDU.TPCI&t.tpciMask != *t.tpci&t.tpciMask {
		return false
	}
	return true
}

func (t Template) needsCEMI() bool {
	return t.messageCode != nil || t.source != nil || t.destination != nil || t.apci != nil || t.tpci != nil
}

func cemiOf(d codec.Datagram) (codec.CEMI, bool) {
	switch v := d.(type) {
	case codec.TunnelingRequest:
		return v.CEMI, true
	case codec.RoutingIndication:
		return v.CEMI, true
	default:
		return codec.CEMI{}, false
	}
}

func channelOf(d codec.Datagram) (uint8, bool) {
	switch v := d.(type) {
	case codec.TunnelingRequest:
		return v.TunnState.ChannelID, true
	case codec.TunnelingAck:
		return v.TunnState.ChannelID, true
	case codec.ConnectResponse:
		return v.ConnState.ChannelID, true
	case codec.ConnectionStateRequest:
		return v.ConnState.ChannelID, true
	case codec.ConnectionStateResponse:
		return v.ConnState.ChannelID, true
	case codec.DisconnectRequest:
		return v.ConnState.ChannelID, true
	case codec.DisconnectResponse:
		return v.ConnState.ChannelID, true
	default:
		return 0, false
	}
}

// Listener is a one-shot template listener registered with Expect.
type Listener struct {
	id       uuid.UUID
	template Template
	reg      *listenerRegistry

	result chan listenerResult
	once   sync.Once
	timer  *time.Timer
}

type listenerResult struct {
	dg  codec.Datagram
	err error
}

// ID identifies the listener in logs.
func (l *Listener) ID() uuid.UUID { return l.id }

// Wait blocks until a datagram matches, the listener expires or is
// cancelled, or ctx is done. A listener abandoned through ctx stays
// registered until it expires; call Cancel to remove it.
//
// Returns:
//   - codec.Datagram: The matching datagram
//   - error: ErrTimeout, ErrCancelled or ctx.Err()
func (l *Listener) Wait(ctx context.Context) (codec.Datagram, error) {
	select {
	case r := <-l.result:
		return r.dg, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel removes the listener. Pending and later Wait calls return
// ErrCancelled unless a match was already delivered.
func (l *Listener) Cancel() {
	l.finish(nil, ErrCancelled)
}

// finish resolves the listener exactly once.
func (l *Listener) finish(dg codec.Datagram, err error) bool {
	resolved := false
	l.once.Do(func() {
		resolved = true
		if l.timer != nil {
			l.timer.Stop()
		}
		l.reg.remove(l)
		l.result <- listenerResult{dg: dg, err: err}
	})
	return resolved
}

// listenerRegistry holds active listeners in registration order.
type listenerRegistry struct {
	mu        sync.Mutex
	listeners []*Listener
}

func (r *listenerRegistry) add(tpl Template, timeout time.Duration) *Listener {
	l := &Listener{
		id:       uuid.New(),
		template: tpl,
		reg:      r,
		result:   make(chan listenerResult, 1),
	}

	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()

	if timeout > 0 {
		l.timer = time.AfterFunc(timeout, func() { l.finish(nil, ErrTimeout) })
	}
	return l
}

func (r *listenerRegistry) remove(l *Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, x := range r.listeners {
		if x == l {
			r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
			return
		}
	}
}

// match resolves every listener whose template matches d and returns how
// many did.
func (r *listenerRegistry) match(d codec.Datagram) int {
	r.mu.Lock()
	var hits []*Listener
	for _, l := range r.listeners {
		if l.template.Match(d) {
			hits = append(hits, l)
		}
	}
	r.mu.Unlock()

	n := 0
	for _, l := range hits {
		if l.finish(d, nil) {
			n++
		}
	}
	return n
}

func (r *listenerRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

// cancelAll resolves every listener with ErrCancelled.
func (r *listenerRegistry) cancelAll() {
	r.mu.Lock()
	ls := append([]*Listener(nil), r.listeners...)
	r.mu.Unlock()
	for _, l := range ls {
		l.Cancel()
	}
}
