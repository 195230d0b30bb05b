package client

import (
	"sync"
	"sync/atomic"

	"github.com/nerrad567/knxnetip/internal/knx/address"
	"github.com/nerrad567/knxnetip/internal/knxnet/codec"
)

// Session event names.
const (
	EventConnected       = "connected"
	EventDisconnected    = "disconnected"
	EventError           = "error"
	EventConfirmed       = "confirmed"
	EventTunnelReqFailed = "tunnelreqfailed"

	// EventAll receives every inbound indication.
	EventAll = "event"
)

const defaultEventQueueSize = 256

// DestinationEvent is the per-destination event name, e.g. "event_1/2/3".
func DestinationEvent(dest address.Address) string {
	return "event_" + dest.String()
}

// APCIDestinationEvent is the per-APCI, per-destination event name,
// e.g. "GroupValue_Write_1/2/3".
func APCIDestinationEvent(apci string, dest address.Address) string {
	return apci + "_" + dest.String()
}

// Event is delivered to handlers. Which fields are set depends on Name:
// indications carry APCI, Source, Destination and Data; confirmed and
// tunnelreqfailed carry Datagram; error carries Err.
type Event struct {
	Name        string
	APCI        string
	Source      address.DeviceAddress
	Destination address.Address
	Data        []byte
	Datagram    codec.Datagram
	Err         error
}

// Handler receives events.
type Handler func(Event)

type subscription struct {
	id    uint64
	fn    Handler
	once  bool
	fired atomic.Bool
}

// dispatcher delivers events to handlers on its own goroutine, in the order
// they were emitted.
type dispatcher struct {
	logger Logger

	mu     sync.RWMutex
	subs   map[string][]*subscription
	nextID uint64

	queue   chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

func newDispatcher(size int, logger Logger) *dispatcher {
	d := &dispatcher{
		logger: logger,
		subs:   make(map[string][]*subscription),
		queue:  make(chan Event, size),
		done:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// subscribe registers fn for name and returns its cancel function.
func (d *dispatcher) subscribe(name string, fn Handler, once bool) func() {
	d.mu.Lock()
	d.nextID++
	s := &subscription{id: d.nextID, fn: fn, once: once}
	d.subs[name] = append(d.subs[name], s)
	d.mu.Unlock()

	return func() { d.unsubscribe(name, s.id) }
}

func (d *dispatcher) unsubscribe(name string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.subs[name]
	for i, s := range subs {
		if s.id == id {
			d.subs[name] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(d.subs[name]) == 0 {
		delete(d.subs, name)
	}
}

// emit queues an event without blocking. Events are dropped when the queue
// is full.
func (d *dispatcher) emit(ev Event) {
	select {
	case <-d.done:
		return
	default:
	}

	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		d.logger.Warn("event queue full, dropping event", "event", ev.Name)
	}
}

// emitIndication fans an inbound L_Data frame out under its four names.
func (d *dispatcher) emitIndication(cemi codec.CEMI) {
	if cemi.APDU == nil {
		return
	}
	apci := cemi.APDU.Label()
	base := Event{
		APCI:        apci,
		Source:      cemi.Source,
		Destination: cemi.Destination,
		Data:        cemi.APDU.Data,
	}

	for _, name := range []string{
		DestinationEvent(cemi.Destination),
		APCIDestinationEvent(apci, cemi.Destination),
		apci,
		EventAll,
	} {
		ev := base
		ev.Name = name
		d.emit(ev)
	}
}

func (d *dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case ev := <-d.queue:
			d.deliver(ev)
		}
	}
}

func (d *dispatcher) deliver(ev Event) {
	d.mu.RLock()
	subs := append([]*subscription(nil), d.subs[ev.Name]...)
	d.mu.RUnlock()

	for _, s := range subs {
		if s.once {
			if !s.fired.CompareAndSwap(false, true) {
				continue
			}
			d.unsubscribe(ev.Name, s.id)
		}
		d.call(s.fn, ev)
	}
}

// call runs one handler, recovering panics.
func (d *dispatcher) call(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked", "event", ev.Name, "panic", r)
		}
	}()
	fn(ev)
}

func (d *dispatcher) close() {
	select {
	case <-d.done:
		return
	default:
	}
	close(d.done)
	d.wg.Wait()
}
