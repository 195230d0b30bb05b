package client

import (
	"sync/atomic"
	"time"

	"github.com/nerrad567/knxnetip/internal/knx/address"
)

// Stats is a snapshot of session counters.
type Stats struct {
	State          State
	Connected      bool
	Tunneling      bool
	ChannelID      uint8
	LocalAddress   address.DeviceAddress
	TelegramsTx    uint64
	TelegramsRx    uint64
	AcksReceived   uint64
	AckTimeouts    uint64
	DecodeErrors   uint64
	SendErrors     uint64
	EventsDropped  uint64
	Reconnects     uint64
	LastActivity   time.Time
	ConnectedSince time.Time
}

// counters holds the live values behind Stats. Fields are written by the
// actor and the transport read loop and read by Stats.
type counters struct {
	telegramsTx    atomic.Uint64
	telegramsRx    atomic.Uint64
	acksReceived   atomic.Uint64
	ackTimeouts    atomic.Uint64
	decodeErrors   atomic.Uint64
	sendErrors     atomic.Uint64
	eventsDropped  atomic.Uint64
	reconnects     atomic.Uint64
	lastActivity   atomic.Int64
	connectedSince atomic.Int64
	channelID      atomic.Uint32
	tunneling      atomic.Bool
}

func unixNanoTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Stats returns a snapshot of the session counters.
func (c *Connection) Stats() Stats {
	return Stats{
		State:          c.State(),
		Connected:      c.IsConnected(),
		Tunneling:      c.counters.tunneling.Load(),
		ChannelID:      uint8(c.counters.channelID.Load()), //nolint:gosec // stored from a uint8
		LocalAddress:   c.LocalAddress(),
		TelegramsTx:    c.counters.telegramsTx.Load(),
		TelegramsRx:    c.counters.telegramsRx.Load(),
		AcksReceived:   c.counters.acksReceived.Load(),
		AckTimeouts:    c.counters.ackTimeouts.Load(),
		DecodeErrors:   c.counters.decodeErrors.Load(),
		SendErrors:     c.counters.sendErrors.Load(),
		EventsDropped:  c.counters.eventsDropped.Load() + c.disp.dropped.Load(),
		Reconnects:     c.counters.reconnects.Load(),
		LastActivity:   unixNanoTime(c.counters.lastActivity.Load()),
		ConnectedSince: unixNanoTime(c.counters.connectedSince.Load()),
	}
}
