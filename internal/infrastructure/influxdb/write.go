package influxdb

import (
	"encoding/hex"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementTelegram = "knx_telegram"
	MeasurementSession  = "knx_session"
)

// Telegram is one observed bus telegram.
type Telegram struct {
	Time        time.Time
	Source      string
	Destination string
	APCI        string
	Data        []byte
}

// SessionStats is a snapshot of KNXnet/IP session counters.
type SessionStats struct {
	Time          time.Time
	Gateway       string
	Mode          string // "tunneling" or "routing"
	Connected     bool
	TelegramsTx   uint64
	TelegramsRx   uint64
	AckTimeouts   uint64
	DecodeErrors  uint64
	SendErrors    uint64
	EventsDropped uint64
	Reconnects    uint64
}

// WriteTelegram records a telegram as a knx_telegram point.
//
// Tags are the APCI name and both addresses; fields are the payload size
// and its hex form. The write is non-blocking and batched.
//
// Example:
//
//	client.WriteTelegram(influxdb.Telegram{
//	    Source: "1.1.5", Destination: "1/2/3", APCI: "GroupValue_Write", Data: []byte{1},
//	})
func (c *Client) WriteTelegram(t Telegram) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(telegramPoint(t))
}

// WriteSessionStats records a knx_session point.
func (c *Client) WriteSessionStats(s SessionStats) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(sessionPoint(s))
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func telegramPoint(t Telegram) *write.Point {
	return write.NewPoint(
		MeasurementTelegram,
		map[string]string{
			"apci": t.APCI,
			"dest": t.Destination,
			"src":  t.Source,
		},
		map[string]any{
			"size":  len(t.Data),
			"value": hex.EncodeToString(t.Data),
		},
		stamp(t.Time),
	)
}

func sessionPoint(s SessionStats) *write.Point {
	return write.NewPoint(
		MeasurementSession,
		map[string]string{
			"gateway": s.Gateway,
			"mode":    s.Mode,
		},
		map[string]any{
			"connected":      s.Connected,
			"telegrams_tx":   s.TelegramsTx,
			"telegrams_rx":   s.TelegramsRx,
			"ack_timeouts":   s.AckTimeouts,
			"decode_errors":  s.DecodeErrors,
			"send_errors":    s.SendErrors,
			"events_dropped": s.EventsDropped,
			"reconnects":     s.Reconnects,
		},
		stamp(s.Time),
	)
}
