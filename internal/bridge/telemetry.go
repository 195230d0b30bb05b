package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/knxnetip/internal/infrastructure/influxdb"
)

// defaultStatsInterval is used when TelemetryConfig.StatsInterval is zero.
const defaultStatsInterval = time.Minute

// TelemetryWriter is the part of *influxdb.Client telemetry uses.
type TelemetryWriter interface {
	WriteTelegram(t influxdb.Telegram)
	WriteSessionStats(s influxdb.SessionStats)
}

// TelemetryConfig holds configuration for Telemetry.
type TelemetryConfig struct {
	// Writer receives the points. Required.
	Writer TelemetryWriter

	// Bus provides the session counters.
	Bus StatsSource

	// Gateway is the session stats gateway tag.
	Gateway string

	// StatsInterval is the session stats period. Default: 1 minute.
	StatsInterval time.Duration
}

// Telemetry writes telegrams and periodic session statistics to InfluxDB.
// It is a Sink.
type Telemetry struct {
	writer   TelemetryWriter
	bus      StatsSource
	gateway  string
	interval time.Duration

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewTelemetry creates a telemetry sink. Call Start for session stats.
func NewTelemetry(cfg TelemetryConfig) *Telemetry {
	interval := cfg.StatsInterval
	if interval <= 0 {
		interval = defaultStatsInterval
	}
	return &Telemetry{
		writer:   cfg.Writer,
		bus:      cfg.Bus,
		gateway:  cfg.Gateway,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// RecordTelegram writes a knx_telegram point.
func (t *Telemetry) RecordTelegram(tg Telegram) {
	t.writer.WriteTelegram(influxdb.Telegram{
		Time:        tg.Time,
		Source:      tg.Source,
		Destination: tg.Destination,
		APCI:        tg.APCI,
		Data:        tg.Data,
	})
}

// Start writes a knx_session point every stats interval until ctx is
// cancelled or Stop is called.
func (t *Telemetry) Start(ctx context.Context) {
	if t.bus == nil {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.done:
				return
			case <-ticker.C:
				t.WriteSessionStats()
			}
		}
	}()
}

// Stop ends the stats loop and writes a final snapshot.
func (t *Telemetry) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
		t.wg.Wait()
		if t.bus != nil {
			t.WriteSessionStats()
		}
	})
}

// WriteSessionStats writes the current session counters.
func (t *Telemetry) WriteSessionStats() {
	s := t.bus.Stats()
	t.writer.WriteSessionStats(influxdb.SessionStats{
		Time:          time.Now(),
		Gateway:       t.gateway,
		Mode:          modeOf(s.Tunneling),
		Connected:     s.Connected,
		TelegramsTx:   s.TelegramsTx,
		TelegramsRx:   s.TelegramsRx,
		AckTimeouts:   s.AckTimeouts,
		DecodeErrors:  s.DecodeErrors,
		SendErrors:    s.SendErrors,
		EventsDropped: s.EventsDropped,
		Reconnects:    s.Reconnects,
	})
}
