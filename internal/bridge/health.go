package bridge

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/knxnetip/internal/knxnet/client"
)

const (
	// defaultHealthInterval is used when HealthReporterConfig.Interval is zero.
	defaultHealthInterval = 30 * time.Second

	// healthCheckTimeout bounds one round of dependency checks.
	healthCheckTimeout = 5 * time.Second

	// mqttDependency is the name the publisher is checked under.
	mqttDependency = "mqtt"
)

// HealthChecker is implemented by *database.DB, *influxdb.Client and
// *mqtt.Client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// HealthCheck reports whether the broker connection is usable.
	HealthCheck(ctx context.Context) error
}

// StatsSource provides session state. *client.Connection implements it.
type StatsSource interface {
	IsConnected() bool
	Stats() client.Stats
}

// Evaluate derives the health status from the gateway session and the
// named dependency checks. A disconnected session takes precedence over
// failing dependencies in the reason.
//
// Parameters:
//   - ctx: Bounds the checks (capped at five seconds)
//   - bus: Session state; nil counts as disconnected
//   - checks: Dependencies by name, checked in name order
//
// Returns:
//   - HealthStatus: healthy or degraded
//   - string: Reason for a degraded status, empty when healthy
//   - []DependencyStatus: One entry per check
func Evaluate(ctx context.Context, bus StatsSource, checks map[string]HealthChecker) (HealthStatus, string, []DependencyStatus) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var deps []DependencyStatus
	for _, name := range slices.Sorted(maps.Keys(checks)) {
		d := DependencyStatus{Name: name, Healthy: true}
		if err := checks[name].HealthCheck(ctx); err != nil {
			d.Healthy = false
			d.Error = err.Error()
		}
		deps = append(deps, d)
	}

	if bus == nil || !bus.IsConnected() {
		return HealthDegraded, "gateway disconnected", deps
	}
	for _, d := range deps {
		if !d.Healthy {
			return HealthDegraded, d.Name + " unhealthy", deps
		}
	}
	return HealthHealthy, "", deps
}

// HealthReporter manages periodic health status reporting.
// It publishes retained health messages to MQTT at regular intervals.
type HealthReporter struct {
	version   string
	gateway   string
	topic     string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	bus       StatsSource
	counters  func() Counters
	checks    map[string]HealthChecker

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  bool
	startMu  sync.Mutex

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Version is the software version.
	Version string

	// Gateway is the configured gateway address, reported as is.
	Gateway string

	// Topic is where health is published.
	Topic string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages. It is checked
	// as the "mqtt" dependency unless Checks already names one.
	Publisher HealthPublisher

	// Bus provides connection statistics.
	Bus StatsSource

	// Counters returns the bridge's own statistics. Optional.
	Counters func() Counters

	// Checks are further dependencies (database, influxdb). Optional.
	Checks map[string]HealthChecker
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	checks := maps.Clone(cfg.Checks)
	if cfg.Publisher != nil {
		if checks == nil {
			checks = make(map[string]HealthChecker)
		}
		if _, ok := checks[mqttDependency]; !ok {
			checks[mqttDependency] = cfg.Publisher
		}
	}

	return &HealthReporter{
		version:   cfg.Version,
		gateway:   cfg.Gateway,
		topic:     cfg.Topic,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		bus:       cfg.Bus,
		counters:  cfg.Counters,
		checks:    checks,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting. Call Stop to shut down.
//
// Parameters:
//   - ctx: Context for cancellation (will stop reporting when cancelled)
func (h *HealthReporter) Start(ctx context.Context) {
	h.startMu.Lock()
	defer h.startMu.Unlock()
	if h.started {
		return
	}
	h.started = true

	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops health reporting.
// Publishes a final "stopping" status before returning.
// Safe to call multiple times (uses sync.Once).
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown, nothing we can do if it fails
		h.publishStatus(HealthStopping, "", nil)
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting", nil)
}

// PublishNow runs the dependency checks and publishes the result.
func (h *HealthReporter) PublishNow(ctx context.Context) error {
	status, reason, deps := Evaluate(ctx, h.bus, h.checks)
	return h.publishStatus(status, reason, deps)
}

// reportLoop runs the periodic health reporting.
func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(ctx); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(ctx); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) build(status HealthStatus, reason string, deps []DependencyStatus) HealthMessage {
	var stats client.Stats
	if h.bus != nil {
		stats = h.bus.Stats()
	}
	var counters Counters
	if h.counters != nil {
		counters = h.counters()
	}

	msg := NewHealthMessage(h.version, h.gateway, status, stats, counters, h.startTime)
	msg.Reason = reason
	msg.Dependencies = deps
	return msg
}

// publishStatus publishes a health status message (QoS 1, retained).
func (h *HealthReporter) publishStatus(status HealthStatus, reason string, deps []DependencyStatus) error {
	if h.publisher == nil || h.topic == "" {
		return nil
	}

	payload, err := json.Marshal(h.build(status, reason, deps))
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topic, payload, 1, true)
}

// logError logs an error if logger is set.
func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
