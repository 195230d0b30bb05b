package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/knxnetip/internal/infrastructure/mqtt"
	"github.com/nerrad567/knxnetip/internal/knxnet/client"
	"github.com/nerrad567/knxnetip/internal/knxnet/codec"
)

// Bridge operation constants.
const (
	// maxInFlight caps concurrently executing commands. Further commands
	// wait in the MQTT handler.
	maxInFlight = 16

	// commandQoS is the subscription QoS for the command topics.
	commandQoS = 1
)

// Bridge translates between the KNX bus and MQTT.
// It handles:
//   - Commands from {prefix}/command/+ executed against the Connection
//   - Inbound indications published to {prefix}/telegram/{addr}
//   - Fan-out of inbound telegrams to the Sinks
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	bus    Bus
	mqtt   MQTTClient
	topics mqtt.Topics
	qos    byte
	exec   *Executor
	sinks  []Sink
	health *HealthReporter

	counters struct {
		commandsHandled    atomic.Uint64
		commandsFailed     atomic.Uint64
		telegramsPublished atomic.Uint64
	}

	unsubscribeBus func()
	inFlight       chan struct{}

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// Bus is the part of *client.Connection the bridge drives.
type Bus interface {
	Sender
	On(name string, fn client.Handler) (cancel func())
	IsConnected() bool
	Stats() client.Stats
}

// MQTTClient is the part of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
	HealthCheck(ctx context.Context) error
}

// Sink receives every inbound telegram after it is published. Sinks are
// called on the event dispatcher goroutine and must not block for long.
type Sink interface {
	RecordTelegram(t Telegram)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Counters are the bridge's own statistics.
type Counters struct {
	CommandsHandled    uint64
	CommandsFailed     uint64
	TelegramsPublished uint64
}

// Options holds configuration for creating a bridge.
type Options struct {
	// Bus is the KNXnet/IP connection. Required.
	Bus Bus

	// MQTT is the broker client. Required.
	MQTT MQTTClient

	// Topics builds the topic tree. Zero value uses the default prefix.
	Topics mqtt.Topics

	// QoS for published telegrams and acks.
	QoS byte

	// DPTs maps addresses to datapoint types for value decoding and for
	// commands that carry a Value without a DPT.
	DPTs map[string]string

	// Executor runs commands. When nil one is built from Bus, DPTs and
	// CommandTimeout.
	Executor *Executor

	// Sinks receive every inbound telegram (recorder, telemetry).
	Sinks []Sink

	// Version and Gateway are reported in health messages.
	Version string
	Gateway string

	// HealthInterval is the health publish period. Default: 30 seconds.
	HealthInterval time.Duration

	// Checks are the dependencies reported in health messages besides
	// the MQTT client itself.
	Checks map[string]HealthChecker

	// CommandTimeout bounds each command. Default: 5 seconds.
	CommandTimeout time.Duration

	// Logger is optional.
	Logger Logger
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("%w: bus", ErrMissingDependency)
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("%w: mqtt client", ErrMissingDependency)
	}

	exec := opts.Executor
	if exec == nil {
		exec = NewExecutor(ExecutorOptions{
			Sender:  opts.Bus,
			DPTs:    opts.DPTs,
			Timeout: opts.CommandTimeout,
			Logger:  opts.Logger,
		})
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		bus:       opts.Bus,
		mqtt:      opts.MQTT,
		topics:    opts.Topics,
		qos:       opts.QoS,
		exec:      exec,
		sinks:     opts.Sinks,
		inFlight:  make(chan struct{}, maxInFlight),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		Gateway:   opts.Gateway,
		Interval:  opts.HealthInterval,
		Topic:     opts.Topics.Health(),
		Publisher: opts.MQTT,
		Bus:       opts.Bus,
		Counters:  b.Counters,
		Checks:    opts.Checks,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to the bus and the command topics and starts health
// reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.unsubscribeBus = b.bus.On(client.EventAll, b.handleTelegram)

	commandTopic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(commandTopic, commandQoS, b.handleMQTTMessage); err != nil {
		b.unsubscribeBus()
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.health.Start(ctx)

	b.logInfo("bridge started", "dpts", b.exec.DPTCount(), "sinks", len(b.sinks))
	return nil
}

// Stop gracefully shuts down the bridge. In-flight commands are cancelled
// and waited for. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		b.ctxCancel()

		if b.unsubscribeBus != nil {
			b.unsubscribeBus()
		}
		if err := b.mqtt.Unsubscribe(b.topics.AllCommands()); err != nil {
			b.logDebug("unsubscribe commands", "error", err)
		}

		// Publishes the "stopping" status.
		b.health.Stop()

		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// Counters returns the bridge's own statistics.
func (b *Bridge) Counters() Counters {
	return Counters{
		CommandsHandled:    b.counters.commandsHandled.Load(),
		CommandsFailed:     b.counters.commandsFailed.Load(),
		TelegramsPublished: b.counters.telegramsPublished.Load(),
	}
}

// Health returns the bridge's health reporter.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// DPT returns the datapoint type configured for addr, or "".
func (b *Bridge) DPT(addr string) string {
	return b.exec.DPT(addr)
}

// handleMQTTMessage runs a command received on {prefix}/command/{addr}.
// Execution happens on its own goroutine so a slow read does not stall the
// MQTT client's router.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	topicAddr, ok := b.topics.Address(topic)
	if !ok {
		return fmt.Errorf("%w: topic %q", ErrInvalidCommand, topic)
	}

	select {
	case <-b.done:
		return nil
	case b.inFlight <- struct{}{}:
	}
	select {
	case <-b.done:
		<-b.inFlight
		return nil
	default:
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() { <-b.inFlight }()
		b.HandleCommand(topicAddr, payload)
	}()
	return nil
}

// HandleCommand parses and executes one command payload and publishes its
// ack. topicAddr is the address the command was published under; it may be
// empty when the payload carries the address.
func (b *Bridge) HandleCommand(topicAddr string, payload []byte) AckMessage {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		ack := NewAckError(cmd, topicAddr, ErrCodeInvalidCommand, "malformed command: "+err.Error())
		b.finish(ack)
		return ack
	}
	return b.Execute(cmd, topicAddr)
}

// Execute runs cmd against the bus and publishes its ack.
func (b *Bridge) Execute(cmd CommandMessage, topicAddr string) AckMessage {
	b.logDebug("received command",
		"command_id", cmd.ID,
		"action", cmd.Action,
		"address", firstNonEmpty(cmd.Address, topicAddr),
		"source", cmd.Source)

	ack := b.exec.Execute(b.ctx, cmd, topicAddr)
	b.finish(ack)
	return ack
}

// finish publishes an ack and updates the counters.
func (b *Bridge) finish(ack AckMessage) {
	b.counters.commandsHandled.Add(1)
	if ack.Error != nil {
		b.counters.commandsFailed.Add(1)
		b.logWarn("command failed",
			"command_id", ack.CommandID,
			"address", ack.Address,
			"code", ack.Error.Code,
			"message", ack.Error.Message)
	}
	b.publishAck(ack)
}

// publishAck publishes a command acknowledgement.
func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	topic := b.topics.Ack(ack.Address)
	if err := b.mqtt.Publish(topic, payload, b.qos, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// handleTelegram publishes an inbound indication and hands it to the sinks.
func (b *Bridge) handleTelegram(ev client.Event) {
	t := b.exec.Telegram(ev)

	b.publishTelegram(t)

	for _, s := range b.sinks {
		s.RecordTelegram(t)
	}
}

// publishTelegram publishes t to {prefix}/telegram/{dest}. Values are
// retained so subscribers see the last state of each address.
func (b *Bridge) publishTelegram(t Telegram) {
	if !b.mqtt.IsConnected() {
		return
	}
	payload, err := json.Marshal(NewTelegramMessage(t))
	if err != nil {
		b.logError("failed to marshal telegram", err)
		return
	}

	retained := t.APCI == codec.GroupValueWrite.String() || t.APCI == codec.GroupValueResponse.String()
	if err := b.mqtt.Publish(b.topics.Telegram(t.Destination), payload, b.qos, retained); err != nil {
		b.logError("failed to publish telegram", err)
		return
	}
	b.counters.telegramsPublished.Add(1)
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
