package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/knxnetip/internal/infrastructure/influxdb"
	"github.com/nerrad567/knxnetip/internal/infrastructure/mqtt"
	"github.com/nerrad567/knxnetip/internal/knx/address"
	"github.com/nerrad567/knxnetip/internal/knxnet/client"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	unsubscribed  []string
	connected     bool
	handlers      map[string]mqtt.MessageHandler
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, topic)
	delete(m.handlers, topic)
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) HealthCheck(context.Context) error {
	if !m.IsConnected() {
		return mqtt.ErrNotConnected
	}
	return nil
}

func (m *MockMQTTClient) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]mockPublish, len(m.published))
	copy(result, m.published)
	return result
}

// PublishedTo returns the messages published to topic.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	var result []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			result = append(result, p)
		}
	}
	return result
}

// WaitFor polls until a message is published to topic.
func (m *MockMQTTClient) WaitFor(t *testing.T, topic string) mockPublish {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := m.PublishedTo(topic); len(msgs) > 0 {
			return msgs[len(msgs)-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("nothing published to %s", topic)
	return mockPublish{}
}

// SimulateMessage simulates receiving an MQTT message on a subscribed
// pattern.
func (m *MockMQTTClient) SimulateMessage(pattern, topic string, payload []byte) error {
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return handler(topic, payload)
}

// MockBus implements Bus for testing.
type MockBus struct {
	mu        sync.Mutex
	connected bool
	stats     client.Stats
	calls     []busCall
	readData  []byte
	err       error
	handlers  map[string][]client.Handler
}

type busCall struct {
	Method string
	Dest   address.Address
	Data   []byte
}

func NewMockBus() *MockBus {
	return &MockBus{
		connected: true,
		stats: client.Stats{
			State:        client.StateIdle,
			Connected:    true,
			Tunneling:    true,
			ChannelID:    7,
			LocalAddress: address.NewDevice(1, 1, 250),
			TelegramsTx:  3,
			TelegramsRx:  11,
		},
		handlers: make(map[string][]client.Handler),
	}
}

func (m *MockBus) record(method string, dest address.Address, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, busCall{Method: method, Dest: dest, Data: data})
	return m.err
}

func (m *MockBus) Write(_ context.Context, dest address.Address, data []byte) error {
	return m.record("Write", dest, data)
}

func (m *MockBus) WriteAppended(_ context.Context, dest address.Address, data []byte) error {
	return m.record("WriteAppended", dest, data)
}

func (m *MockBus) Respond(_ context.Context, dest address.Address, data []byte) error {
	return m.record("Respond", dest, data)
}

func (m *MockBus) RespondAppended(_ context.Context, dest address.Address, data []byte) error {
	return m.record("RespondAppended", dest, data)
}

func (m *MockBus) Read(_ context.Context, dest address.Address) ([]byte, error) {
	if err := m.record("Read", dest, nil); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readData, nil
}

func (m *MockBus) On(name string, fn client.Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = append(m.handlers[name], fn)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers, name)
	}
}

func (m *MockBus) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockBus) Stats() client.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Emit delivers ev to the handlers registered for ev.Name.
func (m *MockBus) Emit(ev client.Event) {
	m.mu.Lock()
	handlers := append([]client.Handler(nil), m.handlers[ev.Name]...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (m *MockBus) HandlerCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers[name])
}

func (m *MockBus) GetCalls() []busCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]busCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// telegramEvent builds an EventAll indication to a group address.
func telegramEvent(src, dest, apci string, data []byte) client.Event {
	return client.Event{
		Name:        client.EventAll,
		APCI:        apci,
		Source:      address.MustDevice(src),
		Destination: address.MustGroup(dest).Address(),
		Data:        data,
	}
}

// mockSink records telegrams handed to it.
type mockSink struct {
	mu        sync.Mutex
	telegrams []Telegram
}

func (s *mockSink) RecordTelegram(t Telegram) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telegrams = append(s.telegrams, t)
}

func (s *mockSink) get() []Telegram {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Telegram(nil), s.telegrams...)
}

// mockWriter implements TelemetryWriter for testing.
type mockWriter struct {
	mu        sync.Mutex
	telegrams []influxdb.Telegram
	sessions  []influxdb.SessionStats
}

func (w *mockWriter) WriteTelegram(t influxdb.Telegram) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.telegrams = append(w.telegrams, t)
}

func (w *mockWriter) WriteSessionStats(s influxdb.SessionStats) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sessions = append(w.sessions, s)
}

func (w *mockWriter) sessionCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}
