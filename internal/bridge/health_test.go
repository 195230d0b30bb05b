package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

func newTestReporter(mqttConnected, busConnected bool) (*HealthReporter, *MockMQTTClient) {
	pub := NewMockMQTTClient()
	pub.SetConnected(mqttConnected)
	bus := NewMockBus()
	bus.connected = busConnected

	h := NewHealthReporter(HealthReporterConfig{
		Version:   "1.2.3",
		Gateway:   "192.168.1.20",
		Topic:     "knxnetip/health",
		Interval:  20 * time.Millisecond,
		Publisher: pub,
		Bus:       bus,
		Counters:  func() Counters { return Counters{CommandsHandled: 4, CommandsFailed: 1} },
	})
	return h, pub
}

// stubCheck is a HealthChecker returning a fixed error.
type stubCheck struct{ err error }

func (c stubCheck) HealthCheck(context.Context) error { return c.err }

func TestEvaluate(t *testing.T) {
	dbErr := errors.New("database is locked")

	tests := []struct {
		name       string
		bus        bool
		checks     map[string]HealthChecker
		wantStatus HealthStatus
		wantReason string
		wantDeps   []DependencyStatus
	}{
		{
			name:       "no checks",
			bus:        true,
			wantStatus: HealthHealthy,
		},
		{
			name:       "all healthy",
			bus:        true,
			checks:     map[string]HealthChecker{"influxdb": stubCheck{}, "database": stubCheck{}},
			wantStatus: HealthHealthy,
			wantDeps: []DependencyStatus{
				{Name: "database", Healthy: true},
				{Name: "influxdb", Healthy: true},
			},
		},
		{
			name:       "database failing",
			bus:        true,
			checks:     map[string]HealthChecker{"database": stubCheck{dbErr}, "influxdb": stubCheck{}},
			wantStatus: HealthDegraded,
			wantReason: "database unhealthy",
			wantDeps: []DependencyStatus{
				{Name: "database", Error: "database is locked"},
				{Name: "influxdb", Healthy: true},
			},
		},
		{
			name:       "gateway down wins",
			bus:        false,
			checks:     map[string]HealthChecker{"database": stubCheck{dbErr}},
			wantStatus: HealthDegraded,
			wantReason: "gateway disconnected",
			wantDeps:   []DependencyStatus{{Name: "database", Error: "database is locked"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewMockBus()
			bus.connected = tt.bus

			status, reason, deps := Evaluate(context.Background(), bus, tt.checks)
			if status != tt.wantStatus || reason != tt.wantReason {
				t.Errorf("Evaluate() = %q, %q, want %q, %q", status, reason, tt.wantStatus, tt.wantReason)
			}
			if !reflect.DeepEqual(deps, tt.wantDeps) {
				t.Errorf("dependencies = %+v, want %+v", deps, tt.wantDeps)
			}
		})
	}
}

func TestEvaluate_NilBus(t *testing.T) {
	status, reason, _ := Evaluate(context.Background(), nil, nil)
	if status != HealthDegraded || reason != "gateway disconnected" {
		t.Errorf("Evaluate(nil) = %q, %q", status, reason)
	}
}

func TestHealthReporter_ChecksPublisher(t *testing.T) {
	tests := []struct {
		name       string
		mqtt, bus  bool
		wantStatus HealthStatus
		wantReason string
	}{
		{"all connected", true, true, HealthHealthy, ""},
		{"mqtt down", false, true, HealthDegraded, "mqtt unhealthy"},
		{"gateway down", true, false, HealthDegraded, "gateway disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestReporter(tt.mqtt, tt.bus)
			status, reason, deps := Evaluate(context.Background(), h.bus, h.checks)
			if status != tt.wantStatus || reason != tt.wantReason {
				t.Errorf("status = %q, %q, want %q, %q", status, reason, tt.wantStatus, tt.wantReason)
			}
			if len(deps) != 1 || deps[0].Name != "mqtt" || deps[0].Healthy != tt.mqtt {
				t.Errorf("dependencies = %+v", deps)
			}
		})
	}
}

func TestHealthReporter_ExplicitMQTTCheckKept(t *testing.T) {
	override := stubCheck{errors.New("broker reconnecting")}
	h := NewHealthReporter(HealthReporterConfig{
		Publisher: NewMockMQTTClient(),
		Checks:    map[string]HealthChecker{"mqtt": override},
	})
	if h.checks["mqtt"] != HealthChecker(override) {
		t.Error("publisher replaced the configured mqtt check")
	}
}

func TestHealthReporter_PublishNow(t *testing.T) {
	h, pub := newTestReporter(true, true)

	if err := h.PublishNow(context.Background()); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	msgs := pub.GetPublished()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].Topic != "knxnetip/health" || msgs[0].QoS != 1 || !msgs[0].Retained {
		t.Errorf("publish = %s qos=%d retained=%v", msgs[0].Topic, msgs[0].QoS, msgs[0].Retained)
	}

	var msg HealthMessage
	if err := json.Unmarshal(msgs[0].Payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Status != HealthHealthy || msg.Version != "1.2.3" {
		t.Errorf("message = %+v", msg)
	}
	if msg.Connection == nil || msg.Connection.Mode != "tunneling" || msg.Connection.ChannelID != 7 {
		t.Errorf("connection = %+v", msg.Connection)
	}
	if msg.Connection.LocalAddress != "1.1.250" || msg.Connection.Gateway != "192.168.1.20" {
		t.Errorf("connection = %+v", msg.Connection)
	}
	if msg.Statistics == nil || msg.Statistics.TelegramsRx != 11 || msg.Statistics.CommandsHandled != 4 {
		t.Errorf("statistics = %+v", msg.Statistics)
	}
	if len(msg.Dependencies) != 1 || msg.Dependencies[0] != (DependencyStatus{Name: "mqtt", Healthy: true}) {
		t.Errorf("dependencies = %+v", msg.Dependencies)
	}
}

func TestHealthReporter_Loop(t *testing.T) {
	h, pub := newTestReporter(true, false)
	h.Start(context.Background())
	h.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.GetPublished()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(pub.GetPublished()); n < 3 {
		t.Fatalf("published %d messages, want at least 3", n)
	}

	h.Stop()
	h.Stop()

	msgs := pub.GetPublished()
	var last HealthMessage
	if err := json.Unmarshal(msgs[len(msgs)-1].Payload, &last); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if last.Status != HealthStopping {
		t.Errorf("last status = %q, want stopping", last.Status)
	}

	count := len(msgs)
	time.Sleep(50 * time.Millisecond)
	if len(pub.GetPublished()) != count {
		t.Error("reporter kept publishing after Stop")
	}
}

func TestHealthReporter_NoPublisher(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{})
	if err := h.PublishNow(context.Background()); err != nil {
		t.Errorf("PublishNow() error = %v", err)
	}
	if h.interval != defaultHealthInterval {
		t.Errorf("interval = %v, want %v", h.interval, defaultHealthInterval)
	}
	h.Stop()
}
