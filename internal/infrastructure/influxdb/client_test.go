package influxdb_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/knxnetip/internal/infrastructure/config"
	"github.com/nerrad567/knxnetip/internal/infrastructure/influxdb"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "knxnetip-dev-token",
		Org:           "knxnetip",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// connectOrSkip skips the test if InfluxDB is not running.
func connectOrSkip(t *testing.T) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Skip("InfluxDB not available, skipping integration test")
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// collectErrors records asynchronous write failures.
func collectErrors(client *influxdb.Client) func() error {
	var mu sync.Mutex
	var writeErr error
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})
	return func() error {
		mu.Lock()
		defer mu.Unlock()
		return writeErr
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect(t *testing.T) {
	client := connectOrSkip(t)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestHealthCheck_Cancelled(t *testing.T) {
	client := connectOrSkip(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestWriteTelegramAndSession(t *testing.T) {
	client := connectOrSkip(t)
	writeErr := collectErrors(client)

	client.WriteTelegram(influxdb.Telegram{
		Source:      "1.1.5",
		Destination: "1/2/3",
		APCI:        "GroupValue_Write",
		Data:        []byte{0x0C, 0x33},
	})
	client.WriteSessionStats(influxdb.SessionStats{
		Gateway:     "192.168.1.20",
		Mode:        "tunneling",
		Connected:   true,
		TelegramsTx: 3,
		TelegramsRx: 7,
	})
	// Close flushes the batch.
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if err := writeErr(); err != nil {
		t.Errorf("write error = %v", err)
	}
}

func TestClose(t *testing.T) {
	client := connectOrSkip(t)

	client.WriteTelegram(influxdb.Telegram{Source: "1.1.1", Destination: "0/0/1", APCI: "GroupValue_Read"})
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	// Writes and a second Close after Close are no-ops.
	client.WriteTelegram(influxdb.Telegram{})
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v, want ErrNotConnected", err)
	}
}

func TestClose_ZeroValue(t *testing.T) {
	var client influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	client.WriteSessionStats(influxdb.SessionStats{})
}
