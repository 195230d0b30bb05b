package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/knxnetip/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds
)

// Client writes bus telemetry to one InfluxDB v2 bucket. Writes are
// batched and never block the bus; a failed batch is reported to the
// error hook and by the next HealthCheck.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	open atomic.Bool

	mu       sync.Mutex
	onError  func(err error)
	writeErr error // first failure since the last HealthCheck
}

// Connect pings the server and sets up the batching write API.
//
// Parameters:
//   - cfg: The influxdb section of config.yaml
//
// Returns:
//   - *Client: Client writing to cfg.Org / cfg.Bucket
//   - error: ErrDisabled when telemetry is off, ErrConnectionFailed when
//     the server does not answer the ping
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = defaultFlushInterval
	}
	flushMs := time.Duration(flush) * time.Second / time.Millisecond
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).      //nolint:gosec // positive
		SetFlushInterval(uint(flushMs)) //nolint:gosec // positive

	ic := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	ok, err := ic.Ping(ctx)
	if err != nil || !ok {
		ic.Close()
		if err == nil {
			err = fmt.Errorf("server reports unhealthy")
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{client: ic, writeAPI: ic.WriteAPI(cfg.Org, cfg.Bucket)}
	c.open.Store(true)
	go c.handleWriteErrors(c.writeAPI.Errors())
	return c, nil
}

// handleWriteErrors drains the write API's error channel until it closes.
func (c *Client) handleWriteErrors(errs <-chan error) {
	for err := range errs {
		err = fmt.Errorf("%w: %w", ErrWriteFailed, err)

		c.mu.Lock()
		if c.writeErr == nil {
			c.writeErr = err
		}
		hook := c.onError
		c.mu.Unlock()

		if hook != nil {
			hook(err)
		}
	}
}

// Close flushes buffered points and closes the client. It always returns
// nil; a zero Client or a second Close does nothing.
func (c *Client) Close() error {
	if !c.open.Swap(false) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck returns the first write failure since the previous check,
// if any, and otherwise pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("influxdb: %w", err)
	}

	c.mu.Lock()
	failed := c.writeErr
	c.writeErr = nil
	c.mu.Unlock()
	if failed != nil {
		return failed
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	ok, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb: ping: %w", err)
	}
	if !ok {
		return fmt.Errorf("influxdb: server reports unhealthy")
	}
	return nil
}

// IsConnected reports whether the client is open. It does not ping.
func (c *Client) IsConnected() bool {
	return c.open.Load()
}

// SetOnError sets a hook for failed batches. Errors wrap ErrWriteFailed.
func (c *Client) SetOnError(fn func(err error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}
