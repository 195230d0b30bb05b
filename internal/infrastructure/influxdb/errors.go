package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: telemetry disabled")

	// ErrConnectionFailed means the server did not answer the initial ping.
	ErrConnectionFailed = errors.New("influxdb: cannot reach server")

	// ErrNotConnected is returned by HealthCheck on a closed client.
	ErrNotConnected = errors.New("influxdb: client closed")

	// ErrWriteFailed wraps batch failures reported by the write API.
	ErrWriteFailed = errors.New("influxdb: batch write failed")
)
