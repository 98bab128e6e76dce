package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	// The bridge runs without time-series storage in that case.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrInvalidConfig is returned by Connect for a missing URL, org or bucket.
	ErrInvalidConfig = errors.New("influxdb: invalid configuration")

	// ErrConnectionFailed wraps the ping failure seen by Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed is reported by HealthCheck when a batched write has
	// failed since the previous check.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
