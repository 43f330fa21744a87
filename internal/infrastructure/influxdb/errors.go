package influxdb

import "errors"

// Sentinel errors for the metrics client. Connect failures are fatal to
// serve only when influxdb.enabled is set; write failures never reach a run.
var (
	// ErrNotConnected is returned by HealthCheck after Close or before Connect.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed wraps the ping error from Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed wraps asynchronous batch errors passed to the SetOnError callback.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrDisabled is returned by Connect when run metrics are switched off.
	ErrDisabled = errors.New("influxdb: run metrics disabled in configuration")
)
