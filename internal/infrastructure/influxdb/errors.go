package influxdb

import "errors"

// Errors returned by the InfluxDB client. Check with errors.Is.
var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed is returned when the initial ping fails.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrServerUnhealthy is returned when the server answers a ping but
	// reports itself unhealthy.
	ErrServerUnhealthy = errors.New("influxdb: server not healthy")

	// ErrWriteFailed wraps every batch error handed to the SetOnError
	// callback. Device values are written asynchronously, so this is the
	// only place a lost value surfaces.
	ErrWriteFailed = errors.New("influxdb: device value write failed")
)
