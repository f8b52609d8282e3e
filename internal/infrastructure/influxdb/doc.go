// Package influxdb provides InfluxDB connectivity for the hub.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, device value recording and health monitoring. SQLite keeps
// the hub's own bucketed history; InfluxDB receives every accepted value
// for long-term dashboards.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { logger.Error("influx write", "error", err) })
//
//	client.WriteDeviceValue(influxdb.DeviceValue{
//	    DeviceID: 12, Adapter: "virtual", Reference: "thermostat",
//	    Kind: "level", Source: "api", Numeric: 21.5, IsNumeric: true,
//	})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are wrapped in
// ErrWriteFailed and delivered via the SetOnError callback. Flush before
// Close to send the last batch on shutdown. Connection and health check
// errors are returned directly.
package influxdb
