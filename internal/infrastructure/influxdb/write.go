package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// measurementDeviceValues holds every recorded device value.
const measurementDeviceValues = "device_values"

// DeviceValue is one accepted device value as recorded in InfluxDB.
//
// Numeric values (counter and level devices) are written to the "value"
// field, everything else to the "text" field, so a single measurement can
// hold every device kind without field type conflicts.
type DeviceValue struct {
	DeviceID  int64
	Adapter   string
	Reference string
	Kind      string
	Source    string
	Numeric   float64
	Text      string
	IsNumeric bool
	At        time.Time
}

// devicePoint builds the line-protocol point for v.
//
// Tags: device_id, adapter, reference, kind, source
// Fields: value (float) or text (string)
func devicePoint(v DeviceValue) *write.Point {
	tags := map[string]string{
		"device_id": strconv.FormatInt(v.DeviceID, 10),
		"adapter":   v.Adapter,
		"reference": v.Reference,
		"kind":      v.Kind,
		"source":    v.Source,
	}
	fields := map[string]interface{}{}
	if v.IsNumeric {
		fields["value"] = v.Numeric
	} else {
		fields["text"] = v.Text
	}
	at := v.At
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(measurementDeviceValues, tags, fields, at)
}

// WriteDeviceValue records an accepted device value.
//
// The write is non-blocking; data is batched and sent asynchronously.
// It is a no-op once the client is closed.
func (c *Client) WriteDeviceValue(v DeviceValue) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(devicePoint(v))
}
