package telemetry

import (
	"context"

	"github.com/nerrad567/gray-logic-hub/internal/device"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/influxdb"
)

// ValueWriter is the InfluxDB surface Recorder needs. *influxdb.Client
// satisfies it.
type ValueWriter interface {
	WriteDeviceValue(v influxdb.DeviceValue)
}

// Recorder writes every applied device value to InfluxDB.
type Recorder struct {
	writer ValueWriter
}

// NewRecorder creates a Recorder writing through w.
func NewRecorder(w ValueWriter) *Recorder {
	return &Recorder{writer: w}
}

// HandleEvent implements device.Handler.
func (r *Recorder) HandleEvent(_ context.Context, ev device.Event) error {
	r.writer.WriteDeviceValue(DeviceValue(ev))
	return nil
}

// DeviceValue converts ev to an InfluxDB record.
func DeviceValue(ev device.Event) influxdb.DeviceValue {
	v := influxdb.DeviceValue{
		DeviceID:  ev.DeviceID,
		Adapter:   ev.AdapterID,
		Reference: ev.Reference,
		Kind:      string(ev.Kind),
		Source:    ev.Source.String(),
		At:        ev.At,
	}
	if kind, err := device.KindByName(string(ev.Kind)); err == nil && kind.Numeric() {
		if f, ok := device.AsFloat(ev.Value); ok {
			v.Numeric = f
			v.IsNumeric = true
			return v
		}
	}
	v.Text, _ = ev.Formatted()
	return v
}
