package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/victron-ble2mqtt/internal/telemetry"
)

// Measurement is the InfluxDB measurement every record is written to.
const Measurement = "victron"

// Mirror queues rec as one point. It never blocks on the network; write
// failures surface through SetOnError.
func (c *Client) Mirror(_ context.Context, rec telemetry.Record) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.writeAPI.WritePoint(Point(rec))
	return nil
}

// Point converts a record into a point in the victron measurement, tagged
// with device_type and device_name and stamped with captured_at.
//
// Numeric fields are written as-is, strings such as charge_state become
// string fields, and anything else is skipped.
func Point(rec telemetry.Record) *write.Point {
	fields := make(map[string]interface{}, len(rec.Fields))
	for _, f := range rec.Fields {
		switch v := f.Value.(type) {
		case int:
			fields[f.Name] = int64(v)
		case int64, float64, string, bool:
			fields[f.Name] = v
		}
	}

	return write.NewPoint(
		Measurement,
		map[string]string{
			"device_type": rec.DeviceType,
			"device_name": rec.DeviceName,
		},
		fields,
		time.UnixMilli(rec.CapturedAt),
	)
}
