package influxdb

import (
	"strconv"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/shopspring/decimal"

	"github.com/nomanocra/SmartConnectServer/internal/ingest"
)

// Measurement is the InfluxDB measurement readings are written to.
const Measurement = "sensor_reading"

// WriteReading mirrors one stored reading. Points are batched by the
// write API. Writes after Close are dropped. Satisfies ingest.ReadingSink.
func (c *Client) WriteReading(p ingest.Point) {
	if c == nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return
	}
	c.writeAPI.WritePoint(readingPoint(p))
}

// readingPoint converts a reading to a line-protocol point at its
// recorded time.
func readingPoint(p ingest.Point) *write.Point {
	tags := map[string]string{
		"device_id": strconv.FormatInt(p.DeviceID, 10),
		"sensor_id": p.SensorID,
		"type":      p.Type,
	}
	if p.Unit != "" {
		tags["unit"] = p.Unit
	}

	fields := map[string]interface{}{
		"raw": p.Value,
	}
	if v, ok := numericValue(p.Value); ok {
		fields["value"] = v
	}

	return write.NewPoint(Measurement, tags, fields, p.RecordedAt)
}

// numericValue parses a raw reading as a decimal number.
func numericValue(raw string) (float64, bool) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}
