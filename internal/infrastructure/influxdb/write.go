package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePoint queues a point stamped with the current time.
//
// Example:
//
//	client.WritePoint("dobiss_command",
//	    map[string]string{"address": "1.0", "status": "confirmed"},
//	    map[string]interface{}{"attempts": 1, "latency_ms": 12.5})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime queues a point with an explicit timestamp. Points
// without fields, and points written after Close, are counted as skipped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time) {
	if len(fields) == 0 || !c.IsConnected() {
		c.skipped.Add(1)
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
	c.queued.Add(1)
}
