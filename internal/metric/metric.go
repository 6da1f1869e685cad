package metric

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
)

// Client receives measurement points from a fleet pass.
type Client interface {
	Send(points ...*influxdb2.Point)
}

// Operation builds the point recorded for one instance operation.
func Operation(instance, action, status string, duration time.Duration) *influxdb2.Point {
	return influxdb2.NewPoint(
		"instance_operation",
		map[string]string{
			"instance": instance,
			"action":   action,
			"status":   status,
		},
		map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
		},
		time.Now(),
	)
}
