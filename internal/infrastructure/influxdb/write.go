package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by reolinkd.
const (
	MeasurementCameraMetrics = "camera_metrics"
	MeasurementRefreshCycles = "refresh_cycles"
)

// WriteCommandValue records one numeric command value.
func (c *Client) WriteCommandValue(deviceID, logicalID string, value float64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(commandPoint(deviceID, logicalID, value, at))
}

// WriteRefreshCycle records the outcome of one read cycle.
func (c *Client) WriteRefreshCycle(deviceID, outcome string, duration time.Duration, updates int, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(refreshPoint(deviceID, outcome, duration, updates, at))
}

func commandPoint(deviceID, logicalID string, value float64, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementCameraMetrics,
		map[string]string{
			"device_id":  deviceID,
			"logical_id": logicalID,
		},
		map[string]interface{}{
			"value": value,
		},
		at,
	)
}

func refreshPoint(deviceID, outcome string, duration time.Duration, updates int, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementRefreshCycles,
		map[string]string{
			"device_id": deviceID,
			"outcome":   outcome,
		},
		map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
			"updates":     updates,
		},
		at,
	)
}
