package statesync

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/nerrad567/reolink-core/internal/infrastructure/mqtt"
)

// StatePublisher is the MQTT client surface used by MQTTNotifier.
type StatePublisher interface {
	PublishRetained(topic string, payload []byte) error
}

// MQTTNotifier publishes each change retained on reolink/state/{device}/{logicalId}.
type MQTTNotifier struct {
	pub    StatePublisher
	logger Logger
}

// NewMQTTNotifier creates a notifier over pub.
func NewMQTTNotifier(pub StatePublisher, logger Logger) *MQTTNotifier {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTNotifier{pub: pub, logger: logger}
}

type statePayload struct {
	Value     string `json:"value"`
	Timestamp string `json:"timestamp"`
}

func (n *MQTTNotifier) NotifyChange(_ context.Context, c Change) {
	payload, err := json.Marshal(statePayload{Value: c.Value, Timestamp: c.At.Format(time.RFC3339)})
	if err != nil {
		return
	}
	topic := mqtt.Topics{}.State(c.DeviceID, c.LogicalID)
	if err := n.pub.PublishRetained(topic, payload); err != nil {
		n.logger.Warn("publishing state failed", "topic", topic, "error", err)
	}
}

// MetricWriter is the InfluxDB client surface used by InfluxNotifier.
type MetricWriter interface {
	WriteCommandValue(deviceID, logicalID string, value float64, at time.Time)
}

// InfluxNotifier records numeric changes. Text values (resolutions, modes,
// labels) are skipped.
type InfluxNotifier struct {
	w MetricWriter
}

func NewInfluxNotifier(w MetricWriter) *InfluxNotifier {
	return &InfluxNotifier{w: w}
}

func (n *InfluxNotifier) NotifyChange(_ context.Context, c Change) {
	v, err := strconv.ParseFloat(c.Value, 64)
	if err != nil {
		return
	}
	n.w.WriteCommandValue(c.DeviceID, c.LogicalID, v, c.At)
}
