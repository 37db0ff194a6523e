package reolink

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nerrad567/reolink-core/internal/infrastructure/mqtt"
)

type fixedCount int

func (c fixedCount) GetDeviceCount() int { return int(c) }

func lastHealth(t *testing.T, m *mockMQTT) HealthMessage {
	t.Helper()
	msgs := m.on(mqtt.Topics{}.Health())
	if len(msgs) == 0 {
		t.Fatal("no health published")
	}
	var h HealthMessage
	if err := json.Unmarshal(msgs[len(msgs)-1].payload, &h); err != nil {
		t.Fatal(err)
	}
	return h
}

func TestHealthReporter_Status(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		wantStatus HealthStatus
		wantReason string
	}{
		{"connected", true, HealthHealthy, ""},
		{"disconnected", false, HealthDegraded, "MQTT disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockMQTT()
			m.connected = tt.connected
			h := NewHealthReporter(HealthReporterConfig{
				BridgeID:  "reolink",
				Version:   "1.2.3",
				Publisher: m,
				Devices:   fixedCount(4),
				Stats:     func() BridgeStatistics { return BridgeStatistics{CommandsReceived: 7} },
			})

			if err := h.PublishNow(); err != nil {
				t.Fatal(err)
			}
			msg := lastHealth(t, m)
			if msg.Status != tt.wantStatus || msg.Reason != tt.wantReason {
				t.Errorf("status = %s (%q), want %s (%q)", msg.Status, msg.Reason, tt.wantStatus, tt.wantReason)
			}
			if msg.DevicesManaged != 4 || msg.Version != "1.2.3" || msg.Bridge != "reolink" {
				t.Errorf("message = %+v", msg)
			}
			if msg.Statistics == nil || msg.Statistics.CommandsReceived != 7 {
				t.Errorf("statistics = %+v", msg.Statistics)
			}
		})
	}
}

func TestHealthReporter_DefaultsAndNilPublisher(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{})
	if h.cfg.Interval != defaultHealthInterval {
		t.Errorf("interval = %v, want %v", h.cfg.Interval, defaultHealthInterval)
	}
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() without publisher = %v", err)
	}
	h.Stop()
}

func TestHealthReporter_Loop(t *testing.T) {
	m := newMockMQTT()
	h := NewHealthReporter(HealthReporterConfig{Publisher: m, Interval: 10 * time.Millisecond})

	h.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for len(m.on(mqtt.Topics{}.Health())) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h.Stop()
	h.Stop()

	if n := len(m.on(mqtt.Topics{}.Health())); n < 3 {
		t.Fatalf("published %d health messages, want at least 3", n)
	}
	if got := lastHealth(t, m).Status; got != HealthStopping {
		t.Errorf("final status = %s, want stopping", got)
	}
}
