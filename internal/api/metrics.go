package api

import (
	"net/http"
	"runtime"
	"time"

	reolink "github.com/nerrad567/reolink-core/internal/bridges/reolink"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string                   `json:"timestamp"`
	Version       string                   `json:"version"`
	UptimeSeconds int64                    `json:"uptime_seconds"`
	Runtime       RuntimeMetrics           `json:"runtime"`
	WebSocket     WSMetrics                `json:"websocket"`
	MQTT          MQTTMetrics              `json:"mqtt"`
	Bridge        reolink.BridgeStatistics `json:"bridge"`
	Devices       DeviceMetrics            `json:"devices"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// DeviceMetrics contains device registry statistics.
type DeviceMetrics struct {
	Total  int            `json:"total"`
	Probed int            `json:"probed"`
	ByRole map[string]int `json:"by_role"`
}

// handleMetrics returns a JSON snapshot for admin tools. Prometheus scrapes
// /metrics instead.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Bridge: s.workflows.Stats(),
	}
	if s.hub != nil {
		m.WebSocket.ConnectedClients = s.hub.ClientCount()
	}
	if s.mqtt != nil {
		m.MQTT.Connected = s.mqtt.IsConnected()
	}

	regStats := s.registry.GetStats()
	m.Devices = DeviceMetrics{
		Total:  regStats.TotalDevices,
		Probed: regStats.Probed,
		ByRole: make(map[string]int, len(regStats.ByRole)),
	}
	for role, count := range regStats.ByRole {
		m.Devices.ByRole[string(role)] = count
	}

	writeJSON(w, http.StatusOK, m)
}
