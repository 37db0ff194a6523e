// Package reolink connects the camera engine to MQTT.
//
// The bridge listens on reolink/command/{device}/{logicalId} for action
// requests, executes them and answers on reolink/ack/{device}/{logicalId}.
// It publishes a retained health message on reolink/health at a fixed
// interval, and lifecycle events on reolink/event/{type}.
//
// It also owns the two multi-step device workflows:
//
//   - Provision: identify the device, probe its abilities and synthesize
//     its commands from the catalog, then (re)schedule autorefresh.
//   - Refresh: run one read cycle and announce the outcome.
//
// Command message:
//
//	{"request_id": "...", "select": "Auto", "slider": 20, "source": "api"}
//
// Ack message:
//
//	{"request_id": "...", "device_id": "...", "logical_id": "...",
//	 "status": "accepted|failed", "error": {"code": "...", "message": "..."}}
package reolink
