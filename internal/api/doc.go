// Package api implements the HTTP REST API and WebSocket server for reolinkd.
//
// This package provides:
//   - REST endpoints for device CRUD, provisioning, refresh and discovery
//   - Action execution on synthesized commands
//   - WebSocket hub broadcasting command state changes
//   - JWT bearer authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, metrics, recovery, CORS)
//
// # Architecture
//
// The API server sits beside the MQTT bridge: both drive the same
// provisioning and execution workflows. State changes reach WebSocket
// clients through the Hub, which is registered as a state notifier.
//
// # Security
//
// Every route under /api/v1 except /health requires an HS256 token signed
// with security.jwt.secret. WebSocket connections use single-use tickets
// so the token never appears in a URL.
package api
