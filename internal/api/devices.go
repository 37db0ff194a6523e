package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/reolink-core/internal/audit"
	"github.com/nerrad567/reolink-core/internal/device"
)

// redactAll strips passwords from a device list.
func redactAll(devices []device.Device) []*device.Device {
	out := make([]*device.Device, 0, len(devices))
	for i := range devices {
		out = append(out, devices[i].Redacted())
	}
	return out
}

// handleListDevices returns all devices, with optional query filters.
//
// Query parameters:
//   - role: filter by role (standalone, hub, child)
//   - hub_id: only the children of this hub
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if hubID := r.URL.Query().Get("hub_id"); hubID != "" {
		children, err := s.registry.ListChildren(ctx, hubID)
		if err != nil {
			writeInternalError(w, "failed to list devices")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": redactAll(children), "count": len(children)})
		return
	}

	devices, err := s.registry.ListDevices(ctx)
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}

	if role := r.URL.Query().Get("role"); role != "" {
		if err := device.ValidateRole(device.Role(role)); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		filtered := devices[:0]
		for _, d := range devices {
			if d.Role == device.Role(role) {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": redactAll(devices), "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, dev.Redacted())
}

// handleCreateDevice creates a new device. Abilities are only ever set by
// provisioning.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var dev device.Device
	if err := json.NewDecoder(r.Body).Decode(&dev); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	dev.Abilities = nil
	dev.SupportsAI = false

	if err := s.registry.CreateDevice(r.Context(), &dev); err != nil {
		switch {
		case isValidationError(err):
			writeBadRequest(w, err.Error())
		case errors.Is(err, device.ErrDeviceExists):
			writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
		default:
			writeInternalError(w, "failed to create device")
		}
		return
	}

	s.schedule(&dev)
	s.record(r, audit.Entry{Action: audit.ActionDeviceCreate, DeviceID: dev.ID,
		Details: map[string]any{"name": dev.Name, "role": string(dev.Role)}}, nil)
	writeJSON(w, http.StatusCreated, dev.Redacted())
}

// handleUpdateDevice partially updates a device.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}
	abilities, supportsAI := existing.Abilities, existing.SupportsAI

	// Decode partial update onto existing device
	if err := json.NewDecoder(r.Body).Decode(existing); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	existing.ID = id
	existing.Abilities, existing.SupportsAI = abilities, supportsAI

	if err := s.registry.UpdateDevice(r.Context(), existing); err != nil {
		switch {
		case isValidationError(err):
			writeBadRequest(w, err.Error())
		case errors.Is(err, device.ErrDeviceExists):
			writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
		default:
			writeInternalError(w, "failed to update device")
		}
		return
	}

	if existing.IsHub() {
		if _, err := s.registry.ResyncChildCredentials(r.Context(), id); err != nil {
			s.logger.Warn("child credentials not resynced", "hub_id", id, "error", err)
		}
	}

	s.schedule(existing)
	s.record(r, audit.Entry{Action: audit.ActionDeviceUpdate, DeviceID: id}, nil)
	writeJSON(w, http.StatusOK, existing.Redacted())
}

// handleDeleteDevice removes a device by ID. A hub takes its children with it.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	children, err := s.registry.ListChildren(ctx, id)
	if err != nil {
		writeInternalError(w, "failed to delete device")
		return
	}

	if err := s.registry.DeleteDevice(ctx, id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to delete device")
		return
	}

	if s.scheduler != nil {
		s.scheduler.Unschedule(id)
		for _, c := range children {
			s.scheduler.Unschedule(c.ID)
		}
	}
	s.record(r, audit.Entry{Action: audit.ActionDeviceDelete, DeviceID: id,
		Details: map[string]any{"children": len(children)}}, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleDeviceStats returns device registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.registry.GetStats()
	byRole := make(map[string]int, len(stats.ByRole))
	for role, n := range stats.ByRole {
		byRole[string(role)] = n
	}
	writeJSON(w, http.StatusOK, DeviceMetrics{Total: stats.TotalDevices, Probed: stats.Probed, ByRole: byRole})
}

// schedule keeps the autorefresh entry of dev current.
func (s *Server) schedule(dev *device.Device) {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.Schedule(dev); err != nil {
		s.logger.Warn("autorefresh not scheduled", "device_id", dev.ID, "error", err)
	}
}
