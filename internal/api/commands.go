package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/reolink-core/internal/action"
	"github.com/nerrad567/reolink-core/internal/audit"
	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/transport"
)

// executeRequest carries the option values of an action.
type executeRequest struct {
	Select *json.RawMessage `json:"select,omitempty"`
	Slider *int             `json:"slider,omitempty"`
}

// options converts the request, accepting select as a string or a number.
func (req executeRequest) options() (action.Options, error) {
	opts := action.Options{Slider: req.Slider}
	if req.Select == nil || string(*req.Select) == "null" {
		return opts, nil
	}
	var text string
	if err := json.Unmarshal(*req.Select, &text); err == nil {
		opts.Select = &text
		return opts, nil
	}
	var num json.Number
	if err := json.Unmarshal(*req.Select, &num); err != nil {
		return opts, errors.New("select must be a string or a number")
	}
	text = num.String()
	opts.Select = &text
	return opts, nil
}

// optionDetails is the audit view of the submitted option values.
func optionDetails(opts action.Options) map[string]any {
	details := map[string]any{}
	if opts.Select != nil {
		details["select"] = *opts.Select
	}
	if opts.Slider != nil {
		details["slider"] = *opts.Slider
	}
	return details
}

// handleListCommands returns the synthesized commands of a device in
// display order.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	if _, err := s.registry.GetDevice(ctx, id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	set, err := s.commands.ListCommands(ctx, id)
	if err != nil {
		writeInternalError(w, "failed to list commands")
		return
	}
	if set == nil {
		set = device.CommandSet{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": set, "count": len(set)})
}

// handleExecuteCommand runs an action command synchronously. The resulting
// state arrives through the state topics and the WebSocket.
func (s *Server) handleExecuteCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logicalID := chi.URLParam(r, "logicalId")

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	opts, err := req.options()
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	err = s.executor.Execute(r.Context(), id, logicalID, opts)
	s.record(r, audit.Entry{Action: audit.ActionCommandExecute, DeviceID: id, LogicalID: logicalID, Details: optionDetails(opts)}, err)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":  id,
		"logical_id": logicalID,
		"status":     "executed",
	})
}

// handleProvisionDevice identifies and probes a device, then synthesizes
// its commands.
func (s *Server) handleProvisionDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	report, err := s.workflows.Provision(r.Context(), id)
	s.record(r, audit.Entry{Action: audit.ActionDeviceProvision, DeviceID: id}, err)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleRefreshDevice runs one read cycle.
func (s *Server) handleRefreshDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	report, err := s.workflows.Refresh(r.Context(), id)
	s.record(r, audit.Entry{Action: audit.ActionDeviceRefresh, DeviceID: id}, err)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleTestConnection checks the device's resolved credentials.
func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	dev, err := s.registry.GetDevice(ctx, id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	if err := s.tester.TestConnection(ctx, dev); err != nil {
		if errors.Is(err, transport.ErrLoginFailed) {
			writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "success": false, "error": err.Error()})
			return
		}
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "success": true})
}

// handleDiscoverHub creates child devices for the hub's online cameras.
func (s *Server) handleDiscoverHub(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	report, err := s.discoverer.Discover(r.Context(), id)
	var details map[string]any
	if report != nil {
		details = map[string]any{"created": len(report.Created)}
	}
	s.record(r, audit.Entry{Action: audit.ActionHubDiscover, DeviceID: id, Details: details}, err)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	for i := range report.Created {
		s.schedule(&report.Created[i])
		report.Created[i].Credentials.Password = ""
	}
	writeJSON(w, http.StatusOK, report)
}
