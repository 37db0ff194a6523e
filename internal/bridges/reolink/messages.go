package reolink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/reolink-core/internal/action"
)

// CommandMessage requests an action. It is published on
// reolink/command/{device}/{logicalId}.
type CommandMessage struct {
	// RequestID correlates the acks with the request.
	RequestID string `json:"request_id"`

	// Select is the chosen list entry. Numbers are accepted and kept as text.
	Select *OptionText `json:"select,omitempty"`

	Slider *int `json:"slider,omitempty"`

	// Source indicates where the request originated ("api", "mqtt", ...).
	Source string `json:"source,omitempty"`
}

// Options converts the message to executor options.
func (m CommandMessage) Options() action.Options {
	var opts action.Options
	if m.Select != nil {
		s := string(*m.Select)
		opts.Select = &s
	}
	if m.Slider != nil {
		n := *m.Slider
		opts.Slider = &n
	}
	return opts
}

// OptionText is a select value sent either as a JSON string or a number.
type OptionText string

func (o *OptionText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*o = OptionText(s)
		return nil
	}
	if _, err := strconv.ParseFloat(string(data), 64); err != nil {
		return fmt.Errorf("select must be a string or a number: %s", data)
	}
	*o = OptionText(data)
	return nil
}

// AckStatus is the outcome reported for a command.
type AckStatus string

const (
	// AckAccepted is sent when the request was parsed and handed to the executor.
	AckAccepted AckStatus = "accepted"

	// AckFailed is sent when the request could not be executed.
	AckFailed AckStatus = "failed"
)

// Error codes carried in failed acks.
const (
	ErrCodeInvalidMessage    = "INVALID_MESSAGE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeDeviceRejected    = "DEVICE_REJECTED"
	ErrCodeNotHub            = "NOT_HUB"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// AckMessage reports the outcome of a command on reolink/ack/{device}/{logicalId}.
type AckMessage struct {
	RequestID string    `json:"request_id"`
	DeviceID  string    `json:"device_id"`
	LogicalID string    `json:"logical_id"`
	Status    AckStatus `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAckMessage creates an ack without error details.
func NewAckMessage(requestID, deviceID, logicalID string, status AckStatus) AckMessage {
	return AckMessage{
		RequestID: requestID,
		DeviceID:  deviceID,
		LogicalID: logicalID,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

// NewAckError creates a failed ack.
func NewAckError(requestID, deviceID, logicalID, code, message string) AckMessage {
	ack := NewAckMessage(requestID, deviceID, logicalID, AckFailed)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained bridge status on reolink/health.
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	DevicesManaged int               `json:"devices_managed"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	Reason         string            `json:"reason,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	CommandsReceived uint64 `json:"commands_received"`
	CommandsFailed   uint64 `json:"commands_failed"`
	Provisioned      uint64 `json:"provisioned"`
	RefreshCycles    uint64 `json:"refresh_cycles"`
	RefreshFailures  uint64 `json:"refresh_failures"`
}

// NewHealthMessage builds a health message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats *BridgeStatistics, devices int, started time.Time) HealthMessage {
	now := time.Now().UTC()
	return HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      now,
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(now.Sub(started).Seconds()),
		DevicesManaged: devices,
		Statistics:     stats,
	}
}

// ProvisionedEvent is published on reolink/event/device_provisioned.
type ProvisionedEvent struct {
	DeviceID   string    `json:"device_id"`
	Role       string    `json:"role"`
	Model      string    `json:"model,omitempty"`
	Abilities  int       `json:"abilities"`
	Created    int       `json:"created"`
	Ineligible int       `json:"ineligible"`
	Timestamp  time.Time `json:"timestamp"`
}

// RefreshedEvent is published on reolink/event/device_refreshed.
type RefreshedEvent struct {
	DeviceID   string    `json:"device_id"`
	Outcome    string    `json:"outcome"`
	Updates    int       `json:"updates"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
