package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/reolink-core/internal/device"
)

// Op is a semantic operation routed to a transport.
type Op string

// Operations.
const (
	// OpRead sends batched info payloads. The mediated transport ignores the
	// payloads and returns the channel's full state in one call.
	OpRead Op = "read"

	// OpExecute sends complete command objects (action envelopes).
	OpExecute Op = "execute"

	OpAbility        Op = "ability"
	OpIdentify       Op = "full_info"
	OpTestConnection Op = "test-connection"
	OpDiscover       Op = "discover"
	OpScenes         Op = "scenes"
	OpSetScene       Op = "scene/set"
	OpMotionEnable   Op = "motion/enable"
	OpMotionDisable  Op = "motion/disable"
	OpMotionStatus   Op = "motion/status"
)

// hubOnly reports whether op is a hub-level operation.
func (o Op) hubOnly() bool {
	switch o {
	case OpDiscover, OpScenes, OpSetScene:
		return true
	}
	return false
}

// Request is one routed call.
type Request struct {
	Op Op

	// Payloads are JSON objects for OpRead and OpExecute.
	Payloads []string

	// SceneID is the target of OpSetScene.
	SceneID int
}

// Result is one normalised response item. Direct responses yield one item
// per request element; mediated operations yield one item per returned
// element, or a single item tagged with the operation for object responses.
type Result struct {
	Code  string          `json:"cmd"`
	Value json.RawMessage `json:"value,omitempty"`

	// Status is the device's "code" field (0 = ok) on direct responses.
	Status int `json:"code,omitempty"`

	Error *DeviceError `json:"error,omitempty"`
}

// DeviceError is the error object the device API returns per command.
type DeviceError struct {
	Detail  string `json:"detail"`
	RspCode int    `json:"rspCode"`
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error %d: %s", e.RspCode, e.Detail)
}

// Failed reports whether the device rejected this command.
func (r Result) Failed() bool {
	return r.Error != nil || r.Status != 0
}

// Timeouts bound each class of call.
type Timeouts struct {
	// Status covers health checks: test-connection and motion status.
	Status time.Duration
	// Default covers reads, actions and probes.
	Default time.Duration
	// Long covers device-side long-running operations such as enabling motion detection.
	Long time.Duration
}

// DefaultTimeouts returns 10s status, 30s default and 60s long timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{Status: 10 * time.Second, Default: 30 * time.Second, Long: 60 * time.Second}
}

func (t Timeouts) forOp(op Op) time.Duration {
	switch op {
	case OpTestConnection, OpMotionStatus:
		return t.Status
	case OpMotionEnable, OpMotionDisable:
		return t.Long
	default:
		return t.Default
	}
}

// MaskCredentials renders credentials for logs: the username is cut to three
// characters and the password is never shown.
func MaskCredentials(c device.Credentials) string {
	user := c.Username
	if len(user) > 3 {
		user = user[:3]
	}
	return fmt.Sprintf("{host:%s port:%d username:%s*** password:*** secure:%t}", c.Host, c.Port, user, c.Secure)
}
