// Package action executes action commands on devices.
//
// Most actions render their payload template, wrap it in the device
// command envelope and send it directly to the camera. Success requires
// rspCode 200, after which the linked state command takes the user's
// value. A few logical IDs are handled in-process instead: refresh,
// PTZ preset and scene list reads, scene activation, PTZ speed and
// Baichuan motion detection.
package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/reolink-core/internal/catalog"
	"github.com/nerrad567/reolink-core/internal/demux"
	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/hub"
	"github.com/nerrad567/reolink-core/internal/infrastructure/metrics"
	"github.com/nerrad567/reolink-core/internal/refresh"
	"github.com/nerrad567/reolink-core/internal/transport"
)

// Logger defines the logging interface used by the executor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Logical IDs with in-process handling.
const (
	RefreshID        = "refresh"
	GetPtzPresetID   = "GetPtzPreset"
	SetPtzByPresetID = "SetPtzByPreset"
	GetScenesID      = "GetScenes"
	SetSceneID       = "SetScene"
	SetSpeedID       = "SetSpeed"
	EnableMotionID   = "enableMotionDetection"
	DisableMotionID  = "disableMotionDetection"
	MotionStateID    = "motionDetectionState"
)

const successRspCode = 200

// DeviceLookup resolves devices. *device.Registry satisfies it.
type DeviceLookup interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
}

// CommandStore reads and rewrites commands. *device.SQLiteRepository satisfies it.
type CommandStore interface {
	ListCommands(ctx context.Context, deviceID string) (device.CommandSet, error)
	UpdateCommand(ctx context.Context, cmd *device.Command) error
}

// Sender routes one request. *transport.Router satisfies it.
type Sender interface {
	Send(ctx context.Context, dev *device.Device, req transport.Request) ([]transport.Result, error)
}

// StateWriter stores state. *statesync.Sync satisfies it.
type StateWriter interface {
	ApplyAll(ctx context.Context, deviceID string, updates []demux.StateUpdate) error
	ApplyLinked(ctx context.Context, deviceID, source, value string) error
}

// Refresher runs read cycles. *refresh.Refresher satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, deviceID string) (*refresh.Report, error)
}

// SceneService reads and switches hub scenes. *hub.Scenes satisfies it.
type SceneService interface {
	List(ctx context.Context, hub *device.Device) (*hub.SceneList, error)
	Activate(ctx context.Context, hub *device.Device, sceneID int) (*hub.SceneState, error)
}

// MotionService toggles Baichuan motion detection. *hub.Motion satisfies it.
type MotionService interface {
	Enable(ctx context.Context, dev *device.Device) error
	Disable(ctx context.Context, dev *device.Device) error
	Status(ctx context.Context, dev *device.Device) (bool, error)
}

// ExecutorOptions holds the collaborators of an Executor.
type ExecutorOptions struct {
	Devices   DeviceLookup
	Commands  CommandStore
	Sender    Sender
	State     StateWriter
	Refresher Refresher
	Scenes    SceneService
	Motion    MotionService
	Logger    Logger
}

// Executor runs actions.
type Executor struct {
	opts   ExecutorOptions
	logger Logger
}

// NewExecutor validates opts and creates an executor.
func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	switch {
	case opts.Devices == nil:
		return nil, fmt.Errorf("device lookup is required")
	case opts.Commands == nil:
		return nil, fmt.Errorf("command store is required")
	case opts.Sender == nil:
		return nil, fmt.Errorf("sender is required")
	case opts.State == nil:
		return nil, fmt.Errorf("state writer is required")
	case opts.Refresher == nil:
		return nil, fmt.Errorf("refresher is required")
	case opts.Scenes == nil:
		return nil, fmt.Errorf("scene service is required")
	case opts.Motion == nil:
		return nil, fmt.Errorf("motion service is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Executor{opts: opts, logger: logger}, nil
}

// Execute runs the action logicalID of deviceID with the user's options.
func (e *Executor) Execute(ctx context.Context, deviceID, logicalID string, opts Options) error {
	err := e.execute(ctx, deviceID, logicalID, opts)
	metrics.ActionExecuted(err)
	if err != nil {
		e.logger.Warn("action failed", "device_id", deviceID, "logical_id", logicalID, "error", err)
		return err
	}
	e.logger.Info("action executed", "device_id", deviceID, "logical_id", logicalID)
	return nil
}

func (e *Executor) execute(ctx context.Context, deviceID, logicalID string, opts Options) error {
	dev, err := e.opts.Devices.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	set, err := e.opts.Commands.ListCommands(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("loading commands: %w", err)
	}
	cmd, ok := set.Lookup(logicalID)
	if !ok {
		return fmt.Errorf("%s: %w", logicalID, device.ErrCommandNotFound)
	}
	if cmd.Kind != catalog.KindAction {
		return fmt.Errorf("%s: %w", logicalID, ErrNotAction)
	}

	switch logicalID {
	case RefreshID:
		_, err := e.opts.Refresher.Refresh(ctx, deviceID)
		return err
	case GetPtzPresetID:
		return e.loadPresets(ctx, dev, set)
	case GetScenesID:
		return e.loadScenes(ctx, dev, set)
	case SetSceneID:
		return e.activateScene(ctx, dev, opts)
	case SetSpeedID:
		return e.storeSpeed(ctx, cmd, opts)
	case EnableMotionID:
		return e.toggleMotion(ctx, dev, e.opts.Motion.Enable)
	case DisableMotionID:
		return e.toggleMotion(ctx, dev, e.opts.Motion.Disable)
	}
	return e.send(ctx, dev, set, cmd, opts)
}

// send renders cmd's payload, sends it and updates the linked state.
func (e *Executor) send(ctx context.Context, dev *device.Device, set device.CommandSet, cmd *device.Command, opts Options) error {
	if cmd.Config.ActionAPI == "" {
		e.logger.Debug("action has no device api, nothing sent", "device_id", dev.ID, "logical_id", cmd.LogicalID)
		return nil
	}

	revert := cmd.RevertBaseline
	if revert == 0 {
		revert = cmd.Config.RevertValue
	}
	sub := substitution{opts: opts, revert: revert, channel: dev.Channel, speed: speedOf(set)}
	payload := sub.apply(cmd.Config.Payload)
	if payload == "" {
		payload = "{}"
	}
	body, err := envelope(cmd.Config.ActionAPI, payload)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidPayload, cmd.LogicalID, err)
	}
	e.logger.Debug("sending action", "device_id", dev.ID, "logical_id", cmd.LogicalID, "payload", body)

	results, err := e.opts.Sender.Send(ctx, dev, transport.Request{Op: transport.OpExecute, Payloads: []string{body}})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrActionFailed, cmd.LogicalID, err)
	}
	if err := confirm(results); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrActionFailed, cmd.LogicalID, err)
	}

	if cmd.Config.ValueFrom == "" {
		return nil
	}
	if err := e.opts.State.ApplyLinked(ctx, dev.ID, cmd.LogicalID, opts.linkedValue()); err != nil {
		if errors.Is(err, device.ErrCommandNotFound) {
			e.logger.Debug("linked state command missing", "device_id", dev.ID, "logical_id", cmd.LogicalID)
			return nil
		}
		return fmt.Errorf("updating linked state of %s: %w", cmd.LogicalID, err)
	}
	return nil
}

// confirm checks the first result for rspCode 200.
func confirm(results []transport.Result) error {
	if len(results) == 0 {
		return errors.New("empty response")
	}
	r := results[0]
	if r.Error != nil {
		return r.Error
	}
	var v struct {
		RspCode int `json:"rspCode"`
	}
	if len(r.Value) > 0 {
		if err := json.Unmarshal(r.Value, &v); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	if v.RspCode != successRspCode {
		return fmt.Errorf("rspCode %d", v.RspCode)
	}
	return nil
}

func speedOf(set device.CommandSet) int {
	if c, ok := set.Lookup(SetSpeedID); ok && c.Config.SpeedValue > 0 {
		return c.Config.SpeedValue
	}
	return DefaultSpeed
}
