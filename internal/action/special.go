package action

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/reolink-core/internal/demux"
	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/hub"
	"github.com/nerrad567/reolink-core/internal/transport"
)

type ptzPreset struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Enable int    `json:"enable"`
}

// presetListValue renders enabled presets as "id|name;...".
func presetListValue(presets []ptzPreset) string {
	parts := make([]string, 0, len(presets))
	for _, p := range presets {
		if p.Enable == 1 {
			parts = append(parts, strconv.Itoa(p.ID)+"|"+p.Name)
		}
	}
	return strings.Join(parts, ";")
}

// loadPresets reads the PTZ presets and stores them as the select list of
// SetPtzByPreset.
func (e *Executor) loadPresets(ctx context.Context, dev *device.Device, set device.CommandSet) error {
	target, ok := set.Lookup(SetPtzByPresetID)
	if !ok {
		e.logger.Debug("no preset command to fill", "device_id", dev.ID)
		return nil
	}

	payload := fmt.Sprintf(`{"cmd":"GetPtzPreset","action":1,"param":{"channel":%d}}`, dev.Channel)
	results, err := e.opts.Sender.Send(ctx, dev, transport.Request{Op: transport.OpExecute, Payloads: []string{payload}})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrActionFailed, GetPtzPresetID, err)
	}
	if len(results) == 0 {
		return fmt.Errorf("%w: %s: empty response", ErrActionFailed, GetPtzPresetID)
	}
	if results[0].Error != nil {
		return fmt.Errorf("%w: %s: %w", ErrActionFailed, GetPtzPresetID, results[0].Error)
	}
	var value struct {
		PtzPreset []ptzPreset `json:"PtzPreset"`
	}
	if err := json.Unmarshal(results[0].Value, &value); err != nil {
		return fmt.Errorf("%w: %s: decoding presets: %w", ErrActionFailed, GetPtzPresetID, err)
	}

	target.Config.ListValue = presetListValue(value.PtzPreset)
	if err := e.opts.Commands.UpdateCommand(ctx, target); err != nil {
		return fmt.Errorf("storing preset list: %w", err)
	}
	e.logger.Debug("preset list updated", "device_id", dev.ID, "presets", target.Config.ListValue)
	return nil
}

// loadScenes reads the hub's scenes into the select list of SetScene.
func (e *Executor) loadScenes(ctx context.Context, dev *device.Device, set device.CommandSet) error {
	list, err := e.opts.Scenes.List(ctx, dev)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrActionFailed, GetScenesID, err)
	}
	target, ok := set.Lookup(SetSceneID)
	if !ok {
		return nil
	}
	target.Config.ListValue = list.ListValue()
	if err := e.opts.Commands.UpdateCommand(ctx, target); err != nil {
		return fmt.Errorf("storing scene list: %w", err)
	}
	return nil
}

func (e *Executor) activateScene(ctx context.Context, dev *device.Device, opts Options) error {
	if opts.Select == nil {
		return fmt.Errorf("%w: %s needs a scene id", ErrMissingOption, SetSceneID)
	}
	state, err := e.opts.Scenes.Activate(ctx, dev, opts.selectInt())
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrActionFailed, SetSceneID, err)
	}
	e.logger.Info("scene activated", "device_id", dev.ID, "scene", state.ActiveSceneName)
	return nil
}

// storeSpeed keeps the slider as the PTZ speed used by #SPEED#.
func (e *Executor) storeSpeed(ctx context.Context, cmd *device.Command, opts Options) error {
	if opts.Slider == nil {
		return fmt.Errorf("%w: %s needs a slider value", ErrMissingOption, SetSpeedID)
	}
	speed := *opts.Slider
	if lo := cmd.Config.MinValue; lo != nil && speed < *lo {
		speed = *lo
	}
	if hi := cmd.Config.MaxValue; hi != nil && speed > *hi {
		speed = *hi
	}
	cmd.Config.SpeedValue = speed
	if err := e.opts.Commands.UpdateCommand(ctx, cmd); err != nil {
		return fmt.Errorf("storing speed: %w", err)
	}
	return nil
}

// toggleMotion switches motion detection and reads the state back.
func (e *Executor) toggleMotion(ctx context.Context, dev *device.Device, toggle func(context.Context, *device.Device) error) error {
	if err := toggle(ctx, dev); err != nil {
		return fmt.Errorf("%w: motion detection: %w", ErrActionFailed, err)
	}

	enabled, err := e.opts.Motion.Status(ctx, dev)
	if err != nil {
		e.logger.Warn("reading motion state failed", "device_id", dev.ID, "error", err)
		return nil
	}
	u := demux.StateUpdate{LogicalID: MotionStateID, Value: hub.StateValue(enabled)}
	if err := e.opts.State.ApplyAll(ctx, dev.ID, []demux.StateUpdate{u}); err != nil {
		e.logger.Warn("storing motion state failed", "device_id", dev.ID, "error", err)
	}
	return nil
}
