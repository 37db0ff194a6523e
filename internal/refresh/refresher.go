// Package refresh runs read cycles: plan the info payloads of a device,
// send them in sequential batches, decode each batch and store the values.
//
// Cycles are single-flight per device. A second Refresh of the same device
// while one is running waits for and shares the running cycle's report.
// Different devices refresh in parallel.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/reolink-core/internal/demux"
	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/hub"
	"github.com/nerrad567/reolink-core/internal/infrastructure/config"
	"github.com/nerrad567/reolink-core/internal/infrastructure/metrics"
	"github.com/nerrad567/reolink-core/internal/transport"
)

// Logger defines the logging interface used by the refresh package.
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

// motionStateID is the command holding the Baichuan motion detection state.
const motionStateID = "motionDetectionState"

// DefaultCycleTimeout bounds one shared read cycle.
const DefaultCycleTimeout = 5 * time.Minute

// DeviceLookup resolves devices. *device.Registry satisfies it.
type DeviceLookup interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
}

// CommandLister loads a device's commands. *device.SQLiteRepository satisfies it.
type CommandLister interface {
	ListCommands(ctx context.Context, deviceID string) (device.CommandSet, error)
}

// StateApplier stores decoded values. *statesync.Sync satisfies it.
type StateApplier interface {
	ApplyAll(ctx context.Context, deviceID string, updates []demux.StateUpdate) error
}

// MotionReader reads Baichuan motion detection. *hub.Motion satisfies it.
type MotionReader interface {
	Status(ctx context.Context, dev *device.Device) (bool, error)
}

// CycleRecorder receives cycle outcomes. *influxdb.Client satisfies it.
type CycleRecorder interface {
	WriteRefreshCycle(deviceID, outcome string, duration time.Duration, updates int, at time.Time)
}

// Options holds the collaborators of a Refresher.
type Options struct {
	Devices   DeviceLookup
	Commands  CommandLister
	Scheduler *Scheduler
	Demuxer   *demux.Demuxer
	State     StateApplier

	// Motion is polled after each successful cycle when DetectionMode is
	// baichuan. Optional.
	Motion        MotionReader
	DetectionMode string

	// Recorder is optional.
	Recorder CycleRecorder

	// CycleTimeout bounds a cycle independently of the callers waiting on
	// it. Defaults to DefaultCycleTimeout.
	CycleTimeout time.Duration

	Logger Logger
}

// Report summarises one read cycle.
type Report struct {
	DeviceID    string             `json:"device_id"`
	Results     int                `json:"results"`
	Updates     int                `json:"updates"`
	Diagnostics []demux.Diagnostic `json:"-"`
	Duration    time.Duration      `json:"duration"`
}

// Refresher runs read cycles.
type Refresher struct {
	opts   Options
	group  singleflight.Group
	logger Logger
}

// NewRefresher validates opts and creates a refresher.
func NewRefresher(opts Options) (*Refresher, error) {
	switch {
	case opts.Devices == nil:
		return nil, fmt.Errorf("device lookup is required")
	case opts.Commands == nil:
		return nil, fmt.Errorf("command lister is required")
	case opts.Scheduler == nil:
		return nil, fmt.Errorf("scheduler is required")
	case opts.Demuxer == nil:
		return nil, fmt.Errorf("demuxer is required")
	case opts.State == nil:
		return nil, fmt.Errorf("state applier is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = DefaultCycleTimeout
	}
	return &Refresher{opts: opts, logger: logger}, nil
}

// Refresh runs one read cycle for deviceID, or joins the one in progress.
// Cancelling ctx releases this caller only; the cycle keeps running for
// the others, bounded by the cycle timeout.
func (r *Refresher) Refresh(ctx context.Context, deviceID string) (*Report, error) {
	ch := r.group.DoChan(deviceID, func() (any, error) {
		cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.CycleTimeout)
		defer cancel()
		return r.run(cycleCtx, deviceID)
	})
	select {
	case res := <-ch:
		report, _ := res.Val.(*Report)
		return report, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Refresher) run(ctx context.Context, deviceID string) (*Report, error) {
	started := time.Now()
	report := &Report{DeviceID: deviceID}

	dev, err := r.opts.Devices.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !dev.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrDeviceDisabled, deviceID)
	}
	set, err := r.opts.Commands.ListCommands(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("loading commands: %w", err)
	}

	sink := func(batch int, results []transport.Result) {
		updates, diags := r.opts.Demuxer.Apply(dev, set, results)
		report.Diagnostics = append(report.Diagnostics, diags...)
		report.Updates += len(updates)
		if err := r.opts.State.ApplyAll(ctx, deviceID, updates); err != nil {
			r.logger.Warn("storing refreshed state failed", "device_id", deviceID, "batch", batch, "error", err)
		}
	}

	results, cycleErr := r.opts.Scheduler.RunReadCycle(ctx, dev, set, sink)
	report.Results = len(results)

	if cycleErr == nil && r.opts.DetectionMode == config.DetectionModeBaichuan {
		r.pollMotion(ctx, dev, set, report)
	}

	report.Duration = time.Since(started)
	outcome := "ok"
	if cycleErr != nil {
		outcome = "aborted"
		var be *BatchError
		if errors.As(cycleErr, &be) {
			r.logger.Warn("refresh cycle aborted", "device_id", deviceID, "batch", be.Batch, "error", be.Err)
		}
	}
	metrics.RefreshCycle(outcome)
	if r.opts.Recorder != nil {
		r.opts.Recorder.WriteRefreshCycle(deviceID, outcome, report.Duration, report.Updates, time.Now())
	}

	r.logger.Debug("refresh cycle finished",
		"device_id", deviceID,
		"outcome", outcome,
		"results", report.Results,
		"updates", report.Updates,
		"diagnostics", len(report.Diagnostics),
		"duration", report.Duration)
	return report, cycleErr
}

func (r *Refresher) pollMotion(ctx context.Context, dev *device.Device, set device.CommandSet, report *Report) {
	if r.opts.Motion == nil {
		return
	}
	if _, ok := set.Lookup(motionStateID); !ok {
		return
	}
	enabled, err := r.opts.Motion.Status(ctx, dev)
	if err != nil {
		r.logger.Warn("motion status poll failed", "device_id", dev.ID, "error", err)
		return
	}
	u := demux.StateUpdate{LogicalID: motionStateID, Value: hub.StateValue(enabled)}
	if err := r.opts.State.ApplyAll(ctx, dev.ID, []demux.StateUpdate{u}); err != nil {
		r.logger.Warn("storing motion state failed", "device_id", dev.ID, "error", err)
		return
	}
	report.Updates++
}
