package reolink

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/refresh"
	"github.com/nerrad567/reolink-core/internal/synth"
)

// ProvisionReport summarises one provisioning run.
type ProvisionReport struct {
	Device      *device.Device `json:"device"`
	Abilities   int            `json:"abilities"`
	Created     int            `json:"created"`
	Skipped     int            `json:"skipped"`
	Ineligible  int            `json:"ineligible"`
	Diagnostics []string       `json:"diagnostics,omitempty"`
}

// Provision identifies deviceID, probes its abilities and synthesizes its
// commands. A standalone device that identifies as a hub becomes a hub.
// Probe failures stop the run before any command is created.
func (b *Bridge) Provision(ctx context.Context, deviceID string) (*ProvisionReport, error) {
	if b.ctx.Err() != nil {
		return nil, ErrBridgeStopped
	}

	dev, err := b.opts.Devices.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	identity, err := b.opts.Prober.Identify(ctx, dev)
	if err != nil {
		return nil, fmt.Errorf("identifying %s: %w", deviceID, err)
	}
	identity.Apply(dev)
	if identity.IsHub && dev.Role == device.RoleStandalone {
		b.logger.Info("device identified as hub", "device_id", deviceID, "model", dev.Model)
		dev.Role = device.RoleHub
	}
	if err := b.opts.Devices.UpdateDevice(ctx, dev); err != nil {
		return nil, fmt.Errorf("storing identity of %s: %w", deviceID, err)
	}

	b.opts.Prober.Invalidate(deviceID)
	matrix, err := b.opts.Prober.Probe(ctx, dev)
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", deviceID, err)
	}
	if err := b.opts.Devices.SetAbilities(ctx, deviceID, matrix, dev.SupportsAI); err != nil {
		return nil, fmt.Errorf("storing abilities of %s: %w", deviceID, err)
	}
	dev.Abilities = matrix

	res, err := b.opts.Synthesizer.Synthesize(ctx, dev, matrix, b.opts.Catalog)
	report := newProvisionReport(dev, matrix.Len(), res)
	if err != nil {
		return report, fmt.Errorf("synthesizing commands of %s: %w", deviceID, err)
	}

	if b.opts.Scheduler != nil {
		if err := b.opts.Scheduler.Schedule(dev); err != nil {
			b.logger.Warn("autorefresh not scheduled", "device_id", deviceID, "error", err)
		}
	}

	b.provisioned.Add(1)
	b.publishEvent("device_provisioned", ProvisionedEvent{
		DeviceID:   deviceID,
		Role:       string(dev.Role),
		Model:      dev.Model,
		Abilities:  report.Abilities,
		Created:    report.Created,
		Ineligible: report.Ineligible,
		Timestamp:  time.Now().UTC(),
	})
	b.logger.Info("device provisioned", "device_id", deviceID, "role", dev.Role,
		"abilities", report.Abilities, "created", report.Created, "ineligible", report.Ineligible)
	return report, nil
}

func newProvisionReport(dev *device.Device, abilities int, res synth.Result) *ProvisionReport {
	report := &ProvisionReport{
		Device:     dev.Redacted(),
		Abilities:  abilities,
		Created:    len(res.Created),
		Skipped:    res.Skipped,
		Ineligible: res.Ineligible,
	}
	for _, d := range res.Diagnostics {
		report.Diagnostics = append(report.Diagnostics, d.String())
	}
	return report
}

// Refresh runs one read cycle of deviceID and announces its outcome.
func (b *Bridge) Refresh(ctx context.Context, deviceID string) (*refresh.Report, error) {
	if b.ctx.Err() != nil {
		return nil, ErrBridgeStopped
	}

	report, err := b.opts.Refresher.Refresh(ctx, deviceID)
	b.refreshCycles.Add(1)

	ev := RefreshedEvent{DeviceID: deviceID, Outcome: "ok", Timestamp: time.Now().UTC()}
	if report != nil {
		ev.Updates = report.Updates
		ev.DurationMS = report.Duration.Milliseconds()
	}
	if err != nil {
		b.refreshFailures.Add(1)
		ev.Outcome = "failed"
		ev.Error = err.Error()
	}
	b.publishEvent("device_refreshed", ev)
	return report, err
}
