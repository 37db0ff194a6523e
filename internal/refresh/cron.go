package refresh

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/reolink-core/internal/device"
)

// cycleTimeout bounds one scheduled refresh.
const cycleTimeout = 5 * time.Minute

// Runner runs a read cycle. *Refresher satisfies it.
type Runner interface {
	Refresh(ctx context.Context, deviceID string) (*Report, error)
}

// DeviceLister lists devices. *device.Registry satisfies it.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]device.Device, error)
}

// Cron refreshes every enabled device on its own 5-field crontab
// expression, falling back to a default expression.
type Cron struct {
	cron        *cron.Cron
	runner      Runner
	devices     DeviceLister
	defaultSpec string

	mu      sync.Mutex
	entries map[string]cron.EntryID
	specs   map[string]string

	logger Logger
}

// NewCron creates a stopped scheduler.
func NewCron(runner Runner, devices DeviceLister, defaultSpec string) *Cron {
	return &Cron{
		cron:        cron.New(),
		runner:      runner,
		devices:     devices,
		defaultSpec: strings.TrimSpace(defaultSpec),
		entries:     map[string]cron.EntryID{},
		specs:       map[string]string{},
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger for the scheduler.
func (c *Cron) SetLogger(logger Logger) {
	c.logger = logger
}

// Start runs the scheduler in its own goroutine.
func (c *Cron) Start() {
	c.cron.Start()
}

// Stop stops scheduling and waits for running jobs to finish.
func (c *Cron) Stop() {
	<-c.cron.Stop().Done()
}

// Reconcile schedules every enabled device and drops entries of devices
// that are gone or disabled. Devices with an invalid expression are
// logged and skipped.
func (c *Cron) Reconcile(ctx context.Context) error {
	devices, err := c.devices.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}

	seen := make(map[string]struct{}, len(devices))
	for i := range devices {
		seen[devices[i].ID] = struct{}{}
		if err := c.Schedule(&devices[i]); err != nil {
			c.logger.Warn("autorefresh not scheduled", "device_id", devices[i].ID, "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		if _, ok := seen[id]; !ok {
			c.removeLocked(id)
		}
	}
	return nil
}

// Schedule (re)installs the entry of dev. A disabled device, or one with
// no expression and no default, is unscheduled.
func (c *Cron) Schedule(dev *device.Device) error {
	spec := strings.TrimSpace(dev.AutoRefresh)
	if spec == "" {
		spec = c.defaultSpec
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !dev.Enabled || spec == "" {
		c.removeLocked(dev.ID)
		return nil
	}
	if old, ok := c.specs[dev.ID]; ok && old == spec {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		c.removeLocked(dev.ID)
		return fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, spec, err)
	}

	c.removeLocked(dev.ID)
	id := dev.ID
	entry, err := c.cron.AddFunc(spec, func() { c.fire(id) })
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, spec, err)
	}
	c.entries[id] = entry
	c.specs[id] = spec
	c.logger.Debug("autorefresh scheduled", "device_id", id, "cron", spec)
	return nil
}

// Unschedule removes deviceID's entry, if any.
func (c *Cron) Unschedule(deviceID string) {
	c.mu.Lock()
	c.removeLocked(deviceID)
	c.mu.Unlock()
}

// Spec returns the expression deviceID is scheduled with.
func (c *Cron) Spec(deviceID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	spec, ok := c.specs[deviceID]
	return spec, ok
}

func (c *Cron) removeLocked(deviceID string) {
	if entry, ok := c.entries[deviceID]; ok {
		c.cron.Remove(entry)
		delete(c.entries, deviceID)
		delete(c.specs, deviceID)
	}
}

func (c *Cron) fire(deviceID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
	defer cancel()
	if _, err := c.runner.Refresh(ctx, deviceID); err != nil {
		c.logger.Warn("autorefresh failed", "device_id", deviceID, "error", err)
	}
}
