package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/transport"
)

// Registry is the device store used by discovery. *device.Registry satisfies it.
type Registry interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	GetDeviceByLogicalID(ctx context.Context, logicalID string) (*device.Device, error)
	FindChild(ctx context.Context, hubID string, channel int) (*device.Device, bool)
	CreateDevice(ctx context.Context, d *device.Device) error
}

// Camera is one channel as reported by the hub.
type Camera struct {
	ChannelID int    `json:"channel_id"`
	Name      string `json:"name"`
	Model     string `json:"model"`
	Online    bool   `json:"online"`
	UID       string `json:"uid"`
	Serial    string `json:"serial"`
}

// Inventory is the hub's own description plus its channels.
type Inventory struct {
	Model           string   `json:"model"`
	Serial          string   `json:"serial"`
	HardwareVersion string   `json:"hardware_version"`
	FirmwareVersion string   `json:"firmware_version"`
	ChannelCount    int      `json:"channel_count"`
	Cameras         []Camera `json:"cameras"`
}

// Report summarises one discovery run.
type Report struct {
	Inventory Inventory       `json:"inventory"`
	Created   []device.Device `json:"created"`

	// Existing lists channels that already had a child device.
	Existing []int `json:"existing"`

	// Offline lists channels skipped because the camera was offline.
	Offline []int `json:"offline"`
}

// Discoverer creates child devices for a hub's online channels.
type Discoverer struct {
	registry Registry
	sender   Sender
	logger   Logger
}

// NewDiscoverer creates a discoverer.
func NewDiscoverer(registry Registry, sender Sender) *Discoverer {
	return &Discoverer{registry: registry, sender: sender, logger: noopLogger{}}
}

// SetLogger sets the logger for the discoverer.
func (d *Discoverer) SetLogger(logger Logger) {
	d.logger = logger
}

// Discover lists hubID's channels and creates a child for every online
// camera that has none yet. Existing children are left untouched, so the
// call is safe to repeat.
func (d *Discoverer) Discover(ctx context.Context, hubID string) (*Report, error) {
	hub, err := d.registry.GetDevice(ctx, hubID)
	if err != nil {
		return nil, err
	}
	if !hub.IsHub() {
		return nil, fmt.Errorf("%w: %s", ErrNotHub, hubID)
	}

	report := &Report{}
	if err := call(ctx, d.sender, hub, transport.Request{Op: transport.OpDiscover}, &report.Inventory); err != nil {
		return nil, fmt.Errorf("discovering channels of %s: %w", hubID, err)
	}

	for _, cam := range report.Inventory.Cameras {
		if !cam.Online {
			report.Offline = append(report.Offline, cam.ChannelID)
			continue
		}
		exists, err := d.childExists(ctx, hub.ID, cam.ChannelID)
		if err != nil {
			return report, err
		}
		if exists {
			report.Existing = append(report.Existing, cam.ChannelID)
			continue
		}

		child := newChild(hub, cam)
		if err := d.registry.CreateDevice(ctx, child); err != nil {
			return report, fmt.Errorf("creating channel %d of %s: %w", cam.ChannelID, hubID, err)
		}
		d.logger.Info("hub channel added", "hub_id", hub.ID, "channel", cam.ChannelID, "device_id", child.ID)
		report.Created = append(report.Created, *child)
	}
	return report, nil
}

func (d *Discoverer) childExists(ctx context.Context, hubID string, channel int) (bool, error) {
	if _, ok := d.registry.FindChild(ctx, hubID, channel); ok {
		return true, nil
	}
	_, err := d.registry.GetDeviceByLogicalID(ctx, device.ChildLogicalID(hubID, channel))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, device.ErrDeviceNotFound):
		return false, nil
	default:
		return false, err
	}
}

func newChild(hub *device.Device, cam Camera) *device.Device {
	name := cam.Name
	if name == "" {
		name = fmt.Sprintf("%s channel %d", hub.Name, cam.ChannelID)
	}
	return &device.Device{
		Name:        name,
		LogicalID:   device.ChildLogicalID(hub.ID, cam.ChannelID),
		Role:        device.RoleChild,
		ParentHubID: hub.ID,
		Channel:     cam.ChannelID,
		Credentials: hub.Credentials,
		Model:       cam.Model,
		UID:         cam.UID,
		Serial:      cam.Serial,
		AutoRefresh: hub.AutoRefresh,
		Enabled:     true,
	}
}
