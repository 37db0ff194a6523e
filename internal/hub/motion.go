package hub

import (
	"context"
	"fmt"

	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/transport"
)

// Motion toggles and reads Baichuan motion detection through the
// mediation service.
type Motion struct {
	sender Sender
}

func NewMotion(sender Sender) *Motion {
	return &Motion{sender: sender}
}

type motionChange struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type motionStatus struct {
	Enabled bool `json:"enabled"`
}

// Enable turns motion detection on.
func (m *Motion) Enable(ctx context.Context, dev *device.Device) error {
	return m.set(ctx, dev, transport.OpMotionEnable)
}

// Disable turns motion detection off.
func (m *Motion) Disable(ctx context.Context, dev *device.Device) error {
	return m.set(ctx, dev, transport.OpMotionDisable)
}

func (m *Motion) set(ctx context.Context, dev *device.Device, op transport.Op) error {
	var res motionChange
	if err := call(ctx, m.sender, dev, transport.Request{Op: op}, &res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%w: %s", ErrMotionRejected, res.Message)
	}
	return nil
}

// Status reports whether motion detection is enabled.
func (m *Motion) Status(ctx context.Context, dev *device.Device) (bool, error) {
	var res motionStatus
	if err := call(ctx, m.sender, dev, transport.Request{Op: transport.OpMotionStatus}, &res); err != nil {
		return false, err
	}
	return res.Enabled, nil
}

// StateValue renders a motion status as command state.
func StateValue(enabled bool) string {
	if enabled {
		return "1"
	}
	return "0"
}
