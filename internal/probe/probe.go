// Package probe asks a device what it can do and who it is.
//
// Probe returns the device's ability matrix. Identify returns descriptive
// information (model, firmware, serial, uid, AI support) and decides whether
// a directly reachable device is really a hub. Both go through the transport
// Router, so they never branch on hub versus direct addressing themselves.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/nerrad567/reolink-core/internal/ability"
	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/transport"
)

// Logger defines the logging interface used by the Prober.
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

// Sender sends a routed request. *transport.Router satisfies it.
type Sender interface {
	Send(ctx context.Context, dev *device.Device, req transport.Request) ([]transport.Result, error)
}

const cacheSweepInterval = 10 * time.Minute

// Prober retrieves and caches ability matrices.
//
// A cached matrix is returned as a clone, so callers own what they get.
// Invalidate drops the entry, forcing the next Probe to ask the device.
type Prober struct {
	sender Sender
	cache  *cache.Cache
	logger Logger
}

// NewProber creates a prober whose results live for ttl.
func NewProber(sender Sender, ttl time.Duration) *Prober {
	return &Prober{
		sender: sender,
		cache:  cache.New(ttl, cacheSweepInterval),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the prober.
func (p *Prober) SetLogger(logger Logger) {
	p.logger = logger
}

// Probe returns dev's ability matrix.
func (p *Prober) Probe(ctx context.Context, dev *device.Device) (ability.Matrix, error) {
	if cached, ok := p.cache.Get(dev.ID); ok {
		return cached.(ability.Matrix).Clone(), nil //nolint:forcetypeassert // only matrices are stored
	}

	results, err := p.sender.Send(ctx, dev, transport.Request{Op: transport.OpAbility})
	if err != nil {
		if errors.Is(err, ErrMissingCredentials) {
			p.logger.Warn("probe skipped, credentials missing", "device_id", dev.ID)
			return nil, err
		}
		p.logger.Error("probe failed", "device_id", dev.ID, "role", dev.Role, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrProbeUnreachable, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrProbeUnreachable)
	}
	if results[0].Failed() {
		return nil, fmt.Errorf("%w: device rejected GetAbility: %v", ErrProbeUnreachable, results[0].Error)
	}

	m, err := ability.Parse(results[0].Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProbeUnreachable, err)
	}
	if m.Len() <= 1 {
		p.logger.Warn("device reported no abilities", "device_id", dev.ID, "count", m.Len())
		return nil, fmt.Errorf("%w: %d entries", ErrEmptyAbilitySet, m.Len())
	}

	p.cache.SetDefault(dev.ID, m.Clone())
	p.logger.Info("abilities probed", "device_id", dev.ID, "role", dev.Role, "count", m.Len())
	return m, nil
}

// Invalidate drops the cached matrix of a device.
func (p *Prober) Invalidate(deviceID string) {
	p.cache.Delete(deviceID)
}
