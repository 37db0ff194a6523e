package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/reolink-core/internal/ability"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// The Registry enforces the parent/child invariants: a child's parent must
// be a hub, and a child's credentials are copied from that hub when the
// child is created or explicitly resynced.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new device registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		r.cache[devices[i].ID] = devices[i].DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = device.DeepCopy()
	r.cacheMu.Unlock()

	return device, nil
}

// GetDeviceByLogicalID finds a cached device by logical ID.
func (r *Registry) GetDeviceByLogicalID(_ context.Context, logicalID string) (*Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	for _, d := range r.cache {
		if d.LogicalID == logicalID {
			return d.DeepCopy(), nil
		}
	}
	return nil, ErrDeviceNotFound
}

// ListDevices retrieves all devices sorted by name.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	if len(r.cache) == 0 {
		r.cacheMu.RUnlock()
		return r.repo.List(ctx)
	}
	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, *d.DeepCopy())
	}
	r.cacheMu.RUnlock()

	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}

// ListChildren returns the children of a hub ordered by channel.
func (r *Registry) ListChildren(_ context.Context, hubID string) ([]Device, error) {
	r.cacheMu.RLock()
	var children []Device
	for _, d := range r.cache {
		if d.ParentHubID == hubID {
			children = append(children, *d.DeepCopy())
		}
	}
	r.cacheMu.RUnlock()

	sort.Slice(children, func(i, j int) bool { return children[i].Channel < children[j].Channel })
	return children, nil
}

// FindChild returns the child of hubID on channel, if any.
func (r *Registry) FindChild(ctx context.Context, hubID string, channel int) (*Device, bool) {
	children, _ := r.ListChildren(ctx, hubID) //nolint:errcheck // cache read cannot fail
	for i := range children {
		if children[i].Channel == channel {
			return &children[i], true
		}
	}
	return nil, false
}

// CreateDevice validates and persists a new device.
// The ID and logical ID are generated when empty. A child inherits its
// parent hub's credentials; anything set on the child is overwritten.
func (r *Registry) CreateDevice(ctx context.Context, device *Device) error {
	if device.ID == "" {
		device.ID = GenerateID()
	}
	if device.LogicalID == "" {
		device.LogicalID = GenerateLogicalID(device.Name)
	}

	if err := ValidateDevice(device); err != nil {
		return err
	}
	if device.IsChild() {
		parent, err := r.parentHub(ctx, device.ParentHubID)
		if err != nil {
			return err
		}
		device.Credentials = parent.Credentials
	}

	if err := r.repo.Create(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[device.ID] = device.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device created", "id", device.ID, "name", device.Name, "role", device.Role)
	return nil
}

// UpdateDevice validates and persists changes to an existing device.
// A child's credentials cannot be changed here; use ResyncChildCredentials.
func (r *Registry) UpdateDevice(ctx context.Context, device *Device) error {
	existing, err := r.GetDevice(ctx, device.ID)
	if err != nil {
		return err
	}
	if err := ValidateDevice(device); err != nil {
		return err
	}
	if device.IsChild() {
		if device.ParentHubID != existing.ParentHubID {
			if _, err := r.parentHub(ctx, device.ParentHubID); err != nil {
				return err
			}
		}
		device.Credentials = existing.Credentials
	}

	if err := r.repo.Update(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[device.ID] = device.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device updated", "id", device.ID, "name", device.Name)
	return nil
}

// SetAbilities stores a probed ability matrix and AI support flag.
func (r *Registry) SetAbilities(ctx context.Context, id string, m ability.Matrix, supportsAI bool) error {
	device, err := r.GetDevice(ctx, id)
	if err != nil {
		return err
	}
	device.Abilities = m.Clone()
	device.SupportsAI = supportsAI

	if err := r.repo.Update(ctx, device); err != nil {
		return err
	}
	r.cacheMu.Lock()
	r.cache[id] = device
	r.cacheMu.Unlock()
	return nil
}

// ResyncChildCredentials copies a hub's current credentials to all of its
// children and returns how many were updated.
func (r *Registry) ResyncChildCredentials(ctx context.Context, hubID string) (int, error) {
	hub, err := r.parentHub(ctx, hubID)
	if err != nil {
		return 0, err
	}
	children, err := r.ListChildren(ctx, hubID)
	if err != nil {
		return 0, err
	}

	updated := 0
	for i := range children {
		child := &children[i]
		if child.Credentials == hub.Credentials {
			continue
		}
		child.Credentials = hub.Credentials
		if err := r.repo.Update(ctx, child); err != nil {
			return updated, fmt.Errorf("updating child %s: %w", child.ID, err)
		}
		r.cacheMu.Lock()
		r.cache[child.ID] = child.DeepCopy()
		r.cacheMu.Unlock()
		updated++
	}

	r.logger.Info("child credentials resynced", "hub_id", hubID, "updated", updated)
	return updated, nil
}

// DeleteDevice removes a device. Deleting a hub also removes its children.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	for childID, d := range r.cache {
		if d.ParentHubID == id {
			delete(r.cache, childID)
		}
	}
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int
	ByRole       map[Role]int
	Probed       int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByRole:       make(map[Role]int),
	}
	for _, d := range r.cache {
		stats.ByRole[d.Role]++
		if d.Abilities != nil {
			stats.Probed++
		}
	}
	return stats
}

func (r *Registry) parentHub(ctx context.Context, id string) (*Device, error) {
	parent, err := r.GetDevice(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return nil, fmt.Errorf("%w: hub %s not found", ErrParentRequired, id)
		}
		return nil, err
	}
	if !parent.IsHub() {
		return nil, fmt.Errorf("%w: %s is %s", ErrParentNotHub, id, parent.Role)
	}
	return parent, nil
}
