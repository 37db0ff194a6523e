// Package statesync writes decoded state onto commands and fans changes out.
//
// A value lands on its command, then on every command whose valueFrom
// names it (one hop, no chains). Writes are idempotent: storing the same
// value again is not a change and notifies nobody.
package statesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/reolink-core/internal/demux"
	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/infrastructure/metrics"
)

// Logger defines the logging interface used by Sync.
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

// Store persists command values. *device.SQLiteRepository satisfies it.
type Store interface {
	ListCommands(ctx context.Context, deviceID string) (device.CommandSet, error)
	SetCommandValue(ctx context.Context, deviceID, logicalID, value string) (bool, error)
}

// Change describes one command whose value actually changed.
type Change struct {
	DeviceID  string    `json:"device_id"`
	LogicalID string    `json:"logical_id"`
	Value     string    `json:"value"`
	SubType   string    `json:"sub_type,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier receives changes. Implementations must not block for long;
// they run on the caller's goroutine.
type Notifier interface {
	NotifyChange(ctx context.Context, c Change)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, c Change)

func (f NotifierFunc) NotifyChange(ctx context.Context, c Change) { f(ctx, c) }

// Sync applies state updates to the command store.
type Sync struct {
	store Store

	mu        sync.RWMutex
	notifiers []Notifier

	logger Logger
	now    func() time.Time
}

// New creates a Sync over store.
func New(store Store) *Sync {
	return &Sync{store: store, logger: noopLogger{}, now: time.Now}
}

// SetLogger sets the logger for the sync.
func (s *Sync) SetLogger(logger Logger) {
	s.logger = logger
}

// AddNotifier registers n for every future change.
func (s *Sync) AddNotifier(n Notifier) {
	s.mu.Lock()
	s.notifiers = append(s.notifiers, n)
	s.mu.Unlock()
}

// Apply stores one update and propagates it to the commands linked to it.
func (s *Sync) Apply(ctx context.Context, deviceID string, u demux.StateUpdate) error {
	set, err := s.store.ListCommands(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("loading commands: %w", err)
	}
	return s.apply(ctx, deviceID, set, u)
}

// ApplyAll stores a batch of updates against one snapshot of the command
// set. It keeps going after a failed write and returns the joined errors.
func (s *Sync) ApplyAll(ctx context.Context, deviceID string, updates []demux.StateUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	set, err := s.store.ListCommands(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("loading commands: %w", err)
	}
	var errs []error
	for _, u := range updates {
		if err := s.apply(ctx, deviceID, set, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ApplyLinked stores value on the state command that source (an action)
// reads its value from.
func (s *Sync) ApplyLinked(ctx context.Context, deviceID, source, value string) error {
	set, err := s.store.ListCommands(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("loading commands: %w", err)
	}
	src, ok := set.Lookup(source)
	if !ok {
		return fmt.Errorf("%s: %w", source, device.ErrCommandNotFound)
	}
	target := src.LinkedCommand
	if target == "" {
		target = src.Config.ValueFrom
	}
	if target == "" {
		return fmt.Errorf("%s: %w", source, ErrNotLinked)
	}
	return s.apply(ctx, deviceID, set, demux.StateUpdate{LogicalID: target, Value: value})
}

func (s *Sync) apply(ctx context.Context, deviceID string, set device.CommandSet, u demux.StateUpdate) error {
	if err := s.write(ctx, deviceID, set, u.LogicalID, u.Value); err != nil {
		return err
	}
	for _, dep := range set.Dependents(u.LogicalID) {
		if err := s.write(ctx, deviceID, set, dep.LogicalID, u.Value); err != nil {
			return fmt.Errorf("propagating %s to %s: %w", u.LogicalID, dep.LogicalID, err)
		}
	}
	return nil
}

func (s *Sync) write(ctx context.Context, deviceID string, set device.CommandSet, logicalID, value string) error {
	changed, err := s.store.SetCommandValue(ctx, deviceID, logicalID, value)
	if err != nil {
		return fmt.Errorf("storing %s: %w", logicalID, err)
	}
	if !changed {
		return nil
	}

	metrics.StateUpdated()
	s.logger.Debug("command value changed", "device_id", deviceID, "logical_id", logicalID, "value", value)

	c := Change{DeviceID: deviceID, LogicalID: logicalID, Value: value, At: s.now().UTC()}
	if cmd, ok := set.Lookup(logicalID); ok {
		c.SubType = cmd.SubType
	}

	s.mu.RLock()
	notifiers := s.notifiers
	s.mu.RUnlock()
	for _, n := range notifiers {
		n.NotifyChange(ctx, c)
	}
	return nil
}
