// Package synth derives a device's command set from the catalog.
//
// Synthesis walks the catalog in order and creates every eligible command
// the device does not already have. It only ever adds: a command whose
// ability later disappears (after a firmware change, say) is kept until the
// device itself is deleted.
package synth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/reolink-core/internal/ability"
	"github.com/nerrad567/reolink-core/internal/catalog"
	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/infrastructure/metrics"
)

// Logger defines the logging interface used by the Synthesizer.
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

// CommandStore persists commands. *device.SQLiteRepository satisfies it.
type CommandStore interface {
	ListCommands(ctx context.Context, deviceID string) (device.CommandSet, error)
	CreateCommand(ctx context.Context, cmd *device.Command) error
}

// Diagnostic is a non-fatal problem found during synthesis.
type Diagnostic struct {
	LogicalID string
	Err       error
}

func (d Diagnostic) String() string {
	return d.LogicalID + ": " + d.Err.Error()
}

// Result summarises one synthesis run.
type Result struct {
	Created []device.Command

	// Skipped counts catalog entries the device already had.
	Skipped int

	// Ineligible counts entries rejected by the ability matrix.
	Ineligible int

	Diagnostics []Diagnostic

	// NextOrder is the order the next created command would get.
	NextOrder int
}

// Synthesizer creates commands, one run at a time per device.
type Synthesizer struct {
	store  CommandStore
	locks  keyedMutex
	logger Logger
}

// New creates a synthesizer.
func New(store CommandStore) *Synthesizer {
	return &Synthesizer{store: store, logger: noopLogger{}}
}

// SetLogger sets the logger for the synthesizer.
func (s *Synthesizer) SetLogger(logger Logger) {
	s.logger = logger
}

// Synthesize creates the eligible commands dev lacks.
// Storage failures abort the run; commands created before the failure stay.
func (s *Synthesizer) Synthesize(ctx context.Context, dev *device.Device, m ability.Matrix, cat *catalog.Catalog) (Result, error) {
	unlock := s.locks.lock(dev.ID)
	defer unlock()

	existing, err := s.store.ListCommands(ctx, dev.ID)
	if err != nil {
		return Result{}, fmt.Errorf("listing commands of %s: %w", dev.ID, err)
	}

	res := Result{NextOrder: existing.NextOrder()}
	for _, spec := range cat.Specs() {
		if existing.Has(spec.LogicalID, spec.Name) {
			res.Skipped++
			continue
		}

		ok, reason := Eligible(spec, m, dev.SupportsAI)
		if !ok {
			res.Ineligible++
			if reason == ReasonNoCapability {
				s.logger.Debug("no capability match", "device_id", dev.ID, "ability", spec.AbilityNeeded, "command", spec.LogicalID)
			}
			continue
		}

		cmd := device.CommandFromSpec(dev.ID, spec, res.NextOrder)
		if vf := cmd.Config.ValueFrom; vf != "" {
			if _, found := existing.Lookup(vf); found {
				cmd.LinkedCommand = vf
			} else {
				res.Diagnostics = append(res.Diagnostics, Diagnostic{
					LogicalID: spec.LogicalID,
					Err:       fmt.Errorf("%w: %s not found", ErrLinkResolutionFailed, vf),
				})
				s.logger.Warn("value link unresolved", "device_id", dev.ID, "command", spec.LogicalID, "value_from", vf)
			}
		}

		if err := s.store.CreateCommand(ctx, &cmd); err != nil {
			if errors.Is(err, device.ErrCommandExists) {
				res.Skipped++
				continue
			}
			metrics.CommandsSynthesized(len(res.Created))
			return res, fmt.Errorf("creating command %s: %w", spec.LogicalID, err)
		}

		existing = append(existing, cmd)
		res.Created = append(res.Created, cmd)
		res.NextOrder++
		s.logger.Debug("command created", "device_id", dev.ID, "command", spec.LogicalID, "order", cmd.Order)
	}

	metrics.CommandsSynthesized(len(res.Created))
	s.logger.Info("synthesis complete", "device_id", dev.ID, "created", len(res.Created),
		"skipped", res.Skipped, "ineligible", res.Ineligible, "diagnostics", len(res.Diagnostics))
	return res, nil
}

// keyedMutex serialises work per key and frees idle entries.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
