// Package demux maps batched device responses to per-command state updates.
//
// A read cycle returns a heterogeneous list of response items, one per
// request element. Each item's code selects a decoder from a closed table;
// the decoder extracts the fields it knows and names the command each value
// belongs to. Unknown codes are reported and skipped so one unexpected item
// never costs the rest of the cycle.
package demux

import (
	"fmt"

	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/infrastructure/metrics"
	"github.com/nerrad567/reolink-core/internal/transport"
)

// Logger defines the logging interface used by the Demuxer.
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

// StateUpdate is a new value for one command.
type StateUpdate struct {
	LogicalID string `json:"logical_id"`
	Value     string `json:"value"`
}

// Diagnostic is a response item that could not be applied.
type Diagnostic struct {
	Code string
	Err  error
}

func (d Diagnostic) String() string {
	return d.Code + ": " + d.Err.Error()
}

// Demuxer applies the decoder table to response lists.
type Demuxer struct {
	logger Logger
}

// New creates a demultiplexer.
func New() *Demuxer {
	return &Demuxer{logger: noopLogger{}}
}

// SetLogger sets the logger for the demultiplexer.
func (d *Demuxer) SetLogger(logger Logger) {
	d.logger = logger
}

// Apply decodes results for dev. Updates are returned in response order and
// only for commands present in set.
func (d *Demuxer) Apply(dev *device.Device, set device.CommandSet, results []transport.Result) ([]StateUpdate, []Diagnostic) {
	var (
		updates []StateUpdate
		diags   []Diagnostic
	)
	for _, res := range results {
		if res.Failed() {
			err := fmt.Errorf("%w: status %d", ErrDeviceRejected, res.Status)
			if res.Error != nil {
				err = fmt.Errorf("%w: %w", ErrDeviceRejected, res.Error)
			}
			d.logger.Debug("response item rejected", "device_id", dev.ID, "code", res.Code, "error", err)
			diags = append(diags, Diagnostic{Code: res.Code, Err: err})
			continue
		}

		dec, ok := decoders[res.Code]
		if !ok {
			metrics.UnhandledCode(res.Code)
			d.logger.Warn("unmapped response code", "device_id", dev.ID, "code", res.Code)
			diags = append(diags, Diagnostic{Code: res.Code, Err: fmt.Errorf("%w: %q", ErrUnmappedResponseCode, res.Code)})
			continue
		}

		for _, u := range dec(res.Value, set) {
			if _, ok := set.Lookup(u.LogicalID); !ok {
				d.logger.Debug("no command found for update", "device_id", dev.ID, "code", res.Code, "logical_id", u.LogicalID)
				continue
			}
			updates = append(updates, u)
		}
	}
	return updates, diags
}
