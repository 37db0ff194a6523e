// Package hub implements the operations only the mediation service offers:
// channel discovery and scenes on a hub, and Baichuan motion detection on
// any camera.
package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/transport"
)

// Logger defines the logging interface used by the hub package.
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

// Sender routes one request. *transport.Router satisfies it.
type Sender interface {
	Send(ctx context.Context, dev *device.Device, req transport.Request) ([]transport.Result, error)
}

// call sends op and decodes the single object the service returns.
func call(ctx context.Context, s Sender, dev *device.Device, req transport.Request, out any) error {
	results, err := s.Send(ctx, dev, req)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("%w: empty %s response", ErrMalformedResponse, req.Op)
	}
	if err := json.Unmarshal(results[0].Value, out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformedResponse, req.Op, err)
	}
	return nil
}
