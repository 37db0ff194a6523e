package reolink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/reolink-core/internal/ability"
	"github.com/nerrad567/reolink-core/internal/action"
	"github.com/nerrad567/reolink-core/internal/catalog"
	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/hub"
	"github.com/nerrad567/reolink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/reolink-core/internal/probe"
	"github.com/nerrad567/reolink-core/internal/refresh"
	"github.com/nerrad567/reolink-core/internal/synth"
	"github.com/nerrad567/reolink-core/internal/transport"
)

// commandTimeout bounds one action. Motion toggles alone may take a
// minute through the mediation service.
const commandTimeout = 90 * time.Second

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// DeviceStore persists devices. *device.Registry satisfies it.
type DeviceStore interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	UpdateDevice(ctx context.Context, d *device.Device) error
	SetAbilities(ctx context.Context, id string, m ability.Matrix, supportsAI bool) error
	GetDeviceCount() int
}

// Prober identifies devices and reads their abilities. *probe.Prober satisfies it.
type Prober interface {
	Identify(ctx context.Context, dev *device.Device) (probe.Identity, error)
	Probe(ctx context.Context, dev *device.Device) (ability.Matrix, error)
	Invalidate(deviceID string)
}

// Synthesizer creates eligible commands. *synth.Synthesizer satisfies it.
type Synthesizer interface {
	Synthesize(ctx context.Context, dev *device.Device, m ability.Matrix, cat *catalog.Catalog) (synth.Result, error)
}

// Executor runs actions. *action.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, deviceID, logicalID string, opts action.Options) error
}

// Refresher runs read cycles. *refresh.Refresher satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, deviceID string) (*refresh.Report, error)
}

// Scheduler keeps autorefresh entries in step with devices. *refresh.Cron satisfies it.
type Scheduler interface {
	Schedule(dev *device.Device) error
}

// BridgeOptions holds the collaborators of a bridge.
type BridgeOptions struct {
	// BridgeID names the bridge in health messages. Defaults to "reolink".
	BridgeID string
	Version  string

	MQTTClient  MQTTClient
	Devices     DeviceStore
	Prober      Prober
	Synthesizer Synthesizer
	Catalog     *catalog.Catalog
	Executor    Executor
	Refresher   Refresher

	// Scheduler is optional; without it provisioning does not touch autorefresh.
	Scheduler Scheduler

	HealthInterval time.Duration
	Logger         Logger
}

// Bridge serves MQTT action requests and runs device workflows.
//
// Thread Safety: all methods are safe for concurrent use.
type Bridge struct {
	opts   BridgeOptions
	health *HealthReporter

	commandsReceived atomic.Uint64
	commandsFailed   atomic.Uint64
	provisioned      atomic.Uint64
	refreshCycles    atomic.Uint64
	refreshFailures  atomic.Uint64

	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger Logger
}

// NewBridge validates opts and creates a bridge. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	switch {
	case opts.MQTTClient == nil:
		return nil, fmt.Errorf("MQTT client is required")
	case opts.Devices == nil:
		return nil, fmt.Errorf("device store is required")
	case opts.Prober == nil:
		return nil, fmt.Errorf("prober is required")
	case opts.Synthesizer == nil:
		return nil, fmt.Errorf("synthesizer is required")
	case opts.Catalog == nil:
		return nil, fmt.Errorf("catalog is required")
	case opts.Executor == nil:
		return nil, fmt.Errorf("executor is required")
	case opts.Refresher == nil:
		return nil, fmt.Errorf("refresher is required")
	}
	if opts.BridgeID == "" {
		opts.BridgeID = "reolink"
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		opts:      opts,
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    opts.Logger,
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Devices:   opts.Devices,
		Stats:     b.Stats,
	})
	b.health.SetLogger(b.logger)
	return b, nil
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Start subscribes to command topics and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Error("failed to publish starting status", "error", err)
	}

	topic := mqtt.Topics{}.AllCommands()
	if err := b.opts.MQTTClient.Subscribe(topic, 1, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", topic)

	b.health.Start(ctx)
	b.logger.Info("bridge started", "bridge_id", b.opts.BridgeID, "devices", b.opts.Devices.GetDeviceCount())
	return nil
}

// Stop cancels in-flight work, waits for it and publishes "stopping".
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()
		if err := b.opts.MQTTClient.Unsubscribe(mqtt.Topics{}.AllCommands()); err != nil {
			b.logger.Debug("unsubscribe on stop failed", "error", err)
		}
		b.wg.Wait()
		b.health.Stop()
		b.logger.Info("bridge stopped")
	})
}

// Stats returns the bridge counters.
func (b *Bridge) Stats() BridgeStatistics {
	return BridgeStatistics{
		CommandsReceived: b.commandsReceived.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
		Provisioned:      b.provisioned.Load(),
		RefreshCycles:    b.refreshCycles.Load(),
		RefreshFailures:  b.refreshFailures.Load(),
	}
}

// handleCommand parses a command message and runs it in the background.
// Malformed topics are dropped; malformed payloads get a failed ack.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	deviceID, logicalID, ok := mqtt.Topics{}.ParseCommand(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	b.commandsReceived.Add(1)

	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.commandsFailed.Add(1)
		b.publishAck(NewAckError("", deviceID, logicalID, ErrCodeInvalidMessage, err.Error()))
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	if b.ctx.Err() != nil {
		b.commandsFailed.Add(1)
		b.publishAck(NewAckError(msg.RequestID, deviceID, logicalID, ErrCodeBridgeError, ErrBridgeStopped.Error()))
		return ErrBridgeStopped
	}

	b.logger.Info("received command", "request_id", msg.RequestID, "device_id", deviceID, "logical_id", logicalID, "source", msg.Source)
	b.publishAck(NewAckMessage(msg.RequestID, deviceID, logicalID, AckAccepted))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.runCommand(deviceID, logicalID, msg)
	}()
	return nil
}

func (b *Bridge) runCommand(deviceID, logicalID string, msg CommandMessage) {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	err := b.opts.Executor.Execute(ctx, deviceID, logicalID, msg.Options())
	if err == nil {
		return
	}
	b.commandsFailed.Add(1)
	b.publishAck(NewAckError(msg.RequestID, deviceID, logicalID, ErrorCode(err), err.Error()))
}

// ErrorCode classifies an execution error for acks and API responses.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, action.ErrMissingOption), errors.Is(err, action.ErrInvalidPayload):
		return ErrCodeInvalidParameters
	case errors.Is(err, action.ErrNotAction):
		return ErrCodeInvalidCommand
	case errors.Is(err, device.ErrDeviceNotFound), errors.Is(err, device.ErrCommandNotFound):
		return ErrCodeNotConfigured
	case errors.Is(err, hub.ErrNotHub):
		return ErrCodeNotHub
	case errors.Is(err, transport.ErrTransportUnreachable), errors.Is(err, probe.ErrMissingCredentials):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, action.ErrActionFailed):
		return ErrCodeDeviceRejected
	}
	return ErrCodeBridgeError
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("failed to marshal ack", "error", err)
		return
	}
	topic := mqtt.Topics{}.Ack(ack.DeviceID, ack.LogicalID)
	if err := b.opts.MQTTClient.Publish(topic, payload, 1, false); err != nil {
		b.logger.Error("failed to publish ack", "error", err)
	}
	if ack.Status == AckFailed && ack.Error != nil {
		b.logger.Warn("command failed", "request_id", ack.RequestID, "device_id", ack.DeviceID,
			"logical_id", ack.LogicalID, "code", ack.Error.Code, "message", ack.Error.Message)
	}
}

func (b *Bridge) publishEvent(eventType string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("failed to marshal event", "type", eventType, "error", err)
		return
	}
	if err := b.opts.MQTTClient.Publish(mqtt.Topics{}.Event(eventType), payload, 1, false); err != nil {
		b.logger.Debug("failed to publish event", "type", eventType, "error", err)
	}
}
