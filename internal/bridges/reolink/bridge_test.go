package reolink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
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

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type mockMQTT struct {
	mu          sync.Mutex
	connected   bool
	published   []published
	handlers    map[string]mqtt.MessageHandler
	unsubscribe []string
	subErr      error
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{connected: true, handlers: map[string]mqtt.MessageHandler{}}
}

func (m *mockMQTT) Publish(topic string, payload []byte, _ byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, published{topic, payload, retained})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return m.subErr
	}
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTT) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribe = append(m.unsubscribe, topic)
	return nil
}

func (m *mockMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMQTT) on(prefix string) []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []published
	for _, p := range m.published {
		if strings.HasPrefix(p.topic, prefix) {
			out = append(out, p)
		}
	}
	return out
}

func (m *mockMQTT) acks(t *testing.T) []AckMessage {
	t.Helper()
	var out []AckMessage
	for _, p := range m.on(mqtt.TopicPrefix + "/ack/") {
		var ack AckMessage
		if err := json.Unmarshal(p.payload, &ack); err != nil {
			t.Fatalf("bad ack %s: %v", p.payload, err)
		}
		out = append(out, ack)
	}
	return out
}

type mockDevices struct {
	mu        sync.Mutex
	devices   map[string]*device.Device
	abilities map[string]ability.Matrix
}

func (d *mockDevices) GetDevice(_ context.Context, id string) (*device.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.devices[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return dev.DeepCopy(), nil
}

func (d *mockDevices) UpdateDevice(_ context.Context, dev *device.Device) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[dev.ID] = dev.DeepCopy()
	return nil
}

func (d *mockDevices) SetAbilities(_ context.Context, id string, m ability.Matrix, _ bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.abilities[id] = m
	return nil
}

func (d *mockDevices) GetDeviceCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.devices)
}

type mockProber struct {
	identity    probe.Identity
	identifyErr error
	matrix      ability.Matrix
	probeErr    error
	invalidated []string
}

func (p *mockProber) Identify(context.Context, *device.Device) (probe.Identity, error) {
	return p.identity, p.identifyErr
}

func (p *mockProber) Probe(context.Context, *device.Device) (ability.Matrix, error) {
	return p.matrix, p.probeErr
}

func (p *mockProber) Invalidate(id string) { p.invalidated = append(p.invalidated, id) }

type mockSynth struct {
	calls  int
	result synth.Result
	role   device.Role
}

func (s *mockSynth) Synthesize(_ context.Context, dev *device.Device, _ ability.Matrix, _ *catalog.Catalog) (synth.Result, error) {
	s.calls++
	s.role = dev.Role
	return s.result, nil
}

type execCall struct {
	deviceID, logicalID string
	opts                action.Options
}

type mockExecutor struct {
	mu    sync.Mutex
	calls []execCall
	err   error
}

func (e *mockExecutor) Execute(_ context.Context, deviceID, logicalID string, opts action.Options) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, execCall{deviceID, logicalID, opts})
	return e.err
}

type mockRefresher struct {
	report *refresh.Report
	err    error
}

func (r *mockRefresher) Refresh(context.Context, string) (*refresh.Report, error) {
	return r.report, r.err
}

type mockScheduler struct{ scheduled []string }

func (s *mockScheduler) Schedule(dev *device.Device) error {
	s.scheduled = append(s.scheduled, dev.ID)
	return nil
}

type harness struct {
	mqtt      *mockMQTT
	devices   *mockDevices
	prober    *mockProber
	synth     *mockSynth
	executor  *mockExecutor
	refresher *mockRefresher
	scheduler *mockScheduler
	bridge    *Bridge
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cat, err := catalog.Parse([]byte(`{"commands":[{"logicalId":"refresh","name":"Rafraichir","type":"action","subType":"other","abilityneed":"none"}]}`))
	if err != nil {
		t.Fatalf("catalog.Parse() error = %v", err)
	}
	h := &harness{
		mqtt: newMockMQTT(),
		devices: &mockDevices{
			devices: map[string]*device.Device{
				"cam": {ID: "cam", Name: "Porch", Role: device.RoleStandalone, Enabled: true, Credentials: device.Credentials{Host: "10.0.0.5", Username: "admin", Password: "pw"}},
			},
			abilities: map[string]ability.Matrix{},
		},
		prober:    &mockProber{matrix: ability.Matrix{"ptz": {Permit: 1}, "scene": {Permit: 1}}},
		synth:     &mockSynth{result: synth.Result{Created: make([]device.Command, 3), Ineligible: 2}},
		executor:  &mockExecutor{},
		refresher: &mockRefresher{report: &refresh.Report{DeviceID: "cam", Updates: 4, Duration: 250 * time.Millisecond}},
		scheduler: &mockScheduler{},
	}
	b, err := NewBridge(BridgeOptions{
		Version:     "test",
		MQTTClient:  h.mqtt,
		Devices:     h.devices,
		Prober:      h.prober,
		Synthesizer: h.synth,
		Catalog:     cat,
		Executor:    h.executor,
		Refresher:   h.refresher,
		Scheduler:   h.scheduler,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	h.bridge = b
	return h
}

func TestNewBridge_RequiresCollaborators(t *testing.T) {
	full := newHarness(t).bridge.opts
	tests := []struct {
		name  string
		clear func(*BridgeOptions)
	}{
		{"mqtt", func(o *BridgeOptions) { o.MQTTClient = nil }},
		{"devices", func(o *BridgeOptions) { o.Devices = nil }},
		{"prober", func(o *BridgeOptions) { o.Prober = nil }},
		{"synthesizer", func(o *BridgeOptions) { o.Synthesizer = nil }},
		{"catalog", func(o *BridgeOptions) { o.Catalog = nil }},
		{"executor", func(o *BridgeOptions) { o.Executor = nil }},
		{"refresher", func(o *BridgeOptions) { o.Refresher = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := full
			tt.clear(&opts)
			if _, err := NewBridge(opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.bridge.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, ok := h.mqtt.handlers[mqtt.Topics{}.AllCommands()]; !ok {
		t.Error("not subscribed to command topics")
	}
	h.bridge.Stop()
	h.bridge.Stop()

	health := h.mqtt.on(mqtt.Topics{}.Health())
	if len(health) < 2 {
		t.Fatalf("health messages = %d, want at least starting and stopping", len(health))
	}
	var first, last HealthMessage
	_ = json.Unmarshal(health[0].payload, &first)
	_ = json.Unmarshal(health[len(health)-1].payload, &last)
	if first.Status != HealthStarting || last.Status != HealthStopping {
		t.Errorf("health statuses = %s..%s, want starting..stopping", first.Status, last.Status)
	}
	if !health[0].retained {
		t.Error("health must be retained")
	}
	if len(h.mqtt.unsubscribe) != 1 {
		t.Errorf("unsubscribed %v", h.mqtt.unsubscribe)
	}
}

func TestStart_SubscribeError(t *testing.T) {
	h := newHarness(t)
	h.mqtt.subErr = errors.New("broker gone")
	if err := h.bridge.Start(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestHandleCommand(t *testing.T) {
	tests := []struct {
		name       string
		topic      string
		payload    string
		execErr    error
		wantErr    error
		wantCalls  int
		wantStatus []AckStatus
		wantCode   string
	}{
		{
			name:       "select as number",
			topic:      "reolink/command/cam/SetPtzByPreset",
			payload:    `{"request_id":"r1","select":3}`,
			wantCalls:  1,
			wantStatus: []AckStatus{AckAccepted},
		},
		{
			name:       "executor failure",
			topic:      "reolink/command/cam/SetIrLights",
			payload:    `{"request_id":"r2","select":"Off"}`,
			execErr:    fmt.Errorf("%w: rspCode -1", action.ErrActionFailed),
			wantCalls:  1,
			wantStatus: []AckStatus{AckAccepted, AckFailed},
			wantCode:   ErrCodeDeviceRejected,
		},
		{
			name:       "malformed payload",
			topic:      "reolink/command/cam/SetIrLights",
			payload:    `{"select":`,
			wantErr:    ErrInvalidMessage,
			wantStatus: []AckStatus{AckFailed},
			wantCode:   ErrCodeInvalidMessage,
		},
		{
			name:       "select of wrong type",
			topic:      "reolink/command/cam/SetIrLights",
			payload:    `{"select":{"a":1}}`,
			wantErr:    ErrInvalidMessage,
			wantStatus: []AckStatus{AckFailed},
			wantCode:   ErrCodeInvalidMessage,
		},
		{
			name:    "bad topic",
			topic:   "reolink/command/cam",
			payload: `{}`,
			wantErr: ErrInvalidTopic,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.executor.err = tt.execErr

			err := h.bridge.handleCommand(tt.topic, []byte(tt.payload))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("handleCommand() error = %v, want %v", err, tt.wantErr)
			}
			h.bridge.Stop()

			if len(h.executor.calls) != tt.wantCalls {
				t.Fatalf("executor calls = %d, want %d", len(h.executor.calls), tt.wantCalls)
			}
			acks := h.mqtt.acks(t)
			if len(acks) != len(tt.wantStatus) {
				t.Fatalf("acks = %+v, want statuses %v", acks, tt.wantStatus)
			}
			for i, want := range tt.wantStatus {
				if acks[i].Status != want {
					t.Errorf("ack %d status = %s, want %s", i, acks[i].Status, want)
				}
			}
			if tt.wantCode != "" {
				last := acks[len(acks)-1]
				if last.Error == nil || last.Error.Code != tt.wantCode {
					t.Errorf("ack error = %+v, want code %s", last.Error, tt.wantCode)
				}
			}
		})
	}
}

func TestHandleCommand_PassesOptions(t *testing.T) {
	h := newHarness(t)
	if err := h.bridge.handleCommand("reolink/command/cam/SetMdDefaultSensitivity", []byte(`{"request_id":"r9","slider":20}`)); err != nil {
		t.Fatal(err)
	}
	h.bridge.Stop()

	call := h.executor.calls[0]
	if call.deviceID != "cam" || call.logicalID != "SetMdDefaultSensitivity" {
		t.Errorf("call = %+v", call)
	}
	if call.opts.Select != nil || call.opts.Slider == nil || *call.opts.Slider != 20 {
		t.Errorf("options = %+v", call.opts)
	}
	acks := h.mqtt.acks(t)
	if acks[0].RequestID != "r9" {
		t.Errorf("request id = %q", acks[0].RequestID)
	}
	if got := h.mqtt.on("reolink/ack/cam/SetMdDefaultSensitivity"); len(got) != 1 {
		t.Errorf("ack topic not used: %d", len(got))
	}
	if s := h.bridge.Stats(); s.CommandsReceived != 1 || s.CommandsFailed != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestHandleCommand_AfterStop(t *testing.T) {
	h := newHarness(t)
	h.bridge.Stop()

	err := h.bridge.handleCommand("reolink/command/cam/refresh", []byte(`{}`))
	if !errors.Is(err, ErrBridgeStopped) {
		t.Errorf("error = %v, want ErrBridgeStopped", err)
	}
	if len(h.executor.calls) != 0 {
		t.Error("executed after stop")
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", context.DeadlineExceeded), ErrCodeTimeout},
		{action.ErrMissingOption, ErrCodeInvalidParameters},
		{action.ErrInvalidPayload, ErrCodeInvalidParameters},
		{action.ErrNotAction, ErrCodeInvalidCommand},
		{device.ErrCommandNotFound, ErrCodeNotConfigured},
		{device.ErrDeviceNotFound, ErrCodeNotConfigured},
		{fmt.Errorf("%w: %w", action.ErrActionFailed, hub.ErrNotHub), ErrCodeNotHub},
		{fmt.Errorf("%w: %w", action.ErrActionFailed, transport.ErrTransportUnreachable), ErrCodeDeviceUnreachable},
		{action.ErrActionFailed, ErrCodeDeviceRejected},
		{errors.New("other"), ErrCodeBridgeError},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestProvision(t *testing.T) {
	h := newHarness(t)
	h.prober.identity = probe.Identity{Model: "Reolink Home Hub", Firmware: "v3", IsHub: true, SupportsAI: true}

	report, err := h.bridge.Provision(context.Background(), "cam")
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	stored := h.devices.devices["cam"]
	if stored.Role != device.RoleHub || stored.Model != "Reolink Home Hub" {
		t.Errorf("stored device = %+v", stored)
	}
	if h.synth.role != device.RoleHub {
		t.Errorf("synthesized as %s, want hub", h.synth.role)
	}
	if h.devices.abilities["cam"].Len() != 2 {
		t.Error("abilities not stored")
	}
	if len(h.prober.invalidated) != 1 {
		t.Error("ability cache not invalidated before probing")
	}
	if report.Created != 3 || report.Ineligible != 2 || report.Abilities != 2 {
		t.Errorf("report = %+v", report)
	}
	if report.Device.Credentials.Password != "" {
		t.Error("report leaks the password")
	}
	if len(h.scheduler.scheduled) != 1 {
		t.Error("autorefresh not scheduled")
	}

	events := h.mqtt.on(mqtt.Topics{}.Event("device_provisioned"))
	if len(events) != 1 {
		t.Fatalf("provisioned events = %d", len(events))
	}
	var ev ProvisionedEvent
	if err := json.Unmarshal(events[0].payload, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.DeviceID != "cam" || ev.Role != "hub" || ev.Created != 3 {
		t.Errorf("event = %+v", ev)
	}
}

func TestProvision_Failures(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		setup   func(*harness)
		wantErr error
	}{
		{"unknown device", "nope", func(*harness) {}, device.ErrDeviceNotFound},
		{"missing credentials", "cam", func(h *harness) { h.prober.identifyErr = probe.ErrMissingCredentials }, probe.ErrMissingCredentials},
		{"probe unreachable", "cam", func(h *harness) { h.prober.probeErr = probe.ErrProbeUnreachable }, probe.ErrProbeUnreachable},
		{"empty abilities", "cam", func(h *harness) { h.prober.probeErr = probe.ErrEmptyAbilitySet }, probe.ErrEmptyAbilitySet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)

			if _, err := h.bridge.Provision(context.Background(), tt.id); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Provision() error = %v, want %v", err, tt.wantErr)
			}
			if h.synth.calls != 0 {
				t.Error("synthesized after a failed probe")
			}
			if len(h.mqtt.on(mqtt.Topics{}.Event("device_provisioned"))) != 0 {
				t.Error("provisioned event published on failure")
			}
		})
	}
}

func TestRefresh_PublishesOutcome(t *testing.T) {
	h := newHarness(t)

	if _, err := h.bridge.Refresh(context.Background(), "cam"); err != nil {
		t.Fatal(err)
	}
	h.refresher.err = refresh.ErrCycleAborted
	if _, err := h.bridge.Refresh(context.Background(), "cam"); !errors.Is(err, refresh.ErrCycleAborted) {
		t.Fatalf("Refresh() error = %v", err)
	}

	events := h.mqtt.on(mqtt.Topics{}.Event("device_refreshed"))
	if len(events) != 2 {
		t.Fatalf("refresh events = %d, want 2", len(events))
	}
	var ok, failed RefreshedEvent
	_ = json.Unmarshal(events[0].payload, &ok)
	_ = json.Unmarshal(events[1].payload, &failed)
	if ok.Outcome != "ok" || ok.Updates != 4 || ok.DurationMS != 250 {
		t.Errorf("ok event = %+v", ok)
	}
	if failed.Outcome != "failed" || failed.Error == "" {
		t.Errorf("failed event = %+v", failed)
	}
	if s := h.bridge.Stats(); s.RefreshCycles != 2 || s.RefreshFailures != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestWorkflowsAfterStop(t *testing.T) {
	h := newHarness(t)
	h.bridge.Stop()

	if _, err := h.bridge.Provision(context.Background(), "cam"); !errors.Is(err, ErrBridgeStopped) {
		t.Errorf("Provision() error = %v", err)
	}
	if _, err := h.bridge.Refresh(context.Background(), "cam"); !errors.Is(err, ErrBridgeStopped) {
		t.Errorf("Refresh() error = %v", err)
	}
}
