package action

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/reolink-core/internal/catalog"
	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/device/devicetest"
	"github.com/nerrad567/reolink-core/internal/hub"
	"github.com/nerrad567/reolink-core/internal/refresh"
	"github.com/nerrad567/reolink-core/internal/statesync"
	"github.com/nerrad567/reolink-core/internal/transport"
)

type fakeSender struct {
	results []transport.Result
	err     error
	sent    []transport.Request
}

func (s *fakeSender) Send(_ context.Context, _ *device.Device, req transport.Request) ([]transport.Result, error) {
	s.sent = append(s.sent, req)
	return s.results, s.err
}

func (s *fakeSender) lastPayload(t *testing.T) string {
	t.Helper()
	if len(s.sent) == 0 || len(s.sent[len(s.sent)-1].Payloads) != 1 {
		t.Fatalf("sent = %+v, want one payload", s.sent)
	}
	return s.sent[len(s.sent)-1].Payloads[0]
}

type fakeRefresher struct{ ids []string }

func (r *fakeRefresher) Refresh(_ context.Context, id string) (*refresh.Report, error) {
	r.ids = append(r.ids, id)
	return &refresh.Report{DeviceID: id}, nil
}

type fakeScenes struct {
	list      *hub.SceneList
	err       error
	activated []int
}

func (s *fakeScenes) List(context.Context, *device.Device) (*hub.SceneList, error) {
	return s.list, s.err
}

func (s *fakeScenes) Activate(_ context.Context, _ *device.Device, id int) (*hub.SceneState, error) {
	s.activated = append(s.activated, id)
	return &hub.SceneState{Success: s.err == nil}, s.err
}

type fakeMotion struct {
	enabled bool
	err     error
	toggles []string
}

func (m *fakeMotion) Enable(context.Context, *device.Device) error {
	m.toggles = append(m.toggles, "enable")
	m.enabled = true
	return m.err
}

func (m *fakeMotion) Disable(context.Context, *device.Device) error {
	m.toggles = append(m.toggles, "disable")
	m.enabled = false
	return m.err
}

func (m *fakeMotion) Status(context.Context, *device.Device) (bool, error) {
	return m.enabled, nil
}

type fixture struct {
	store     *devicetest.Store
	cam       *device.Device
	sender    *fakeSender
	refresher *fakeRefresher
	scenes    *fakeScenes
	motion    *fakeMotion
	exec      *Executor
}

func intPtr(n int) *int       { return &n }
func strPtr(s string) *string { return &s }

func ok200() []transport.Result {
	return []transport.Result{{Code: "SetX", Value: json.RawMessage(`{"rspCode":200}`)}}
}

func testCommands() []device.Command {
	return []device.Command{
		{LogicalID: "SetIrLightsState", Kind: catalog.KindInfo, SubType: "string"},
		{LogicalID: "SetIrLights", Kind: catalog.KindAction, SubType: "select", Config: device.CommandConfig{
			ActionAPI: "SetIrLights",
			Payload:   `{"IrLights":{"channel":#CHANNEL#,"state":#OPTSELECTEDSTR#}}`,
			ValueFrom: "SetIrLightsState",
		}},
		{LogicalID: "SetMdDefaultSensitivityState", Kind: catalog.KindInfo, SubType: "numeric"},
		{LogicalID: "SetMdDefaultSensitivity", Kind: catalog.KindAction, SubType: "slider", RevertBaseline: 51, Config: device.CommandConfig{
			ActionAPI:   "SetMdAlarm",
			Payload:     `{"MdAlarm":{"channel":#CHANNEL#,"useNewSens":1,"newSens":{"sensDef":#OPTR_SLIDER#}}}`,
			ValueFrom:   "SetMdDefaultSensitivityState",
			RevertValue: 51,
		}},
		{LogicalID: "SetPtzByPreset", Kind: catalog.KindAction, SubType: "select", Config: device.CommandConfig{
			ActionAPI: "PtzCtrl",
			Payload:   `{\"channel\":#CHANNEL#,\"op\":\"ToPos\",\"id\":#OPTSELECTEDINT#,\"speed\":#SPEED#}`,
		}},
		{LogicalID: "SetSpeed", Kind: catalog.KindAction, SubType: "slider", Config: device.CommandConfig{MinValue: intPtr(1), MaxValue: intPtr(64)}},
		{LogicalID: "GetPtzPreset", Kind: catalog.KindAction, SubType: "other"},
		{LogicalID: "GetScenes", Kind: catalog.KindAction, SubType: "other"},
		{LogicalID: "SetScene", Kind: catalog.KindAction, SubType: "select", Config: device.CommandConfig{ListValue: "-1|" + hub.DisableScenesLabel}},
		{LogicalID: "refresh", Kind: catalog.KindAction, SubType: "other"},
		{LogicalID: "motionDetectionState", Kind: catalog.KindInfo, SubType: "binary"},
		{LogicalID: "enableMotionDetection", Kind: catalog.KindAction, SubType: "other"},
		{LogicalID: "disableMotionDetection", Kind: catalog.KindAction, SubType: "other"},
		{LogicalID: "NoApi", Kind: catalog.KindAction, SubType: "other"},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := devicetest.NewStore(t)
	cam := store.AddStandalone(t, "Porch", device.Credentials{Host: "10.0.0.5", Username: "admin", Password: "pw"})
	store.AddCommands(t, cam.ID, testCommands()...)

	f := &fixture{
		store:     store,
		cam:       cam,
		sender:    &fakeSender{results: ok200()},
		refresher: &fakeRefresher{},
		scenes:    &fakeScenes{},
		motion:    &fakeMotion{},
	}
	exec, err := NewExecutor(ExecutorOptions{
		Devices:   store.Registry,
		Commands:  store.Repo,
		Sender:    f.sender,
		State:     statesync.New(store.Repo),
		Refresher: f.refresher,
		Scenes:    f.scenes,
		Motion:    f.motion,
	})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	f.exec = exec
	return f
}

func (f *fixture) command(t *testing.T, logicalID string) *device.Command {
	t.Helper()
	c, err := f.store.Repo.GetCommand(context.Background(), f.cam.ID, logicalID)
	if err != nil {
		t.Fatalf("GetCommand(%s) error = %v", logicalID, err)
	}
	return c
}

func TestNewExecutor_RequiresCollaborators(t *testing.T) {
	if _, err := NewExecutor(ExecutorOptions{}); err == nil {
		t.Error("expected error for empty options")
	}
}

func TestExecute_SelectUpdatesLinkedState(t *testing.T) {
	f := newFixture(t)

	if err := f.exec.Execute(context.Background(), f.cam.ID, "SetIrLights", Options{Select: strPtr("Off")}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	want := `{"cmd":"SetIrLights","param":{"IrLights":{"channel":0,"state":"Off"}}}`
	if got := f.sender.lastPayload(t); got != want {
		t.Errorf("payload = %s, want %s", got, want)
	}
	if f.sender.sent[0].Op != transport.OpExecute {
		t.Errorf("op = %s, want %s", f.sender.sent[0].Op, transport.OpExecute)
	}
	if got := f.store.Value(t, f.cam.ID, "SetIrLightsState"); got != "Off" {
		t.Errorf("SetIrLightsState = %q, want Off", got)
	}
}

func TestExecute_RevertedSlider(t *testing.T) {
	f := newFixture(t)

	if err := f.exec.Execute(context.Background(), f.cam.ID, "SetMdDefaultSensitivity", Options{Slider: intPtr(20)}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	want := `{"cmd":"SetMdAlarm","param":{"MdAlarm":{"channel":0,"useNewSens":1,"newSens":{"sensDef":31}}}}`
	if got := f.sender.lastPayload(t); got != want {
		t.Errorf("payload = %s, want %s", got, want)
	}
	if got := f.store.Value(t, f.cam.ID, "SetMdDefaultSensitivityState"); got != "20" {
		t.Errorf("linked state = %q, want 20", got)
	}
}

func TestExecute_Failures(t *testing.T) {
	tests := []struct {
		name    string
		results []transport.Result
		err     error
		wantIs  error
	}{
		{"rejected rspCode", []transport.Result{{Code: "SetIrLights", Value: json.RawMessage(`{"rspCode":-1}`)}}, nil, ErrActionFailed},
		{"device error", []transport.Result{{Code: "SetIrLights", Error: &transport.DeviceError{Detail: "not support", RspCode: -9}}}, nil, ErrActionFailed},
		{"empty response", nil, nil, ErrActionFailed},
		{"transport down", nil, transport.ErrTransportUnreachable, transport.ErrTransportUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.sender.results, f.sender.err = tt.results, tt.err

			err := f.exec.Execute(context.Background(), f.cam.ID, "SetIrLights", Options{Select: strPtr("Off")})
			if !errors.Is(err, tt.wantIs) || !errors.Is(err, ErrActionFailed) {
				t.Fatalf("Execute() error = %v, want %v", err, tt.wantIs)
			}
			if got := f.store.Value(t, f.cam.ID, "SetIrLightsState"); got != "" {
				t.Errorf("linked state changed to %q after failure", got)
			}
		})
	}
}

func TestExecute_CommandErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.exec.Execute(ctx, f.cam.ID, "SetIrLightsState", Options{}); !errors.Is(err, ErrNotAction) {
		t.Errorf("info command: error = %v, want ErrNotAction", err)
	}
	if err := f.exec.Execute(ctx, f.cam.ID, "Nope", Options{}); !errors.Is(err, device.ErrCommandNotFound) {
		t.Errorf("unknown command: error = %v, want ErrCommandNotFound", err)
	}
	if err := f.exec.Execute(ctx, "missing", "SetIrLights", Options{}); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("unknown device: error = %v, want ErrDeviceNotFound", err)
	}
	if err := f.exec.Execute(ctx, f.cam.ID, "NoApi", Options{}); err != nil {
		t.Errorf("action without api: error = %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Errorf("sent %d requests, want none", len(f.sender.sent))
	}
}

func TestExecute_SpeedFeedsPresetMoves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.exec.Execute(ctx, f.cam.ID, "SetPtzByPreset", Options{Select: strPtr("3")}); err != nil {
		t.Fatal(err)
	}
	want := `{"cmd":"PtzCtrl","param":{"channel":0,"op":"ToPos","id":3,"speed":32}}`
	if got := f.sender.lastPayload(t); got != want {
		t.Errorf("default speed payload = %s, want %s", got, want)
	}

	if err := f.exec.Execute(ctx, f.cam.ID, "SetSpeed", Options{Slider: intPtr(70)}); err != nil {
		t.Fatal(err)
	}
	if got := f.command(t, "SetSpeed").Config.SpeedValue; got != 64 {
		t.Errorf("speedvalue = %d, want clamped 64", got)
	}
	if err := f.exec.Execute(ctx, f.cam.ID, "SetSpeed", Options{Slider: intPtr(10)}); err != nil {
		t.Fatal(err)
	}

	if err := f.exec.Execute(ctx, f.cam.ID, "SetPtzByPreset", Options{Select: strPtr("3")}); err != nil {
		t.Fatal(err)
	}
	want = `{"cmd":"PtzCtrl","param":{"channel":0,"op":"ToPos","id":3,"speed":10}}`
	if got := f.sender.lastPayload(t); got != want {
		t.Errorf("payload = %s, want %s", got, want)
	}

	if err := f.exec.Execute(ctx, f.cam.ID, "SetSpeed", Options{}); !errors.Is(err, ErrMissingOption) {
		t.Errorf("SetSpeed without slider: error = %v", err)
	}
}

func TestExecute_LoadPresets(t *testing.T) {
	f := newFixture(t)
	f.sender.results = []transport.Result{{Code: "GetPtzPreset", Value: json.RawMessage(`{"PtzPreset":[
		{"channel":0,"enable":1,"id":1,"name":"Gate"},
		{"channel":0,"enable":0,"id":2,"name":"pos2"},
		{"channel":0,"enable":1,"id":3,"name":"Door"}]}`)}}

	if err := f.exec.Execute(context.Background(), f.cam.ID, "GetPtzPreset", Options{}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := f.sender.lastPayload(t); got != `{"cmd":"GetPtzPreset","action":1,"param":{"channel":0}}` {
		t.Errorf("payload = %s", got)
	}
	if got := f.command(t, "SetPtzByPreset").Config.ListValue; got != "1|Gate;3|Door" {
		t.Errorf("listValue = %q, want 1|Gate;3|Door", got)
	}
}

func TestExecute_Scenes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.scenes.list = &hub.SceneList{Scenes: map[string]string{"1": "Away", "0": "Home"}}

	if err := f.exec.Execute(ctx, f.cam.ID, "GetScenes", Options{}); err != nil {
		t.Fatalf("GetScenes error = %v", err)
	}
	want := "-1|" + hub.DisableScenesLabel + ";0|Home;1|Away"
	if got := f.command(t, "SetScene").Config.ListValue; got != want {
		t.Errorf("listValue = %q, want %q", got, want)
	}

	if err := f.exec.Execute(ctx, f.cam.ID, "SetScene", Options{}); !errors.Is(err, ErrMissingOption) {
		t.Errorf("SetScene without select: error = %v", err)
	}
	if err := f.exec.Execute(ctx, f.cam.ID, "SetScene", Options{Select: strPtr("-1")}); err != nil {
		t.Fatalf("SetScene error = %v", err)
	}
	if len(f.scenes.activated) != 1 || f.scenes.activated[0] != -1 {
		t.Errorf("activated = %v, want [-1]", f.scenes.activated)
	}

	f.scenes.err = hub.ErrNotHub
	if err := f.exec.Execute(ctx, f.cam.ID, "GetScenes", Options{}); !errors.Is(err, hub.ErrNotHub) {
		t.Errorf("non-hub GetScenes: error = %v", err)
	}
}

func TestExecute_Motion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.exec.Execute(ctx, f.cam.ID, "enableMotionDetection", Options{}); err != nil {
		t.Fatal(err)
	}
	if got := f.store.Value(t, f.cam.ID, "motionDetectionState"); got != "1" {
		t.Errorf("motionDetectionState = %q, want 1", got)
	}
	if err := f.exec.Execute(ctx, f.cam.ID, "disableMotionDetection", Options{}); err != nil {
		t.Fatal(err)
	}
	if got := f.store.Value(t, f.cam.ID, "motionDetectionState"); got != "0" {
		t.Errorf("motionDetectionState = %q, want 0", got)
	}

	f.motion.err = hub.ErrMotionRejected
	if err := f.exec.Execute(ctx, f.cam.ID, "enableMotionDetection", Options{}); !errors.Is(err, ErrActionFailed) {
		t.Errorf("rejected toggle: error = %v", err)
	}
}

func TestExecute_Refresh(t *testing.T) {
	f := newFixture(t)
	if err := f.exec.Execute(context.Background(), f.cam.ID, "refresh", Options{}); err != nil {
		t.Fatal(err)
	}
	if len(f.refresher.ids) != 1 || f.refresher.ids[0] != f.cam.ID {
		t.Errorf("refreshed = %v", f.refresher.ids)
	}
}
