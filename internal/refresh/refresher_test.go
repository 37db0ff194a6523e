package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/reolink-core/internal/demux"
	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/device/devicetest"
	"github.com/nerrad567/reolink-core/internal/infrastructure/config"
	"github.com/nerrad567/reolink-core/internal/statesync"
	"github.com/nerrad567/reolink-core/internal/transport"
)

var camCreds = device.Credentials{Host: "10.0.0.5", Username: "admin", Password: "pw"}

type fakeMotion struct {
	enabled bool
	err     error
	calls   int
}

func (m *fakeMotion) Status(context.Context, *device.Device) (bool, error) {
	m.calls++
	return m.enabled, m.err
}

type cycleRecord struct {
	deviceID, outcome string
	updates           int
}

type fakeRecorder struct {
	records []cycleRecord
}

func (r *fakeRecorder) WriteRefreshCycle(deviceID, outcome string, _ time.Duration, updates int, _ time.Time) {
	r.records = append(r.records, cycleRecord{deviceID, outcome, updates})
}

func newTestRefresher(t *testing.T, store *devicetest.Store, sender Sender, batchSize int, mutate func(*Options)) *Refresher {
	t.Helper()
	opts := Options{
		Devices:   store.Registry,
		Commands:  store.Repo,
		Scheduler: NewScheduler(sender, batchSize),
		Demuxer:   demux.New(),
		State:     statesync.New(store.Repo),
	}
	if mutate != nil {
		mutate(&opts)
	}
	r, err := NewRefresher(opts)
	if err != nil {
		t.Fatalf("NewRefresher() error = %v", err)
	}
	return r
}

func readCommands() []device.Command {
	return []device.Command{
		info("SetIrLightsState", "GetIrLights", 0),
		info("SetPowerLedState", "GetPowerLed", 1),
		info("SetMaskState", "GetMask", 2),
		info("SetUpnpState", "GetUpnp", 3),
		info("SetUidP2pState", "GetP2p", 4),
	}
}

func TestNewRefresher_RequiresCollaborators(t *testing.T) {
	store := devicetest.NewStore(t)
	full := Options{
		Devices:   store.Registry,
		Commands:  store.Repo,
		Scheduler: NewScheduler(nil, 0),
		Demuxer:   demux.New(),
		State:     statesync.New(store.Repo),
	}
	tests := []struct {
		name  string
		clear func(*Options)
	}{
		{"devices", func(o *Options) { o.Devices = nil }},
		{"commands", func(o *Options) { o.Commands = nil }},
		{"scheduler", func(o *Options) { o.Scheduler = nil }},
		{"demuxer", func(o *Options) { o.Demuxer = nil }},
		{"state", func(o *Options) { o.State = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := full
			tt.clear(&opts)
			if _, err := NewRefresher(opts); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := NewRefresher(full); err != nil {
		t.Errorf("NewRefresher(full) error = %v", err)
	}
}

func TestRefresh_StoresDecodedValues(t *testing.T) {
	store := devicetest.NewStore(t)
	cam := store.AddStandalone(t, "Porch", camCreds)
	store.AddCommands(t, cam.ID, readCommands()[:2]...)

	sender := &scriptedSender{replies: []reply{{results: []transport.Result{
		ok("GetIrLights", `{"IrLights":{"channel":0,"state":"Auto"}}`),
		ok("GetPowerLed", `{"PowerLed":{"channel":0,"state":"Off"}}`),
	}}}}
	rec := &fakeRecorder{}
	r := newTestRefresher(t, store, sender, 8, func(o *Options) { o.Recorder = rec })

	report, err := r.Refresh(context.Background(), cam.ID)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if report.Results != 2 || report.Updates != 2 {
		t.Errorf("report = %+v", report)
	}
	if got := store.Value(t, cam.ID, "SetIrLightsState"); got != "Auto" {
		t.Errorf("SetIrLightsState = %q, want Auto", got)
	}
	if got := store.Value(t, cam.ID, "SetPowerLedState"); got != "Off" {
		t.Errorf("SetPowerLedState = %q, want Off", got)
	}
	if len(rec.records) != 1 || rec.records[0].outcome != "ok" || rec.records[0].updates != 2 {
		t.Errorf("recorded cycles = %+v", rec.records)
	}
}

func TestRefresh_AbortedCycleKeepsFirstBatch(t *testing.T) {
	store := devicetest.NewStore(t)
	cam := store.AddStandalone(t, "Porch", camCreds)
	store.AddCommands(t, cam.ID, readCommands()...)

	sender := &scriptedSender{replies: []reply{
		{results: []transport.Result{
			ok("GetIrLights", `{"IrLights":{"channel":0,"state":"On"}}`),
			ok("GetPowerLed", `{"PowerLed":{"channel":0,"state":"On"}}`),
		}},
		{err: transport.ErrTransportUnreachable},
	}}
	rec := &fakeRecorder{}
	r := newTestRefresher(t, store, sender, 2, func(o *Options) { o.Recorder = rec })

	report, err := r.Refresh(context.Background(), cam.ID)
	if !errors.Is(err, ErrCycleAborted) {
		t.Fatalf("Refresh() error = %v, want ErrCycleAborted", err)
	}
	if report == nil || report.Updates != 2 {
		t.Errorf("report = %+v, want 2 updates", report)
	}
	if sender.calls() != 2 {
		t.Errorf("sent %d batches, want 2", sender.calls())
	}
	if got := store.Value(t, cam.ID, "SetIrLightsState"); got != "On" {
		t.Errorf("SetIrLightsState = %q, want On", got)
	}
	if got := store.Value(t, cam.ID, "SetMaskState"); got != "" {
		t.Errorf("SetMaskState = %q, want untouched", got)
	}
	if len(rec.records) != 1 || rec.records[0].outcome != "aborted" {
		t.Errorf("recorded cycles = %+v", rec.records)
	}
}

func TestRefresh_DisabledDevice(t *testing.T) {
	store := devicetest.NewStore(t)
	cam := store.AddStandalone(t, "Porch", camCreds)
	cam.Enabled = false
	if err := store.Registry.UpdateDevice(context.Background(), cam); err != nil {
		t.Fatal(err)
	}
	sender := &scriptedSender{}
	r := newTestRefresher(t, store, sender, 8, nil)

	if _, err := r.Refresh(context.Background(), cam.ID); !errors.Is(err, ErrDeviceDisabled) {
		t.Errorf("Refresh() error = %v, want ErrDeviceDisabled", err)
	}
	if sender.calls() != 0 {
		t.Error("disabled device was contacted")
	}
}

func TestRefresh_UnknownDevice(t *testing.T) {
	store := devicetest.NewStore(t)
	r := newTestRefresher(t, store, &scriptedSender{}, 8, nil)

	if _, err := r.Refresh(context.Background(), "missing"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Refresh() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRefresh_PollsMotionInBaichuanMode(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		fail      bool
		wantCalls int
		wantValue string
	}{
		{"baichuan", config.DetectionModeBaichuan, false, 1, "1"},
		{"onvif", "onvif", false, 0, ""},
		{"aborted cycle", config.DetectionModeBaichuan, true, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := devicetest.NewStore(t)
			cam := store.AddStandalone(t, "Porch", camCreds)
			store.AddCommands(t, cam.ID,
				info("SetMaskState", "GetMask", 0),
				device.Command{LogicalID: motionStateID, Kind: "info", Order: 1},
			)
			r1 := reply{results: []transport.Result{ok("GetMask", `{"Mask":{"enable":1}}`)}}
			if tt.fail {
				r1 = reply{err: transport.ErrTransportUnreachable}
			}
			motion := &fakeMotion{enabled: true}
			r := newTestRefresher(t, store, &scriptedSender{replies: []reply{r1}}, 8, func(o *Options) {
				o.Motion = motion
				o.DetectionMode = tt.mode
			})

			_, _ = r.Refresh(context.Background(), cam.ID)

			if motion.calls != tt.wantCalls {
				t.Errorf("motion polled %d times, want %d", motion.calls, tt.wantCalls)
			}
			if got := store.Value(t, cam.ID, motionStateID); got != tt.wantValue {
				t.Errorf("%s = %q, want %q", motionStateID, got, tt.wantValue)
			}
		})
	}
}

// blockingSender holds every call until release is closed.
type blockingSender struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSender) Send(context.Context, *device.Device, transport.Request) ([]transport.Result, error) {
	if s.calls.Add(1) == 1 {
		close(s.entered)
	}
	<-s.release
	return []transport.Result{ok("GetMask", `{"Mask":{"enable":0}}`)}, nil
}

func TestRefresh_SingleFlightPerDevice(t *testing.T) {
	store := devicetest.NewStore(t)
	cam := store.AddStandalone(t, "Porch", camCreds)
	store.AddCommands(t, cam.ID, info("SetMaskState", "GetMask", 0))

	sender := &blockingSender{entered: make(chan struct{}), release: make(chan struct{})}
	r := newTestRefresher(t, store, sender, 8, nil)

	var wg sync.WaitGroup
	reports := make([]*Report, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[0], _ = r.Refresh(context.Background(), cam.ID)
	}()
	<-sender.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[1], _ = r.Refresh(context.Background(), cam.ID)
	}()
	time.Sleep(100 * time.Millisecond)
	close(sender.release)
	wg.Wait()

	if n := sender.calls.Load(); n != 1 {
		t.Errorf("sender called %d times, want 1", n)
	}
	if reports[0] == nil || reports[0] != reports[1] {
		t.Errorf("callers did not share the report: %p %p", reports[0], reports[1])
	}
}

// cancellableSender holds calls until release is closed or the call's
// context ends.
type cancellableSender struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *cancellableSender) Send(ctx context.Context, _ *device.Device, _ transport.Request) ([]transport.Result, error) {
	s.once.Do(func() { close(s.entered) })
	select {
	case <-s.release:
		return []transport.Result{ok("GetMask", `{"Mask":{"enable":1}}`)}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRefresh_CancelledCallerDoesNotAbortSharedCycle(t *testing.T) {
	store := devicetest.NewStore(t)
	cam := store.AddStandalone(t, "Porch", camCreds)
	store.AddCommands(t, cam.ID, info("SetMaskState", "GetMask", 0))

	sender := &cancellableSender{entered: make(chan struct{}), release: make(chan struct{})}
	r := newTestRefresher(t, store, sender, 8, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Refresh(firstCtx, cam.ID)
		firstErr <- err
	}()
	<-sender.entered

	type outcome struct {
		report *Report
		err    error
	}
	second := make(chan outcome, 1)
	go func() {
		report, err := r.Refresh(context.Background(), cam.ID)
		second <- outcome{report, err}
	}()
	time.Sleep(100 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("first caller error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first caller did not return after cancellation")
	}

	close(sender.release)
	select {
	case got := <-second:
		if got.err != nil {
			t.Fatalf("joined caller error = %v", got.err)
		}
		if got.report == nil || got.report.Updates != 1 {
			t.Errorf("joined caller report = %+v", got.report)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("joined caller did not return")
	}
	if got := store.Value(t, cam.ID, "SetMaskState"); got != "1" {
		t.Errorf("SetMaskState = %q, want 1", got)
	}
}

func TestNewRefresher_DefaultCycleTimeout(t *testing.T) {
	store := devicetest.NewStore(t)
	r := newTestRefresher(t, store, &scriptedSender{}, 8, nil)
	if r.opts.CycleTimeout != DefaultCycleTimeout {
		t.Errorf("CycleTimeout = %v, want %v", r.opts.CycleTimeout, DefaultCycleTimeout)
	}
}
