package synth

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/reolink-core/internal/ability"
	"github.com/nerrad567/reolink-core/internal/catalog"
	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/device/devicetest"
)

func mustCatalog(t *testing.T, doc string) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("catalog.Parse() error = %v", err)
	}
	return c
}

func newCamera(t *testing.T) (*devicetest.Store, *device.Device) {
	t.Helper()
	store := devicetest.NewStore(t)
	cam := store.AddStandalone(t, "Cam", device.Credentials{Host: "cam", Username: "admin", Password: "x"})
	return store, cam
}

func TestSynthesize_SingleEligibleSpec(t *testing.T) {
	store, cam := newCamera(t)
	cat := mustCatalog(t, `{"commands":[{"logicalId":"GetPtzPreset","name":"PTZ presets","type":"action","abilityneed":"ptz"}]}`)

	res, err := New(store.Repo).Synthesize(context.Background(), cam, ability.Matrix{"ptz": {Permit: 1}}, cat)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(res.Created) != 1 || res.Created[0].LogicalID != "GetPtzPreset" {
		t.Fatalf("Created = %+v", res.Created)
	}

	set, _ := store.Repo.ListCommands(context.Background(), cam.ID)
	if len(set) != 1 {
		t.Errorf("stored commands = %d, want 1", len(set))
	}
}

func TestSynthesize_NoneOnEmptyMatrix(t *testing.T) {
	store, cam := newCamera(t)
	cat := mustCatalog(t, `{"commands":[
		{"logicalId":"refresh","name":"Refresh","type":"action","abilityneed":"none"},
		{"logicalId":"SetIrLightsState","name":"IR","type":"info","abilityneed":"ledControl"}]}`)

	res, err := New(store.Repo).Synthesize(context.Background(), cam, ability.Matrix{}, cat)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Created) != 1 || res.Created[0].LogicalID != "refresh" {
		t.Errorf("Created = %+v", res.Created)
	}
	if res.Ineligible != 1 {
		t.Errorf("Ineligible = %d, want 1", res.Ineligible)
	}
}

const linkedCatalog = `{"commands":[
	{"logicalId":"SetRecordState","name":"Record state","type":"info","abilityneed":"recCfg",
	 "configuration":{"payload":"{\"cmd\":\"GetRec\",\"action\":0,\"param\":{\"channel\":#CHANNEL#}}"}},
	{"logicalId":"SetRecord","name":"Record","type":"action","subType":"other","abilityneed":"recCfg",
	 "configuration":{"actionapi":"SetRec","valueFrom":"SetRecordState"}},
	{"logicalId":"SetOsdTime","name":"OSD time","type":"action","abilityneed":"osd",
	 "configuration":{"actionapi":"SetOsd","valueFrom":"SetOsdTimeState"}},
	{"logicalId":"SetAiTrack","name":"AI track","type":"action","abilityneed":"supportAiTrack","iastate":1,
	 "configuration":{"actionapi":"SetAiCfg"}}]}`

func TestSynthesize_IdempotentAndLinked(t *testing.T) {
	store, cam := newCamera(t)
	cat := mustCatalog(t, linkedCatalog)
	m := ability.Matrix{"recCfg": {Permit: 1}, "osd": {Permit: 1}, "supportAiTrack": {Permit: 1}}
	s := New(store.Repo)
	ctx := context.Background()

	first, err := s.Synthesize(ctx, cam, m, cat)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Created) != 3 {
		t.Fatalf("first run created %d, want 3 (AI gated entry excluded)", len(first.Created))
	}

	rec, _ := store.Repo.GetCommand(ctx, cam.ID, "SetRecord")
	if rec.LinkedCommand != "SetRecordState" || rec.Order != 1 {
		t.Errorf("SetRecord = %+v", rec)
	}
	osd, _ := store.Repo.GetCommand(ctx, cam.ID, "SetOsdTime")
	if osd.LinkedCommand != "" {
		t.Errorf("SetOsdTime linked to %q, want unlinked", osd.LinkedCommand)
	}
	if len(first.Diagnostics) != 1 || !errors.Is(first.Diagnostics[0].Err, ErrLinkResolutionFailed) {
		t.Errorf("Diagnostics = %+v", first.Diagnostics)
	}

	second, err := s.Synthesize(ctx, cam, m, cat)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Created) != 0 || second.Skipped != 3 {
		t.Errorf("second run = %+v, want nothing created and 3 skipped", second)
	}
}

func TestSynthesize_OnlyAddsAfterMatrixChange(t *testing.T) {
	store, cam := newCamera(t)
	cat := mustCatalog(t, linkedCatalog)
	s := New(store.Repo)
	ctx := context.Background()

	if _, err := s.Synthesize(ctx, cam, ability.Matrix{"recCfg": {Permit: 1}}, cat); err != nil {
		t.Fatal(err)
	}

	cam.SupportsAI = true
	res, err := s.Synthesize(ctx, cam, ability.Matrix{"recCfg": {Permit: 0}, "supportAiTrack": {Permit: 1}}, cat)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Created) != 1 || res.Created[0].LogicalID != "SetAiTrack" || res.Created[0].Order != 2 {
		t.Errorf("Created = %+v", res.Created)
	}

	set, _ := store.Repo.ListCommands(ctx, cam.ID)
	if _, ok := set.Lookup("SetRecord"); !ok {
		t.Error("command removed after its ability was withdrawn")
	}
}

func TestSynthesize_MatchesExistingByName(t *testing.T) {
	store, cam := newCamera(t)
	store.AddCommands(t, cam.ID, device.Command{LogicalID: "legacyRecord", Name: "Record", Kind: catalog.KindAction, Order: 5})
	cat := mustCatalog(t, linkedCatalog)

	res, err := New(store.Repo).Synthesize(context.Background(), cam, ability.Matrix{"recCfg": {Permit: 1}}, cat)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range res.Created {
		if c.LogicalID == "SetRecord" {
			t.Error("SetRecord created despite a command with the same name")
		}
		if c.Order < 6 {
			t.Errorf("%s order = %d, want after existing commands", c.LogicalID, c.Order)
		}
	}
}

func TestSynthesize_ConcurrentRunsDoNotDuplicate(t *testing.T) {
	store, cam := newCamera(t)
	cat := mustCatalog(t, linkedCatalog)
	m := ability.Matrix{"recCfg": {Permit: 1}, "osd": {Permit: 1}}
	s := New(store.Repo)

	var wg sync.WaitGroup
	created := make([]int, 4)
	for i := range created {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.Synthesize(context.Background(), cam, m, cat)
			if err != nil {
				t.Errorf("Synthesize() error = %v", err)
				return
			}
			created[i] = len(res.Created)
		}(i)
	}
	wg.Wait()

	total := 0
	for _, n := range created {
		total += n
	}
	if total != 3 {
		t.Errorf("total created = %d, want 3", total)
	}
}

type failingStore struct{ CommandStore }

func (failingStore) ListCommands(context.Context, string) (device.CommandSet, error) {
	return nil, errors.New("database locked")
}

func TestSynthesize_StoreFailure(t *testing.T) {
	cat := mustCatalog(t, linkedCatalog)
	_, err := New(failingStore{}).Synthesize(context.Background(), &device.Device{ID: "x"}, ability.Matrix{}, cat)
	if err == nil {
		t.Fatal("expected error")
	}
}
