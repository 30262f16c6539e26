package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"dispensecore/internal/archive"
	"dispensecore/internal/device"
	"dispensecore/internal/labware"
	"dispensecore/internal/persistence"
	"dispensecore/internal/planner"
	"dispensecore/internal/transferlist"
	"dispensecore/pkg/domain"
)

// sampleCSV is the 16-row validation worklist: A1..A4 four times over.
func sampleCSV() string {
	var b strings.Builder
	b.WriteString("\nSource Plate,Source Well,Destination Plate,Destination Well,Volume\n")
	for round := 0; round < 4; round++ {
		for i := 1; i <= 4; i++ {
			fmt.Fprintf(&b, "Source 1,A%d,Destination %d,A%d,50\n", i, i, i)
		}
	}
	return b.String()
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recorder struct {
	mu   sync.Mutex
	ops  map[string][]bool
	runs []domain.Run
}

func newRecorder() *recorder { return &recorder{ops: make(map[string][]bool)} }

func (r *recorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[op] = append(r.ops[op], success)
}

func (r *recorder) ObserveRun(_ context.Context, run domain.Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
}

func newTestService(t *testing.T, opts ...Option) (*Service, archive.Store) {
	t.Helper()
	store, err := persistence.Open(context.Background(), "memory", "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	arc := archive.NewMemory()
	clock := &stepClock{now: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)}
	ids := 0
	base := []Option{
		WithArchive(arc),
		WithClock(clock.Now),
		WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("run-%d", ids)
		}),
	}
	return NewService(store, append(base, opts...)...), arc
}

func TestPrepareSampleWorklist(t *testing.T) {
	svc, _ := newTestService(t)
	p, err := svc.Prepare(context.Background(), strings.NewReader(sampleCSV()))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(p.Requests) != 16 || len(p.Batches) != 4 || len(p.Plan.Distributions) != 4 {
		t.Fatalf("unexpected shape: %d requests, %d batches, %d distributions", len(p.Requests), len(p.Batches), len(p.Plan.Distributions))
	}
	for i, b := range p.Batches {
		if b.DispenseCount != 4 || b.TotalVolume != 200 {
			t.Fatalf("batch %d: %+v", i, b)
		}
		if got := p.Plan.Distributions[i].Cycles[0].Aspirate; got != 250 {
			t.Fatalf("batch %d aspirate %g, want 250", i, got)
		}
	}
	if p.Summary.TotalVolume != 800 {
		t.Fatalf("summary total %g", p.Summary.TotalVolume)
	}
}

func TestPrepareRejectsUnknownPlate(t *testing.T) {
	svc, _ := newTestService(t)
	csv := "Source Plate,Source Well,Destination Plate,Destination Well,Volume\nSource 9,A1,Destination 1,A1,10\n"
	_, err := svc.Prepare(context.Background(), strings.NewReader(csv))
	var unknown *labware.UnknownLabwareError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownLabwareError, got %v", err)
	}
}

func TestPrepareStrictCapacity(t *testing.T) {
	opts := planner.DefaultOptions()
	opts.Policy = planner.PolicyStrict
	svc, _ := newTestService(t, WithPlannerOptions(opts))
	csv := "Source Plate,Source Well,Destination Plate,Destination Well,Volume\n" +
		"Source 1,A1,Destination 1,A1,150\nSource 1,A1,Destination 1,A2,150\n"
	_, err := svc.Prepare(context.Background(), strings.NewReader(csv))
	var capErr *planner.CapacityError
	if !errors.As(err, &capErr) || capErr.Required != 350 {
		t.Fatalf("expected capacity error, got %v", err)
	}
}

func TestExecuteRecordsRunAndArtifacts(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	svc, arc := newTestService(t, WithMetrics(rec))

	run, err := svc.Execute(ctx, "validation", strings.NewReader(sampleCSV()))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.ID != "run-1" || run.Status != domain.RunStatusSucceeded || run.Name != "validation" {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.Requests != 16 || run.Batches != 4 || run.Cycles != 4 || run.Dispenses != 16 || run.TotalVolume != 800 {
		t.Fatalf("unexpected counts: %+v", run)
	}
	if run.Pipette != "p300_single_gen2" || run.DisposalVolume != 50 {
		t.Fatalf("unexpected settings: %+v", run)
	}
	if !run.FinishedAt.After(run.StartedAt) {
		t.Fatalf("finished %v not after started %v", run.FinishedAt, run.StartedAt)
	}
	wantPlates := map[string]float64{"Destination 1": 200, "Destination 2": 200, "Destination 3": 200, "Destination 4": 200}
	if diff := cmp.Diff(wantPlates, run.PlateVolumes); diff != "" {
		t.Fatalf("plate volumes (-want +got):\n%s", diff)
	}
	wantArtifacts := []string{"runs/run-1/transfers.csv", "runs/run-1/worklist.csv", "runs/run-1/commands.json"}
	if diff := cmp.Diff(wantArtifacts, run.Artifacts); diff != "" {
		t.Fatalf("artifacts (-want +got):\n%s", diff)
	}

	stored, err := svc.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if diff := cmp.Diff(run, stored); diff != "" {
		t.Fatalf("stored run (-want +got):\n%s", diff)
	}

	transfers, err := svc.Artifact(ctx, run.ID, ArtifactTransfers)
	if err != nil {
		t.Fatalf("Artifact: %v", err)
	}
	reqs, err := transferlist.Parse(strings.NewReader(string(transfers)))
	if err != nil || len(reqs) != 16 {
		t.Fatalf("archived transfers: %d %v", len(reqs), err)
	}
	worklist, info, err := archive.ReadAll(ctx, arc, archive.RunKey(run.ID, ArtifactWorklist))
	if err != nil {
		t.Fatalf("worklist: %v", err)
	}
	if info.ContentType != "text/csv" || info.Metadata["run-id"] != "run-1" {
		t.Fatalf("unexpected worklist info: %+v", info)
	}
	if !strings.HasPrefix(string(worklist), "Batch,Source Plate") {
		t.Fatalf("unexpected worklist:\n%s", worklist)
	}

	raw, err := svc.Artifact(ctx, run.ID, ArtifactCommands)
	if err != nil {
		t.Fatalf("commands: %v", err)
	}
	var cmds []device.Command
	if err := json.Unmarshal(raw, &cmds); err != nil {
		t.Fatalf("decode commands: %v", err)
	}
	counts := make(map[device.CommandKind]int)
	for _, c := range cmds {
		counts[c.Kind]++
	}
	if counts[device.CmdPickUpTip] != 4 || counts[device.CmdAspirate] != 4 || counts[device.CmdDispense] != 16 || counts[device.CmdFlowRate] != 1 {
		t.Fatalf("unexpected command counts: %v", counts)
	}

	if got := rec.ops["execute"]; len(got) != 1 || !got[0] {
		t.Fatalf("execute observations: %v", got)
	}
	if got := rec.ops["prepare"]; len(got) != 1 || !got[0] {
		t.Fatalf("prepare observations: %v", got)
	}
	if len(rec.runs) != 1 || rec.runs[0].ID != run.ID {
		t.Fatalf("observed runs: %+v", rec.runs)
	}
}

func TestExecuteEmptyListSucceeds(t *testing.T) {
	svc, _ := newTestService(t)
	run, err := svc.Execute(context.Background(), "", strings.NewReader("Source Plate,Source Well,Destination Plate,Destination Well,Volume\n"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Name != DefaultRunName || run.Status != domain.RunStatusSucceeded || run.Batches != 0 || run.Dispenses != 0 {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestExecuteParseFailureRecordsFailedRun(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	svc, _ := newTestService(t, WithMetrics(rec))
	csv := "Source Plate,Source Well,Destination Plate,Destination Well,Volume\nSource 1,A1,Destination 1,A1,lots\n"
	run, err := svc.Execute(ctx, "bad", strings.NewReader(csv))
	var malformed *transferlist.MalformedRowError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedRowError, got %v", err)
	}
	if run.Status != domain.RunStatusFailed || run.Error == "" || len(run.Artifacts) != 0 {
		t.Fatalf("unexpected run: %+v", run)
	}
	runs, err := svc.ListRuns(ctx)
	if err != nil || len(runs) != 1 || runs[0].Status != domain.RunStatusFailed {
		t.Fatalf("ListRuns: %+v %v", runs, err)
	}
	if got := rec.ops["execute"]; len(got) != 1 || got[0] {
		t.Fatalf("execute observations: %v", got)
	}
}

// jammedDevice fails the nth dispense.
type jammedDevice struct {
	device.Device
	failAt    int
	dispenses int
}

func (d *jammedDevice) Dispense(ctx context.Context, loc planner.Location, volume float64) error {
	d.dispenses++
	if d.dispenses == d.failAt {
		return errors.New("clot detected")
	}
	return d.Device.Dispense(ctx, loc, volume)
}

func TestExecuteDeviceFailureKeepsPartialCounts(t *testing.T) {
	ctx := context.Background()
	factory := func(plan planner.Plan) device.Device {
		return &jammedDevice{Device: device.NewSimulator(plan.Pipette.MaxVolume), failAt: 6}
	}
	svc, _ := newTestService(t, WithDeviceFactory(factory))
	run, err := svc.Execute(ctx, "jam", strings.NewReader(sampleCSV()))
	if err == nil || !strings.Contains(err.Error(), "clot detected") {
		t.Fatalf("expected device error, got %v", err)
	}
	if run.Status != domain.RunStatusFailed || run.Dispenses != 4 || run.TotalVolume != 200 {
		t.Fatalf("unexpected partial run: %+v", run)
	}
	if run.PlateVolumes != nil {
		t.Fatalf("plate volumes recorded for failed run: %v", run.PlateVolumes)
	}
	// The wrapper hides the simulator's command log, so only the CSVs are kept.
	if len(run.Artifacts) != 2 {
		t.Fatalf("unexpected artifacts: %v", run.Artifacts)
	}
}

func TestExecuteArchiveConflictFailsRun(t *testing.T) {
	ctx := context.Background()
	svc, arc := newTestService(t, WithIDGenerator(func() string { return "fixed" }))
	if _, err := archive.PutBytes(ctx, arc, archive.RunKey("fixed", ArtifactTransfers), []byte("x"), "text/plain", nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	run, err := svc.Execute(ctx, "dup", strings.NewReader(sampleCSV()))
	if !errors.Is(err, archive.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if run.Status != domain.RunStatusFailed || run.Dispenses != 0 {
		t.Fatalf("device should not run after archive failure: %+v", run)
	}
}

func TestDeleteRunRemovesArtifacts(t *testing.T) {
	ctx := context.Background()
	svc, arc := newTestService(t)
	run, err := svc.Execute(ctx, "", strings.NewReader(sampleCSV()))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	deleted, err := svc.DeleteRun(ctx, run.ID)
	if err != nil || !deleted {
		t.Fatalf("DeleteRun: %v %v", deleted, err)
	}
	left, err := arc.List(ctx, "runs/")
	if err != nil || len(left) != 0 {
		t.Fatalf("artifacts left: %+v %v", left, err)
	}
	deleted, err = svc.DeleteRun(ctx, run.ID)
	if err != nil || deleted {
		t.Fatalf("second delete: %v %v", deleted, err)
	}
	var nf domain.ErrRunNotFound
	if _, err := svc.GetRun(ctx, run.ID); !errors.As(err, &nf) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestConsolidateOnly(t *testing.T) {
	svc, _ := newTestService(t)
	batches, err := svc.Consolidate(context.Background(), strings.NewReader(sampleCSV()))
	if err != nil || len(batches) != 4 {
		t.Fatalf("Consolidate: %d %v", len(batches), err)
	}
}

func TestExecuteRejectsWellOverflow(t *testing.T) {
	deck, err := labware.LoadDeck(strings.NewReader(`name: pcr
labware:
  - {name: Tips, slot: 3, type: opentrons_96_tiprack_300ul}
  - {name: Source 1, slot: 1, type: nest_96_wellplate_2ml_deep, role: source}
  - {name: PCR, slot: 2, type: nest_96_wellplate_100ul_pcr_full_skirt, role: destination}
`))
	if err != nil {
		t.Fatalf("load deck: %v", err)
	}
	svc, _ := newTestService(t, WithDeck(deck))
	csv := "Source Plate,Source Well,Destination Plate,Destination Well,Volume\nSource 1,a1,PCR,b2,180\n"
	run, err := svc.Execute(context.Background(), "overflow", strings.NewReader(csv))
	if err == nil || !strings.Contains(err.Error(), "working volume 100") {
		t.Fatalf("expected overflow error, got %v", err)
	}
	if run.Status != domain.RunStatusFailed || run.Dispenses != 0 {
		t.Fatalf("unexpected run: %+v", run)
	}
}
