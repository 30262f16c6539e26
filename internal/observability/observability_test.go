package observability

import (
	"bytes"
	"context"
	"dispensecore/pkg/domain"
	"encoding/json"
	"errors"
	"expvar"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"dispensecore/testutil"
)

func TestSourcesAreFormatted(t *testing.T) {
	testutil.AssertFormatted(t, "observability.go")
}

func TestExpvarRecorderAggregates(t *testing.T) {
	ctx := context.Background()
	rec := NewExpvarRecorder("")
	rec.Observe(ctx, "prepare", true, 2*time.Millisecond)
	rec.Observe(ctx, "prepare", false, 3*time.Millisecond)
	rec.Observe(ctx, "", true, time.Second)
	rec.ObserveRun(ctx, domain.Run{Status: domain.RunStatusSucceeded, Dispenses: 16, TotalVolume: 800})

	snap := rec.Snapshot()
	if snap.DurationsMS["prepare"] != 5 {
		t.Fatalf("expected 5ms total, got %v", snap.DurationsMS["prepare"])
	}
	if snap.Results["prepare"]["success"] != 1 || snap.Results["prepare"]["error"] != 1 {
		t.Fatalf("unexpected results %+v", snap.Results)
	}
	if _, ok := snap.Results[""]; ok {
		t.Fatalf("empty operation must be ignored")
	}
	if snap.Runs[domain.RunStatusSucceeded] != 1 || snap.Dispenses != 16 || snap.VolumeUL != 800 {
		t.Fatalf("unexpected run totals %+v", snap)
	}
	v := expvar.Get(rec.Name())
	if v == nil || !strings.Contains(v.String(), "durations_ms_total") {
		t.Fatalf("recorder not published: %v", v)
	}
}

func TestJSONTracerWritesLines(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "execute")
	span.End(errors.New("no tip"))
	span.End(nil)
	_, ok := tracer.Start(context.Background(), "prepare")
	ok.End(nil)

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(entries))
	}
	if entries[0].Status != "error" || entries[0].Error != "no tip" || entries[1].Status != "success" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 json lines, got %q", buf.String())
	}
	var decoded JSONTraceEntry
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil || decoded.Operation != "execute" {
		t.Fatalf("decode line: %v %+v", err, decoded)
	}
}

func gather(t *testing.T, r *PrometheusRecorder) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := r.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func TestPrometheusRecorder(t *testing.T) {
	ctx := context.Background()
	rec, err := NewPrometheusRecorder("dc")
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	rec.Observe(ctx, "execute", true, 20*time.Millisecond)
	rec.Observe(ctx, "execute", false, 5*time.Millisecond)
	rec.ObserveRun(ctx, domain.Run{Status: domain.RunStatusSucceeded, Batches: 4, Dispenses: 16, TotalVolume: 800})

	mfs := gather(t, rec)
	hist := mfs["dc_operation_duration_seconds"]
	if hist == nil || len(hist.GetMetric()) != 2 {
		t.Fatalf("expected two histogram series, got %v", hist)
	}
	for name, want := range map[string]float64{
		"dc_batches_total":            4,
		"dc_dispenses_total":          16,
		"dc_volume_microliters_total": 800,
	} {
		mf := mfs[name]
		if mf == nil || mf.GetMetric()[0].GetCounter().GetValue() != want {
			t.Fatalf("%s: want %v got %v", name, want, mf)
		}
	}
	runs := mfs["dc_runs_total"]
	if runs == nil || runs.GetMetric()[0].GetLabel()[0].GetValue() != "succeeded" {
		t.Fatalf("unexpected runs counter %v", runs)
	}

	path := filepath.Join(t.TempDir(), "dispensecore.prom")
	if err := rec.WriteTextfile(path); err != nil {
		t.Fatalf("write textfile: %v", err)
	}
	body, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(body), "dc_dispenses_total 16") {
		t.Fatalf("unexpected textfile %q %v", body, err)
	}
}

func TestMultiFansOut(t *testing.T) {
	ctx := context.Background()
	a := NewExpvarRecorder("")
	b := NewExpvarRecorder("")
	m := Multi(a, nil, b, NoopMetrics())
	m.Observe(ctx, "plan", true, time.Millisecond)
	m.(RunObserver).ObserveRun(ctx, domain.Run{Status: domain.RunStatusFailed})
	for _, rec := range []*ExpvarRecorder{a, b} {
		snap := rec.Snapshot()
		if snap.Results["plan"]["success"] != 1 || snap.Runs[domain.RunStatusFailed] != 1 {
			t.Fatalf("fan-out missed a recorder: %+v", snap)
		}
	}
	_, span := NoopTracer().Start(ctx, "x")
	span.End(nil)
}
