package observability

import (
	"context"
	"dispensecore/pkg/domain"
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq uint64

// ExpvarRecorder publishes aggregate timing and result counters via expvar
// for deployments that prefer process-local metrics. Durations are kept as
// millisecond totals per operation.
type ExpvarRecorder struct {
	name      string
	mu        sync.Mutex
	durations map[string]float64
	results   map[string]map[string]int64
	runs      map[domain.RunStatus]int64
	dispenses int64
	volume    float64
}

// ExpvarSnapshot captures a read-only view of the recorded metrics.
type ExpvarSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	Runs        map[domain.RunStatus]int64  `json:"runs_total"`
	Dispenses   int64                       `json:"dispenses_total"`
	VolumeUL    float64                     `json:"volume_microliters_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarRecorder constructs an expvar-backed recorder and publishes it
// under name. When name is empty, a unique identifier is generated.
func NewExpvarRecorder(name string) *ExpvarRecorder {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("dispensecore_metrics_%d", id)
	}
	rec := &ExpvarRecorder{
		name:      name,
		durations: make(map[string]float64),
		results:   make(map[string]map[string]int64),
		runs:      make(map[domain.RunStatus]int64),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name associated with the recorder.
func (r *ExpvarRecorder) Name() string {
	return r.name
}

// Snapshot returns an immutable copy of the aggregated metrics.
func (r *ExpvarRecorder) Snapshot() ExpvarSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	durations := make(map[string]float64, len(r.durations))
	for op, total := range r.durations {
		durations[op] = total
	}
	results := make(map[string]map[string]int64, len(r.results))
	for op, counts := range r.results {
		cpy := make(map[string]int64, len(counts))
		for s, n := range counts {
			cpy[s] = n
		}
		results[op] = cpy
	}
	runs := make(map[domain.RunStatus]int64, len(r.runs))
	for s, n := range r.runs {
		runs[s] = n
	}
	return ExpvarSnapshot{
		DurationsMS: durations,
		Results:     results,
		Runs:        runs,
		Dispenses:   r.dispenses,
		VolumeUL:    r.volume,
		RecordedAt:  time.Now().UTC(),
	}
}

// Observe records a service operation outcome.
func (r *ExpvarRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)
	st := status(success)

	r.mu.Lock()
	r.durations[operation] += ms
	if _, ok := r.results[operation]; !ok {
		r.results[operation] = make(map[string]int64, 2)
	}
	r.results[operation][st]++
	r.mu.Unlock()
}

// ObserveRun counts the run by status and adds its delivered volume.
func (r *ExpvarRecorder) ObserveRun(_ context.Context, run domain.Run) {
	r.mu.Lock()
	r.runs[run.Status]++
	r.dispenses += int64(run.Dispenses)
	r.volume += run.TotalVolume
	r.mu.Unlock()
}
