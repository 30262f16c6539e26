package observability

import (
	"context"
	"dispensecore/pkg/domain"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exports operation latency and run totals as
// prometheus collectors.
type PrometheusRecorder struct {
	registry  prometheus.Gatherer
	durations *prometheus.HistogramVec
	runs      *prometheus.CounterVec
	batches   prometheus.Counter
	dispenses prometheus.Counter
	volume    prometheus.Counter
}

// NewPrometheusRecorder registers the collectors under namespace on a fresh
// registry.
func NewPrometheusRecorder(namespace string) (*PrometheusRecorder, error) {
	reg := prometheus.NewRegistry()
	r := &PrometheusRecorder{
		registry: reg,
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of service operations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"operation", "status"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Executed runs by status.",
		}, []string{"status"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Transfer batches distributed.",
		}),
		dispenses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispenses_total",
			Help:      "Individual dispenses performed.",
		}),
		volume: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "volume_microliters_total",
			Help:      "Volume requested by executed runs in microliters.",
		}),
	}
	for _, c := range []prometheus.Collector{r.durations, r.runs, r.batches, r.dispenses, r.volume} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return r, nil
}

// Gatherer exposes the registry for exposition.
func (r *PrometheusRecorder) Gatherer() prometheus.Gatherer { return r.registry }

// Observe records a service operation outcome.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.durations.WithLabelValues(operation, status(success)).Observe(duration.Seconds())
}

// ObserveRun adds the run to the status and volume counters.
func (r *PrometheusRecorder) ObserveRun(_ context.Context, run domain.Run) {
	r.runs.WithLabelValues(string(run.Status)).Inc()
	r.batches.Add(float64(run.Batches))
	r.dispenses.Add(float64(run.Dispenses))
	if run.TotalVolume > 0 {
		r.volume.Add(run.TotalVolume)
	}
}

// WriteTextfile writes the current metrics in the node exporter textfile
// format.
func (r *PrometheusRecorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
