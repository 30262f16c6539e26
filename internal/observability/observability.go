// Package observability provides the metrics and tracing hooks used by the
// service layer, with expvar, prometheus and JSON-lines exporters.
package observability

import (
	"context"
	"dispensecore/pkg/domain"
	"time"
)

// MetricsRecorder receives one observation per service operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// RunObserver receives each finished run.
type RunObserver interface {
	ObserveRun(ctx context.Context, run domain.Run)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation's error, if any.
type TraceSpan interface {
	End(err error)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}
func (noopMetrics) ObserveRun(context.Context, domain.Run)               {}

// NoopMetrics discards every observation.
func NoopMetrics() MetricsRecorder { return noopMetrics{} }

type noopTracer struct{}

type noopSpan struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

func (noopSpan) End(error) {}

// NoopTracer returns a tracer whose spans do nothing.
func NoopTracer() Tracer { return noopTracer{} }

// Multi fans observations out to every recorder. Recorders that also
// implement RunObserver receive runs.
func Multi(recorders ...MetricsRecorder) MetricsRecorder {
	out := make(multi, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

type multi []MetricsRecorder

func (m multi) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, r := range m {
		r.Observe(ctx, operation, success, duration)
	}
}

func (m multi) ObserveRun(ctx context.Context, run domain.Run) {
	for _, r := range m {
		if ro, ok := r.(RunObserver); ok {
			ro.ObserveRun(ctx, run)
		}
	}
}

const (
	statusSuccess = "success"
	statusError   = "error"
)

func status(success bool) string {
	if success {
		return statusSuccess
	}
	return statusError
}
