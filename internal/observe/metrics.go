package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Fetch outcomes recorded by RecordFetch.
const (
	OutcomeHit      = "hit"
	OutcomeMiss     = "miss"
	OutcomeBypass   = "bypass"
	OutcomeFallback = "fallback"
	OutcomeError    = "error"
)

// Metrics records offline cache activity.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	RecordFetch(ctx context.Context, outcome string)
	RecordStoreWriteError(ctx context.Context)
	RecordLifecycle(ctx context.Context, phase string, err error)
}

type metricsImpl struct {
	fetchCount     metric.Int64Counter
	writeErrors    metric.Int64Counter
	lifecycleCount metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	fetchCount, err := meter.Int64Counter(
		"newt.fetch.total",
		metric.WithDescription("Intercepted fetches by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	writeErrors, err := meter.Int64Counter(
		"newt.store.write_errors",
		metric.WithDescription("Failed opportunistic cache write-backs"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	lifecycleCount, err := meter.Int64Counter(
		"newt.lifecycle.total",
		metric.WithDescription("Install and activate runs by result"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		fetchCount:     fetchCount,
		writeErrors:    writeErrors,
		lifecycleCount: lifecycleCount,
	}, nil
}

func (m *metricsImpl) RecordFetch(ctx context.Context, outcome string) {
	m.fetchCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *metricsImpl) RecordStoreWriteError(ctx context.Context) {
	m.writeErrors.Add(ctx, 1)
}

func (m *metricsImpl) RecordLifecycle(ctx context.Context, phase string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.lifecycleCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.String("result", result),
	))
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordFetch(context.Context, string) {}
func (NoopMetrics) RecordStoreWriteError(context.Context) {}
func (NoopMetrics) RecordLifecycle(context.Context, string, error) {}
