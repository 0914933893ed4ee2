package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records engine-level metrics: fetches, retries, deduplicated
// attaches, cache evictions, and mutations.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordOp records one settled engine operation with duration and error
	// status. Fetch-class and mutation-class operations are routed to
	// separate instruments based on meta.Op.
	RecordOp(ctx context.Context, meta QueryMeta, duration time.Duration, err error)

	// RecordRetry records one retry attempt for a fetch.
	RecordRetry(ctx context.Context, meta QueryMeta)

	// RecordDedup records a fetch call that attached to an in-flight fetch
	// instead of starting a new one.
	RecordDedup(ctx context.Context, meta QueryMeta)

	// RecordEviction records one entry evicted by garbage collection.
	RecordEviction(ctx context.Context)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter metric.Meter

	fetchTotal    metric.Int64Counter
	fetchErrors   metric.Int64Counter
	fetchDuration metric.Float64Histogram
	fetchRetries  metric.Int64Counter
	fetchDedup    metric.Int64Counter
	evictions     metric.Int64Counter

	mutationTotal    metric.Int64Counter
	mutationErrors   metric.Int64Counter
	mutationDuration metric.Float64Histogram
}

// NewMetrics creates a new Metrics instance with the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	m := &metricsImpl{meter: meter}

	var err error
	if m.fetchTotal, err = meter.Int64Counter(
		"query.fetch.total",
		metric.WithDescription("Total number of settled fetches"),
		metric.WithUnit("{fetch}"),
	); err != nil {
		return nil, err
	}

	if m.fetchErrors, err = meter.Int64Counter(
		"query.fetch.errors",
		metric.WithDescription("Total number of fetches settled with an error"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}

	if m.fetchDuration, err = meter.Float64Histogram(
		"query.fetch.duration_ms",
		metric.WithDescription("Fetch duration in milliseconds, retries included"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.fetchRetries, err = meter.Int64Counter(
		"query.fetch.retries",
		metric.WithDescription("Total number of fetch retry attempts"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}

	if m.fetchDedup, err = meter.Int64Counter(
		"query.fetch.dedup",
		metric.WithDescription("Fetch calls that attached to an in-flight fetch"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}

	if m.evictions, err = meter.Int64Counter(
		"query.cache.evictions",
		metric.WithDescription("Entries evicted by garbage collection"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, err
	}

	if m.mutationTotal, err = meter.Int64Counter(
		"query.mutation.total",
		metric.WithDescription("Total number of settled mutations"),
		metric.WithUnit("{mutation}"),
	); err != nil {
		return nil, err
	}

	if m.mutationErrors, err = meter.Int64Counter(
		"query.mutation.errors",
		metric.WithDescription("Total number of mutations settled with an error"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}

	if m.mutationDuration, err = meter.Float64Histogram(
		"query.mutation.duration_ms",
		metric.WithDescription("Mutation duration in milliseconds, hooks included"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metricsImpl) RecordOp(ctx context.Context, meta QueryMeta, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("query.op", meta.Operation()),
	)
	ms := float64(duration.Milliseconds())

	if meta.Operation() == OpMutation {
		m.mutationTotal.Add(ctx, 1, attrs)
		m.mutationDuration.Record(ctx, ms, attrs)
		if err != nil {
			m.mutationErrors.Add(ctx, 1, attrs)
		}
		return
	}

	m.fetchTotal.Add(ctx, 1, attrs)
	m.fetchDuration.Record(ctx, ms, attrs)
	if err != nil {
		m.fetchErrors.Add(ctx, 1, attrs)
	}
}

func (m *metricsImpl) RecordRetry(ctx context.Context, meta QueryMeta) {
	m.fetchRetries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("query.op", meta.Operation()),
	))
}

func (m *metricsImpl) RecordDedup(ctx context.Context, meta QueryMeta) {
	m.fetchDedup.Add(ctx, 1, metric.WithAttributes(
		attribute.String("query.op", meta.Operation()),
	))
}

func (m *metricsImpl) RecordEviction(ctx context.Context) {
	m.evictions.Add(ctx, 1)
}

// NoopMetrics returns a Metrics implementation that records nothing.
func NoopMetrics() Metrics {
	return noopMetrics{}
}

type noopMetrics struct{}

func (noopMetrics) RecordOp(context.Context, QueryMeta, time.Duration, error) {}
func (noopMetrics) RecordRetry(context.Context, QueryMeta)                    {}
func (noopMetrics) RecordDedup(context.Context, QueryMeta)                    {}
func (noopMetrics) RecordEviction(context.Context)                            {}

// Ensure implementations satisfy Metrics
var (
	_ Metrics = (*metricsImpl)(nil)
	_ Metrics = noopMetrics{}
)
