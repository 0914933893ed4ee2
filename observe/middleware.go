package observe

import (
	"context"
	"time"
)

// ExecFunc is the signature for one instrumented engine operation: a fetch
// attempt cycle or a mutation call.
type ExecFunc func(ctx context.Context) (any, error)

// Middleware wraps engine operations with observability (tracing, metrics,
// logging). The query client runs every fetch through it; the mutation
// runner does the same for mutation calls.
//
// Contract:
//   - Concurrency: Instrument() returns a thread-safe ExecFunc.
//   - Context: Propagates context through tracing spans.
//   - Errors: Errors from the wrapped function are recorded and propagated unchanged.
//   - Ownership: Result values are passed through without modification.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware with the given observability components.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// Instrument wraps an ExecFunc with tracing, metrics, and logging for the
// given operation.
func (m *Middleware) Instrument(meta QueryMeta, fn ExecFunc) ExecFunc {
	return func(ctx context.Context) (any, error) {
		ctx, span := m.tracer.StartSpan(ctx, meta)

		start := time.Now()
		result, err := fn(ctx)
		duration := time.Since(start)

		// End span (records error status if err != nil)
		m.tracer.EndSpan(span, err)

		m.metrics.RecordOp(ctx, meta, duration, err)

		opLogger := m.logger.WithQuery(meta)
		fields := []Field{
			{Key: "duration_ms", Value: float64(duration.Milliseconds())},
		}

		if err != nil {
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			opLogger.Error(ctx, "operation failed", fields...)
		} else {
			opLogger.Debug(ctx, "operation completed", fields...)
		}

		return result, err
	}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
// This is the path the query client and mutation runner take.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}
