package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Engine operations recorded in telemetry.
const (
	OpFetch    = "fetch"     // initial or refetch of a query
	OpPageNext = "page.next" // infinite query, next page
	OpPagePrev = "page.prev" // infinite query, previous page
	OpMutation = "mutation"  // write through the mutation runner
)

// QueryMeta identifies one engine operation for telemetry purposes.
// KeyDigest is the short canonical-key digest, never the raw key, so that
// label cardinality stays bounded and keys carrying identifiers are not
// leaked into telemetry backends.
type QueryMeta struct {
	Op        string // one of the Op* constants (defaults to OpFetch)
	KeyDigest string // short digest of the canonical key (may be empty for mutations)
}

// Operation returns the operation name, defaulting to OpFetch.
func (m QueryMeta) Operation() string {
	if m.Op == "" {
		return OpFetch
	}
	return m.Op
}

// SpanName returns the deterministic span name for this operation.
// Format: query.<op>
func (m QueryMeta) SpanName() string {
	return "query." + m.Operation()
}

// Tracer wraps OpenTelemetry tracing with query-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: StartSpan must honor cancellation/deadlines and return ctx.Err() when canceled.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for an engine operation.
	StartSpan(ctx context.Context, meta QueryMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with query metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta QueryMeta) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("query.op", meta.Operation()),
		attribute.Bool("query.error", false), // Will be updated in EndSpan if error
	}
	if meta.KeyDigest != "" {
		attrs = append(attrs, attribute.String("query.key", meta.KeyDigest))
	}

	ctx, span := t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	return ctx, span
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("query.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

// NewNoopTracer creates a no-op tracer.
func NewNoopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta QueryMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}
