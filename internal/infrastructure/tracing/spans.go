package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GatewaySpan covers one request passing through the caching gateway.
type GatewaySpan struct {
	span trace.Span
}

// StartGatewaySpan starts a client span for a gateway round trip.
func (t *Tracer) StartGatewaySpan(ctx context.Context, method, url, class string) (context.Context, *GatewaySpan) {
	ctx, span := t.tracer.Start(ctx, "gateway.round_trip",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", url),
			attribute.String("gateway.class", class),
		),
	)
	return ctx, &GatewaySpan{span: span}
}

// SetOutcome records how the request was answered: network, cache,
// offline_page, fallback or error.
func (s *GatewaySpan) SetOutcome(outcome string) {
	s.span.SetAttributes(attribute.String("gateway.outcome", outcome))
}

func (s *GatewaySpan) SetStatusCode(code int) {
	s.span.SetAttributes(attribute.Int("http.response.status_code", code))
}

func (s *GatewaySpan) End() {
	s.span.SetStatus(codes.Ok, "")
	s.span.End()
}

func (s *GatewaySpan) EndWithError(err error) {
	endWithError(s.span, err)
}

// DrainSpan covers one drain cycle over both queues.
type DrainSpan struct {
	span trace.Span
}

// StartDrainSpan starts the parent span of a drain cycle.
func (t *Tracer) StartDrainSpan(ctx context.Context, force bool) (context.Context, *DrainSpan) {
	ctx, span := t.tracer.Start(ctx, "syncqueue.drain",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Bool("drain.force", force)),
	)
	return ctx, &DrainSpan{span: span}
}

// SetCounts records the drain outcome.
func (s *DrainSpan) SetCounts(attempted, delivered, failed, deadLettered int) {
	s.span.SetAttributes(
		attribute.Int("drain.attempted", attempted),
		attribute.Int("drain.delivered", delivered),
		attribute.Int("drain.failed", failed),
		attribute.Int("drain.dead_lettered", deadLettered),
	)
}

func (s *DrainSpan) End() {
	s.span.SetStatus(codes.Ok, "")
	s.span.End()
}

func (s *DrainSpan) EndWithError(err error) {
	endWithError(s.span, err)
}

// ItemSpan covers one delivery attempt of a queued item inside a drain.
type ItemSpan struct {
	span trace.Span
}

// StartItemSpan starts a span for attempt number attempt of item id.
func (t *Tracer) StartItemSpan(ctx context.Context, kind, id string, attempt int) (context.Context, *ItemSpan) {
	ctx, span := t.tracer.Start(ctx, "syncqueue.deliver",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("queue.kind", kind),
			attribute.String("queue.item_id", id),
			attribute.Int("queue.attempt", attempt),
		),
	)
	return ctx, &ItemSpan{span: span}
}

// Finish ends the span with the attempt's outcome. Anything but
// "delivered" marks the span as failed.
func (s *ItemSpan) Finish(outcome string) {
	s.span.SetAttributes(attribute.String("queue.outcome", outcome))
	if outcome == "delivered" {
		s.span.SetStatus(codes.Ok, "")
	} else {
		s.span.SetStatus(codes.Error, outcome)
	}
	s.span.End()
}

func endWithError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}
