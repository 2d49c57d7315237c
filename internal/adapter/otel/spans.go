package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "memmesh"

// StartRecallSpan starts a span for a recall request.
func StartRecallSpan(ctx context.Context, ownerID string, limit int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "recall",
		trace.WithAttributes(
			attribute.String("memory.owner_id", ownerID),
			attribute.Int("recall.limit", limit),
		),
	)
}

// StartRememberSpan starts a span for storing a memory.
func StartRememberSpan(ctx context.Context, memType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "remember",
		trace.WithAttributes(
			attribute.String("memory.type", memType),
		),
	)
}

// StartTraversalSpan starts a span for a relationship graph traversal.
func StartTraversalSpan(ctx context.Context, rootID string, maxDepth int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "traverse",
		trace.WithAttributes(
			attribute.String("memory.id", rootID),
			attribute.Int("traverse.max_depth", maxDepth),
		),
	)
}
