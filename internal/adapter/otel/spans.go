package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "poolgate"

// StartProvisionSpan starts a span covering pool provisioning for a tenant.
func StartProvisionSpan(ctx context.Context, tenantID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "provision",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
		),
	)
}

// StartAcquireSpan starts a span covering a connection acquire.
func StartAcquireSpan(ctx context.Context, tenantID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "acquire",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
		),
	)
}

// StartDrainSpan starts a span covering a pool drain.
func StartDrainSpan(ctx context.Context, tenantID, reason string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "drain",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("drain.reason", reason),
		),
	)
}
