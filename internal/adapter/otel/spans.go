package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "hive"

// StartSpawnSpan starts a span for a sub-agent spawn.
func StartSpawnSpan(ctx context.Context, parentID, agentType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "spawn",
		trace.WithAttributes(
			attribute.String("agent.parent_id", parentID),
			attribute.String("agent.type", agentType),
		),
	)
}

// StartHandoffSpan starts a span for a task handoff.
func StartHandoffSpan(ctx context.Context, fromID, targetType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "handoff",
		trace.WithAttributes(
			attribute.String("agent.from_id", fromID),
			attribute.String("agent.target_type", targetType),
		),
	)
}

// StartAnalyzeSpan starts a span for a failure analysis.
func StartAnalyzeSpan(ctx context.Context, agentID, taskID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "analyze_failure",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("task.id", taskID),
		),
	)
}
