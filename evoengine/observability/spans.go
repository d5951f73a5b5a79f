package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// =============================================================================
// PIPELINE SPANS
// =============================================================================

const tracerName = "evolvecore"

// Tracer returns the pipeline tracer from the registered provider. Before
// InitTracer runs this is the global noop tracer, so span helpers are safe
// to call from any configuration.
func Tracer() oteltrace.Tracer {
	return otel.Tracer(tracerName)
}

// StartEvolutionSpan opens the root span for one evolution run.
func StartEvolutionSpan(ctx context.Context, taskID, goal string) (context.Context, oteltrace.Span) {
	return Tracer().Start(ctx, "evolution.run",
		oteltrace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.goal", goal),
		))
}

// StartPhaseSpan opens a child span covering one pipeline phase of a task.
func StartPhaseSpan(ctx context.Context, phase, taskID string) (context.Context, oteltrace.Span) {
	return Tracer().Start(ctx, "evolution.phase."+phase,
		oteltrace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("phase", phase),
		))
}

// StartGenerationSpan opens a span covering one optimizer generation's
// mutation and scoring work.
func StartGenerationSpan(ctx context.Context, generation int) (context.Context, oteltrace.Span) {
	return Tracer().Start(ctx, "tectonic.generation",
		oteltrace.WithAttributes(attribute.Int("generation", generation)))
}

// EndSpan closes a phase span, recording err as its status when non-nil.
func EndSpan(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// EndEvolutionSpan closes a run span with the task's terminal status.
func EndEvolutionSpan(span oteltrace.Span, status string) {
	span.SetAttributes(attribute.String("task.status", status))
	span.End()
}
