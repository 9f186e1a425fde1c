// Package telemetry wires distributed tracing across step execution,
// delegation, conflict resolution, and lifecycle checkpoints, mirroring the
// phase/goal/subagent span helpers in the teacher's executor/tracing.go
// (startPhaseSpan/endPhaseSpan, startSubAgentSpan/endSubAgentSpan). The
// teacher builds those helpers on its own agentkit/telemetry wrapper, which
// isn't available outside the teacher's module, so this package talks to
// go.opentelemetry.io/otel directly instead — the same library the teacher's
// wrapper is built on, and the one an unrelated pack repo
// (stricklysoft-core's lifecycle.Agent) calls straight from otel.Tracer.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/cpravetz/agentset"

var tracer = otel.Tracer(tracerName)

// Configure installs a tracer provider for protocol ("otlp" or "noop",
// defaulting to noop) and returns a shutdown func to flush on exit. Spans
// started before Configure runs (or when protocol is noop) are cheap no-ops.
func Configure(enabled bool, protocol, endpoint string) (func(context.Context) error, error) {
	if !enabled || protocol != "otlp" {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
	if endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
	}
	exp, err := otlptracehttp.New(context.Background(), opts...)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	tracer = tp.Tracer(tracerName)
	return tp.Shutdown, nil
}

// StartStepSpan starts a span covering one step's execution (spec §4.2 step
// execution path), named after the teacher's startPhaseSpan.
func StartStepSpan(ctx context.Context, stepID, agentID, actionVerb string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "step.execute", trace.WithAttributes(
		attribute.String("step.id", stepID),
		attribute.String("step.agentId", agentID),
		attribute.String("step.actionVerb", actionVerb),
	))
}

// EndStepSpan ends a step span with its terminal status, named after the
// teacher's endPhaseSpan.
func EndStepSpan(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("step.status", status))
	recordOutcome(span, err)
}

// StartDelegationSpan starts a span for a task delegated to another agent
// (spec §4.4), named after the teacher's startSubAgentSpan.
func StartDelegationSpan(ctx context.Context, taskID, recipientID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "delegation.task", trace.WithAttributes(
		attribute.String("delegation.taskId", taskID),
		attribute.String("delegation.recipientId", recipientID),
	))
}

// EndDelegationSpan ends a delegation span, named after the teacher's
// endSubAgentSpan.
func EndDelegationSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String("delegation.outcome", outcome))
	recordOutcome(span, err)
}

// StartConflictSpan starts a span for resolving one conflict (spec §8).
func StartConflictSpan(ctx context.Context, conflictID, strategy string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "conflict.resolve", trace.WithAttributes(
		attribute.String("conflict.id", conflictID),
		attribute.String("conflict.strategy", strategy),
	))
}

// EndConflictSpan ends a conflict span with its resolution.
func EndConflictSpan(span trace.Span, resolution string, err error) {
	span.SetAttributes(attribute.String("conflict.resolution", resolution))
	recordOutcome(span, err)
}

// StartLifecycleSpan starts a span for a checkpoint/restore/migrate phase
// (spec §5).
func StartLifecycleSpan(ctx context.Context, phase, agentID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "lifecycle."+phase, trace.WithAttributes(
		attribute.String("agent.id", agentID),
	))
}

// EndLifecycleSpan ends a lifecycle span.
func EndLifecycleSpan(span trace.Span, err error) {
	recordOutcome(span, err)
}

func recordOutcome(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TraceID returns the active span's trace id for log correlation, or "" if
// no span is active on ctx.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
