// Package logging provides a component-scoped structured logger, the same
// shape as the teacher's phase-oriented logger (PhaseStart/PhaseComplete,
// leveled Info/Warn/Error), backed by zap instead of the teacher's external
// agentkit/logging package, whose source isn't in the example pack to
// imitate directly.
package logging

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cpravetz/agentset/internal/telemetry"
)

// Logger wraps a zap.SugaredLogger scoped to one component.
type Logger struct {
	base      *zap.Logger
	component string
}

var root *zap.Logger

func init() {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	root = l
}

// SetLevel adjusts the global minimum log level ("debug", "info", "warn", "error").
func SetLevel(level string) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if l, err := cfg.Build(); err == nil {
		root = l
	}
}

// New returns a logger with no component set; chain WithComponent to scope it.
func New() *Logger {
	return &Logger{base: root}
}

// WithComponent returns a copy of the logger tagged with the given component
// name ("agentset", "agent", "step", "delegation", "conflict", "lifecycle",
// "bus", "registry").
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{base: l.base, component: name}
}

func (l *Logger) fields(extra map[string]interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(extra)+1)
	if l.component != "" {
		fields = append(fields, zap.String("component", l.component))
	}
	for k, v := range extra {
		fields = append(fields, zap.Any(k, v))
	}
	return fields
}

// Info logs an informational event with structured fields.
func (l *Logger) Info(msg string, fields map[string]interface{}) {
	l.base.Info(msg, l.fields(fields)...)
}

// Warn logs a recoverable problem.
func (l *Logger) Warn(msg string, fields map[string]interface{}) {
	l.base.Warn(msg, l.fields(fields)...)
}

// Error logs a failure.
func (l *Logger) Error(msg string, fields map[string]interface{}) {
	l.base.Error(msg, l.fields(fields)...)
}

// Debug logs low-level diagnostic detail.
func (l *Logger) Debug(msg string, fields map[string]interface{}) {
	l.base.Debug(msg, l.fields(fields)...)
}

// PhaseStart logs the beginning of a named phase of work against an entity
// (a step, a delegation, a conflict).
func (l *Logger) PhaseStart(phase, entityKind, entityID string) {
	l.Info("phase_start", map[string]interface{}{
		"phase":      phase,
		"entityKind": entityKind,
		"entityId":   entityID,
	})
}

// PhaseComplete logs the end of a named phase, with its duration and outcome.
func (l *Logger) PhaseComplete(phase, entityKind, entityID string, dur time.Duration, outcome string) {
	l.Info("phase_complete", map[string]interface{}{
		"phase":      phase,
		"entityKind": entityKind,
		"entityId":   entityID,
		"durationMs": dur.Milliseconds(),
		"outcome":    outcome,
	})
}

// StepPhase logs a step lifecycle transition.
func (l *Logger) StepPhase(stepID string, from, to string, reason string) {
	l.Info("step_transition", map[string]interface{}{
		"stepId": stepID,
		"from":   from,
		"to":     to,
		"reason": reason,
	})
}

// StepPhaseContext is StepPhase with the active span's trace id (from
// internal/telemetry) attached, so a step_transition log line can be
// correlated with its step.execute span.
func (l *Logger) StepPhaseContext(ctx context.Context, stepID string, from, to string, reason string) {
	l.Info("step_transition", withTraceID(ctx, map[string]interface{}{
		"stepId": stepID,
		"from":   from,
		"to":     to,
		"reason": reason,
	}))
}

func withTraceID(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	traceID := telemetry.TraceID(ctx)
	if traceID == "" {
		return fields
	}
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["traceId"] = traceID
	return out
}

// DelegationPhase logs a task-delegation lifecycle event.
func (l *Logger) DelegationPhase(taskID, phase, detail string) {
	l.Info("delegation_phase", map[string]interface{}{
		"taskId": taskID,
		"phase":  phase,
		"detail": detail,
	})
}

// DelegationPhaseContext is DelegationPhase with the active span's trace id
// attached, for correlation with internal/telemetry delegation spans.
func (l *Logger) DelegationPhaseContext(ctx context.Context, taskID, phase, detail string) {
	l.Info("delegation_phase", withTraceID(ctx, map[string]interface{}{
		"taskId": taskID,
		"phase":  phase,
		"detail": detail,
	}))
}

// ConflictPhase logs a conflict lifecycle event.
func (l *Logger) ConflictPhase(conflictID, phase, detail string) {
	l.Info("conflict_phase", map[string]interface{}{
		"conflictId": conflictID,
		"phase":      phase,
		"detail":     detail,
	})
}

// ConflictPhaseContext is ConflictPhase with the active span's trace id
// attached, for correlation with internal/telemetry conflict spans.
func (l *Logger) ConflictPhaseContext(ctx context.Context, conflictID, phase, detail string) {
	l.Info("conflict_phase", withTraceID(ctx, map[string]interface{}{
		"conflictId": conflictID,
		"phase":      phase,
		"detail":     detail,
	}))
}

// CheckpointPhase logs a lifecycle-manager checkpoint/version/health event.
func (l *Logger) CheckpointPhase(agentID, phase, detail string) {
	l.Info("checkpoint_phase", map[string]interface{}{
		"agentId": agentID,
		"phase":   phase,
		"detail":  detail,
	})
}

// CheckpointPhaseContext is CheckpointPhase with the active span's trace id
// attached, for correlation with internal/telemetry lifecycle spans.
func (l *Logger) CheckpointPhaseContext(ctx context.Context, agentID, phase, detail string) {
	l.Info("checkpoint_phase", withTraceID(ctx, map[string]interface{}{
		"agentId": agentID,
		"phase":   phase,
		"detail":  detail,
	}))
}

// Sync flushes buffered log entries; call on shutdown.
func Sync() {
	_ = root.Sync()
}
