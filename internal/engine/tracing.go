package engine

import (
	"context"
	"fmt"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/taskrunner/internal/task"
)

func (e *Engine) startTaskSpan(ctx context.Context, t *task.Task) (context.Context, trace.Span) {
	ctx, span := telemetry.GetTracer().StartSpan(ctx, "task.execute")
	span.SetAttributes(
		attribute.String("task.id", t.ID),
		attribute.Int("task.steps", len(t.Steps)),
	)
	return ctx, span
}

func (e *Engine) endTaskSpan(span trace.Span, t *task.Task, err error) {
	span.SetAttributes(
		attribute.String("task.status", string(t.Status)),
		attribute.Int("task.completed_steps", t.CompletedSteps),
	)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

func (e *Engine) startStepSpan(ctx context.Context, step *task.Step) (context.Context, trace.Span) {
	ctx, span := telemetry.GetTracer().StartSpan(ctx, fmt.Sprintf("step.%d", step.Order))
	span.SetAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("step.action", step.Action.Type),
		attribute.Int("step.max_retries", step.MaxRetries),
	)
	return ctx, span
}

func (e *Engine) endStepSpan(span trace.Span, step *task.Step, err error) {
	span.SetAttributes(
		attribute.String("step.status", string(step.Status)),
		attribute.Int("step.retry_count", step.RetryCount),
	)
	if telemetry.GetTracer().Debug() && step.Result != nil && step.Result.Message != "" {
		span.SetAttributes(attribute.String("step.result", truncate(step.Result.Message, 2000)))
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
