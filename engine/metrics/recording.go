package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/resily/resily/engine/core"
)

// RecordRetryAttempt counts a retry scheduled after attempt failed.
func RecordRetryAttempt(ctx context.Context, attempt int) {
	if retryAttemptsTotal == nil {
		return
	}
	retryAttemptsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("attempt", attempt),
	))
}

// RecordRetryExhausted counts an operation that failed after consuming its
// whole attempt budget.
func RecordRetryExhausted(ctx context.Context, attempts int) {
	if retryExhaustedTotal == nil {
		return
	}
	retryExhaustedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("attempts", attempts),
	))
}

// RecordBreakerTransition counts a circuit breaker state change.
func RecordBreakerTransition(ctx context.Context, name, from, to string) {
	if breakerTransitionsTotal == nil {
		return
	}
	breakerTransitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordBreakerRejection counts a call rejected while a breaker was open.
func RecordBreakerRejection(ctx context.Context, name string) {
	if breakerRejectionsTotal == nil {
		return
	}
	breakerRejectionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", name),
	))
}

// RecordTaskResult counts a finished task with its final status.
func RecordTaskResult(ctx context.Context, mode string, status core.StatusType) {
	if tasksTotal == nil {
		return
	}
	tasksTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status.String()),
	))
}

// RecordRunDuration records the wall time of a whole run.
func RecordRunDuration(ctx context.Context, mode string, duration time.Duration) {
	if runDuration == nil {
		return
	}
	runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("mode", mode),
	))
}

// RecordAttemptDuration records the wall time of a single operation attempt.
func RecordAttemptDuration(ctx context.Context, success bool, duration time.Duration) {
	if attemptDuration == nil {
		return
	}
	attemptDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.Bool("success", success),
	))
}
