package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/resily/resily/pkg/logger"
)

var (
	// Counter metrics
	retryAttemptsTotal      metric.Int64Counter
	retryExhaustedTotal     metric.Int64Counter
	breakerTransitionsTotal metric.Int64Counter
	breakerRejectionsTotal  metric.Int64Counter
	tasksTotal              metric.Int64Counter

	// Histogram metrics
	runDuration     metric.Float64Histogram
	attemptDuration metric.Float64Histogram

	// State tracking
	metricsOnce sync.Once
	resetMutex  sync.Mutex
)

// InitMetrics initializes the engine instruments on meter. Subsequent calls
// are no-ops; recording functions stay silent until initialization happens.
func InitMetrics(ctx context.Context, meter metric.Meter) {
	if meter == nil {
		return
	}
	metricsOnce.Do(func() {
		performMetricsInitialization(ctx, meter)
	})
}

func performMetricsInitialization(ctx context.Context, meter metric.Meter) {
	log := logger.FromContext(ctx)
	initializers := []func(context.Context, metric.Meter) error{
		initCounterMetrics,
		initHistogramMetrics,
	}
	for _, initializer := range initializers {
		if err := initializer(ctx, meter); err != nil {
			log.Error("Failed to initialize engine metrics", "error", err)
			return
		}
	}
	log.Debug("Engine metrics initialized successfully")
}

type counterMetricSpec struct {
	name        string
	description string
	target      *metric.Int64Counter
}

func counterMetricSpecs() []counterMetricSpec {
	return []counterMetricSpec{
		{
			MetricNameWithSubsystem("retry", "attempts_total"),
			"Total number of retry attempts scheduled after a failure",
			&retryAttemptsTotal,
		},
		{
			MetricNameWithSubsystem("retry", "exhausted_total"),
			"Total number of operations that consumed their whole attempt budget",
			&retryExhaustedTotal,
		},
		{
			MetricNameWithSubsystem("breaker", "transitions_total"),
			"Total number of circuit breaker state transitions",
			&breakerTransitionsTotal,
		},
		{
			MetricNameWithSubsystem("breaker", "rejections_total"),
			"Total number of calls rejected while a circuit breaker was open",
			&breakerRejectionsTotal,
		},
		{
			MetricNameWithSubsystem("engine", "tasks_total"),
			"Total number of tasks finished by the engine",
			&tasksTotal,
		},
	}
}

func initCounterMetrics(ctx context.Context, meter metric.Meter) error {
	log := logger.FromContext(ctx)
	for _, counter := range counterMetricSpecs() {
		metricCounter, err := meter.Int64Counter(counter.name, metric.WithDescription(counter.description))
		if err != nil {
			log.Error("Failed to create counter", "name", counter.name, "error", err)
			return err
		}
		*counter.target = metricCounter
	}
	return nil
}

type histogramMetricSpec struct {
	name        string
	description string
	buckets     []float64
	target      *metric.Float64Histogram
}

func histogramMetricSpecs() []histogramMetricSpec {
	return []histogramMetricSpec{
		{
			MetricNameWithSubsystem("engine", "run_duration_seconds"),
			"Duration of engine runs in seconds",
			RunDurationBuckets,
			&runDuration,
		},
		{
			MetricNameWithSubsystem("engine", "attempt_duration_seconds"),
			"Duration of individual operation attempts in seconds",
			AttemptDurationBuckets,
			&attemptDuration,
		},
	}
}

func initHistogramMetrics(ctx context.Context, meter metric.Meter) error {
	log := logger.FromContext(ctx)
	for _, histogram := range histogramMetricSpecs() {
		metricHistogram, err := meter.Float64Histogram(
			histogram.name,
			metric.WithDescription(histogram.description),
			metric.WithExplicitBucketBoundaries(histogram.buckets...),
		)
		if err != nil {
			log.Error("Failed to create histogram", "name", histogram.name, "error", err)
			return err
		}
		*histogram.target = metricHistogram
	}
	return nil
}

func resetMetrics() {
	resetMutex.Lock()
	defer resetMutex.Unlock()
	retryAttemptsTotal = nil
	retryExhaustedTotal = nil
	breakerTransitionsTotal = nil
	breakerRejectionsTotal = nil
	tasksTotal = nil
	runDuration = nil
	attemptDuration = nil
	metricsOnce = sync.Once{}
}

// ResetForTesting clears initialized instruments so tests can install their
// own meter.
func ResetForTesting(_ context.Context) {
	resetMetrics()
}
