package metrics

// RunDurationBuckets defines default latency buckets for run duration metrics.
var RunDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// AttemptDurationBuckets defines latency buckets for single attempt durations.
var AttemptDurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
