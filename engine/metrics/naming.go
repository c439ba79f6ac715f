package metrics

import "strings"

const namePrefix = "resily_"

// MetricName returns name with the engine prefix applied exactly once.
func MetricName(name string) string {
	if strings.HasPrefix(name, namePrefix) {
		return name
	}
	return namePrefix + name
}

// MetricNameWithSubsystem joins subsystem and name under the engine prefix.
// Leading and trailing underscores on either part are trimmed so callers can
// pass pre-formatted fragments.
func MetricNameWithSubsystem(subsystem, name string) string {
	if subsystem == "" {
		return MetricName(name)
	}
	sub := strings.Trim(subsystem, "_")
	trimmed := strings.Trim(name, "_")
	if trimmed == "" {
		return namePrefix + sub
	}
	return namePrefix + sub + "_" + trimmed
}
