package core

import (
	"fmt"
	"strings"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

// -----------------------------------------------------------------------------
// Durations
// -----------------------------------------------------------------------------

var durationWords = map[string]string{
	"nanosecond":   "ns",
	"nanoseconds":  "ns",
	"microsecond":  "us",
	"microseconds": "us",
	"millisecond":  "ms",
	"milliseconds": "ms",
	"second":       "s",
	"seconds":      "s",
	"sec":          "s",
	"secs":         "s",
	"minute":       "m",
	"minutes":      "m",
	"min":          "m",
	"mins":         "m",
	"hour":         "h",
	"hours":        "h",
	"day":          "d",
	"days":         "d",
	"week":         "w",
	"weeks":        "w",
}

// ParseHumanDuration parses standard Go durations ("250ms", "1h30m") as well
// as human readable forms ("1 second", "2 minutes", "3 days").
func ParseHumanDuration(s string) (time.Duration, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if d, err := time.ParseDuration(trimmed); err == nil {
		return d, nil
	}
	d, err := str2duration.ParseDuration(normalizeHumanDuration(trimmed))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// normalizeHumanDuration collapses "<number> <unit word>" pairs into the
// compact form str2duration understands, e.g. "1 second" -> "1s".
func normalizeHumanDuration(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	var b strings.Builder
	for i := 0; i < len(fields); i++ {
		if i+1 < len(fields) {
			if unit, ok := durationWords[fields[i+1]]; ok {
				b.WriteString(fields[i])
				b.WriteString(unit)
				i++
				continue
			}
		}
		b.WriteString(fields[i])
	}
	return b.String()
}
