package fragment

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ttlPattern = regexp.MustCompile(`^(?i)(-?(?:\d+)?\.?\d+) *(milliseconds?|msecs?|ms|seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h|days?|d|weeks?|w|years?|yrs?|y)?$`)

const (
	day  = 24 * time.Hour
	week = 7 * day
	year = time.Duration(365.25 * float64(day))
)

// ParseTTL parses a human duration string. It accepts a bare number of
// milliseconds ("1500"), a number with a unit suffix in short or long
// form ("5m", "1.5 hours", "2 days", "1w", "1y"), or a Go duration
// string ("1h30m").
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 100 {
		return 0, fmt.Errorf("invalid ttl %q", s)
	}

	m := ttlPattern.FindStringSubmatch(s)
	if m == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid ttl %q", s)
		}
		return d, nil
	}

	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ttl %q: %w", s, err)
	}

	var unit time.Duration
	switch strings.ToLower(m[2]) {
	case "", "ms", "msec", "msecs", "millisecond", "milliseconds":
		unit = time.Millisecond
	case "s", "sec", "secs", "second", "seconds":
		unit = time.Second
	case "m", "min", "mins", "minute", "minutes":
		unit = time.Minute
	case "h", "hr", "hrs", "hour", "hours":
		unit = time.Hour
	case "d", "day", "days":
		unit = day
	case "w", "week", "weeks":
		unit = week
	case "y", "yr", "yrs", "year", "years":
		unit = year
	}

	v := n * float64(unit)
	if math.Abs(v) > math.MaxInt64 {
		return 0, fmt.Errorf("ttl %q overflows", s)
	}
	return time.Duration(math.Round(v)), nil
}
