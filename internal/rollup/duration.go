package rollup

import (
	"fmt"
	"strings"
	"time"
)

// Duration is a rollup bucket width.
type Duration int

const (
	Minute Duration = iota + 1
	Hour
	Day
	Week
)

var durationNames = map[Duration]string{
	Minute: "minute",
	Hour:   "hour",
	Day:    "day",
	Week:   "week",
}

func (d Duration) String() string {
	if name, ok := durationNames[d]; ok {
		return name
	}
	return fmt.Sprintf("Duration(%d)", int(d))
}

// ParseDuration accepts minute, hour, day or week in any case.
func ParseDuration(s string) (Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d, name := range durationNames {
		if name == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown duration %q (want minute, hour, day or week)", s)
}

// Truncate returns the start of the UTC bucket containing t. Weeks start on
// Monday.
func (d Duration) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch d {
	case Minute:
		return t.Truncate(time.Minute)
	case Hour:
		return t.Truncate(time.Hour)
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Week:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		sinceMonday := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -sinceMonday)
	default:
		return t
	}
}

// Previous returns the start of the bucket before the one starting at start.
func (d Duration) Previous(start time.Time) time.Time {
	switch d {
	case Minute:
		return start.Add(-time.Minute)
	case Hour:
		return start.Add(-time.Hour)
	case Day:
		return start.AddDate(0, 0, -1)
	case Week:
		return start.AddDate(0, 0, -7)
	default:
		return start
	}
}
