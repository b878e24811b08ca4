// Package scheduler runs the deep verification sweep over the backup
// chain and the tamper log on a parsed schedule.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed schedule expression: either a fixed interval
// or a 5-field cron pattern.
type Schedule struct {
	// Expression is the original schedule expression
	Expression string

	// Parsed cron fields (-1 means "any")
	minute int // 0-59
	hour   int // 0-23
	dom    int // 1-31
	month  int // 1-12
	dow    int // 0-6, Sunday = 0

	// For interval-based schedules
	interval time.Duration
}

// ParseSchedule parses a schedule expression.
// Supports:
//   - Simple: "hourly", "daily", "weekly"
//   - Intervals: "every 6h", "every 30m"
//   - Cron: "0 3 * * *" (minute hour dom month dow)
func ParseSchedule(expr string) (*Schedule, error) {
	expr = strings.TrimSpace(strings.ToLower(expr))
	s := &Schedule{Expression: expr}

	switch expr {
	case "hourly":
		s.interval = time.Hour
		return s, nil
	case "daily":
		s.minute = 0
		s.hour = 3 // quiet hours
		s.dom = -1
		s.month = -1
		s.dow = -1
		return s, nil
	case "weekly":
		s.minute = 0
		s.hour = 3
		s.dom = -1
		s.month = -1
		s.dow = 0 // Sunday
		return s, nil
	}

	if rest, ok := strings.CutPrefix(expr, "every "); ok {
		dur, err := time.ParseDuration(rest)
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q", rest)
		}
		if dur < time.Minute {
			return nil, fmt.Errorf("interval must be at least 1 minute")
		}
		s.interval = dur
		return s, nil
	}

	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("unrecognized schedule format %q", expr)
	}
	var err error
	if s.minute, err = parseCronField(parts[0], 0, 59); err != nil {
		return nil, fmt.Errorf("invalid minute: %w", err)
	}
	if s.hour, err = parseCronField(parts[1], 0, 23); err != nil {
		return nil, fmt.Errorf("invalid hour: %w", err)
	}
	if s.dom, err = parseCronField(parts[2], 1, 31); err != nil {
		return nil, fmt.Errorf("invalid day of month: %w", err)
	}
	if s.month, err = parseCronField(parts[3], 1, 12); err != nil {
		return nil, fmt.Errorf("invalid month: %w", err)
	}
	if s.dow, err = parseCronField(parts[4], 0, 6); err != nil {
		return nil, fmt.Errorf("invalid day of week: %w", err)
	}
	return s, nil
}

func parseCronField(field string, min, max int) (int, error) {
	if field == "*" {
		return -1, nil
	}
	val, err := strconv.Atoi(field)
	if err != nil {
		return 0, err
	}
	if val < min || val > max {
		return 0, fmt.Errorf("value %d out of range [%d, %d]", val, min, max)
	}
	return val, nil
}

// IsInterval reports whether this is an interval-based schedule
func (s *Schedule) IsInterval() bool {
	return s.interval > 0
}

// Interval returns the interval duration (0 for cron schedules)
func (s *Schedule) Interval() time.Duration {
	return s.interval
}

// String returns the original expression
func (s *Schedule) String() string {
	return s.Expression
}

func (s *Schedule) matches(t time.Time) bool {
	if s.minute != -1 && t.Minute() != s.minute {
		return false
	}
	if s.hour != -1 && t.Hour() != s.hour {
		return false
	}
	if s.dom != -1 && t.Day() != s.dom {
		return false
	}
	if s.month != -1 && int(t.Month()) != s.month {
		return false
	}
	if s.dow != -1 && int(t.Weekday()) != s.dow {
		return false
	}
	return true
}

// NextRun calculates the next run time after 'after'
func (s *Schedule) NextRun(after time.Time) time.Time {
	if s.interval > 0 {
		return after.Add(s.interval)
	}

	next := after.Add(time.Minute).Truncate(time.Minute)
	maxSearch := after.Add(366 * 24 * time.Hour)
	for next.Before(maxSearch) {
		if s.matches(next) {
			return next
		}
		next = next.Add(time.Minute)
	}
	return after.Add(24 * time.Hour)
}
