package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule answers the only question the scheduler asks: given a point
// in time, when is the next due time. The concrete cron implementation
// sits behind this so it can be swapped out.
type Schedule interface {
	Next(after time.Time) time.Time
}

// CronSchedule is a standard five-field cron expression
// (minute hour day-of-month month day-of-week) evaluated in a fixed
// location. Supports *, lists, ranges and step values.
type CronSchedule struct {
	minute, hour, dom, month, dow uint64

	// Standard cron: when both day fields are restricted, a time
	// matches if either one does.
	domStar, dowStar bool

	loc *time.Location
}

type cronBounds struct{ min, max int }

var (
	minuteBounds = cronBounds{0, 59}
	hourBounds   = cronBounds{0, 23}
	domBounds    = cronBounds{1, 31}
	monthBounds  = cronBounds{1, 12}
	dowBounds    = cronBounds{0, 6}
)

// ParseCron parses a five-field cron expression. A nil location means
// UTC. Day-of-week 7 is accepted as Sunday.
func ParseCron(expr string, loc *time.Location) (*CronSchedule, error) {
	if loc == nil {
		loc = time.UTC
	}
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron: expected 5 fields, got %d in %q", len(fields), expr)
	}

	s := &CronSchedule{loc: loc}
	var err error
	if s.minute, err = parseField(fields[0], minuteBounds); err != nil {
		return nil, fmt.Errorf("cron: minute field: %w", err)
	}
	if s.hour, err = parseField(fields[1], hourBounds); err != nil {
		return nil, fmt.Errorf("cron: hour field: %w", err)
	}
	if s.dom, err = parseField(fields[2], domBounds); err != nil {
		return nil, fmt.Errorf("cron: day-of-month field: %w", err)
	}
	if s.month, err = parseField(fields[3], monthBounds); err != nil {
		return nil, fmt.Errorf("cron: month field: %w", err)
	}
	if s.dow, err = parseField(fields[4], dowBounds); err != nil {
		return nil, fmt.Errorf("cron: day-of-week field: %w", err)
	}
	s.domStar = fields[2] == "*"
	s.dowStar = fields[4] == "*"
	return s, nil
}

func parseField(field string, b cronBounds) (uint64, error) {
	var mask uint64
	for _, part := range strings.Split(field, ",") {
		m, err := parsePart(part, b)
		if err != nil {
			return 0, err
		}
		mask |= m
	}
	return mask, nil
}

func parsePart(part string, b cronBounds) (uint64, error) {
	step := 1
	if base, stepStr, found := strings.Cut(part, "/"); found {
		n, err := strconv.Atoi(stepStr)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid step %q", stepStr)
		}
		step = n
		part = base
	}

	lo, hi := b.min, b.max
	switch {
	case part == "*":
		// full range
	case strings.Contains(part, "-"):
		loStr, hiStr, _ := strings.Cut(part, "-")
		var err error
		if lo, err = parseValue(loStr, b); err != nil {
			return 0, err
		}
		if hi, err = parseValue(hiStr, b); err != nil {
			return 0, err
		}
		if lo > hi {
			return 0, fmt.Errorf("inverted range %q", part)
		}
	default:
		v, err := parseValue(part, b)
		if err != nil {
			return 0, err
		}
		lo, hi = v, v
	}

	var mask uint64
	for v := lo; v <= hi; v += step {
		mask |= 1 << uint(v)
	}
	return mask, nil
}

func parseValue(s string, b cronBounds) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	// 7 is Sunday in some crontabs
	if b == dowBounds && v == 7 {
		v = 0
	}
	if v < b.min || v > b.max {
		return 0, fmt.Errorf("value %d out of range [%d,%d]", v, b.min, b.max)
	}
	return v, nil
}

// Next returns the first due time strictly after the given instant,
// or the zero time when nothing matches within five years (an
// unsatisfiable expression like Feb 30).
func (s *CronSchedule) Next(after time.Time) time.Time {
	t := after.In(s.loc).Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(5, 0, 0)

	for t.Before(limit) {
		if s.month&(1<<uint(t.Month())) == 0 {
			// jump to the first minute of the next month
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, s.loc).AddDate(0, 1, 0)
			continue
		}
		if !s.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc).AddDate(0, 0, 1)
			continue
		}
		if s.hour&(1<<uint(t.Hour())) == 0 {
			t = t.Truncate(time.Hour).Add(time.Hour)
			continue
		}
		if s.minute&(1<<uint(t.Minute())) == 0 {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

func (s *CronSchedule) dayMatches(t time.Time) bool {
	domOK := s.dom&(1<<uint(t.Day())) != 0
	dowOK := s.dow&(1<<uint(t.Weekday())) != 0
	if s.domStar || s.dowStar {
		return domOK && dowOK
	}
	return domOK || dowOK
}
