package scheduler

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Cron is a parsed 5-field expression: minute hour day-of-month month day-of-week.
type Cron struct {
	expr        string
	minutes     []int
	hours       []int
	daysOfMonth []int
	months      []int
	daysOfWeek  []int // 0 is Sunday
	anyDOM      bool
	anyDOW      bool
}

// ParseCron accepts *, single values, ranges (1-5), lists (1,3,5) and steps
// (*/15, 9-18/2). Day-of-week 7 is Sunday.
func ParseCron(expr string) (*Cron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron %q: want 5 fields, got %d", expr, len(fields))
	}

	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 7}}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	var parsed [5][]int
	for i, f := range fields {
		values, err := parseField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return nil, fmt.Errorf("cron %q: %s field: %w", expr, names[i], err)
		}
		parsed[i] = values
	}

	dow := parsed[4]
	for i, d := range dow {
		if d == 7 {
			dow[i] = 0
		}
	}
	slices.Sort(dow)
	dow = slices.Compact(dow)

	return &Cron{
		expr:        expr,
		minutes:     parsed[0],
		hours:       parsed[1],
		daysOfMonth: parsed[2],
		months:      parsed[3],
		daysOfWeek:  dow,
		anyDOM:      fields[2] == "*",
		anyDOW:      fields[4] == "*",
	}, nil
}

func (c *Cron) String() string { return c.expr }

// Matches reports whether t, read in its own location, is a scheduled minute.
// When both day fields are restricted either one matching is enough.
func (c *Cron) Matches(t time.Time) bool {
	if !slices.Contains(c.minutes, t.Minute()) ||
		!slices.Contains(c.hours, t.Hour()) ||
		!slices.Contains(c.months, int(t.Month())) {
		return false
	}
	dom := slices.Contains(c.daysOfMonth, t.Day())
	dow := slices.Contains(c.daysOfWeek, int(t.Weekday()))
	switch {
	case c.anyDOM && c.anyDOW:
		return true
	case c.anyDOM:
		return dow
	case c.anyDOW:
		return dom
	default:
		return dom || dow
	}
}

// Next returns the first scheduled minute strictly after after, evaluated in
// loc. It returns the zero time when nothing matches within four years.
func (c *Cron) Next(after time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := after.In(loc).Truncate(time.Minute).Add(time.Minute)
	for range 4 * 366 * 24 * 60 {
		if c.Matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

func parseField(field string, lo, hi int) ([]int, error) {
	var out []int
	for _, part := range strings.Split(field, ",") {
		values, err := parsePart(part, lo, hi)
		if err != nil {
			return nil, err
		}
		out = append(out, values...)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func parsePart(part string, lo, hi int) ([]int, error) {
	step := 1
	if base, s, ok := strings.Cut(part, "/"); ok {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid step %q", s)
		}
		step = n
		part = base
	}

	start, end := lo, hi
	switch {
	case part == "*":
	case strings.Contains(part, "-"):
		a, b, _ := strings.Cut(part, "-")
		var err error
		if start, err = strconv.Atoi(a); err != nil {
			return nil, fmt.Errorf("invalid range start %q", a)
		}
		if end, err = strconv.Atoi(b); err != nil {
			return nil, fmt.Errorf("invalid range end %q", b)
		}
		if start > end {
			return nil, fmt.Errorf("range %d-%d is reversed", start, end)
		}
	default:
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", part)
		}
		start = v
		if step == 1 {
			end = v
		}
	}
	if start < lo || end > hi {
		return nil, fmt.Errorf("%d-%d outside %d-%d", start, end, lo, hi)
	}

	var out []int
	for v := start; v <= end; v += step {
		out = append(out, v)
	}
	return out, nil
}
