package store

import (
	"fmt"
	"sort"
	"time"
)

// ApplyFilter orders events by timestamp (then version), keeps those inside
// the filter's date range and applies limit/offset.
func ApplyFilter(events []Event, f EventFilter) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if InRange(e.Timestamp, f.From, f.To) {
			out = append(out, e)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			if f.Descending {
				return a.Timestamp.After(b.Timestamp)
			}
			return a.Timestamp.Before(b.Timestamp)
		}
		if f.Descending {
			return a.Version > b.Version
		}
		return a.Version < b.Version
	})

	return Paginate(out, f.Limit, f.Offset)
}

// InRange reports whether t lies within [from, to]. Zero bounds are open.
func InRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

// Paginate returns items[offset:offset+limit]. A non-positive limit means no limit.
func Paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// appendRange adds inclusive bounds on col for non-zero from/to.
func appendRange(where []string, args []any, col string, from, to time.Time) ([]string, []any) {
	if !from.IsZero() {
		args = append(args, from)
		where = append(where, fmt.Sprintf("%s >= $%d", col, len(args)))
	}
	if !to.IsZero() {
		args = append(args, to)
		where = append(where, fmt.Sprintf("%s <= $%d", col, len(args)))
	}
	return where, args
}
