// Package window maintains per-subject time-window aggregates.
// Sessions are folded in incrementally: applying or retracting a
// single session updates one window row without rescanning
// history.
package window

import (
	"fmt"
	"sort"
	"time"
)

// Granularity selects the time bucket used to aggregate sessions.
type Granularity string

const (
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
)

// Valid reports whether g is a known granularity.
func (g Granularity) Valid() bool {
	switch g {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

// keyLayout is the window key wire form: the bucket's start date.
// Keys of one granularity sort chronologically as strings.
const keyLayout = "2006-01-02"

// Key returns the window key for the bucket containing t. Buckets
// are half-open [start, end) in UTC; weekly buckets start Monday
// 00:00.
func (g Granularity) Key(t time.Time) string {
	return g.Start(t).Format(keyLayout)
}

// Start returns the UTC start of the bucket containing t.
func (g Granularity) Start(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case Daily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Monthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		// ISO week: Monday is day 0.
		days := (int(t.Weekday()) + 6) % 7
		monday := t.AddDate(0, 0, -days)
		return time.Date(
			monday.Year(), monday.Month(), monday.Day(),
			0, 0, 0, 0, time.UTC,
		)
	}
}

// ParseKey converts a window key back to its bucket start time.
func ParseKey(key string) (time.Time, error) {
	t, err := time.Parse(keyLayout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing window key %q: %w", key, err)
	}
	return t, nil
}

// Prev returns the key of the bucket immediately before key.
func (g Granularity) Prev(key string) (string, error) {
	start, err := ParseKey(key)
	if err != nil {
		return "", err
	}
	switch g {
	case Daily:
		return start.AddDate(0, 0, -1).Format(keyLayout), nil
	case Monthly:
		return start.AddDate(0, -1, 0).Format(keyLayout), nil
	default:
		return start.AddDate(0, 0, -7).Format(keyLayout), nil
	}
}

// Trailing returns up to n consecutive keys ending at key,
// oldest first.
func (g Granularity) Trailing(key string, n int) ([]string, error) {
	keys := make([]string, 0, n)
	cur := key
	for i := 0; i < n; i++ {
		keys = append(keys, cur)
		prev, err := g.Prev(cur)
		if err != nil {
			return nil, err
		}
		cur = prev
	}
	sort.Strings(keys)
	return keys, nil
}
