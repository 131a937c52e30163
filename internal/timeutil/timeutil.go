// Package timeutil holds shared helpers for the RFC 3339 UTC
// timestamp strings used throughout the store and API layers.
package timeutil

import "time"

// Format renders t as RFC 3339 (millisecond precision) in UTC.
// The zero time renders as the empty string.
func Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// Ptr is like Format but returns nil for the zero time,
// matching nullable timestamp columns.
func Ptr(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := Format(t)
	return &s
}

// Parse accepts RFC 3339 with or without sub-second precision
// and returns the time in UTC. Returns the zero time and false
// when the string does not parse.
func Parse(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse("2006-01-02T15:04:05Z", s)
		if err != nil {
			return time.Time{}, false
		}
	}
	return t.UTC(), true
}
