package timeutil

import (
	"testing"
	"time"
)

func ptr(s string) *string {
	return &s
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{"zero time returns empty", time.Time{}, ""},
		{
			"millisecond precision UTC",
			time.Date(2024, 6, 15, 12, 30, 45, 123000000, time.UTC),
			"2024-06-15T12:30:45.123Z",
		},
		{
			"converts to UTC",
			time.Date(2024, 6, 15, 7, 30, 0, 0, time.FixedZone("EST", -5*60*60)),
			"2024-06-15T12:30:00.000Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.in); got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPtr(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want *string
	}{
		{"zero time returns nil", time.Time{}, nil},
		{
			"non-zero returns formatted",
			time.Date(2024, 6, 15, 12, 30, 45, 0, time.UTC),
			ptr("2024-06-15T12:30:45.000Z"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Ptr(tt.in)
			if tt.want == nil {
				if got != nil {
					t.Errorf("Ptr() = %v, want nil", *got)
				}
				return
			}
			if got == nil {
				t.Fatalf("Ptr() returned nil, want %q", *tt.want)
			}
			if *got != *tt.want {
				t.Errorf("Ptr() = %q, want %q", *got, *tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   time.Time
		wantOK bool
	}{
		{"empty string", "", time.Time{}, false},
		{"garbage", "not-a-time", time.Time{}, false},
		{
			"nanosecond precision",
			"2024-06-15T12:30:45.123456789Z",
			time.Date(2024, 6, 15, 12, 30, 45, 123456789, time.UTC),
			true,
		},
		{
			"second precision",
			"2024-06-15T12:30:45Z",
			time.Date(2024, 6, 15, 12, 30, 45, 0, time.UTC),
			true,
		},
		{
			"offset converted to UTC",
			"2024-06-15T07:30:00-05:00",
			time.Date(2024, 6, 15, 12, 30, 0, 0, time.UTC),
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("Parse() ok = %v, want %v", ok, tt.wantOK)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Parse() = %v, want %v", got, tt.want)
			}
		})
	}
}
