package core

import (
	"errors"
	"testing"
	"time"
)

func TestNextOccurrence(t *testing.T) {
	tests := []struct {
		name     string
		start    string
		interval RecurringInterval
		want     string
	}{
		{"daily", "2024-01-31", Daily, "2024-02-01"},
		{"daily across year", "2024-12-31", Daily, "2025-01-01"},
		{"weekly", "2024-02-26", Weekly, "2024-03-04"},
		{"monthly simple", "2024-01-15", Monthly, "2024-02-15"},
		{"monthly clamps to leap day", "2024-01-31", Monthly, "2024-02-29"},
		{"monthly clamps to feb 28", "2023-01-31", Monthly, "2023-02-28"},
		{"monthly clamps to 30", "2024-03-31", Monthly, "2024-04-30"},
		{"monthly across year", "2024-12-31", Monthly, "2025-01-31"},
		{"yearly", "2024-06-10", Yearly, "2025-06-10"},
		{"yearly from leap day", "2024-02-29", Yearly, "2025-02-28"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := mustDate(t, tt.start)
			got, err := NextOccurrence(start, tt.interval)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if want := mustDate(t, tt.want); !got.Equal(want) {
				t.Errorf("NextOccurrence(%s, %s) = %s, want %s", tt.start, tt.interval, got.Format("2006-01-02"), tt.want)
			}
		})
	}
}

func TestNextOccurrenceUnknownInterval(t *testing.T) {
	_, err := NextOccurrence(mustDate(t, "2024-01-01"), "FORTNIGHTLY")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestNextOccurrenceIsDeterministic(t *testing.T) {
	start := mustDate(t, "2024-01-31")
	a, _ := NextOccurrence(start, Monthly)
	b, _ := NextOccurrence(start, Monthly)
	if !a.Equal(b) {
		t.Fatalf("expected identical results, got %v and %v", a, b)
	}
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := ParseDate(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return parsed
}
