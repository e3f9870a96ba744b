// This file implements the recurring date calculator as a registry of
// per-interval steppers, one strategy per recurrence cadence.

package core

import (
	"fmt"
	"time"
)

// Stepper advances a date by one recurrence period.
type Stepper interface {
	Next(date time.Time) time.Time
}

// DailyStepper advances by one calendar day.
type DailyStepper struct{}

func (DailyStepper) Next(date time.Time) time.Time { return date.AddDate(0, 0, 1) }

// WeeklyStepper advances by seven calendar days.
type WeeklyStepper struct{}

func (WeeklyStepper) Next(date time.Time) time.Time { return date.AddDate(0, 0, 7) }

// MonthlyStepper advances by one calendar month. When the day of month does
// not exist in the target month it is clamped to that month's last day, so
// Jan 31 becomes Feb 28 (or Feb 29 in a leap year) instead of rolling into March.
type MonthlyStepper struct{}

func (MonthlyStepper) Next(date time.Time) time.Time { return addMonthsClamped(date, 1) }

// YearlyStepper advances by one calendar year, clamping Feb 29 to Feb 28.
type YearlyStepper struct{}

func (YearlyStepper) Next(date time.Time) time.Time { return addMonthsClamped(date, 12) }

var steppers = map[RecurringInterval]Stepper{
	Daily:   DailyStepper{},
	Weekly:  WeeklyStepper{},
	Monthly: MonthlyStepper{},
	Yearly:  YearlyStepper{},
}

// NextOccurrence returns the next occurrence of a transaction dated date
// that recurs every interval.
func NextOccurrence(date time.Time, interval RecurringInterval) (time.Time, error) {
	s, ok := steppers[interval]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: unknown recurring interval %q", ErrValidation, interval)
	}
	return s.Next(date), nil
}

func addMonthsClamped(date time.Time, months int) time.Time {
	y, m, d := date.Date()
	hh, mm, ss := date.Clock()
	firstOfTarget := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, date.Location())
	last := daysIn(firstOfTarget.Year(), firstOfTarget.Month(), date.Location())
	if d > last {
		d = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), d, hh, mm, ss, date.Nanosecond(), date.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
