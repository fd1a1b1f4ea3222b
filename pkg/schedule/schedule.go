// Package schedule provides the typed schedules that drive maintenance loops.
// All wall-clock schedules are evaluated in UTC so every replica fires at the
// same instant; the jobs they run are idempotent.
package schedule

import (
	"fmt"
	"time"
)

// Schedule yields firing instants. Next is always strictly after its input.
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

// Every fires at a fixed interval.
type Every time.Duration

func (e Every) Next(after time.Time) time.Time {
	return after.Add(time.Duration(e))
}

func (e Every) String() string {
	return fmt.Sprintf("every %s", time.Duration(e))
}

// HourlyAt fires once an hour at the given minute.
type HourlyAt int

func (h HourlyAt) Next(after time.Time) time.Time {
	after = after.UTC()
	next := after.Truncate(time.Hour).Add(time.Duration(h) * time.Minute)
	if !next.After(after) {
		next = next.Add(time.Hour)
	}
	return next
}

func (h HourlyAt) String() string {
	return fmt.Sprintf("hourly at :%02d", int(h))
}

// DailyAt fires once a day at the given UTC wall time.
type DailyAt struct {
	Hour   int
	Minute int
}

func (d DailyAt) Next(after time.Time) time.Time {
	after = after.UTC()
	next := time.Date(after.Year(), after.Month(), after.Day(), d.Hour, d.Minute, 0, 0, time.UTC)
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (d DailyAt) String() string {
	return fmt.Sprintf("daily at %02d:%02d", d.Hour, d.Minute)
}

// ParseDailyAt parses "HH:MM".
func ParseDailyAt(s string) (DailyAt, error) {
	var d DailyAt
	if _, err := fmt.Sscanf(s, "%d:%d", &d.Hour, &d.Minute); err != nil {
		return DailyAt{}, fmt.Errorf("invalid wall time %q: %w", s, err)
	}
	if d.Hour < 0 || d.Hour > 23 || d.Minute < 0 || d.Minute > 59 {
		return DailyAt{}, fmt.Errorf("invalid wall time %q", s)
	}
	return d, nil
}
