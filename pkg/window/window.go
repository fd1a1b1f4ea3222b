// Package window computes the half-open time range [From, To) that a loader
// run extracts from its source.
package window

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidWindow = errors.New("window from time is not before to time")

// Window is a half-open extraction range. Both bounds are UTC.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) Duration() time.Duration {
	return w.To.Sub(w.From)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.From.Format(time.RFC3339), w.To.Format(time.RFC3339))
}

// Calculator derives extraction windows from loader progress. The zero value
// is not usable; construct with New.
type Calculator struct {
	defaultLookback time.Duration
	now             func() time.Time
}

func New(defaultLookback time.Duration, now func() time.Time) Calculator {
	if now == nil {
		now = time.Now
	}
	return Calculator{
		defaultLookback: defaultLookback,
		now:             now,
	}
}

// Next returns the window for the coming run. lastLoad is the loader's high
// water mark, nil when it has never completed a run. A nil or future
// lastLoad falls back to now minus the default lookback. The window never
// extends past now and never spans more than maxQueryPeriod.
func (c Calculator) Next(lastLoad *time.Time, maxQueryPeriod time.Duration) (Window, error) {
	now := c.now().UTC()

	from := now.Add(-c.defaultLookback)
	if lastLoad != nil && !lastLoad.After(now) {
		from = lastLoad.UTC()
	}

	to := from.Add(maxQueryPeriod)
	if to.After(now) {
		to = now
	}

	w := Window{From: from, To: to}
	if !from.Before(to) {
		// Return the bounds anyway so a failed run can record them.
		return w, fmt.Errorf("%w: from=%s to=%s", ErrInvalidWindow, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	return w, nil
}
