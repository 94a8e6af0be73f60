package models

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date format the engine is keyed on everywhere:
// reporting rows, sync runs, scheduler requests.
const DateLayout = "2006-01-02"

// Window is a half-open instant range [Start, End) covering whole calendar
// days in a tenant's timezone. Until is inclusive at the date level, so a
// window built from since=until spans exactly one day.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow builds a window from inclusive calendar dates in loc.
func NewWindow(sinceDate, untilDate string, loc *time.Location) (Window, error) {
	since, err := time.ParseInLocation(DateLayout, sinceDate, loc)
	if err != nil {
		return Window{}, fmt.Errorf("invalid since date %q: %w", sinceDate, err)
	}
	until, err := time.ParseInLocation(DateLayout, untilDate, loc)
	if err != nil {
		return Window{}, fmt.Errorf("invalid until date %q: %w", untilDate, err)
	}
	if until.Before(since) {
		return Window{}, fmt.Errorf("until date %s precedes since date %s", untilDate, sinceDate)
	}
	return Window{Start: since, End: until.AddDate(0, 0, 1)}, nil
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Dates lists every calendar date the window covers, ascending.
func (w Window) Dates(loc *time.Location) []string {
	var dates []string
	for d := w.Start.In(loc); d.Before(w.End); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(DateLayout))
	}
	return dates
}

// SinceDate returns the inclusive first date of the window.
func (w Window) SinceDate(loc *time.Location) string {
	return w.Start.In(loc).Format(DateLayout)
}

// UntilDate returns the inclusive last date of the window.
func (w Window) UntilDate(loc *time.Location) string {
	return w.End.In(loc).AddDate(0, 0, -1).Format(DateLayout)
}
