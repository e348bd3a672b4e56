// Package scheduler runs recurring jobs on fixed intervals or wall-clock
// times, owned by the process lifecycle.
package scheduler

import (
	"fmt"
	"time"
)

// Schedule yields the next run time strictly after a given instant.
type Schedule interface {
	Next(after time.Time) time.Time
}

// Every runs at a fixed interval measured from the previous run.
type Every time.Duration

func (e Every) Next(after time.Time) time.Time {
	return after.Add(time.Duration(e))
}

// Daily runs once a day at a fixed wall-clock time.
type Daily struct {
	Hour, Minute int
	// Location defaults to time.Local.
	Location *time.Location
}

// ParseDaily parses an "HH:MM" wall-clock time.
func ParseDaily(s string, loc *time.Location) (Daily, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Daily{}, fmt.Errorf("parsing daily time %q: want HH:MM", s)
	}
	return Daily{Hour: t.Hour(), Minute: t.Minute(), Location: loc}, nil
}

func (d Daily) Next(after time.Time) time.Time {
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	a := after.In(loc)
	next := time.Date(a.Year(), a.Month(), a.Day(), d.Hour, d.Minute, 0, 0, loc)
	if !next.After(a) {
		next = time.Date(a.Year(), a.Month(), a.Day()+1, d.Hour, d.Minute, 0, 0, loc)
	}
	return next
}

func (d Daily) String() string {
	return fmt.Sprintf("daily at %02d:%02d", d.Hour, d.Minute)
}
