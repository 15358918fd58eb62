// Package clock is the single source of business time. Billing decisions
// compare calendar dates in a fixed business timezone; no other component may
// consult the server wall clock to decide what "today" is.
package clock

import (
	"time"

	extErrors "github.com/pkg/errors"
)

// DefaultTimezone is the business timezone used when none is configured.
const DefaultTimezone = "America/Mexico_City"

type Clock struct {
	loc *time.Location
	now func() time.Time
}

// New loads the given IANA timezone. An empty name selects DefaultTimezone.
func New(timezone string) (*Clock, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, extErrors.Wrapf(err, "Cannot load business timezone %q", timezone)
	}
	return &Clock{loc: loc, now: time.Now}, nil
}

// Fixed returns a clock frozen at the given date, for tests and dry runs.
func Fixed(today Date) *Clock {
	t := time.Date(today.Year(), today.Month(), today.Day(), 12, 0, 0, 0, time.UTC)
	return &Clock{
		loc: time.UTC,
		now: func() time.Time { return t },
	}
}

// Today is the business calendar date right now.
func (c *Clock) Today() Date {
	t := c.now().In(c.loc)
	return NewDate(t.Year(), t.Month(), t.Day())
}

// Now is the instant in the business timezone, for timestamps (alert
// fired-at, lock acquisition). Never use it to derive a billing date.
func (c *Clock) Now() time.Time {
	return c.now().In(c.loc)
}
