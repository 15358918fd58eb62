// Package schedule computes billing due dates from a line item's recurrence
// descriptor. Everything here is pure: same descriptor and same "today"
// always produce the same answer.
package schedule

import (
	"fmt"

	"github.com/hs-interfase/rebill/clock"
)

// Frequency is the billing cadence of a line item.
type Frequency string

const (
	Daily      Frequency = "daily"
	Weekly     Frequency = "weekly"
	Biweekly   Frequency = "biweekly"
	Monthly    Frequency = "monthly"
	Quarterly  Frequency = "quarterly"
	Semiannual Frequency = "semiannual"
	Annual     Frequency = "annual"
)

// dayInterval returns the fixed day count for day-based frequencies, or 0 if
// the frequency advances by calendar months instead.
func (f Frequency) dayInterval() int {
	switch f {
	case Daily:
		return 1
	case Weekly:
		return 7
	case Biweekly:
		return 14
	}
	return 0
}

func (f Frequency) monthInterval() int {
	switch f {
	case Monthly:
		return 1
	case Quarterly:
		return 3
	case Semiannual:
		return 6
	case Annual:
		return 12
	}
	return 0
}

func (f Frequency) known() bool {
	return f.dayInterval() > 0 || f.monthInterval() > 0
}

// Recurrence describes when a line item bills.
type Recurrence struct {
	Frequency Frequency

	// StartDate is the concrete schedule anchor. Zero until a relative
	// start delay has been normalized.
	StartDate clock.Date

	// DelayDays/DelayMonths express a relative start ("N days/months after
	// the contract anchor"). They are consumed exactly once by Normalize.
	DelayDays   int
	DelayMonths int

	// TotalPayments bounds a fixed-count schedule. Zero means auto-renew.
	TotalPayments int

	// NextOverride, when present and still in the future, pins the next due
	// date for auto-renew items regardless of the computed schedule.
	NextOverride clock.Date
}

// AutoRenew reports whether the schedule has no fixed end.
func (r Recurrence) AutoRenew() bool {
	return r.TotalPayments == 0
}

// Normalize converts a relative start delay into a concrete start date
// anchored at the given date. The operation is one-way: a recurrence that
// already carries a concrete StartDate is returned untouched, so repeated
// normalization on the same inputs always yields the same date and a
// concrete date never reverts to relative form.
func Normalize(r Recurrence, anchor clock.Date) Recurrence {
	if !r.StartDate.IsZero() {
		return r
	}
	if anchor.IsZero() {
		return r
	}
	start := anchor
	if r.DelayMonths != 0 {
		start = start.AddMonths(r.DelayMonths)
	}
	if r.DelayDays != 0 {
		start = start.AddDays(r.DelayDays)
	}
	r.StartDate = start
	r.DelayDays = 0
	r.DelayMonths = 0
	return r
}

// Resolve computes the next due date (earliest >= today) and the last due
// date (latest < today) for the recurrence. Either may be nil: next is nil
// once a fixed-count schedule is exhausted, last is nil before the first
// billing. A schedule that cannot produce any date at all resolves to
// (nil, nil) rather than an error; only a malformed descriptor errs.
func Resolve(r Recurrence, today clock.Date) (next, last *clock.Date, err error) {
	if !r.Frequency.known() {
		return nil, nil, fmt.Errorf("unknown billing frequency %q", r.Frequency)
	}
	if r.StartDate.IsZero() {
		// not yet normalized, nothing to bill
		return nil, nil, nil
	}

	if r.AutoRenew() {
		next, last = resolveAutoRenew(r, today)
	} else {
		next, last = resolveFixedCount(r, today)
	}

	// An explicit override that is still valid pins the next date, but only
	// for auto-renew items; fixed-count schedules own their candidate list.
	if r.AutoRenew() && !r.NextOverride.IsZero() && !r.NextOverride.Before(today) {
		d := r.NextOverride
		next = &d
	}
	return next, last, nil
}

func resolveFixedCount(r Recurrence, today clock.Date) (next, last *clock.Date) {
	for i := 0; i < r.TotalPayments; i++ {
		candidate := nthDate(r, i)
		if candidate.Before(today) {
			c := candidate
			last = &c
			continue
		}
		c := candidate
		next = &c
		return next, last
	}
	// every candidate is in the past: schedule exhausted
	return nil, last
}

func resolveAutoRenew(r Recurrence, today clock.Date) (next, last *clock.Date) {
	if days := r.Frequency.dayInterval(); days > 0 {
		if !r.StartDate.Before(today) {
			d := r.StartDate
			return &d, nil
		}
		// Jump straight to the first occurrence >= today instead of walking
		// the schedule day by day.
		elapsed := r.StartDate.DaysUntil(today)
		jumps := (elapsed + days - 1) / days
		n := r.StartDate.AddDays(jumps * days)
		l := n.AddDays(-days)
		next = &n
		if !l.Before(r.StartDate) {
			last = &l
		}
		return next, last
	}

	// Month-based cadence: advance from the anchor by whole calendar months
	// so month-end clamping never accumulates drift.
	months := r.Frequency.monthInterval()
	for i := 0; ; i++ {
		candidate := r.StartDate.AddMonths(i * months)
		if candidate.Before(today) {
			c := candidate
			last = &c
			continue
		}
		c := candidate
		next = &c
		return next, last
	}
}

func nthDate(r Recurrence, n int) clock.Date {
	if days := r.Frequency.dayInterval(); days > 0 {
		return r.StartDate.AddDays(n * days)
	}
	return r.StartDate.AddMonths(n * r.Frequency.monthInterval())
}
