package clock

import (
	"fmt"
	"time"
)

// Layout is the canonical wire format for calendar dates. Every date the
// engine stores or compares uses this format, never a timestamp.
const Layout = "2006-01-02"

// Date is a calendar date with no time-of-day component. The zero value is
// "no date".
type Date struct {
	year  int
	month time.Month
	day   int
}

func NewDate(year int, month time.Month, day int) Date {
	// normalize out-of-range inputs (e.g. Jan 32) the same way time.Date does
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Date{year: t.Year(), month: t.Month(), day: t.Day()}
}

// ParseDate accepts the canonical YYYY-MM-DD format.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected %s", s, Layout)
	}
	return Date{year: t.Year(), month: t.Month(), day: t.Day()}, nil
}

func (d Date) IsZero() bool {
	return d.year == 0 && d.day == 0
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.time().Format(Layout)
}

func (d Date) Year() int        { return d.year }
func (d Date) Month() time.Month { return d.month }
func (d Date) Day() int         { return d.day }

func (d Date) time() time.Time {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, time.UTC)
}

func (d Date) Equal(other Date) bool {
	return d.year == other.year && d.month == other.month && d.day == other.day
}

func (d Date) Before(other Date) bool {
	return d.time().Before(other.time())
}

func (d Date) After(other Date) bool {
	return d.time().After(other.time())
}

// AddDays returns the date n days later (n may be negative).
func (d Date) AddDays(n int) Date {
	t := d.time().AddDate(0, 0, n)
	return Date{year: t.Year(), month: t.Month(), day: t.Day()}
}

// AddMonths advances by whole calendar months, clamping to the last day of
// the target month instead of overflowing (Jan 31 + 1 month = Feb 28/29).
func (d Date) AddMonths(n int) Date {
	y := d.year
	m := int(d.month) - 1 + n
	y += m / 12
	m = m % 12
	if m < 0 {
		m += 12
		y--
	}
	month := time.Month(m + 1)
	day := d.day
	if last := daysIn(y, month); day > last {
		day = last
	}
	return Date{year: y, month: month, day: day}
}

// DaysUntil returns the number of days from d to other; negative if other is
// earlier.
func (d Date) DaysUntil(other Date) int {
	return int(other.time().Sub(d.time()).Hours() / 24)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// MaxDate returns the later of two dates.
func MaxDate(a, b Date) Date {
	if a.After(b) {
		return a
	}
	return b
}
