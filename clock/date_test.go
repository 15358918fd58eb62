package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	require.Equal(t, 2024, d.Year())
	require.Equal(t, time.February, d.Month())
	require.Equal(t, 29, d.Day())

	_, err = ParseDate("02/29/2024")
	require.Error(t, err)

	_, err = ParseDate("")
	require.Error(t, err)
}

func TestDateString(t *testing.T) {
	require.Equal(t, "2024-02-29", NewDate(2024, time.February, 29).String())
	require.Equal(t, "", Date{}.String())
}

func TestAddMonthsClampsToMonthEnd(t *testing.T) {
	tests := []struct {
		name     string
		start    Date
		months   int
		expected string
	}{
		{"jan 31 into leap february", NewDate(2024, time.January, 31), 1, "2024-02-29"},
		{"jan 31 into plain february", NewDate(2023, time.January, 31), 1, "2023-02-28"},
		{"jan 31 two months out", NewDate(2024, time.January, 31), 2, "2024-03-31"},
		{"mid-month keeps its day", NewDate(2024, time.January, 15), 1, "2024-02-15"},
		{"across a year boundary", NewDate(2024, time.November, 30), 3, "2025-02-28"},
		{"negative months", NewDate(2024, time.March, 31), -1, "2024-02-29"},
		{"twelve months", NewDate(2024, time.February, 29), 12, "2025-02-28"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, tc.start.AddMonths(tc.months).String())
		})
	}
}

func TestAddDays(t *testing.T) {
	d := NewDate(2024, time.February, 28)
	require.Equal(t, "2024-02-29", d.AddDays(1).String())
	require.Equal(t, "2024-03-01", d.AddDays(2).String())
	require.Equal(t, "2024-02-27", d.AddDays(-1).String())
}

func TestDaysUntil(t *testing.T) {
	a := NewDate(2024, time.January, 1)
	b := NewDate(2024, time.March, 15)
	require.Equal(t, 74, a.DaysUntil(b))
	require.Equal(t, -74, b.DaysUntil(a))
	require.Equal(t, 0, a.DaysUntil(a))
}

func TestMaxDate(t *testing.T) {
	earlier := NewDate(2024, time.January, 1)
	later := NewDate(2024, time.June, 1)
	require.Equal(t, later, MaxDate(earlier, later))
	require.Equal(t, later, MaxDate(later, earlier))
	require.Equal(t, later, MaxDate(later, Date{}))
}

func TestFixedClock(t *testing.T) {
	today := NewDate(2024, time.March, 15)
	c := Fixed(today)
	require.True(t, c.Today().Equal(today))
}
