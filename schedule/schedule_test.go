package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hs-interfase/rebill/clock"
)

func date(y int, m time.Month, d int) clock.Date {
	return clock.NewDate(y, m, d)
}

func TestNormalize(t *testing.T) {
	anchor := date(2024, time.January, 1)

	t.Run("day delay becomes a concrete start", func(t *testing.T) {
		r := Normalize(Recurrence{Frequency: Monthly, DelayDays: 10}, anchor)
		require.Equal(t, "2024-01-11", r.StartDate.String())
		require.Zero(t, r.DelayDays)
		require.Zero(t, r.DelayMonths)
	})

	t.Run("month delay applies before day delay", func(t *testing.T) {
		r := Normalize(Recurrence{Frequency: Monthly, DelayMonths: 2, DelayDays: 5}, anchor)
		require.Equal(t, "2024-03-06", r.StartDate.String())
	})

	t.Run("concrete start never reverts", func(t *testing.T) {
		concrete := Recurrence{Frequency: Monthly, StartDate: date(2024, time.February, 1), DelayDays: 99}
		r := Normalize(concrete, anchor)
		require.Equal(t, concrete.StartDate, r.StartDate)
	})

	t.Run("repeated normalization is stable", func(t *testing.T) {
		once := Normalize(Recurrence{Frequency: Weekly, DelayDays: 7}, anchor)
		twice := Normalize(once, date(2025, time.June, 1))
		require.Equal(t, once, twice)
	})

	t.Run("zero anchor is a no-op", func(t *testing.T) {
		r := Normalize(Recurrence{Frequency: Weekly, DelayDays: 7}, clock.Date{})
		require.True(t, r.StartDate.IsZero())
		require.Equal(t, 7, r.DelayDays)
	})
}

func TestResolveAutoRenewDayBased(t *testing.T) {
	tests := []struct {
		name         string
		r            Recurrence
		today        clock.Date
		expectedNext string
		expectedLast string
	}{
		{
			name:         "weekly long after start",
			r:            Recurrence{Frequency: Weekly, StartDate: date(2024, time.January, 1)},
			today:        date(2024, time.March, 15),
			expectedNext: "2024-03-18",
			expectedLast: "2024-03-11",
		},
		{
			name:         "today on an occurrence",
			r:            Recurrence{Frequency: Weekly, StartDate: date(2024, time.January, 1)},
			today:        date(2024, time.January, 15),
			expectedNext: "2024-01-15",
			expectedLast: "2024-01-08",
		},
		{
			name:         "start still in the future",
			r:            Recurrence{Frequency: Biweekly, StartDate: date(2024, time.June, 1)},
			today:        date(2024, time.March, 15),
			expectedNext: "2024-06-01",
			expectedLast: "",
		},
		{
			name:         "daily",
			r:            Recurrence{Frequency: Daily, StartDate: date(2024, time.January, 1)},
			today:        date(2024, time.March, 15),
			expectedNext: "2024-03-15",
			expectedLast: "2024-03-14",
		},
		{
			name:         "one day after start",
			r:            Recurrence{Frequency: Weekly, StartDate: date(2024, time.January, 1)},
			today:        date(2024, time.January, 2),
			expectedNext: "2024-01-08",
			expectedLast: "2024-01-01",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, last, err := Resolve(tc.r, tc.today)
			require.NoError(t, err)
			requireDate(t, tc.expectedNext, next)
			requireDate(t, tc.expectedLast, last)
		})
	}
}

func TestResolveAutoRenewMonthBased(t *testing.T) {
	t.Run("month-end anchor never drifts", func(t *testing.T) {
		r := Recurrence{Frequency: Monthly, StartDate: date(2024, time.January, 31)}
		next, last, err := Resolve(r, date(2024, time.March, 1))
		require.NoError(t, err)
		requireDate(t, "2024-03-31", next)
		requireDate(t, "2024-02-29", last)
	})

	t.Run("quarterly", func(t *testing.T) {
		r := Recurrence{Frequency: Quarterly, StartDate: date(2023, time.November, 15)}
		next, last, err := Resolve(r, date(2024, time.March, 1))
		require.NoError(t, err)
		requireDate(t, "2024-05-15", next)
		requireDate(t, "2024-02-15", last)
	})

	t.Run("annual before first anniversary", func(t *testing.T) {
		r := Recurrence{Frequency: Annual, StartDate: date(2023, time.June, 1)}
		next, last, err := Resolve(r, date(2024, time.January, 1))
		require.NoError(t, err)
		requireDate(t, "2024-06-01", next)
		requireDate(t, "2023-06-01", last)
	})
}

func TestResolveFixedCount(t *testing.T) {
	r := Recurrence{
		Frequency:     Monthly,
		StartDate:     date(2023, time.January, 15),
		TotalPayments: 3,
	}

	t.Run("before the first payment", func(t *testing.T) {
		next, last, err := Resolve(r, date(2023, time.January, 1))
		require.NoError(t, err)
		requireDate(t, "2023-01-15", next)
		require.Nil(t, last)
	})

	t.Run("between payments", func(t *testing.T) {
		next, last, err := Resolve(r, date(2023, time.February, 1))
		require.NoError(t, err)
		requireDate(t, "2023-02-15", next)
		requireDate(t, "2023-01-15", last)
	})

	t.Run("exhausted schedule has no next", func(t *testing.T) {
		next, last, err := Resolve(r, date(2024, time.January, 1))
		require.NoError(t, err)
		require.Nil(t, next)
		requireDate(t, "2023-03-15", last)
	})

	t.Run("override never applies to fixed count", func(t *testing.T) {
		pinned := r
		pinned.NextOverride = date(2023, time.February, 20)
		next, _, err := Resolve(pinned, date(2023, time.February, 1))
		require.NoError(t, err)
		requireDate(t, "2023-02-15", next)
	})
}

func TestResolveNextOverride(t *testing.T) {
	r := Recurrence{Frequency: Monthly, StartDate: date(2024, time.January, 1)}
	today := date(2024, time.March, 1)

	t.Run("future override pins next", func(t *testing.T) {
		pinned := r
		pinned.NextOverride = date(2024, time.March, 20)
		next, last, err := Resolve(pinned, today)
		require.NoError(t, err)
		requireDate(t, "2024-03-20", next)
		requireDate(t, "2024-02-01", last)
	})

	t.Run("override on today still applies", func(t *testing.T) {
		pinned := r
		pinned.NextOverride = today
		next, _, err := Resolve(pinned, today)
		require.NoError(t, err)
		requireDate(t, "2024-03-01", next)
	})

	t.Run("past override is ignored", func(t *testing.T) {
		pinned := r
		pinned.NextOverride = date(2024, time.February, 10)
		next, _, err := Resolve(pinned, today)
		require.NoError(t, err)
		requireDate(t, "2024-03-01", next)
	})
}

func TestResolveDegenerateInputs(t *testing.T) {
	t.Run("unknown frequency errs", func(t *testing.T) {
		_, _, err := Resolve(Recurrence{Frequency: "fortnightly", StartDate: date(2024, time.January, 1)}, date(2024, time.March, 1))
		require.Error(t, err)
	})

	t.Run("unnormalized start resolves to nothing", func(t *testing.T) {
		next, last, err := Resolve(Recurrence{Frequency: Monthly}, date(2024, time.March, 1))
		require.NoError(t, err)
		require.Nil(t, next)
		require.Nil(t, last)
	})

	t.Run("zero total payments means auto renew", func(t *testing.T) {
		require.True(t, Recurrence{}.AutoRenew())
		require.False(t, Recurrence{TotalPayments: 12}.AutoRenew())
	})
}

func requireDate(t *testing.T, expected string, actual *clock.Date) {
	t.Helper()
	if expected == "" {
		require.Nil(t, actual)
		return
	}
	require.NotNil(t, actual)
	require.Equal(t, expected, actual.String())
}
