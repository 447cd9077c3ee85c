package timeengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waitline/waitline/pkg/models"
)

func TestDurationResumeAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		amount  int
		unit    models.DurationUnit
		want    time.Time
		wantErr error
	}{
		{"minutes", 30, models.UnitMinutes, now.Add(30 * time.Minute), nil},
		{"hours", 6, models.UnitHours, now.Add(6 * time.Hour), nil},
		{"days", 3, models.UnitDays, now.Add(72 * time.Hour), nil},
		{"weeks", 2, models.UnitWeeks, now.Add(14 * 24 * time.Hour), nil},
		{"max allowed", 12, models.UnitWeeks, now.Add(84 * 24 * time.Hour), nil},
		{"zero amount", 0, models.UnitHours, time.Time{}, ErrNonPositiveAmount},
		{"negative amount", -5, models.UnitMinutes, time.Time{}, ErrNonPositiveAmount},
		{"too long", 13, models.UnitWeeks, time.Time{}, ErrDurationTooLong},
		{"unknown unit", 1, models.DurationUnit("fortnights"), time.Time{}, ErrUnknownUnit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DurationResumeAt(now, tt.amount, tt.unit)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDateResumeAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("future date", func(t *testing.T) {
		target := now.Add(48 * time.Hour)

		resumeAt, past, err := DateResumeAt(now, target)
		require.NoError(t, err)
		assert.False(t, past)
		assert.Equal(t, target, resumeAt)
	})

	t.Run("past date signals immediate continue", func(t *testing.T) {
		target := now.Add(-time.Hour)

		_, past, err := DateResumeAt(now, target)
		require.NoError(t, err)
		assert.True(t, past)
	})

	t.Run("exactly now counts as past", func(t *testing.T) {
		_, past, err := DateResumeAt(now, now)
		require.NoError(t, err)
		assert.True(t, past)
	})

	t.Run("beyond one year rejected", func(t *testing.T) {
		target := now.Add(366 * 24 * time.Hour)

		_, _, err := DateResumeAt(now, target)
		require.ErrorIs(t, err, ErrDateTooFar)
	})
}

func TestResolveTimezone(t *testing.T) {
	t.Run("explicit wins", func(t *testing.T) {
		loc, err := ResolveTimezone("America/New_York", "Europe/Berlin", "Asia/Tokyo")
		require.NoError(t, err)
		assert.Equal(t, "America/New_York", loc.String())
	})

	t.Run("contact before account", func(t *testing.T) {
		loc, err := ResolveTimezone("", "Europe/Berlin", "Asia/Tokyo")
		require.NoError(t, err)
		assert.Equal(t, "Europe/Berlin", loc.String())
	})

	t.Run("utc fallback", func(t *testing.T) {
		loc, err := ResolveTimezone("", "", "")
		require.NoError(t, err)
		assert.Equal(t, time.UTC, loc)
	})

	t.Run("bad name", func(t *testing.T) {
		_, err := ResolveTimezone("Mars/Olympus_Mons", "", "")
		require.ErrorIs(t, err, ErrUnknownTimezone)
	})
}

func TestTimeOfDayResumeAt(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	newYork, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	t.Run("later today", func(t *testing.T) {
		// 09:00 Berlin, asking for 14:30 Berlin the same day.
		now := time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC)

		got, err := TimeOfDayResumeAt(now, "14:30", berlin, nil)
		require.NoError(t, err)

		local := got.In(berlin)
		assert.Equal(t, "14:30", local.Format("15:04"))
		assert.Equal(t, 2, local.Day())
	})

	t.Run("passed today advances to tomorrow", func(t *testing.T) {
		// 16:00 Berlin, asking for 14:30.
		now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

		got, err := TimeOfDayResumeAt(now, "14:30", berlin, nil)
		require.NoError(t, err)

		local := got.In(berlin)
		assert.Equal(t, "14:30", local.Format("15:04"))
		assert.Equal(t, 3, local.Day())
	})

	t.Run("weekday restriction advances to allowed day", func(t *testing.T) {
		// Monday 2025-06-02, only fridays allowed.
		now := time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC)

		got, err := TimeOfDayResumeAt(now, "09:00", berlin, []time.Weekday{time.Friday})
		require.NoError(t, err)

		local := got.In(berlin)
		assert.Equal(t, time.Friday, local.Weekday())
		assert.Equal(t, 6, local.Day())
		assert.Equal(t, "09:00", local.Format("15:04"))
	})

	t.Run("spring forward gap shifts to first valid instant", func(t *testing.T) {
		// US DST starts 2025-03-09: 02:00-03:00 local does not exist.
		now := time.Date(2025, 3, 9, 5, 0, 0, 0, time.UTC) // 00:00 EST

		got, err := TimeOfDayResumeAt(now, "02:30", newYork, nil)
		require.NoError(t, err)

		local := got.In(newYork)
		assert.Equal(t, "03:00", local.Format("15:04"))
		assert.Equal(t, time.Date(2025, 3, 9, 7, 0, 0, 0, time.UTC), got)
	})

	t.Run("fall back ambiguity picks earlier instant", func(t *testing.T) {
		// US DST ends 2025-11-02: 01:30 local occurs twice.
		now := time.Date(2025, 11, 2, 4, 0, 0, 0, time.UTC) // 00:00 EDT

		got, err := TimeOfDayResumeAt(now, "01:30", newYork, nil)
		require.NoError(t, err)

		// Earlier occurrence is 01:30 EDT (UTC-4), i.e. 05:30 UTC.
		assert.Equal(t, time.Date(2025, 11, 2, 5, 30, 0, 0, time.UTC), got)
	})

	t.Run("round trips to requested local time", func(t *testing.T) {
		now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

		got, err := TimeOfDayResumeAt(now, "08:45", newYork, nil)
		require.NoError(t, err)
		assert.Equal(t, "08:45", got.In(newYork).Format("15:04"))
		assert.True(t, got.After(now))
	})

	t.Run("malformed time", func(t *testing.T) {
		now := time.Now().UTC()

		_, err := TimeOfDayResumeAt(now, "25:99", berlin, nil)
		require.ErrorIs(t, err, ErrMalformedTime)

		_, err = TimeOfDayResumeAt(now, "half past nine", berlin, nil)
		require.ErrorIs(t, err, ErrMalformedTime)
	})
}

func TestParseWeekdays(t *testing.T) {
	days, err := ParseWeekdays([]string{"monday", "friday"})
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Friday}, days)

	_, err = ParseWeekdays([]string{"funday"})
	require.ErrorIs(t, err, ErrUnknownWeekday)
}
