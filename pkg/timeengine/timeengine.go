// Package timeengine computes resume instants for wait steps. All
// functions are pure: "now" is always a parameter and results are UTC.
package timeengine

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/waitline/waitline/pkg/models"
)

const (
	// MaxWaitDuration caps fixed-time waits at 12 weeks.
	MaxWaitDuration = 84 * 24 * time.Hour

	// MaxDateHorizon caps until-date waits at one year ahead.
	MaxDateHorizon = 365 * 24 * time.Hour

	timeOfDayLayout = "15:04"
)

var (
	ErrNonPositiveAmount    = errors.New("duration amount must be positive")
	ErrDurationTooLong      = errors.New("duration exceeds maximum wait of 84 days")
	ErrUnknownUnit          = errors.New("unknown duration unit")
	ErrDateTooFar           = errors.New("target date exceeds maximum horizon of 1 year")
	ErrMalformedTime        = errors.New("malformed time of day, expected HH:MM")
	ErrUnknownTimezone      = errors.New("unknown timezone")
	ErrUnknownWeekday       = errors.New("unknown weekday")
	ErrNoUpcomingOccurrence = errors.New("no upcoming occurrence of requested time")
)

// ToDuration converts an amount and unit into a time.Duration.
func ToDuration(amount int, unit models.DurationUnit) (time.Duration, error) {
	if amount <= 0 {
		return 0, ErrNonPositiveAmount
	}

	switch unit {
	case models.UnitMinutes:
		return time.Duration(amount) * time.Minute, nil
	case models.UnitHours:
		return time.Duration(amount) * time.Hour, nil
	case models.UnitDays:
		return time.Duration(amount) * 24 * time.Hour, nil
	case models.UnitWeeks:
		return time.Duration(amount) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, unit)
	}
}

// DurationResumeAt returns now plus the given duration, rejecting
// non-positive amounts and durations beyond MaxWaitDuration.
func DurationResumeAt(now time.Time, amount int, unit models.DurationUnit) (time.Time, error) {
	d, err := ToDuration(amount, unit)
	if err != nil {
		return time.Time{}, err
	}

	if d > MaxWaitDuration {
		return time.Time{}, fmt.Errorf("%w: %s", ErrDurationTooLong, d)
	}

	return now.Add(d).UTC(), nil
}

// DateResumeAt validates an absolute target date. A target at or before
// now is not an error: past is true and the caller continues the
// execution immediately. Targets beyond MaxDateHorizon are rejected.
func DateResumeAt(now, target time.Time) (resumeAt time.Time, past bool, err error) {
	if !target.After(now) {
		return target.UTC(), true, nil
	}

	if target.Sub(now) > MaxDateHorizon {
		return time.Time{}, false, fmt.Errorf("%w: %s", ErrDateTooFar, target.Format(time.RFC3339))
	}

	return target.UTC(), false, nil
}

// ResolveTimezone picks the first configured timezone in priority order:
// explicit step config, contact, account, UTC.
func ResolveTimezone(explicit, contact, account string) (*time.Location, error) {
	for _, name := range []string{explicit, contact, account} {
		if name == "" {
			continue
		}

		loc, err := time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
		}

		return loc, nil
	}

	return time.UTC, nil
}

// ParseWeekdays converts lowercase weekday names to time.Weekday values.
func ParseWeekdays(names []string) ([]time.Weekday, error) {
	lookup := map[string]time.Weekday{
		"sunday":    time.Sunday,
		"monday":    time.Monday,
		"tuesday":   time.Tuesday,
		"wednesday": time.Wednesday,
		"thursday":  time.Thursday,
		"friday":    time.Friday,
		"saturday":  time.Saturday,
	}

	weekdays := make([]time.Weekday, 0, len(names))

	for _, name := range names {
		day, ok := lookup[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownWeekday, name)
		}

		weekdays = append(weekdays, day)
	}

	return weekdays, nil
}

// TimeOfDayResumeAt computes the next occurrence of targetTime ("HH:MM")
// in loc on or after now, restricted to weekdays when the set is
// non-empty, and returns the UTC instant.
//
// DST policy: a local time that falls in a spring-forward gap shifts
// forward to the first valid instant after the transition; an ambiguous
// fall-back local time resolves to the earlier of the two UTC instants.
func TimeOfDayResumeAt(now time.Time, targetTime string, loc *time.Location, weekdays []time.Weekday) (time.Time, error) {
	parsed, err := time.Parse(timeOfDayLayout, targetTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedTime, targetTime)
	}

	hour, minute := parsed.Hour(), parsed.Minute()

	local := now.In(loc)
	// Date carrier at noon UTC so AddDate never crosses a day boundary.
	day := time.Date(local.Year(), local.Month(), local.Day(), 12, 0, 0, 0, time.UTC)

	// Up to 7 days for a weekday match, plus one when today's time has
	// already passed.
	for range 8 {
		if weekdayAllowed(day.Weekday(), weekdays) {
			candidate := localInstant(loc, day.Year(), day.Month(), day.Day(), hour, minute)
			if !candidate.Before(now) {
				return candidate.UTC(), nil
			}
		}

		day = day.AddDate(0, 0, 1)
	}

	return time.Time{}, ErrNoUpcomingOccurrence
}

func weekdayAllowed(day time.Weekday, weekdays []time.Weekday) bool {
	if len(weekdays) == 0 {
		return true
	}

	for _, allowed := range weekdays {
		if allowed == day {
			return true
		}
	}

	return false
}

// localInstant maps a local wall-clock time in loc to a single UTC
// instant. Ambiguous walls take the earlier UTC instant; walls inside a
// transition gap shift forward to the transition itself (the first valid
// instant).
func localInstant(loc *time.Location, year int, month time.Month, day, hour, minute int) time.Time {
	naive := time.Date(year, month, day, hour, minute, 0, 0, time.UTC)

	offsets := probeOffsets(loc, naive)

	var candidates []time.Time

	for _, offset := range offsets {
		cand := naive.Add(-time.Duration(offset) * time.Second)

		l := cand.In(loc)
		if l.Year() == year && l.Month() == month && l.Day() == day && l.Hour() == hour && l.Minute() == minute {
			candidates = append(candidates, cand)
		}
	}

	switch len(candidates) {
	case 0:
		// Gap: the wall time never happened.
		return gapTransition(loc, naive, offsets)
	case 1:
		return candidates[0]
	default:
		earliest := candidates[0]
		for _, cand := range candidates[1:] {
			if cand.Before(earliest) {
				earliest = cand
			}
		}

		return earliest
	}
}

// probeOffsets returns the distinct zone offsets (seconds) observed in
// loc within a day on either side of the naive instant. One offset means
// no transition nearby; two bracket it.
func probeOffsets(loc *time.Location, naive time.Time) []int {
	seen := make(map[int]bool)

	var offsets []int

	for _, probe := range []time.Duration{-26 * time.Hour, 0, 26 * time.Hour} {
		_, offset := naive.Add(probe).In(loc).Zone()
		if !seen[offset] {
			seen[offset] = true

			offsets = append(offsets, offset)
		}
	}

	return offsets
}

// gapTransition locates the zone transition that swallowed the naive
// wall time and returns it: the first valid instant after the gap.
func gapTransition(loc *time.Location, naive time.Time, offsets []int) time.Time {
	offLow, offHigh := offsets[0], offsets[0]
	for _, offset := range offsets[1:] {
		if offset < offLow {
			offLow = offset
		}

		if offset > offHigh {
			offHigh = offset
		}
	}

	// lo maps to before the transition, hi to after it.
	lo := naive.Add(-time.Duration(offHigh) * time.Second)
	hi := naive.Add(-time.Duration(offLow) * time.Second)

	for hi.Sub(lo) > time.Second {
		mid := lo.Add(hi.Sub(lo) / 2)

		if _, offset := mid.In(loc).Zone(); offset == offLow {
			lo = mid
		} else {
			hi = mid
		}
	}

	return hi
}
