// Package schedule holds the pure date arithmetic behind commitment
// check-in cadences: how many check-ins a date window requires and
// whether one is due on a given day.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"stakeline/internal/domain"
)

// DateLayout is the calendar-date wire format used throughout.
const DateLayout = "2006-01-02"

var (
	ErrInvalidDate  = errors.New("invalid date")
	ErrInvalidRange = errors.New("end date must be on or after start date")
)

// ParseDate parses a YYYY-MM-DD string as a UTC calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrInvalidDate, s)
	}
	return t, nil
}

// FormatDate renders t as a YYYY-MM-DD string in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

func daysInclusive(start, end time.Time) int {
	return int(end.Sub(start).Hours()/24) + 1
}

// RequiredCheckIns computes how many check-ins a commitment needs over
// [start, end] inclusive at the given cadence.
func RequiredCheckIns(startDate, endDate string, freq domain.Frequency) (int, error) {
	start, err := ParseDate(startDate)
	if err != nil {
		return 0, err
	}
	end, err := ParseDate(endDate)
	if err != nil {
		return 0, err
	}
	if end.Before(start) {
		return 0, ErrInvalidRange
	}
	if freq == domain.FrequencyOneTime {
		return 1, nil
	}
	days := daysInclusive(start, end)
	if freq == domain.FrequencyDaily {
		return days, nil
	}
	return (days + 6) / 7, nil
}

// StartOfWeekMonday returns the Monday of the calendar week containing t.
func StartOfWeekMonday(t time.Time) time.Time {
	diff := int(t.Weekday()) - int(time.Monday)
	if t.Weekday() == time.Sunday {
		diff = 6
	}
	return t.AddDate(0, 0, -diff)
}

// IsDueToday reports whether a check-in is currently due. checkInDates
// are the commitment's existing check-in dates in DateLayout form.
//
// Weekly commitments are satisfied by any single check-in within the
// Monday-started calendar week, so the due signal only fires on the
// week's final day (Sunday).
func IsDueToday(freq domain.Frequency, startDate, endDate string, today time.Time, checkInDates []string) bool {
	todayStr := FormatDate(today)
	if todayStr < startDate || todayStr > endDate {
		return false
	}
	switch freq {
	case domain.FrequencyDaily:
		return !containsDate(checkInDates, todayStr)
	case domain.FrequencyWeekly:
		if today.Weekday() != time.Sunday {
			return false
		}
		monday := FormatDate(StartOfWeekMonday(today))
		for _, d := range checkInDates {
			if d >= monday && d <= todayStr {
				return false
			}
		}
		return true
	case domain.FrequencyOneTime:
		return todayStr == endDate && !containsDate(checkInDates, todayStr)
	}
	return false
}

// DaysRemaining returns whole days from today until endDate, floored at
// zero.
func DaysRemaining(endDate string, today time.Time) int {
	end, err := ParseDate(endDate)
	if err != nil {
		return 0
	}
	diff := int(end.Sub(today).Hours() / 24)
	if diff < 0 {
		return 0
	}
	return diff
}

func containsDate(dates []string, d string) bool {
	for _, v := range dates {
		if v == d {
			return true
		}
	}
	return false
}
