package domain

import (
	"fmt"
	"time"
)

// DateFormat is the storage and wire format for calendar dates
const DateFormat = "2006-01-02"

// Day is one calendar day
const Day = 24 * time.Hour

// DateOf truncates t to its calendar day at UTC midnight.
// The calendar day is taken from t's own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewDate returns the calendar date at UTC midnight
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a calendar date
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q want format %q: %w", s, DateFormat, err)
	}
	return t, nil
}

// MustParseDate is like ParseDate but panics on error. Meant for tests and constants.
func MustParseDate(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err.Error())
	}
	return t
}

// FormatDate formats a calendar date as YYYY-MM-DD
func FormatDate(t time.Time) string {
	return t.Format(DateFormat)
}

// DaysBetween returns the number of calendar days from a to b (b - a)
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)) / Day)
}

// Clock returns the current time. Services take one so tests can pin "today".
type Clock func() time.Time

// Today returns the clock's current calendar date
func (c Clock) Today() time.Time {
	if c == nil {
		return DateOf(time.Now())
	}
	return DateOf(c())
}
