package dates

import (
	"fmt"
	"time"
)

// Layout is the textual form of every date key in the system ("YYYY-MM-DD").
// All records are keyed by calendar day in this form.
const Layout = "2006-01-02"

// location is the timezone used for every day-boundary decision.
// It is set once at startup via InitDates and read everywhere else.
var location = time.UTC

// InitDates sets the timezone used for all date-key computations.
// It accepts one argument:
// - timezone: an IANA timezone name, e.g. "Europe/Vienna".
// Returns an error if the timezone cannot be loaded.
func InitDates(timezone string) error {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return fmt.Errorf("error loading timezone %q: %v", timezone, err)
	}
	location = loc
	return nil
}

// Location returns the timezone all day boundaries are evaluated in.
func Location() *time.Location {
	return location
}

// Now returns the current time in the configured timezone.
func Now() time.Time {
	return time.Now().In(location)
}

// Key formats a point in time as the date key of the calendar day it
// falls on in the configured timezone.
func Key(t time.Time) string {
	return t.In(location).Format(Layout)
}

// Parse converts a date key back into a time, anchored at midnight in
// the configured timezone. Returns an error for malformed keys.
func Parse(key string) (time.Time, error) {
	t, err := time.ParseInLocation(Layout, key, location)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %v", key, err)
	}
	return t, nil
}

// Today returns the date key of the current calendar day.
func Today() string {
	return Key(Now())
}

// Yesterday returns the date key of the calendar day before today.
func Yesterday() string {
	return Key(Now().AddDate(0, 0, -1))
}

// AddDays shifts a date key by the given number of calendar days,
// which may be negative.
func AddDays(key string, days int) (string, error) {
	t, err := Parse(key)
	if err != nil {
		return "", err
	}
	return Key(t.AddDate(0, 0, days)), nil
}

// WeekStart returns the date key of the Monday of the week the given
// date falls in. Weeks start on Monday, so the week key of any activity
// is the Monday date of its week.
func WeekStart(key string) (string, error) {
	t, err := Parse(key)
	if err != nil {
		return "", err
	}
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return Key(t.AddDate(0, 0, -(weekday - 1))), nil
}
