package dates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestKeyAndParse tests that formatting and parsing a date key round-trips
// at midnight in the configured timezone.
func TestKeyAndParse(t *testing.T) {
	parsed, err := Parse("2024-03-11")
	assert.NoError(t, err)
	assert.Equal(t, "2024-03-11", Key(parsed))
	assert.Equal(t, 0, parsed.Hour())

	_, err = Parse("11.03.2024")
	assert.Error(t, err)

	_, err = Parse("")
	assert.Error(t, err)
}

// TestAddDays tests shifting date keys forward and backward, including
// across month and year boundaries.
func TestAddDays(t *testing.T) {
	next, err := AddDays("2024-02-28", 1)
	assert.NoError(t, err)
	assert.Equal(t, "2024-02-29", next)

	prev, err := AddDays("2024-01-01", -1)
	assert.NoError(t, err)
	assert.Equal(t, "2023-12-31", prev)

	same, err := AddDays("2024-06-15", 0)
	assert.NoError(t, err)
	assert.Equal(t, "2024-06-15", same)

	_, err = AddDays("not-a-date", 1)
	assert.Error(t, err)
}

// TestWeekStart tests that the week key is always the Monday of the week,
// for every weekday including Sunday.
func TestWeekStart(t *testing.T) {
	// 2024-03-11 is a Monday.
	cases := map[string]string{
		"2024-03-11": "2024-03-11",
		"2024-03-12": "2024-03-11",
		"2024-03-14": "2024-03-11",
		"2024-03-16": "2024-03-11",
		"2024-03-17": "2024-03-11",
		"2024-03-18": "2024-03-18",
	}
	for date, monday := range cases {
		got, err := WeekStart(date)
		assert.NoError(t, err)
		assert.Equal(t, monday, got, "week start of %s", date)
	}
}

// TestInitDates tests loading a real timezone and rejecting a bogus one.
func TestInitDates(t *testing.T) {
	err := InitDates("Europe/Vienna")
	assert.NoError(t, err)
	assert.Equal(t, "Europe/Vienna", Location().String())

	err = InitDates("Mars/OlympusMons")
	assert.Error(t, err)

	// A failed init must not clobber the previously configured location.
	assert.Equal(t, "Europe/Vienna", Location().String())

	midsummer := time.Date(2024, 6, 21, 23, 30, 0, 0, time.UTC)
	// 23:30 UTC is already past midnight in Vienna during DST.
	assert.Equal(t, "2024-06-22", Key(midsummer))

	InitDates("UTC")
}
