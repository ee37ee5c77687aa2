package engine

import (
	"testing"
	"time"

	"github.com/jurijkreutz/determined/backend/models"
	"github.com/stretchr/testify/assert"
)

// Lookback builders. Only the fields the recurrence reads are filled in;
// index 0 of a lookback slice is yesterday.
func pastDay(points int, status string, count int) *models.DailyRecord {
	return &models.DailyRecord{TotalPoints: points, StreakStatus: status, StreakCount: count}
}

func pastProtectedDay(status string, count int) *models.DailyRecord {
	return &models.DailyRecord{TotalPoints: 30, HasStreakProtection: true, StreakStatus: status, StreakCount: count}
}

// establishedInput builds a historical evaluation for a user with more than
// a week of records, so neither the grace messaging nor the time-of-day
// rules interfere.
func establishedInput(points int, lookback ...*models.DailyRecord) StreakInput {
	return StreakInput{
		TotalPoints:       points,
		Lookback:          lookback,
		HistoryCount:      10,
		Now:               time.Date(2024, 3, 15, 15, 0, 0, 0, time.UTC),
		Historical:        true,
		EveningCutoffHour: 19,
	}
}

func TestStreakCountsUpOnProductiveDays(t *testing.T) {
	result := ComputeStreakStatus(establishedInput(60,
		pastDay(70, StatusActive, 3),
		pastDay(70, StatusActive, 2),
		pastDay(70, StatusActive, 1),
	))

	assert.Equal(t, StatusActive, result.StreakStatus)
	assert.Equal(t, 4, result.StreakCount)
	assert.Equal(t, 0, result.LowPointDaysInARow)
	assert.Equal(t, "4 day streak! Keep it up!", result.StreakMessage)
}

func TestStreakStartsAtOneWithoutYesterdayRecord(t *testing.T) {
	// A hole at index 0 means yesterday was never recorded: fresh start.
	result := ComputeStreakStatus(establishedInput(60,
		nil,
		pastDay(70, StatusActive, 2),
		pastDay(70, StatusActive, 1),
		pastDay(60, StatusActive, 3),
	))

	assert.Equal(t, StatusActive, result.StreakStatus)
	assert.Equal(t, 1, result.StreakCount)
	assert.Equal(t, "Streak started!", result.StreakMessage)
}

func TestProductiveDaySavesPausedStreak(t *testing.T) {
	result := ComputeStreakStatus(establishedInput(60,
		pastDay(30, StatusPaused, 5),
		pastDay(70, StatusActive, 5),
		pastDay(70, StatusActive, 4),
		pastDay(70, StatusActive, 3),
		pastDay(70, StatusActive, 2),
	))

	// The held count resumes where it stopped.
	assert.Equal(t, StatusActive, result.StreakStatus)
	assert.Equal(t, 5, result.StreakCount)
	assert.Equal(t, "Streak saved!", result.StreakMessage)
}

func TestProductiveDayAfterResetStartsNewStreak(t *testing.T) {
	result := ComputeStreakStatus(establishedInput(70,
		pastDay(30, StatusReset, 0),
		pastDay(70, StatusActive, 2),
		pastDay(70, StatusActive, 1),
		pastDay(60, StatusActive, 4),
	))

	assert.Equal(t, StatusActive, result.StreakStatus)
	assert.Equal(t, 1, result.StreakCount)
	assert.Equal(t, "New streak started!", result.StreakMessage)
}

func TestSingleLowDayIsTolerated(t *testing.T) {
	result := ComputeStreakStatus(establishedInput(30,
		pastDay(70, StatusActive, 4),
		pastDay(70, StatusActive, 3),
		pastDay(70, StatusActive, 2),
		pastDay(70, StatusActive, 1),
	))

	// Status and count hold, only the low-day counter moves.
	assert.Equal(t, StatusActive, result.StreakStatus)
	assert.Equal(t, 4, result.StreakCount)
	assert.Equal(t, 1, result.LowPointDaysInARow)
	assert.Equal(t, "Rest day!", result.StreakMessage)
}

func TestTwoLowDaysPauseTheStreak(t *testing.T) {
	result := ComputeStreakStatus(establishedInput(25,
		pastDay(30, StatusActive, 4),
		pastDay(70, StatusActive, 4),
		pastDay(70, StatusActive, 3),
		pastDay(70, StatusActive, 2),
		pastDay(70, StatusActive, 1),
	))

	assert.Equal(t, StatusPaused, result.StreakStatus)
	assert.Equal(t, 4, result.StreakCount)
	assert.Equal(t, 2, result.LowPointDaysInARow)
	assert.Equal(t, "Streak paused! Log a productive day in the next 24 hours to save it.", result.StreakMessage)
}

func TestThreeLowDaysResetTheStreak(t *testing.T) {
	result := ComputeStreakStatus(establishedInput(10,
		pastDay(30, StatusPaused, 4),
		pastDay(30, StatusActive, 4),
		pastDay(70, StatusActive, 4),
		pastDay(70, StatusActive, 3),
		pastDay(70, StatusActive, 2),
		pastDay(70, StatusActive, 1),
	))

	assert.Equal(t, StatusReset, result.StreakStatus)
	assert.Equal(t, 0, result.StreakCount)
	assert.Equal(t, 3, result.LowPointDaysInARow)
	assert.Equal(t, "Streak reset! Three consecutive low-point days.", result.StreakMessage)
}

func TestProtectedDayCountsAsProductive(t *testing.T) {
	in := establishedInput(40,
		pastDay(70, StatusActive, 2),
		pastDay(70, StatusActive, 1),
		pastDay(60, StatusActive, 5),
	)
	in.Protected = true

	result := ComputeStreakStatus(in)

	assert.Equal(t, StatusActive, result.StreakStatus)
	assert.Equal(t, 3, result.StreakCount)
	assert.Equal(t, 0, result.LowPointDaysInARow, "A protected day is not a low day")
	assert.Equal(t, "3 day streak! Keep it up!", result.StreakMessage)
}

func TestProtectedHistoryStopsTheLowDayWalk(t *testing.T) {
	result := ComputeStreakStatus(establishedInput(20,
		pastProtectedDay(StatusActive, 2),
		pastDay(70, StatusActive, 2),
		pastDay(70, StatusActive, 1),
		pastDay(60, StatusActive, 4),
	))

	// Yesterday was low on points but protected, so today is the first
	// low day, not the second.
	assert.Equal(t, StatusActive, result.StreakStatus)
	assert.Equal(t, 2, result.StreakCount)
	assert.Equal(t, 1, result.LowPointDaysInARow)
}

func TestMissingRecordTruncatesTheLowDayWalk(t *testing.T) {
	result := ComputeStreakStatus(establishedInput(10,
		pastDay(30, StatusActive, 3),
		nil,
		pastDay(70, StatusActive, 3),
		pastDay(70, StatusActive, 2),
		pastDay(70, StatusActive, 1),
		pastDay(60, StatusActive, 6),
	))

	// The walk stops at the hole: two low days, not three, so the streak
	// pauses instead of resetting.
	assert.Equal(t, StatusPaused, result.StreakStatus)
	assert.Equal(t, 2, result.LowPointDaysInARow)
}

func TestWeeklyQuotaForcesReset(t *testing.T) {
	// Today is productive, but only two of the trailing seven days count.
	result := ComputeStreakStatus(establishedInput(60,
		pastDay(70, StatusActive, 2),
		pastDay(30, StatusActive, 2),
		pastDay(30, StatusActive, 2),
		pastDay(40, StatusPaused, 2),
		pastDay(20, StatusReset, 0),
		pastDay(30, StatusReset, 0),
		pastDay(30, StatusReset, 0),
	))

	assert.Equal(t, StatusReset, result.StreakStatus)
	assert.Equal(t, 0, result.StreakCount)
	assert.Equal(t, "Streak reset! Fewer than 4 productive days in the last week.", result.StreakMessage)
}

func TestWeeklyQuotaWaitsForFullHistory(t *testing.T) {
	in := StreakInput{
		TotalPoints: 60,
		Lookback: []*models.DailyRecord{
			pastDay(70, StatusActive, 2),
			pastDay(30, StatusActive, 2),
			pastDay(30, StatusActive, 2),
		},
		HistoryCount:      3,
		Now:               time.Date(2024, 3, 15, 15, 0, 0, 0, time.UTC),
		Historical:        true,
		EveningCutoffHour: 19,
	}

	result := ComputeStreakStatus(in)

	// Too little history for the quota to judge; the milestone message
	// for the third productive day shows instead.
	assert.Equal(t, StatusActive, result.StreakStatus)
	assert.Equal(t, 3, result.StreakCount)
	assert.Equal(t, "Three-day streak!", result.StreakMessage)
}

func TestFirstWeekMilestoneMessages(t *testing.T) {
	first := ComputeStreakStatus(StreakInput{
		TotalPoints:       60,
		HistoryCount:      0,
		Now:               time.Date(2024, 3, 15, 15, 0, 0, 0, time.UTC),
		Historical:        true,
		EveningCutoffHour: 19,
	})
	assert.Equal(t, StatusActive, first.StreakStatus)
	assert.Equal(t, 1, first.StreakCount)
	assert.Equal(t, "Great start!", first.StreakMessage)

	second := ComputeStreakStatus(StreakInput{
		TotalPoints:       60,
		Lookback:          []*models.DailyRecord{pastDay(60, StatusActive, 1)},
		HistoryCount:      1,
		Now:               time.Date(2024, 3, 15, 15, 0, 0, 0, time.UTC),
		Historical:        true,
		EveningCutoffHour: 19,
	})
	assert.Equal(t, 2, second.StreakCount)
	assert.Equal(t, "Two days in a row!", second.StreakMessage)

	third := ComputeStreakStatus(StreakInput{
		TotalPoints: 60,
		Lookback: []*models.DailyRecord{
			pastDay(60, StatusActive, 2),
			pastDay(60, StatusActive, 1),
		},
		HistoryCount:      2,
		Now:               time.Date(2024, 3, 15, 15, 0, 0, 0, time.UTC),
		Historical:        true,
		EveningCutoffHour: 19,
	})
	assert.Equal(t, 3, third.StreakCount)
	assert.Equal(t, "Three-day streak!", third.StreakMessage)

	// From the fourth day on the regular message takes over, even while
	// the history is still short.
	fourth := ComputeStreakStatus(StreakInput{
		TotalPoints: 60,
		Lookback: []*models.DailyRecord{
			pastDay(60, StatusActive, 3),
			pastDay(60, StatusActive, 2),
			pastDay(60, StatusActive, 1),
		},
		HistoryCount:      3,
		Now:               time.Date(2024, 3, 15, 15, 0, 0, 0, time.UTC),
		Historical:        true,
		EveningCutoffHour: 19,
	})
	assert.Equal(t, 4, fourth.StreakCount)
	assert.Equal(t, "4 day streak! Keep it up!", fourth.StreakMessage)
}

func TestFirstEverLowDayStaysActive(t *testing.T) {
	// A brand-new user with a single low day: no streak exists yet, so
	// there is nothing to pause or reset.
	live := ComputeStreakStatus(StreakInput{
		TotalPoints:       40,
		HistoryCount:      0,
		Now:               time.Date(2024, 3, 15, 15, 0, 0, 0, time.UTC),
		EveningCutoffHour: 19,
	})
	assert.Equal(t, StatusActive, live.StreakStatus)
	assert.Equal(t, 0, live.StreakCount)
	assert.Equal(t, 1, live.LowPointDaysInARow)
	assert.Equal(t, "You need 11 more points today", live.StreakMessage)

	historical := ComputeStreakStatus(StreakInput{
		TotalPoints:       40,
		HistoryCount:      0,
		Now:               time.Date(2024, 3, 15, 15, 0, 0, 0, time.UTC),
		Historical:        true,
		EveningCutoffHour: 19,
	})
	assert.Equal(t, StatusActive, historical.StreakStatus)
	assert.Equal(t, 0, historical.StreakCount)
	assert.Equal(t, "Rest day! Try for a productive day tomorrow", historical.StreakMessage)
}

func TestFirstWeekLowDayNudges(t *testing.T) {
	afternoon := ComputeStreakStatus(StreakInput{
		TotalPoints:       30,
		Lookback:          []*models.DailyRecord{pastDay(60, StatusActive, 1)},
		HistoryCount:      1,
		Now:               time.Date(2024, 3, 15, 15, 0, 0, 0, time.UTC),
		EveningCutoffHour: 19,
	})
	assert.Equal(t, StatusActive, afternoon.StreakStatus)
	assert.Equal(t, 1, afternoon.StreakCount)
	assert.Equal(t, "You need 21 more points today", afternoon.StreakMessage)

	evening := ComputeStreakStatus(StreakInput{
		TotalPoints:       30,
		Lookback:          []*models.DailyRecord{pastDay(60, StatusActive, 1)},
		HistoryCount:      1,
		Now:               time.Date(2024, 3, 15, 20, 0, 0, 0, time.UTC),
		EveningCutoffHour: 19,
	})
	assert.Equal(t, "Rest day! Try for a productive day tomorrow", evening.StreakMessage)
}

func TestMorningWithNothingLoggedCarriesYesterdayForward(t *testing.T) {
	record := pastDay(70, StatusActive, 4)
	record.LowPointDaysInARow = 0

	result := ComputeStreakStatus(StreakInput{
		TotalPoints:       0,
		Lookback:          []*models.DailyRecord{record},
		HistoryCount:      10,
		Now:               time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC),
		EveningCutoffHour: 19,
	})

	assert.Equal(t, StatusActive, result.StreakStatus)
	assert.Equal(t, 4, result.StreakCount)
	assert.Equal(t, 0, result.LowPointDaysInARow)
	assert.Equal(t, "Good morning! Log an activity to get your day going.", result.StreakMessage)
}

func TestNoonEndsTheMorningCarryForward(t *testing.T) {
	lookback := []*models.DailyRecord{
		pastDay(70, StatusActive, 4),
		pastDay(70, StatusActive, 3),
		pastDay(70, StatusActive, 2),
		pastDay(70, StatusActive, 1),
	}

	morning := ComputeStreakStatus(StreakInput{
		TotalPoints:       0,
		Lookback:          lookback,
		HistoryCount:      10,
		Now:               time.Date(2024, 3, 15, 11, 0, 0, 0, time.UTC),
		EveningCutoffHour: 19,
	})
	assert.Equal(t, "Good morning! Log an activity to get your day going.", morning.StreakMessage)
	assert.Equal(t, 0, morning.LowPointDaysInARow)

	// From noon on the empty day is judged like any other low day.
	noon := ComputeStreakStatus(StreakInput{
		TotalPoints:       0,
		Lookback:          lookback,
		HistoryCount:      10,
		Now:               time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
		EveningCutoffHour: 19,
	})
	assert.Equal(t, 1, noon.LowPointDaysInARow)
	assert.Equal(t, "You need 51 more points today", noon.StreakMessage)
}

func TestLiveAfternoonLowDayCountsDownPoints(t *testing.T) {
	result := ComputeStreakStatus(StreakInput{
		TotalPoints: 30,
		Lookback: []*models.DailyRecord{
			pastDay(70, StatusActive, 4),
			pastDay(70, StatusActive, 3),
			pastDay(70, StatusActive, 2),
			pastDay(70, StatusActive, 1),
		},
		HistoryCount:      10,
		Now:               time.Date(2024, 3, 15, 15, 0, 0, 0, time.UTC),
		EveningCutoffHour: 19,
	})

	assert.Equal(t, StatusActive, result.StreakStatus)
	assert.Equal(t, 4, result.StreakCount)
	assert.Equal(t, "You need 21 more points today", result.StreakMessage)
}

func TestLiveEveningLowDayBecomesRestDay(t *testing.T) {
	result := ComputeStreakStatus(StreakInput{
		TotalPoints: 30,
		Lookback: []*models.DailyRecord{
			pastDay(70, StatusActive, 4),
			pastDay(70, StatusActive, 3),
			pastDay(70, StatusActive, 2),
			pastDay(70, StatusActive, 1),
		},
		HistoryCount:      10,
		Now:               time.Date(2024, 3, 15, 20, 0, 0, 0, time.UTC),
		EveningCutoffHour: 19,
	})

	assert.Equal(t, "Rest day!", result.StreakMessage)
}
