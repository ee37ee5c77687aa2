package engine

import (
	"fmt"
	"time"

	"github.com/jurijkreutz/determined/backend/models"
)

// Streak statuses. A streak is active while productive-or-protected days
// keep coming, paused after two consecutive low days, and reset after three.
const (
	StatusActive = "active"
	StatusPaused = "paused"
	StatusReset  = "reset"
)

const (
	// MinProductiveDaysPerWeek is the weekly quota: fewer
	// productive-or-protected days than this in the trailing week force a
	// reset, once a full week of history exists.
	MinProductiveDaysPerWeek = 4
	// graceHistoryDays is how many days of records a user needs before
	// strict penalty messaging applies.
	graceHistoryDays = 7
	// lookbackDays caps how far the low-day walk reaches into the past.
	lookbackDays = 7
	// noonHour ends the morning carry-forward window.
	noonHour = 12
)

// StreakInput carries everything the streak recurrence needs for one day:
// the day's own numbers, the trailing window of persisted records, and the
// evaluation time.
type StreakInput struct {
	// TotalPoints is the day's recomputed point total.
	TotalPoints int
	// Protected is the day's streak-protection flag.
	Protected bool
	// Lookback holds the persisted records of the previous days: index 0
	// is yesterday, index 1 the day before, and so on. A nil entry means
	// no record exists for that day.
	Lookback []*models.DailyRecord
	// HistoryCount is how many daily records exist before this day, over
	// all time.
	HistoryCount int
	// Now is the evaluation time, used by the time-of-day rules.
	Now time.Time
	// Historical disables the time-of-day rules; rollover and restore
	// re-derive past days with it set.
	Historical bool
	// EveningCutoffHour is the hour after which a single low day is
	// phrased as a rest day instead of a point countdown.
	EveningCutoffHour int
}

// StreakResult is the streak slice of a daily record.
type StreakResult struct {
	StreakCount        int
	StreakStatus       string
	LowPointDaysInARow int
	StreakMessage      string
}

// ComputeStreakStatus runs the day-by-day streak recurrence for one day.
// It accepts one argument:
// - in: the StreakInput describing the day, its history window and the
//   evaluation time.
//
// The rules are applied in order, later ones overriding earlier ones:
// the consecutive-low-day count, the base transition, the weekly quota,
// the new-user grace messaging, and the time-of-day messaging. A missing
// previous-day record means a fresh start (active, count zero), never an
// error. The function is pure; persistence is the caller's concern.
func ComputeStreakStatus(in StreakInput) StreakResult {
	countsToday := IsProductiveDay(in.TotalPoints) || in.Protected

	// Yesterday's persisted state, or a fresh start when no record exists.
	prevStatus := StatusActive
	prevCount := 0
	var previous *models.DailyRecord
	if len(in.Lookback) > 0 && in.Lookback[0] != nil {
		previous = in.Lookback[0]
		prevStatus = previous.StreakStatus
		prevCount = previous.StreakCount
	}

	lowDays := lowPointDaysInARow(countsToday, in.Lookback)

	result := StreakResult{LowPointDaysInARow: lowDays}

	switch {
	case countsToday:
		switch prevStatus {
		case StatusPaused:
			result.StreakStatus = StatusActive
			result.StreakCount = prevCount
			result.StreakMessage = "Streak saved!"
		case StatusReset:
			result.StreakStatus = StatusActive
			result.StreakCount = 1
			result.StreakMessage = "New streak started!"
		default:
			result.StreakStatus = StatusActive
			result.StreakCount = prevCount + 1
			if result.StreakCount == 1 {
				result.StreakMessage = "Streak started!"
			} else {
				result.StreakMessage = fmt.Sprintf("%d day streak! Keep it up!", result.StreakCount)
			}
		}
	case lowDays == 1:
		// One low day is tolerated: status and count hold.
		result.StreakStatus = prevStatus
		result.StreakCount = prevCount
		result.StreakMessage = singleLowDayMessage(in)
	case lowDays == 2:
		result.StreakStatus = StatusPaused
		result.StreakCount = prevCount
		result.StreakMessage = "Streak paused! Log a productive day in the next 24 hours to save it."
	default:
		result.StreakStatus = StatusReset
		result.StreakCount = 0
		result.StreakMessage = "Streak reset! Three consecutive low-point days."
	}

	// Weekly quota: with a full week of history, fewer than four
	// productive-or-protected days in the trailing week reset the streak
	// no matter what the day-by-day transition said.
	if in.HistoryCount >= graceHistoryDays && weeklyProductiveDays(countsToday, in.Lookback) < MinProductiveDaysPerWeek {
		result.StreakStatus = StatusReset
		result.StreakCount = 0
		result.StreakMessage = fmt.Sprintf("Streak reset! Fewer than %d productive days in the last week.", MinProductiveDaysPerWeek)
	}

	// New-user grace: messages soften while fewer than a week of records
	// exists. Counts and statuses stay exactly as computed above.
	if in.HistoryCount < graceHistoryDays {
		if msg := graceMessage(countsToday, result.StreakCount, in); msg != "" {
			result.StreakMessage = msg
		}
	}

	// Before noon with nothing logged, the day is not judged yet: carry
	// yesterday's state forward and encourage.
	if !in.Historical && in.TotalPoints == 0 && in.Now.Hour() < noonHour {
		result.StreakStatus = prevStatus
		result.StreakCount = prevCount
		result.LowPointDaysInARow = 0
		if previous != nil {
			result.LowPointDaysInARow = previous.LowPointDaysInARow
		}
		result.StreakMessage = "Good morning! Log an activity to get your day going."
	}

	return result
}

// lowPointDaysInARow counts the day itself plus the unbroken run of prior
// days that were neither productive nor protected. A productive, protected
// or missing prior day stops the walk; missing data truncates the count
// rather than extending it.
func lowPointDaysInARow(countsToday bool, lookback []*models.DailyRecord) int {
	if countsToday {
		return 0
	}
	count := 1
	for i := 0; i < len(lookback) && i < lookbackDays; i++ {
		record := lookback[i]
		if record == nil {
			break
		}
		if IsProductiveDay(record.TotalPoints) || record.HasStreakProtection {
			break
		}
		count++
	}
	return count
}

// weeklyProductiveDays counts the productive-or-protected days in the
// trailing seven calendar days including the day itself.
func weeklyProductiveDays(countsToday bool, lookback []*models.DailyRecord) int {
	count := 0
	if countsToday {
		count++
	}
	for i := 0; i < len(lookback) && i < 6; i++ {
		record := lookback[i]
		if record == nil {
			continue
		}
		if IsProductiveDay(record.TotalPoints) || record.HasStreakProtection {
			count++
		}
	}
	return count
}

// singleLowDayMessage phrases the first tolerated low day. In the evening
// it is a rest day; earlier it is a countdown of the missing points.
// Historical re-derivation always uses the rest-day phrasing.
func singleLowDayMessage(in StreakInput) string {
	if in.Historical || in.Now.Hour() >= in.EveningCutoffHour {
		return "Rest day!"
	}
	return fmt.Sprintf("You need %d more points today", ProductiveDayThreshold-in.TotalPoints)
}

// graceMessage substitutes encouragement during the first week of use. It
// returns "" when the regular message should stand.
func graceMessage(countsToday bool, streakCount int, in StreakInput) string {
	if countsToday {
		switch streakCount {
		case 1:
			return "Great start!"
		case 2:
			return "Two days in a row!"
		case 3:
			return "Three-day streak!"
		}
		return ""
	}
	if !in.Historical && in.Now.Hour() < in.EveningCutoffHour {
		return fmt.Sprintf("You need %d more points today", ProductiveDayThreshold-in.TotalPoints)
	}
	return "Rest day! Try for a productive day tomorrow"
}
