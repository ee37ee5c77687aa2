package engine

import "math"

const (
	// protectionMinRecoveryTasks is how many recovery tasks shield a
	// low-point day from streak penalties.
	protectionMinRecoveryTasks = 1
	// bonusMinRecoveryTasks is how many recovery tasks earn the flat
	// next-day bonus on a low-point day.
	bonusMinRecoveryTasks = 3
)

// BonusPoints is the flat bonus granted the day after a low-point day with
// enough recovery tasks. The rollover job injects it; the engine only
// computes and persists the flag.
const BonusPoints = 5

// DiminishingFactor returns the point multiplier for the Nth (0-indexed)
// same-day occurrence of a diminishing activity: full value first, then
// 75%, then 50% for everything after that.
func DiminishingFactor(occurrence int) float64 {
	switch {
	case occurrence <= 0:
		return 1.0
	case occurrence == 1:
		return 0.75
	default:
		return 0.5
	}
}

// AwardedPoints applies a diminishing factor to a base point value and
// rounds to the nearest whole point.
func AwardedPoints(basePoints int, factor float64) int {
	return int(math.Round(float64(basePoints) * factor))
}

// HasStreakProtection reports whether a day is shielded from streak
// penalties: only low-point days with at least one recovery task are.
func HasStreakProtection(points, recoveryTaskCount int) bool {
	return TierForPoints(points) == 0 && recoveryTaskCount >= protectionMinRecoveryTasks
}

// HasBonus reports whether a low-point day earned the flat next-day bonus.
func HasBonus(points, recoveryTaskCount int) bool {
	return TierForPoints(points) == 0 && recoveryTaskCount >= bonusMinRecoveryTasks
}
