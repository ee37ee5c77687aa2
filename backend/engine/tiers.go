package engine

// Tier thresholds, inclusive upper bounds. A day's point total classifies
// it into one of five growth stages for the garden view.
const (
	tier0MaxPoints = 50
	tier1MaxPoints = 80
	tier2MaxPoints = 110
	tier3MaxPoints = 130
)

// ProductiveDayThreshold is the minimum daily total for a day to count as
// productive, i.e. strictly above the lowest tier.
const ProductiveDayThreshold = 51

// TierForPoints returns the growth tier (0 through 4) for a daily point total.
func TierForPoints(points int) int {
	switch {
	case points <= tier0MaxPoints:
		return 0
	case points <= tier1MaxPoints:
		return 1
	case points <= tier2MaxPoints:
		return 2
	case points <= tier3MaxPoints:
		return 3
	default:
		return 4
	}
}

// IsProductiveDay reports whether a daily total makes the day productive.
func IsProductiveDay(points int) bool {
	return points >= ProductiveDayThreshold
}
