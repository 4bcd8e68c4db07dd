package services

import "github.com/achievetrack/apiserver/types"

var levelPoints = map[types.Level]int{
	types.LevelCollege:       10,
	types.LevelUniversity:    20,
	types.LevelState:         30,
	types.LevelNational:      50,
	types.LevelInternational: 100,
}

// PointsFor returns the fixed score of an approved achievement at level.
// Unknown levels score zero.
func PointsFor(level types.Level) int {
	return levelPoints[level]
}

// BadgeFor maps a point total onto its badge tier.
func BadgeFor(totalPoints int) types.Badge {
	switch {
	case totalPoints >= 100:
		return types.BadgeGold
	case totalPoints >= 70:
		return types.BadgeSilver
	case totalPoints >= 50:
		return types.BadgeBronze
	default:
		return types.BadgeParticipant
	}
}

// TotalPoints sums level points over the admin-approved achievements only.
func TotalPoints(achievements []types.Achievement) int {
	total := 0
	for _, achievement := range achievements {
		if achievement.Status == types.StatusAdminApproved {
			total += PointsFor(achievement.Level)
		}
	}
	return total
}
