package core

// XPPerLevel is the width of one level band.
const XPPerLevel int64 = 50

// LevelForXP derives the level from accumulated XP: floor(xp/50)+1.
// Negative input is treated as zero.
func LevelForXP(xp int64) int64 {
	if xp < 0 {
		xp = 0
	}
	return xp/XPPerLevel + 1
}

// XPProgress is the percentage of the current level band already earned.
// The result is in [0, 100) and is 0 exactly on band boundaries.
func XPProgress(xp int64) float64 {
	if xp < 0 {
		xp = 0
	}
	return float64(xp%XPPerLevel) * 100 / float64(XPPerLevel)
}

// NextLevelXP is the XP total at which the given level is left behind.
func NextLevelXP(level int64) int64 {
	if level < 1 {
		level = 1
	}
	return level * XPPerLevel
}

// AchievementDef describes an unlockable reward. Title is the dedup key
// within an owner's achievement set.
type AchievementDef struct {
	Title       string
	Description string
	XPReward    int64
}

var (
	// FirstStep is granted on the owner's first recorded transaction.
	FirstStep = AchievementDef{
		Title:       "Primeiro Passo",
		Description: "Registre sua primeira transação",
		XPReward:    10,
	}

	// Planner is granted on the owner's first goal.
	Planner = AchievementDef{
		Title:       "Planejador",
		Description: "Crie sua primeira meta",
		XPReward:    25,
	}
)

// Catalog lists every achievement the engine knows how to award.
func Catalog() []AchievementDef {
	return []AchievementDef{FirstStep, Planner}
}

func (d AchievementDef) Validate() error {
	return Achievement{OwnerID: "-", Title: d.Title, XPReward: d.XPReward}.Validate()
}
