package streak

// Multipliers are carried as basis points of 1/100 so reward scaling stays
// in integer arithmetic: 100 is 1.00x, 200 is 2.00x.
const BaseBP = 100

// Tier is one multiplier band of the streak ladder.
type Tier struct {
	MinDays int    `json:"min_days"`
	BP      int64  `json:"multiplier_bp"`
	Label   string `json:"label"`
}

// Ladder in ascending order of consecutive claim days.
var ladder = []Tier{
	{0, 100, "none"},
	{1, 110, "starter"},
	{3, 120, "bronze"},
	{7, 150, "silver"},
	{14, 175, "gold"},
	{30, 200, "diamond"},
}

// TierFor returns the band covering a streak length and how many more
// consecutive days reach the next band, zero at the top. A negative streak
// counts as no streak.
func TierFor(days int) (Tier, int) {
	if days < 0 {
		days = 0
	}
	idx := 0
	for i, t := range ladder {
		if days >= t.MinDays {
			idx = i
		}
	}
	if idx == len(ladder)-1 {
		return ladder[idx], 0
	}
	return ladder[idx], ladder[idx+1].MinDays - days
}

// MultiplierBP returns the reward multiplier for a streak length, in basis
// points of 1/100.
func MultiplierBP(days int) int64 {
	t, _ := TierFor(days)
	return t.BP
}

// Scale applies the streak multiplier to a base reward, rounding down.
func Scale(base int64, days int) int64 {
	if base <= 0 {
		return 0
	}
	return base * MultiplierBP(days) / BaseBP
}
