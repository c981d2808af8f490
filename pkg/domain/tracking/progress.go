package tracking

import "math"

// GoalProgress returns the weighted completion percentage of a goal in [0,100].
// Milestones that belong to another goal or carry a non-positive weight are
// ignored. Without usable milestones a completed goal reports 100, anything
// else 0.
func GoalProgress(goal Goal, milestones []Milestone) int {
	var weighted, total float64
	for _, m := range milestones {
		if m.GoalID != "" && goal.ID != "" && m.GoalID != goal.ID {
			continue
		}
		if m.Weight <= 0 || math.IsNaN(m.Weight) || math.IsInf(m.Weight, 0) {
			continue
		}
		weighted += m.Weight * m.EffectiveScore()
		total += m.Weight
	}

	if total == 0 {
		if goal.Status == GoalCompleted {
			return 100
		}
		return 0
	}

	pct := int(math.Round(100 * weighted / total))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
