package tracking

import (
	"fmt"
	"strconv"
)

// Priority is the canonical task/activity priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

var priorityOrder = map[Priority]int{
	PriorityLow:    1,
	PriorityMedium: 2,
	PriorityHigh:   3,
}

// ParsePriority accepts "low|medium|high" in any case as well as the numeric
// form "1|2|3" some forms submit. Empty input means medium.
func ParsePriority(s string) (Priority, error) {
	key := normalizeEnum(s)
	switch key {
	case "":
		return PriorityMedium, nil
	case "low", "medium", "high":
		return Priority(key), nil
	case "normal":
		return PriorityMedium, nil
	}
	if n, err := strconv.Atoi(key); err == nil {
		return PriorityFromNumber(n)
	}
	return "", &ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", s)}
}

// PriorityFromNumber maps 1→low, 2→medium, 3→high.
func PriorityFromNumber(n int) (Priority, error) {
	switch n {
	case 1:
		return PriorityLow, nil
	case 2:
		return PriorityMedium, nil
	case 3:
		return PriorityHigh, nil
	}
	return "", &ValidationError{Field: "priority", Reason: fmt.Sprintf("priority %d out of range 1-3", n)}
}

// IsValid reports whether p is canonical.
func (p Priority) IsValid() bool {
	_, ok := priorityOrder[p]
	return ok
}

// Order returns 1..3, or 0 for an unknown priority.
func (p Priority) Order() int {
	return priorityOrder[p]
}

func (p Priority) IsHigh() bool { return p == PriorityHigh }

func (p Priority) DisplayName() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	default:
		return string(p)
	}
}
