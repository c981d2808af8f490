package mutation

import (
	"fmt"
	"math"
	"strings"

	"github.com/felixgeelhaar/stride/pkg/domain/ordering"
	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
	"github.com/felixgeelhaar/stride/pkg/store"
)

func invalid(field, format string, args ...any) error {
	return &tracking.ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func normalizeGoal(g tracking.Goal) (tracking.Goal, error) {
	g.Title = strings.TrimSpace(g.Title)
	if g.Title == "" {
		return g, invalid("title", "title is required")
	}
	status, err := tracking.ParseGoalStatus(string(g.Status))
	if err != nil {
		return g, err
	}
	g.Status = status
	vis, err := tracking.ParseVisibility(string(g.Visibility))
	if err != nil {
		return g, err
	}
	g.Visibility = vis
	if !g.StartDate.IsZero() && !g.DueDate.IsZero() && g.DueDate.Before(g.StartDate) {
		return g, invalid("due_date", "due date is before start date")
	}
	return g, nil
}

func normalizeMilestone(m tracking.Milestone, st *store.Store) (tracking.Milestone, error) {
	m.Title = strings.TrimSpace(m.Title)
	if m.Title == "" {
		return m, invalid("title", "title is required")
	}
	if m.GoalID == "" {
		return m, invalid("goal_id", "milestone must belong to a goal")
	}
	if _, ok := st.Goal(m.GoalID); !ok {
		return m, invalid("goal_id", "goal %s does not exist", m.GoalID)
	}
	if m.Weight == 0 {
		m.Weight = tracking.DefaultWeight
	}
	if math.IsNaN(m.Weight) || m.Weight < tracking.MinWeight || m.Weight > tracking.MaxWeight {
		return m, invalid("weight", "must be between %.2f and %.1f", tracking.MinWeight, tracking.MaxWeight)
	}
	if math.IsNaN(m.Score) || m.Score < 0 || m.Score > 1 {
		return m, invalid("score", "must be between 0 and 1")
	}
	if m.Done {
		m.Score = 1
	}
	return m, nil
}

func normalizeKeyAreaFields(k tracking.KeyArea) (tracking.KeyArea, error) {
	k.Title = strings.TrimSpace(k.Title)
	if len(k.ListNames) > ordering.MaxLists {
		return k, &tracking.CapacityError{Resource: "list", Limit: ordering.MaxLists}
	}
	seen := make(map[string]int, len(k.ListNames))
	for idx, name := range k.ListNames {
		if idx < 1 || idx > ordering.MaxLists {
			return k, invalid("list_names", "list index %d out of range", idx)
		}
		key := strings.ToLower(strings.TrimSpace(name))
		if other, dup := seen[key]; dup && key != "" {
			return k, &tracking.GuardViolation{
				Rule:   "duplicate-list-name",
				Ref:    k.Ref(),
				Detail: fmt.Sprintf("lists %d and %d are both named %q", other, idx, name),
			}
		}
		seen[key] = idx
	}
	return k, nil
}

func normalizeTask(t tracking.Task, st *store.Store, actor string) (tracking.Task, error) {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return t, invalid("title", "title is required")
	}

	if t.KeyAreaID == "" {
		def, ok := st.DefaultKeyArea()
		if !ok {
			return t, invalid("key_area_id", "no key area given and no default key area loaded")
		}
		t.KeyAreaID = def.ID
	}
	if _, ok := st.KeyArea(t.KeyAreaID); !ok {
		return t, invalid("key_area_id", "key area %s does not exist", t.KeyAreaID)
	}
	if t.ListIndex == 0 {
		t.ListIndex = 1
	}
	if t.ListIndex < 1 || t.ListIndex > ordering.MaxLists {
		return t, invalid("list_index", "must be between 1 and %d", ordering.MaxLists)
	}
	if t.GoalID != "" {
		if _, ok := st.Goal(t.GoalID); !ok {
			return t, invalid("goal_id", "goal %s does not exist", t.GoalID)
		}
	}

	status, err := tracking.ParseTaskStatus(string(t.Status))
	if err != nil {
		return t, err
	}
	t.Status = status
	priority, err := tracking.ParsePriority(string(t.Priority))
	if err != nil {
		return t, err
	}
	t.Priority = priority

	if !t.StartDate.IsZero() && !t.EndDate.IsZero() && t.EndDate.Before(t.StartDate) {
		return t, invalid("end_date", "end date is before start date")
	}
	if t.Assignee == "" {
		t.Assignee = actor
	}
	if t.Delegation.Status == "" {
		t.Delegation.Status = tracking.DelegationNone
	}
	return t, nil
}

func normalizeActivity(a tracking.Activity, st *store.Store) (tracking.Activity, error) {
	a.Text = strings.TrimSpace(a.Text)
	if a.Text == "" {
		return a, invalid("text", "text is required")
	}
	if a.TaskID != "" {
		if _, ok := st.Task(a.TaskID); !ok {
			return a, invalid("task_id", "task %s does not exist", a.TaskID)
		}
	}
	if a.KeyAreaID != "" {
		if _, ok := st.KeyArea(a.KeyAreaID); !ok {
			return a, invalid("key_area_id", "key area %s does not exist", a.KeyAreaID)
		}
	}
	if a.ListIndex < 0 || a.ListIndex > ordering.MaxLists {
		return a, invalid("list_index", "must be between 1 and %d", ordering.MaxLists)
	}
	priority, err := tracking.ParsePriority(string(a.Priority))
	if err != nil {
		return a, err
	}
	a.Priority = priority
	if !a.StartDate.IsZero() && !a.EndDate.IsZero() && a.EndDate.Before(a.StartDate) {
		return a, invalid("end_date", "end date is before start date")
	}
	if a.Delegation.Status == "" {
		a.Delegation.Status = tracking.DelegationNone
	}
	return a, nil
}
