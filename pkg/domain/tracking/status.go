package tracking

import (
	"fmt"
	"strings"
)

// TaskStatus is the canonical task lifecycle status.
type TaskStatus string

const (
	TaskOpen       TaskStatus = "open"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// taskStatusSynonyms maps every accepted spelling to its canonical status.
var taskStatusSynonyms = map[string]TaskStatus{
	"open":        TaskOpen,
	"todo":        TaskOpen,
	"to_do":       TaskOpen,
	"in_progress": TaskInProgress,
	"inprogress":  TaskInProgress,
	"doing":       TaskInProgress,
	"completed":   TaskCompleted,
	"complete":    TaskCompleted,
	"done":        TaskCompleted,
	"closed":      TaskCompleted,
	"cancelled":   TaskCancelled,
	"canceled":    TaskCancelled,
}

// ParseTaskStatus canonicalizes any accepted spelling. Case, surrounding
// whitespace and '-'/' ' separators are ignored. Empty input means open.
func ParseTaskStatus(s string) (TaskStatus, error) {
	key := normalizeEnum(s)
	if key == "" {
		return TaskOpen, nil
	}
	if st, ok := taskStatusSynonyms[key]; ok {
		return st, nil
	}
	return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown task status %q", s)}
}

// IsValid reports whether s is one of the canonical statuses.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskOpen, TaskInProgress, TaskCompleted, TaskCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the task is finished one way or another.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

// WireName is the spelling used on the service boundary.
func (s TaskStatus) WireName() string {
	if s == TaskOpen {
		return "todo"
	}
	return string(s)
}

func (s TaskStatus) DisplayName() string {
	switch s {
	case TaskOpen:
		return "Open"
	case TaskInProgress:
		return "In Progress"
	case TaskCompleted:
		return "Completed"
	case TaskCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}

// GoalStatus is the lifecycle status of a goal.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalPaused    GoalStatus = "paused"
	GoalCompleted GoalStatus = "completed"
	GoalCancelled GoalStatus = "cancelled"
	GoalArchived  GoalStatus = "archived"
)

// ParseGoalStatus canonicalizes a goal status; empty means active.
func ParseGoalStatus(s string) (GoalStatus, error) {
	switch normalizeEnum(s) {
	case "", "active", "open", "in_progress":
		return GoalActive, nil
	case "paused", "on_hold":
		return GoalPaused, nil
	case "completed", "done", "closed":
		return GoalCompleted, nil
	case "cancelled", "canceled":
		return GoalCancelled, nil
	case "archived":
		return GoalArchived, nil
	}
	return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown goal status %q", s)}
}

// Visibility controls who can see a goal.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// ParseVisibility canonicalizes a visibility; empty means private.
func ParseVisibility(s string) (Visibility, error) {
	switch normalizeEnum(s) {
	case "", "private":
		return VisibilityPrivate, nil
	case "public":
		return VisibilityPublic, nil
	}
	return "", &ValidationError{Field: "visibility", Reason: fmt.Sprintf("unknown visibility %q", s)}
}

// DelegationStatus is the state of a delegation handoff.
type DelegationStatus string

const (
	DelegationNone     DelegationStatus = "none"
	DelegationPending  DelegationStatus = "pending"
	DelegationAccepted DelegationStatus = "accepted"
	DelegationRejected DelegationStatus = "rejected"
)

// ParseDelegationStatus canonicalizes a delegation status; empty means none.
func ParseDelegationStatus(s string) (DelegationStatus, error) {
	switch normalizeEnum(s) {
	case "", "none":
		return DelegationNone, nil
	case "pending":
		return DelegationPending, nil
	case "accepted":
		return DelegationAccepted, nil
	case "rejected", "declined":
		return DelegationRejected, nil
	}
	return "", &ValidationError{Field: "delegation.status", Reason: fmt.Sprintf("unknown delegation status %q", s)}
}

// IsTerminal reports whether the delegation has been answered.
func (s DelegationStatus) IsTerminal() bool {
	return s == DelegationAccepted || s == DelegationRejected
}

func normalizeEnum(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}
