// Package tracking defines the canonical entities of the productivity tracker and
// the pure business rules derived from them (goal progress and quadrant
// classification).
package tracking

import (
	"strings"
	"time"
)

// EntityKind names one of the five entity tables.
type EntityKind string

const (
	KindGoal      EntityKind = "goal"
	KindMilestone EntityKind = "milestone"
	KindKeyArea   EntityKind = "key_area"
	KindTask      EntityKind = "task"
	KindActivity  EntityKind = "activity"
)

// AllKinds returns every entity kind in dependency order (owners first).
func AllKinds() []EntityKind {
	return []EntityKind{KindKeyArea, KindGoal, KindMilestone, KindTask, KindActivity}
}

// Ref addresses a single entity.
type Ref struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

func (r Ref) String() string {
	return string(r.Kind) + ":" + r.ID
}

// Entity is implemented by every record the store holds.
type Entity interface {
	Ref() Ref
	// CloneEntity returns a deep copy sharing no mutable state with the receiver.
	CloneEntity() Entity
}

// Goal is a long-running objective measured by its milestones.
type Goal struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      GoalStatus `json:"status"`
	Visibility  Visibility `json:"visibility"`
	StartDate   time.Time  `json:"start_date"`
	DueDate     time.Time  `json:"due_date"`
	Version     int        `json:"version"`
}

func (g Goal) Ref() Ref            { return Ref{Kind: KindGoal, ID: g.ID} }
func (g Goal) CloneEntity() Entity { return g }

// Milestone is a weighted sub-goal.
type Milestone struct {
	ID        string    `json:"id"`
	GoalID    string    `json:"goal_id"`
	Title     string    `json:"title"`
	Weight    float64   `json:"weight"`
	Done      bool      `json:"done"`
	Score     float64   `json:"score"`
	DueDate   time.Time `json:"due_date"`
	SortOrder int       `json:"sort_order"`
	Version   int       `json:"version"`
}

func (m Milestone) Ref() Ref            { return Ref{Kind: KindMilestone, ID: m.ID} }
func (m Milestone) CloneEntity() Entity { return m }

// Milestone weight bounds.
const (
	MinWeight     = 0.01
	MaxWeight     = 10.0
	DefaultWeight = 1.0
)

// EffectiveScore is 1 for a done milestone, otherwise the stored partial score
// clamped to [0,1].
func (m Milestone) EffectiveScore() float64 {
	if m.Done {
		return 1.0
	}
	return clamp(m.Score, 0, 1)
}

// KeyArea is a top-level bucket of tasks.
type KeyArea struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Color     string         `json:"color,omitempty"`
	Position  int            `json:"position"`
	IsDefault bool           `json:"is_default"`
	ListNames map[int]string `json:"list_names,omitempty"`
	Version   int            `json:"version"`
}

func (k KeyArea) Ref() Ref { return Ref{Kind: KindKeyArea, ID: k.ID} }

func (k KeyArea) CloneEntity() Entity { return k.Clone() }

// Clone copies the list-name map.
func (k KeyArea) Clone() KeyArea {
	if k.ListNames != nil {
		names := make(map[int]string, len(k.ListNames))
		for idx, name := range k.ListNames {
			names[idx] = name
		}
		k.ListNames = names
	}
	return k
}

// DefaultKeyAreaTitle is the reserved title of the locked default key area.
const DefaultKeyAreaTitle = "Ideas"

// IsDefaultTitle reports whether title is the reserved default title.
func IsDefaultTitle(title string) bool {
	return strings.EqualFold(strings.TrimSpace(title), DefaultKeyAreaTitle)
}

// Delegation tracks a handoff of a task or activity to another user.
type Delegation struct {
	Status      DelegationStatus `json:"status"`
	DelegatedTo string           `json:"delegated_to,omitempty"`
	DelegatedBy string           `json:"delegated_by,omitempty"`
}

// Task is a unit of work inside a key area list.
type Task struct {
	ID             string     `json:"id"`
	KeyAreaID      string     `json:"key_area_id"`
	GoalID         string     `json:"goal_id,omitempty"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Status         TaskStatus `json:"status"`
	Priority       Priority   `json:"priority"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        time.Time  `json:"end_date"`
	Deadline       time.Time  `json:"deadline"`
	Assignee       string     `json:"assignee,omitempty"`
	ListIndex      int        `json:"list_index"`
	Delegation     Delegation `json:"delegation"`
	CompletionDate time.Time  `json:"completion_date"`
	Version        int        `json:"version"`
}

func (t Task) Ref() Ref            { return Ref{Kind: KindTask, ID: t.ID} }
func (t Task) CloneEntity() Entity { return t }

// Activity is a small step, usually attached to a task.
type Activity struct {
	ID             string     `json:"id"`
	TaskID         string     `json:"task_id,omitempty"`
	Text           string     `json:"text"`
	Completed      bool       `json:"completed"`
	Priority       Priority   `json:"priority"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        time.Time  `json:"end_date"`
	Deadline       time.Time  `json:"deadline"`
	KeyAreaID      string     `json:"key_area_id,omitempty"`
	ListIndex      int        `json:"list_index,omitempty"`
	Assignee       string     `json:"assignee,omitempty"`
	GoalID         string     `json:"goal_id,omitempty"`
	Delegation     Delegation `json:"delegation"`
	CompletionDate time.Time  `json:"completion_date"`
	Version        int        `json:"version"`
}

func (a Activity) Ref() Ref            { return Ref{Kind: KindActivity, ID: a.ID} }
func (a Activity) CloneEntity() Entity { return a }

// Effective fills the fields an activity inherits from its parent task when it
// does not set them itself. Goal linkage is always taken from the parent.
func (a Activity) Effective(parent *Task) Activity {
	if parent == nil || a.TaskID == "" || parent.ID != a.TaskID {
		return a
	}
	if a.KeyAreaID == "" {
		a.KeyAreaID = parent.KeyAreaID
	}
	if a.ListIndex == 0 {
		a.ListIndex = parent.ListIndex
	}
	if a.Assignee == "" {
		a.Assignee = parent.Assignee
	}
	a.GoalID = parent.GoalID
	return a
}

// Owner returns the user currently responsible for a delegable item.
func Owner(assignee string, d Delegation) string {
	if d.Status == DelegationAccepted && d.DelegatedTo != "" {
		return d.DelegatedTo
	}
	return assignee
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
