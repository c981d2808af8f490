package mutation

import (
	"context"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
)

// TaskFilter narrows TaskService.List. Zero fields match everything.
type TaskFilter struct {
	KeyAreaID string
	GoalID    string
	Assignee  string
	Status    tracking.TaskStatus
}

// ActivityFilter narrows ActivityService.List.
type ActivityFilter struct {
	TaskID string
}

// TaskService is the remote task collection.
type TaskService interface {
	Create(ctx context.Context, task tracking.Task) (tracking.Task, error)
	Update(ctx context.Context, task tracking.Task) (tracking.Task, error)
	Remove(ctx context.Context, id string) error
	List(ctx context.Context, filter TaskFilter) ([]tracking.Task, error)
	Get(ctx context.Context, id string) (tracking.Task, error)
}

// GoalService is the remote goal collection.
type GoalService interface {
	Create(ctx context.Context, goal tracking.Goal) (tracking.Goal, error)
	Update(ctx context.Context, goal tracking.Goal) (tracking.Goal, error)
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]tracking.Goal, error)
	Get(ctx context.Context, id string) (tracking.Goal, error)
}

// MilestoneService is the remote milestone collection.
type MilestoneService interface {
	Create(ctx context.Context, m tracking.Milestone) (tracking.Milestone, error)
	Update(ctx context.Context, m tracking.Milestone) (tracking.Milestone, error)
	Remove(ctx context.Context, id string) error
	ListByGoal(ctx context.Context, goalID string) ([]tracking.Milestone, error)
}

// KeyAreaPosition is one entry of a reorder batch.
type KeyAreaPosition struct {
	ID       string
	Position int
}

// KeyAreaService is the remote key area collection.
type KeyAreaService interface {
	Create(ctx context.Context, area tracking.KeyArea) (tracking.KeyArea, error)
	Update(ctx context.Context, area tracking.KeyArea) (tracking.KeyArea, error)
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]tracking.KeyArea, error)
	Reorder(ctx context.Context, batch []KeyAreaPosition) ([]tracking.KeyArea, error)
}

// ActivityService is the remote activity collection.
type ActivityService interface {
	Create(ctx context.Context, a tracking.Activity) (tracking.Activity, error)
	Update(ctx context.Context, a tracking.Activity) (tracking.Activity, error)
	Remove(ctx context.Context, id string) error
	List(ctx context.Context, filter ActivityFilter) ([]tracking.Activity, error)
}

// Inbox is what the delegation service reports as waiting for the caller.
type Inbox struct {
	Tasks      []tracking.Task
	Activities []tracking.Activity
}

// DelegationService runs delegation steps on the server. Each call returns the
// canonical task or activity.
type DelegationService interface {
	Delegate(ctx context.Context, ref tracking.Ref, to string) (tracking.Entity, error)
	Accept(ctx context.Context, ref tracking.Ref) (tracking.Entity, error)
	Reject(ctx context.Context, ref tracking.Ref) (tracking.Entity, error)
	ListDelegatedToMe(ctx context.Context) (Inbox, error)
}

// Services bundles the remote collaborators of the coordinator.
type Services struct {
	Tasks       TaskService
	Goals       GoalService
	Milestones  MilestoneService
	KeyAreas    KeyAreaService
	Activities  ActivityService
	Delegations DelegationService
}
