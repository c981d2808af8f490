package mutation

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
)

// fakeBackend is an in-memory server. Failures and pauses are injected per
// operation name, e.g. "tasks.update".
type fakeBackend struct {
	mu sync.Mutex

	goals      map[string]tracking.Goal
	milestones map[string]tracking.Milestone
	keyAreas   map[string]tracking.KeyArea
	tasks      map[string]tracking.Task
	activities map[string]tracking.Activity

	user  string
	calls []string
	fail  map[string]error
	hold  map[string]chan struct{}
	seen  map[string]chan struct{}
	// titles records task titles in the order the server received them.
	titles []string
	// taskReply, when set, rewrites what tasks.update returns.
	taskReply func(tracking.Task) tracking.Task
}

func newFakeBackend(user string) *fakeBackend {
	return &fakeBackend{
		goals:      make(map[string]tracking.Goal),
		milestones: make(map[string]tracking.Milestone),
		keyAreas:   make(map[string]tracking.KeyArea),
		tasks:      make(map[string]tracking.Task),
		activities: make(map[string]tracking.Activity),
		user:       user,
		fail:       make(map[string]error),
		hold:       make(map[string]chan struct{}),
		seen:       make(map[string]chan struct{}),
	}
}

func (b *fakeBackend) services() Services {
	return Services{
		Tasks:       fakeTasks{b},
		Goals:       fakeGoals{b},
		Milestones:  fakeMilestones{b},
		KeyAreas:    fakeKeyAreas{b},
		Activities:  fakeActivities{b},
		Delegations: fakeDelegations{b},
	}
}

// replyTasks makes tasks.update answer with f applied to the stored record.
func (b *fakeBackend) replyTasks(f func(tracking.Task) tracking.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taskReply = f
}

// failOnce makes the next call of op return err.
func (b *fakeBackend) failOnce(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail[op] = err
}

// pause blocks calls of op until the returned func is called. The second
// return value is closed when the first such call arrives.
func (b *fakeBackend) pause(op string) (resume func(), arrived <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	gate := make(chan struct{})
	seen := make(chan struct{})
	b.hold[op] = gate
	b.seen[op] = seen
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.hold, op)
			b.mu.Unlock()
			close(gate)
		})
	}, seen
}

func (b *fakeBackend) enter(ctx context.Context, op string) error {
	b.mu.Lock()
	b.calls = append(b.calls, op)
	gate := b.hold[op]
	if seen, ok := b.seen[op]; ok {
		close(seen)
		delete(b.seen, op)
	}
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.fail[op]; ok {
		delete(b.fail, op)
		return err
	}
	return nil
}

func (b *fakeBackend) callCount(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (b *fakeBackend) receivedTitles() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.titles)
}

func (b *fakeBackend) seed(entities ...tracking.Entity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range entities {
		switch v := e.(type) {
		case tracking.Goal:
			b.goals[v.ID] = v
		case tracking.Milestone:
			b.milestones[v.ID] = v
		case tracking.KeyArea:
			b.keyAreas[v.ID] = v.Clone()
		case tracking.Task:
			b.tasks[v.ID] = v
		case tracking.Activity:
			b.activities[v.ID] = v
		}
	}
}

func (b *fakeBackend) drop(ref tracking.Ref) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch ref.Kind {
	case tracking.KindTask:
		delete(b.tasks, ref.ID)
	case tracking.KindActivity:
		delete(b.activities, ref.ID)
	case tracking.KindGoal:
		delete(b.goals, ref.ID)
	case tracking.KindMilestone:
		delete(b.milestones, ref.ID)
	case tracking.KindKeyArea:
		delete(b.keyAreas, ref.ID)
	}
}

func (b *fakeBackend) task(id string) (tracking.Task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[id]
	return t, ok
}

func missing(kind tracking.EntityKind, id string) error {
	return &tracking.NotFoundError{Ref: tracking.Ref{Kind: kind, ID: id}}
}

type fakeTasks struct{ b *fakeBackend }

func (s fakeTasks) Create(ctx context.Context, t tracking.Task) (tracking.Task, error) {
	if err := s.b.enter(ctx, "tasks.create"); err != nil {
		return tracking.Task{}, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	t.Version = 1
	s.b.tasks[t.ID] = t
	return t, nil
}

func (s fakeTasks) Update(ctx context.Context, t tracking.Task) (tracking.Task, error) {
	if err := s.b.enter(ctx, "tasks.update"); err != nil {
		return tracking.Task{}, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	old, ok := s.b.tasks[t.ID]
	if !ok {
		return tracking.Task{}, missing(tracking.KindTask, t.ID)
	}
	s.b.titles = append(s.b.titles, t.Title)
	t.Version = old.Version + 1
	s.b.tasks[t.ID] = t
	if s.b.taskReply != nil {
		return s.b.taskReply(t), nil
	}
	return t, nil
}

func (s fakeTasks) Remove(ctx context.Context, id string) error {
	if err := s.b.enter(ctx, "tasks.remove"); err != nil {
		return err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	delete(s.b.tasks, id)
	return nil
}

func (s fakeTasks) List(ctx context.Context, filter TaskFilter) ([]tracking.Task, error) {
	if err := s.b.enter(ctx, "tasks.list"); err != nil {
		return nil, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	var out []tracking.Task
	for _, t := range s.b.tasks {
		if filter.KeyAreaID != "" && t.KeyAreaID != filter.KeyAreaID {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s fakeTasks) Get(ctx context.Context, id string) (tracking.Task, error) {
	if err := s.b.enter(ctx, "tasks.get"); err != nil {
		return tracking.Task{}, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	t, ok := s.b.tasks[id]
	if !ok {
		return tracking.Task{}, missing(tracking.KindTask, id)
	}
	return t, nil
}

type fakeGoals struct{ b *fakeBackend }

func (s fakeGoals) Create(ctx context.Context, g tracking.Goal) (tracking.Goal, error) {
	if err := s.b.enter(ctx, "goals.create"); err != nil {
		return tracking.Goal{}, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	g.Version = 1
	s.b.goals[g.ID] = g
	return g, nil
}

func (s fakeGoals) Update(ctx context.Context, g tracking.Goal) (tracking.Goal, error) {
	if err := s.b.enter(ctx, "goals.update"); err != nil {
		return tracking.Goal{}, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	old, ok := s.b.goals[g.ID]
	if !ok {
		return tracking.Goal{}, missing(tracking.KindGoal, g.ID)
	}
	g.Version = old.Version + 1
	s.b.goals[g.ID] = g
	return g, nil
}

// Remove cascades the way the server does: milestones go, tasks are unlinked.
func (s fakeGoals) Remove(ctx context.Context, id string) error {
	if err := s.b.enter(ctx, "goals.remove"); err != nil {
		return err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	delete(s.b.goals, id)
	for mid, m := range s.b.milestones {
		if m.GoalID == id {
			delete(s.b.milestones, mid)
		}
	}
	for tid, t := range s.b.tasks {
		if t.GoalID == id {
			t.GoalID = ""
			s.b.tasks[tid] = t
		}
	}
	return nil
}

func (s fakeGoals) List(ctx context.Context) ([]tracking.Goal, error) {
	if err := s.b.enter(ctx, "goals.list"); err != nil {
		return nil, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	var out []tracking.Goal
	for _, g := range s.b.goals {
		out = append(out, g)
	}
	return out, nil
}

func (s fakeGoals) Get(ctx context.Context, id string) (tracking.Goal, error) {
	if err := s.b.enter(ctx, "goals.get"); err != nil {
		return tracking.Goal{}, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	g, ok := s.b.goals[id]
	if !ok {
		return tracking.Goal{}, missing(tracking.KindGoal, id)
	}
	return g, nil
}

type fakeMilestones struct{ b *fakeBackend }

func (s fakeMilestones) Create(ctx context.Context, m tracking.Milestone) (tracking.Milestone, error) {
	if err := s.b.enter(ctx, "milestones.create"); err != nil {
		return tracking.Milestone{}, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	m.Version = 1
	s.b.milestones[m.ID] = m
	return m, nil
}

func (s fakeMilestones) Update(ctx context.Context, m tracking.Milestone) (tracking.Milestone, error) {
	if err := s.b.enter(ctx, "milestones.update"); err != nil {
		return tracking.Milestone{}, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	old, ok := s.b.milestones[m.ID]
	if !ok {
		return tracking.Milestone{}, missing(tracking.KindMilestone, m.ID)
	}
	m.Version = old.Version + 1
	s.b.milestones[m.ID] = m
	return m, nil
}

func (s fakeMilestones) Remove(ctx context.Context, id string) error {
	if err := s.b.enter(ctx, "milestones.remove"); err != nil {
		return err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	delete(s.b.milestones, id)
	return nil
}

func (s fakeMilestones) ListByGoal(ctx context.Context, goalID string) ([]tracking.Milestone, error) {
	if err := s.b.enter(ctx, "milestones.list"); err != nil {
		return nil, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	var out []tracking.Milestone
	for _, m := range s.b.milestones {
		if m.GoalID == goalID {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeKeyAreas struct{ b *fakeBackend }

func (s fakeKeyAreas) Create(ctx context.Context, k tracking.KeyArea) (tracking.KeyArea, error) {
	if err := s.b.enter(ctx, "key_areas.create"); err != nil {
		return tracking.KeyArea{}, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	k.Version = 1
	s.b.keyAreas[k.ID] = k.Clone()
	return k, nil
}

func (s fakeKeyAreas) Update(ctx context.Context, k tracking.KeyArea) (tracking.KeyArea, error) {
	if err := s.b.enter(ctx, "key_areas.update"); err != nil {
		return tracking.KeyArea{}, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	old, ok := s.b.keyAreas[k.ID]
	if !ok {
		return tracking.KeyArea{}, missing(tracking.KindKeyArea, k.ID)
	}
	k.Version = old.Version + 1
	s.b.keyAreas[k.ID] = k.Clone()
	return k, nil
}

func (s fakeKeyAreas) Remove(ctx context.Context, id string) error {
	if err := s.b.enter(ctx, "key_areas.remove"); err != nil {
		return err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	delete(s.b.keyAreas, id)
	return nil
}

func (s fakeKeyAreas) List(ctx context.Context) ([]tracking.KeyArea, error) {
	if err := s.b.enter(ctx, "key_areas.list"); err != nil {
		return nil, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	var out []tracking.KeyArea
	for _, k := range s.b.keyAreas {
		out = append(out, k.Clone())
	}
	return out, nil
}

func (s fakeKeyAreas) Reorder(ctx context.Context, batch []KeyAreaPosition) ([]tracking.KeyArea, error) {
	if err := s.b.enter(ctx, "key_areas.reorder"); err != nil {
		return nil, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	var out []tracking.KeyArea
	for _, p := range batch {
		k, ok := s.b.keyAreas[p.ID]
		if !ok {
			return nil, missing(tracking.KindKeyArea, p.ID)
		}
		k.Position = p.Position
		k.Version++
		s.b.keyAreas[p.ID] = k
		out = append(out, k.Clone())
	}
	return out, nil
}

type fakeActivities struct{ b *fakeBackend }

func (s fakeActivities) Create(ctx context.Context, a tracking.Activity) (tracking.Activity, error) {
	if err := s.b.enter(ctx, "activities.create"); err != nil {
		return tracking.Activity{}, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	a.Version = 1
	s.b.activities[a.ID] = a
	return a, nil
}

func (s fakeActivities) Update(ctx context.Context, a tracking.Activity) (tracking.Activity, error) {
	if err := s.b.enter(ctx, "activities.update"); err != nil {
		return tracking.Activity{}, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	old, ok := s.b.activities[a.ID]
	if !ok {
		return tracking.Activity{}, missing(tracking.KindActivity, a.ID)
	}
	a.Version = old.Version + 1
	s.b.activities[a.ID] = a
	return a, nil
}

func (s fakeActivities) Remove(ctx context.Context, id string) error {
	if err := s.b.enter(ctx, "activities.remove"); err != nil {
		return err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	delete(s.b.activities, id)
	return nil
}

func (s fakeActivities) List(ctx context.Context, filter ActivityFilter) ([]tracking.Activity, error) {
	if err := s.b.enter(ctx, "activities.list"); err != nil {
		return nil, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	var out []tracking.Activity
	for _, a := range s.b.activities {
		if filter.TaskID != "" && a.TaskID != filter.TaskID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

type fakeDelegations struct{ b *fakeBackend }

func (s fakeDelegations) Delegate(ctx context.Context, ref tracking.Ref, to string) (tracking.Entity, error) {
	if err := s.b.enter(ctx, "delegations.delegate"); err != nil {
		return nil, err
	}
	return s.b.updateDelegation(ref, func(assignee *string, d *tracking.Delegation) {
		*d = tracking.Delegation{Status: tracking.DelegationPending, DelegatedTo: to, DelegatedBy: s.b.user}
	})
}

func (s fakeDelegations) Accept(ctx context.Context, ref tracking.Ref) (tracking.Entity, error) {
	if err := s.b.enter(ctx, "delegations.accept"); err != nil {
		return nil, err
	}
	return s.b.updateDelegation(ref, func(assignee *string, d *tracking.Delegation) {
		d.Status = tracking.DelegationAccepted
		*assignee = d.DelegatedTo
	})
}

func (s fakeDelegations) Reject(ctx context.Context, ref tracking.Ref) (tracking.Entity, error) {
	if err := s.b.enter(ctx, "delegations.reject"); err != nil {
		return nil, err
	}
	return s.b.updateDelegation(ref, func(_ *string, d *tracking.Delegation) {
		d.Status = tracking.DelegationRejected
	})
}

func (s fakeDelegations) ListDelegatedToMe(ctx context.Context) (Inbox, error) {
	if err := s.b.enter(ctx, "delegations.inbox"); err != nil {
		return Inbox{}, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	var in Inbox
	for _, t := range s.b.tasks {
		if t.Delegation.Status == tracking.DelegationPending && t.Delegation.DelegatedTo == s.b.user {
			in.Tasks = append(in.Tasks, t)
		}
	}
	for _, a := range s.b.activities {
		if a.Delegation.Status == tracking.DelegationPending && a.Delegation.DelegatedTo == s.b.user {
			in.Activities = append(in.Activities, a)
		}
	}
	return in, nil
}

func (b *fakeBackend) updateDelegation(ref tracking.Ref, change func(assignee *string, d *tracking.Delegation)) (tracking.Entity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch ref.Kind {
	case tracking.KindTask:
		t, ok := b.tasks[ref.ID]
		if !ok {
			return nil, missing(ref.Kind, ref.ID)
		}
		change(&t.Assignee, &t.Delegation)
		t.Version++
		b.tasks[ref.ID] = t
		return t, nil
	case tracking.KindActivity:
		a, ok := b.activities[ref.ID]
		if !ok {
			return nil, missing(ref.Kind, ref.ID)
		}
		change(&a.Assignee, &a.Delegation)
		a.Version++
		b.activities[ref.ID] = a
		return a, nil
	}
	return nil, fmt.Errorf("cannot delegate %s", ref)
}
