package mutation

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/stride/pkg/domain/delegation"
	"github.com/felixgeelhaar/stride/pkg/domain/ordering"
	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
	"github.com/felixgeelhaar/stride/pkg/store"
)

type planContext struct {
	st    *store.Store
	svc   Services
	now   time.Time
	actor string
}

// plan is the expected outcome of a command plus the remote call that
// confirms it.
type plan struct {
	target   tracking.Ref
	upserts  []tracking.Entity
	removals []tracking.Ref

	// noop commands are answered from the store without a remote call.
	noop   bool
	result tracking.Entity

	delegation bool
	remote     func(ctx context.Context) (*settlement, error)
}

// settlement is what the server confirmed.
type settlement struct {
	upserts  []tracking.Entity
	removals []tracking.Ref
	primary  tracking.Entity
}

func (p *plan) affected() []tracking.Ref {
	refs := make([]tracking.Ref, 0, len(p.upserts)+len(p.removals))
	for _, e := range p.upserts {
		refs = append(refs, e.Ref())
	}
	return append(refs, p.removals...)
}

func confirmed(e tracking.Entity) *settlement {
	return &settlement{upserts: []tracking.Entity{e}, primary: e}
}

// confirmedAs reconciles a created entity whose canonical id may differ from
// the optimistic one.
func confirmedAs(optimistic tracking.Ref, e tracking.Entity) *settlement {
	s := confirmed(e)
	if e.Ref() != optimistic {
		s.removals = []tracking.Ref{optimistic}
	}
	return s
}

func notFound(ref tracking.Ref) error {
	return &tracking.NotFoundError{Ref: ref}
}

func missingService(name string) error {
	return fmt.Errorf("mutation: no %s service configured", name)
}

// --- Create ---

func (c Create) plan(pc *planContext) (*plan, error) {
	if c.Entity == nil {
		return nil, invalid("entity", "nothing to create")
	}
	ref := c.Entity.Ref()
	if _, exists := pc.st.Get(ref); exists {
		return nil, invalid("id", "%s already exists", ref)
	}

	switch e := c.Entity.(type) {
	case tracking.Goal:
		g, err := normalizeGoal(e)
		if err != nil {
			return nil, err
		}
		return &plan{target: ref, upserts: []tracking.Entity{g}, remote: func(ctx context.Context) (*settlement, error) {
			out, err := pc.svc.Goals.Create(ctx, g)
			if err != nil {
				return nil, err
			}
			return confirmedAs(ref, out), nil
		}}, nil

	case tracking.Milestone:
		m, err := normalizeMilestone(e, pc.st)
		if err != nil {
			return nil, err
		}
		if m.SortOrder == 0 {
			m.SortOrder = len(pc.st.MilestonesByGoal(m.GoalID)) + 1
		}
		return &plan{target: ref, upserts: []tracking.Entity{m}, remote: func(ctx context.Context) (*settlement, error) {
			out, err := pc.svc.Milestones.Create(ctx, m)
			if err != nil {
				return nil, err
			}
			return confirmedAs(ref, out), nil
		}}, nil

	case tracking.KeyArea:
		pos, err := ordering.PlanNewKeyArea(pc.st.KeyAreas(), e.Title)
		if err != nil {
			return nil, err
		}
		k, err := normalizeKeyAreaFields(e)
		if err != nil {
			return nil, err
		}
		k.Position = pos
		k.IsDefault = false
		return &plan{target: ref, upserts: []tracking.Entity{k}, remote: func(ctx context.Context) (*settlement, error) {
			out, err := pc.svc.KeyAreas.Create(ctx, k)
			if err != nil {
				return nil, err
			}
			return confirmedAs(ref, out), nil
		}}, nil

	case tracking.Task:
		t, err := normalizeTask(e, pc.st, pc.actor)
		if err != nil {
			return nil, err
		}
		t.CompletionDate = time.Time{}
		if t.Status == tracking.TaskCompleted {
			t.CompletionDate = pc.now
		}
		return &plan{target: ref, upserts: []tracking.Entity{t}, remote: func(ctx context.Context) (*settlement, error) {
			out, err := pc.svc.Tasks.Create(ctx, t)
			if err != nil {
				return nil, err
			}
			return confirmedAs(ref, out), nil
		}}, nil

	case tracking.Activity:
		a, err := normalizeActivity(e, pc.st)
		if err != nil {
			return nil, err
		}
		a.CompletionDate = time.Time{}
		if a.Completed {
			a.CompletionDate = pc.now
		}
		return &plan{target: ref, upserts: []tracking.Entity{a}, remote: func(ctx context.Context) (*settlement, error) {
			out, err := pc.svc.Activities.Create(ctx, a)
			if err != nil {
				return nil, err
			}
			return confirmedAs(ref, out), nil
		}}, nil
	}
	return nil, invalid("entity", "unsupported entity %T", c.Entity)
}

// withID fills in a client-side id when the caller left it empty.
func (c Create) withID(newID func() string) Create {
	if c.Entity != nil && c.Entity.Ref().ID == "" {
		c.Entity = tracking.WithID(c.Entity, newID())
	}
	return c
}

// --- Update ---

func (c Update) plan(pc *planContext) (*plan, error) {
	if c.Entity == nil {
		return nil, invalid("entity", "nothing to update")
	}
	ref := c.Entity.Ref()
	current, ok := pc.st.Get(ref)
	if !ok {
		return nil, notFound(ref)
	}

	var next tracking.Entity
	var remote func(ctx context.Context) (tracking.Entity, error)

	switch e := c.Entity.(type) {
	case tracking.Goal:
		g, err := normalizeGoal(e)
		if err != nil {
			return nil, err
		}
		g.Version = keepVersion(g.Version, current.(tracking.Goal).Version)
		next = g
		remote = func(ctx context.Context) (tracking.Entity, error) { return pc.svc.Goals.Update(ctx, g) }

	case tracking.Milestone:
		m, err := normalizeMilestone(e, pc.st)
		if err != nil {
			return nil, err
		}
		m.Version = keepVersion(m.Version, current.(tracking.Milestone).Version)
		next = m
		remote = func(ctx context.Context) (tracking.Entity, error) { return pc.svc.Milestones.Update(ctx, m) }

	case tracking.KeyArea:
		old := current.(tracking.KeyArea)
		if err := ordering.CheckRename(old, e.Title); err != nil {
			return nil, err
		}
		k := old.Clone()
		if !old.IsDefault {
			k.Title = e.Title
		}
		k.Color = e.Color
		k.Version = keepVersion(e.Version, old.Version)
		k, err := normalizeKeyAreaFields(k)
		if err != nil {
			return nil, err
		}
		next = k
		remote = func(ctx context.Context) (tracking.Entity, error) { return pc.svc.KeyAreas.Update(ctx, k) }

	case tracking.Task:
		old := current.(tracking.Task)
		t, err := normalizeTask(e, pc.st, pc.actor)
		if err != nil {
			return nil, err
		}
		t.Delegation = old.Delegation
		t.Version = keepVersion(t.Version, old.Version)
		t.CompletionDate = completionDate(old.Status == tracking.TaskCompleted, t.Status == tracking.TaskCompleted, old.CompletionDate, pc.now)
		next = t
		remote = func(ctx context.Context) (tracking.Entity, error) { return pc.svc.Tasks.Update(ctx, t) }

	case tracking.Activity:
		old := current.(tracking.Activity)
		a, err := normalizeActivity(e, pc.st)
		if err != nil {
			return nil, err
		}
		a.Delegation = old.Delegation
		a.Version = keepVersion(a.Version, old.Version)
		a.CompletionDate = completionDate(old.Completed, a.Completed, old.CompletionDate, pc.now)
		next = a
		remote = func(ctx context.Context) (tracking.Entity, error) { return pc.svc.Activities.Update(ctx, a) }

	default:
		return nil, invalid("entity", "unsupported entity %T", c.Entity)
	}

	return &plan{target: ref, upserts: []tracking.Entity{next}, remote: func(ctx context.Context) (*settlement, error) {
		out, err := remote(ctx)
		if err != nil {
			return nil, err
		}
		return confirmed(out), nil
	}}, nil
}

func keepVersion(given, stored int) int {
	if given == 0 {
		return stored
	}
	return given
}

// completionDate is set on entering the completed state, kept while it stays
// completed and cleared on leaving it.
func completionDate(wasDone, isDone bool, previous, now time.Time) time.Time {
	switch {
	case isDone && !wasDone:
		return now
	case isDone:
		if previous.IsZero() {
			return now
		}
		return previous
	default:
		return time.Time{}
	}
}

// --- Delete ---

func (c Delete) plan(pc *planContext) (*plan, error) {
	current, ok := pc.st.Get(c.Ref)
	if !ok {
		return nil, notFound(c.Ref)
	}
	p := &plan{target: c.Ref, removals: []tracking.Ref{c.Ref}}

	switch c.Ref.Kind {
	case tracking.KindTask:
		if n := pc.st.ActivityCount(c.Ref.ID); n > 0 {
			return nil, &tracking.GuardViolation{
				Rule:   "task-has-activities",
				Ref:    c.Ref,
				Detail: fmt.Sprintf("%d activit(ies) still attached", n),
			}
		}
		p.remote = removeVia(pc.svc.Tasks.Remove, c.Ref.ID)

	case tracking.KindActivity:
		p.remote = removeVia(pc.svc.Activities.Remove, c.Ref.ID)

	case tracking.KindMilestone:
		p.remote = removeVia(pc.svc.Milestones.Remove, c.Ref.ID)

	case tracking.KindGoal:
		for _, m := range pc.st.MilestonesByGoal(c.Ref.ID) {
			p.removals = append(p.removals, m.Ref())
		}
		for _, t := range pc.st.TasksByGoal(c.Ref.ID) {
			t.GoalID = ""
			p.upserts = append(p.upserts, t)
		}
		p.remote = removeVia(pc.svc.Goals.Remove, c.Ref.ID)

	case tracking.KindKeyArea:
		area := current.(tracking.KeyArea)
		if err := ordering.CheckDelete(area, pc.st.TaskCountInKeyArea(area.ID)); err != nil {
			return nil, err
		}
		var remaining []tracking.KeyArea
		for _, ka := range pc.st.KeyAreas() {
			if ka.ID != area.ID {
				remaining = append(remaining, ka)
			}
		}
		moved := changedPositions(pc.st, ordering.Compact(remaining))
		for _, ka := range moved {
			p.upserts = append(p.upserts, ka)
		}
		batch := positions(ordering.Compact(remaining))
		p.remote = func(ctx context.Context) (*settlement, error) {
			if err := pc.svc.KeyAreas.Remove(ctx, area.ID); err != nil {
				return nil, err
			}
			s := &settlement{removals: []tracking.Ref{c.Ref}}
			if len(moved) == 0 {
				return s, nil
			}
			areas, err := pc.svc.KeyAreas.Reorder(ctx, batch)
			if err != nil {
				return nil, err
			}
			for _, ka := range areas {
				s.upserts = append(s.upserts, ka)
			}
			return s, nil
		}

	default:
		return nil, invalid("kind", "unsupported entity kind %q", c.Ref.Kind)
	}
	return p, nil
}

func removeVia(remove func(context.Context, string) error, id string) func(context.Context) (*settlement, error) {
	return func(ctx context.Context) (*settlement, error) {
		if err := remove(ctx, id); err != nil {
			return nil, err
		}
		return &settlement{}, nil
	}
}

func changedPositions(st *store.Store, areas []tracking.KeyArea) []tracking.KeyArea {
	var out []tracking.KeyArea
	for _, ka := range areas {
		if cur, ok := st.KeyArea(ka.ID); ok && cur.Position != ka.Position {
			out = append(out, ka)
		}
	}
	return out
}

func positions(areas []tracking.KeyArea) []KeyAreaPosition {
	out := make([]KeyAreaPosition, len(areas))
	for i, ka := range areas {
		out[i] = KeyAreaPosition{ID: ka.ID, Position: ka.Position}
	}
	return out
}

// --- Delegation ---

func delegable(st *store.Store, ref tracking.Ref) (tracking.Entity, delegation.Subject, error) {
	switch ref.Kind {
	case tracking.KindTask:
		t, ok := st.Task(ref.ID)
		if !ok {
			return nil, delegation.Subject{}, notFound(ref)
		}
		return t, delegation.SubjectOfTask(t), nil
	case tracking.KindActivity:
		a, ok := st.Activity(ref.ID)
		if !ok {
			return nil, delegation.Subject{}, notFound(ref)
		}
		// an activity without its own assignee is owned by its task's assignee
		eff := a.Effective(parentOf(st, a))
		s := delegation.SubjectOfActivity(a)
		s.Assignee = eff.Assignee
		return a, s, nil
	}
	return nil, delegation.Subject{}, invalid("kind", "%s cannot be delegated", ref.Kind)
}

func parentOf(st *store.Store, a tracking.Activity) *tracking.Task {
	if a.TaskID == "" {
		return nil
	}
	if t, ok := st.Task(a.TaskID); ok {
		return &t
	}
	return nil
}

func withSubject(e tracking.Entity, s delegation.Subject) tracking.Entity {
	switch v := e.(type) {
	case tracking.Task:
		v.Assignee = s.Assignee
		v.Delegation = s.Delegation
		return v
	case tracking.Activity:
		v.Assignee = s.Assignee
		v.Delegation = s.Delegation
		return v
	}
	return e
}

func (c Delegate) plan(pc *planContext) (*plan, error) {
	current, subject, err := delegable(pc.st, c.Ref)
	if err != nil {
		return nil, err
	}
	next, err := delegation.Delegate(subject, pc.actor, c.To)
	if err != nil {
		return nil, err
	}
	if pc.svc.Delegations == nil {
		return nil, missingService("delegation")
	}
	to := next.Delegation.DelegatedTo
	return &plan{
		target:     c.Ref,
		upserts:    []tracking.Entity{withSubject(current, next)},
		delegation: true,
		remote: func(ctx context.Context) (*settlement, error) {
			out, err := pc.svc.Delegations.Delegate(ctx, c.Ref, to)
			if err != nil {
				return nil, err
			}
			return confirmed(out), nil
		},
	}, nil
}

func answerPlan(pc *planContext, ref tracking.Ref, accept bool) (*plan, error) {
	current, subject, err := delegable(pc.st, ref)
	if err != nil {
		return nil, err
	}
	answer := delegation.Reject
	if accept {
		answer = delegation.Accept
	}
	next, changed, err := answer(subject, pc.actor)
	if err != nil {
		return nil, err
	}
	if !changed {
		return &plan{target: ref, noop: true, result: current}, nil
	}
	if pc.svc.Delegations == nil {
		return nil, missingService("delegation")
	}
	return &plan{
		target:     ref,
		upserts:    []tracking.Entity{withSubject(current, next)},
		delegation: true,
		remote: func(ctx context.Context) (*settlement, error) {
			call := pc.svc.Delegations.Reject
			if accept {
				call = pc.svc.Delegations.Accept
			}
			out, err := call(ctx, ref)
			if err != nil {
				return nil, err
			}
			return confirmed(out), nil
		},
	}, nil
}

func (c AcceptDelegation) plan(pc *planContext) (*plan, error) {
	return answerPlan(pc, c.Ref, true)
}

func (c RejectDelegation) plan(pc *planContext) (*plan, error) {
	return answerPlan(pc, c.Ref, false)
}

// --- Ordering ---

func (c ReorderKeyAreas) plan(pc *planContext) (*plan, error) {
	reordered, err := ordering.ReorderKeyAreas(pc.st.KeyAreas(), c.DraggedID, c.TargetID)
	if err != nil {
		return nil, err
	}
	moved := changedPositions(pc.st, reordered)
	if len(moved) == 0 {
		dragged, _ := pc.st.KeyArea(c.DraggedID)
		return &plan{target: c.Target(), noop: true, result: dragged}, nil
	}

	p := &plan{target: c.Target()}
	for _, ka := range moved {
		p.upserts = append(p.upserts, ka)
	}
	batch := positions(reordered)
	p.remote = func(ctx context.Context) (*settlement, error) {
		areas, err := pc.svc.KeyAreas.Reorder(ctx, batch)
		if err != nil {
			return nil, err
		}
		s := &settlement{}
		for _, ka := range areas {
			s.upserts = append(s.upserts, ka)
		}
		return s, nil
	}
	return p, nil
}

func keyAreaPlan(pc *planContext, id string, change func(tracking.KeyArea) (tracking.KeyArea, error)) (*plan, error) {
	ref := tracking.Ref{Kind: tracking.KindKeyArea, ID: id}
	area, ok := pc.st.KeyArea(id)
	if !ok {
		return nil, notFound(ref)
	}
	next, err := change(area)
	if err != nil {
		return nil, err
	}
	return &plan{target: ref, upserts: []tracking.Entity{next}, remote: func(ctx context.Context) (*settlement, error) {
		out, err := pc.svc.KeyAreas.Update(ctx, next)
		if err != nil {
			return nil, err
		}
		return confirmed(out), nil
	}}, nil
}

func (c AddList) plan(pc *planContext) (*plan, error) {
	return keyAreaPlan(pc, c.KeyAreaID, func(area tracking.KeyArea) (tracking.KeyArea, error) {
		next, _, err := ordering.AddList(area, c.ListName)
		return next, err
	})
}

func (c RenameList) plan(pc *planContext) (*plan, error) {
	return keyAreaPlan(pc, c.KeyAreaID, func(area tracking.KeyArea) (tracking.KeyArea, error) {
		return ordering.RenameList(area, c.Index, c.ListName, pc.st.TaskCountInList(area.ID, c.Index))
	})
}

func (c DeleteList) plan(pc *planContext) (*plan, error) {
	return keyAreaPlan(pc, c.KeyAreaID, func(area tracking.KeyArea) (tracking.KeyArea, error) {
		return ordering.DeleteList(area, c.Index, pc.st.TaskCountInList(area.ID, c.Index))
	})
}
