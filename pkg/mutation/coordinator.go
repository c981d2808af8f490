// Package mutation applies commands to the entity store optimistically and
// reconciles them with the remote services.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/fortify/timeout"

	"github.com/felixgeelhaar/stride/pkg/domain/events"
	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
	"github.com/felixgeelhaar/stride/pkg/store"
)

// Result is the settled state of a command.
type Result struct {
	Command string
	Ref     tracking.Ref
	// Entity is the merged record after the server confirmed the change. It is
	// nil after a delete.
	Entity tracking.Entity
	// Noop is set when the command did not need to change anything.
	Noop bool
}

// AsyncResult is delivered by ApplyAsync.
type AsyncResult struct {
	Result Result
	Err    error
}

// Coordinator is the only writer of the entity store. Commands on the same
// entity run one after another in arrival order; commands on different
// entities run concurrently.
type Coordinator struct {
	// gate lets Sync wait for in-flight commands and hold new ones back.
	gate sync.RWMutex

	st        *store.Store
	svc       Services
	publisher events.Publisher
	queue     *keyQueue
	opts      options
}

// NewCoordinator creates a new Coordinator. publisher may be nil.
func NewCoordinator(st *store.Store, svc Services, publisher events.Publisher, opts ...Option) *Coordinator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Coordinator{
		st:        st,
		svc:       svc,
		publisher: publisher,
		queue:     newKeyQueue(),
		opts:      o,
	}
}

// Store returns the store the coordinator writes to.
func (c *Coordinator) Store() *store.Store { return c.st }

// Actor returns the acting user.
func (c *Coordinator) Actor() string { return c.opts.actor }

// Apply runs cmd: plan, optimistic write, remote call, then reconcile or roll
// back. Every failure is returned to the caller, and the store is consistent
// whatever happens to ctx.
func (c *Coordinator) Apply(ctx context.Context, cmd Command) (Result, error) {
	if cmd == nil {
		return Result{}, invalid("command", "command is required")
	}
	if create, ok := cmd.(Create); ok {
		cmd = create.withID(c.opts.newID)
	}
	started := time.Now()
	ref := cmd.Target()
	logger := c.opts.logger.With("command", cmd.Name(), "entity_kind", ref.Kind, "entity_id", ref.ID)

	c.gate.RLock()
	defer c.gate.RUnlock()

	tk := c.queue.enqueue(cmd.keys(c.st))
	if err := tk.wait(ctx); err != nil {
		err = &tracking.TransientError{Op: cmd.Name() + " " + ref.String(), Err: err}
		logger.Debug("command cancelled while queued", "error", err)
		c.settled(ctx, cmd, ref, events.OutcomeRejected, started, err)
		return Result{Command: cmd.Name(), Ref: ref}, err
	}
	defer tk.release()

	p, err := cmd.plan(&planContext{st: c.st, svc: c.svc, now: c.opts.now(), actor: c.opts.actor})
	if err != nil {
		logger.Debug("command rejected", "error", err)
		var capErr *tracking.CapacityError
		if errors.As(err, &capErr) {
			c.publish(ctx, events.NewCapacityExceeded(ref, capErr.Resource, capErr.Limit, c.opts.actor, c.opts.now()))
		}
		c.settled(ctx, cmd, ref, events.OutcomeRejected, started, err)
		return Result{Command: cmd.Name(), Ref: ref}, err
	}
	if p.noop {
		logger.Debug("command is a no-op")
		c.settled(ctx, cmd, p.target, events.OutcomeNoop, started, nil)
		return Result{Command: cmd.Name(), Ref: p.target, Entity: p.result, Noop: true}, nil
	}

	capture := c.st.Capture(p.affected()...)
	if err := c.st.Apply(p.upserts, p.removals); err != nil {
		c.revert(logger, capture)
		c.settled(ctx, cmd, p.target, events.OutcomeRejected, started, err)
		return Result{Command: cmd.Name(), Ref: p.target}, err
	}
	c.changed(ctx, capture.Refs(), events.PhaseOptimistic)

	s, err := c.callRemote(ctx, cmd, p)
	if err != nil {
		return c.recover(ctx, logger, cmd, p, capture, started, err)
	}

	if err := c.st.Apply(s.upserts, s.removals); err != nil {
		logger.Error("failed to merge server record", "error", err)
		err = &tracking.TransientError{Op: cmd.Name() + " " + p.target.String(), Err: fmt.Errorf("unusable server record: %w", err)}
		return c.recover(ctx, logger, cmd, p, capture, started, err)
	}
	refs := capture.Refs()
	for _, e := range s.upserts {
		refs = append(refs, e.Ref())
	}
	c.changed(ctx, append(refs, s.removals...), events.PhaseConfirmed)

	result := Result{Command: cmd.Name(), Ref: p.target}
	if s.primary != nil {
		result.Ref = s.primary.Ref()
	}
	if e, ok := c.st.Get(result.Ref); ok {
		result.Entity = e
	}
	if p.delegation && result.Entity != nil {
		if d, ok := tracking.DelegationOf(result.Entity); ok {
			c.publish(ctx, events.NewDelegationSettled(result.Ref, d, c.opts.actor, tracking.VersionOf(result.Entity), c.opts.now()))
		}
	}
	logger.Debug("command applied")
	c.settled(ctx, cmd, result.Ref, events.OutcomeApplied, started, nil)
	return result, nil
}

// ApplyAsync runs Apply in the background.
func (c *Coordinator) ApplyAsync(ctx context.Context, cmd Command) <-chan AsyncResult {
	out := make(chan AsyncResult, 1)
	go func() {
		res, err := c.Apply(ctx, cmd)
		out <- AsyncResult{Result: res, Err: err}
		close(out)
	}()
	return out
}

func (c *Coordinator) callRemote(ctx context.Context, cmd Command, p *plan) (*settlement, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(cmd.Name(), p.target, err)
	}
	if p.remote == nil {
		return &settlement{}, nil
	}
	t := timeout.New[*settlement](timeout.Config{DefaultTimeout: c.opts.timeout})
	s, err := t.Execute(ctx, c.opts.timeout, p.remote)
	if err != nil {
		return nil, classify(cmd.Name(), p.target, err)
	}
	if s == nil {
		s = &settlement{}
	}
	return s, nil
}

// recover handles a failed remote call. A conflict re-reads the affected
// entities from the server; anything else restores the captured state.
func (c *Coordinator) recover(ctx context.Context, logger *slog.Logger, cmd Command, p *plan, capture store.Capture, started time.Time, err error) (Result, error) {
	// The caller may be gone; finish the bookkeeping regardless.
	ctx = context.WithoutCancel(ctx)
	result := Result{Command: cmd.Name(), Ref: p.target}

	if isConflict(err) {
		rerr := c.refetch(ctx, capture)
		if rerr == nil {
			logger.Warn("conflict, merged server state", "error", err)
			c.changed(ctx, capture.Refs(), events.PhaseRefetched)
			if e, ok := c.st.Get(p.target); ok {
				result.Entity = e
			}
			c.settled(ctx, cmd, p.target, events.OutcomeRefetched, started, err)
			return result, err
		}
		logger.Error("refetch after conflict failed", "error", rerr)
	}

	c.revert(logger, capture)
	logger.Warn("rolled back optimistic write", "error", err)
	c.changed(ctx, capture.Refs(), events.PhaseReverted)
	if e, ok := c.st.Get(p.target); ok {
		result.Entity = e
	}
	c.settled(ctx, cmd, p.target, events.OutcomeReverted, started, err)
	return result, err
}

func (c *Coordinator) revert(logger *slog.Logger, capture store.Capture) {
	if err := c.st.Revert(capture); err != nil {
		logger.Error("failed to restore captured entities", "error", err)
	}
}

type fetched struct {
	entity tracking.Entity
	found  bool
}

func found[T tracking.Entity](e T, err error) (fetched, error) {
	if errors.Is(err, tracking.ErrNotFound) {
		return fetched{}, nil
	}
	if err != nil {
		return fetched{}, err
	}
	return fetched{entity: e, found: true}, nil
}

func foundIn[T tracking.Entity](list []T, err error, id string) (fetched, error) {
	if err != nil {
		return fetched{}, err
	}
	for _, e := range list {
		if e.Ref().ID == id {
			return fetched{entity: e, found: true}, nil
		}
	}
	return fetched{}, nil
}

// refetch re-reads every captured entity and writes the server's view into
// the store. Entities the server no longer has are removed.
func (c *Coordinator) refetch(ctx context.Context, capture store.Capture) error {
	var upserts []tracking.Entity
	var removals []tracking.Ref

	for _, ref := range capture.Refs() {
		hint, ok := c.st.Get(ref)
		if !ok {
			hint, _ = capture.Entity(ref)
		}
		f, err := c.fetch(ctx, ref, hint)
		if err != nil {
			return fmt.Errorf("refetch %s: %w", ref, err)
		}
		if f.found {
			upserts = append(upserts, f.entity)
		} else {
			removals = append(removals, ref)
		}
	}
	return c.st.Apply(upserts, removals)
}

func (c *Coordinator) fetch(ctx context.Context, ref tracking.Ref, hint tracking.Entity) (fetched, error) {
	r := retry.New[fetched](c.opts.refetch)
	t := timeout.New[fetched](timeout.Config{DefaultTimeout: c.opts.timeout})

	return r.Do(ctx, func(ctx context.Context) (fetched, error) {
		return t.Execute(ctx, c.opts.timeout, func(ctx context.Context) (fetched, error) {
			switch ref.Kind {
			case tracking.KindTask:
				return found(c.svc.Tasks.Get(ctx, ref.ID))
			case tracking.KindGoal:
				return found(c.svc.Goals.Get(ctx, ref.ID))
			case tracking.KindMilestone:
				m, _ := hint.(tracking.Milestone)
				list, err := c.svc.Milestones.ListByGoal(ctx, m.GoalID)
				return foundIn(list, err, ref.ID)
			case tracking.KindKeyArea:
				list, err := c.svc.KeyAreas.List(ctx)
				return foundIn(list, err, ref.ID)
			case tracking.KindActivity:
				a, _ := hint.(tracking.Activity)
				list, err := c.svc.Activities.List(ctx, ActivityFilter{TaskID: a.TaskID})
				return foundIn(list, err, ref.ID)
			}
			return fetched{}, fmt.Errorf("cannot refetch %s", ref)
		})
	})
}

// Sync replaces the store content with the server's. It waits for in-flight
// commands and holds new ones back until it is done.
func (c *Coordinator) Sync(ctx context.Context) error {
	c.gate.Lock()
	defer c.gate.Unlock()

	t := timeout.New[[]tracking.Entity](timeout.Config{DefaultTimeout: c.opts.timeout})
	entities, err := t.Execute(ctx, c.opts.timeout, c.loadAll)
	if err != nil {
		return classify("sync", tracking.Ref{}, err)
	}

	before := c.st.Snapshot()
	if err := c.st.Replace(entities); err != nil {
		return err
	}
	diff := diffSnapshots(before, c.st.Snapshot())
	c.opts.logger.Debug("store synced", "entities", len(entities), "changed", len(diff))
	c.changed(ctx, diff, events.PhaseSynced)
	return nil
}

func (c *Coordinator) loadAll(ctx context.Context) ([]tracking.Entity, error) {
	var out []tracking.Entity

	areas, err := c.svc.KeyAreas.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list key areas: %w", err)
	}
	for _, ka := range areas {
		out = append(out, ka)
	}

	goals, err := c.svc.Goals.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	for _, g := range goals {
		out = append(out, g)
		milestones, err := c.svc.Milestones.ListByGoal(ctx, g.ID)
		if err != nil {
			return nil, fmt.Errorf("list milestones of %s: %w", g.ID, err)
		}
		for _, m := range milestones {
			out = append(out, m)
		}
	}

	tasks, err := c.svc.Tasks.List(ctx, TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	for _, t := range tasks {
		out = append(out, t)
	}

	activities, err := c.svc.Activities.List(ctx, ActivityFilter{})
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	for _, a := range activities {
		out = append(out, a)
	}
	return out, nil
}

// SyncDelegatedToMe merges the delegation inbox into the store and returns the
// refs it touched.
func (c *Coordinator) SyncDelegatedToMe(ctx context.Context) ([]tracking.Ref, error) {
	if c.svc.Delegations == nil {
		return nil, missingService("delegation")
	}

	c.gate.Lock()
	defer c.gate.Unlock()

	t := timeout.New[Inbox](timeout.Config{DefaultTimeout: c.opts.timeout})
	inbox, err := t.Execute(ctx, c.opts.timeout, c.svc.Delegations.ListDelegatedToMe)
	if err != nil {
		return nil, classify("list delegated", tracking.Ref{}, err)
	}

	var entities []tracking.Entity
	var refs []tracking.Ref
	for _, task := range inbox.Tasks {
		entities = append(entities, task)
		refs = append(refs, task.Ref())
	}
	for _, a := range inbox.Activities {
		entities = append(entities, a)
		refs = append(refs, a.Ref())
	}
	if err := c.st.Apply(entities, nil); err != nil {
		return nil, err
	}
	c.changed(ctx, refs, events.PhaseSynced)
	return refs, nil
}

// Quadrant classifies a task or activity now.
func (c *Coordinator) Quadrant(ref tracking.Ref) (tracking.Quadrant, error) {
	sig, ok := c.st.Signals(ref)
	if !ok {
		return "", &tracking.NotFoundError{Ref: ref}
	}
	return c.opts.classifier.Classify(sig, c.opts.now()), nil
}

func (c *Coordinator) publish(ctx context.Context, e events.DomainEvent) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
		c.opts.logger.Warn("failed to publish event", "event_type", e.EventType(), "error", err)
	}
}

func (c *Coordinator) changed(ctx context.Context, refs []tracking.Ref, phase events.ChangePhase) {
	seen := make(map[tracking.Ref]bool, len(refs))
	for _, ref := range refs {
		if seen[ref] || ref.ID == "" {
			continue
		}
		seen[ref] = true
		e, ok := c.st.Get(ref)
		version := 0
		if ok {
			version = tracking.VersionOf(e)
		}
		c.publish(ctx, events.NewEntityChanged(ref, phase, !ok, version, c.opts.now()))
	}
}

func (c *Coordinator) settled(ctx context.Context, cmd Command, ref tracking.Ref, outcome events.Outcome, started time.Time, err error) {
	c.publish(ctx, events.NewMutationSettled(ref, cmd.Name(), outcome, time.Since(started), err, c.opts.actor, c.opts.now()))
}

func diffSnapshots(before, after store.Snapshot) []tracking.Ref {
	old := make(map[tracking.Ref]tracking.Entity)
	for _, e := range before.Entities() {
		old[e.Ref()] = e
	}
	var refs []tracking.Ref
	for _, e := range after.Entities() {
		ref := e.Ref()
		if prev, ok := old[ref]; !ok || !reflect.DeepEqual(prev, e) {
			refs = append(refs, ref)
		}
		delete(old, ref)
	}
	for ref := range old {
		refs = append(refs, ref)
	}
	slices.SortFunc(refs, func(a, b tracking.Ref) int { return strings.Compare(a.String(), b.String()) })
	return refs
}
