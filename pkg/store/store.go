// Package store holds the normalized in-memory entity tables the engine
// reads from and the mutation coordinator writes to.
package store

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/stride/pkg/domain/ordering"
	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
)

// ListKey addresses one list inside a key area.
type ListKey struct {
	KeyAreaID string
	Index     int
}

type idSet map[string]struct{}

func (s idSet) sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Store is safe for concurrent use. Derived values are computed on every read.
type Store struct {
	mu sync.RWMutex

	goals      map[string]tracking.Goal
	milestones map[string]tracking.Milestone
	keyAreas   map[string]tracking.KeyArea
	tasks      map[string]tracking.Task
	activities map[string]tracking.Activity

	tasksByKeyArea   map[string]idSet
	tasksByList      map[ListKey]idSet
	activitiesByTask map[string]idSet
	milestonesByGoal map[string]idSet

	classifier tracking.Classifier
}

// Option configures a Store.
type Option func(*Store)

// WithClassifier sets the classifier used by Quadrant reads.
func WithClassifier(c tracking.Classifier) Option {
	return func(s *Store) { s.classifier = c }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{classifier: tracking.NewClassifier(0)}
	s.reset()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) reset() {
	s.goals = make(map[string]tracking.Goal)
	s.milestones = make(map[string]tracking.Milestone)
	s.keyAreas = make(map[string]tracking.KeyArea)
	s.tasks = make(map[string]tracking.Task)
	s.activities = make(map[string]tracking.Activity)
	s.tasksByKeyArea = make(map[string]idSet)
	s.tasksByList = make(map[ListKey]idSet)
	s.activitiesByTask = make(map[string]idSet)
	s.milestonesByGoal = make(map[string]idSet)
}

// Get returns a copy of the entity ref points to.
func (s *Store) Get(ref tracking.Ref) (tracking.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(ref)
}

func (s *Store) get(ref tracking.Ref) (tracking.Entity, bool) {
	switch ref.Kind {
	case tracking.KindGoal:
		g, ok := s.goals[ref.ID]
		return g, ok
	case tracking.KindMilestone:
		m, ok := s.milestones[ref.ID]
		return m, ok
	case tracking.KindKeyArea:
		k, ok := s.keyAreas[ref.ID]
		if !ok {
			return nil, false
		}
		return k.Clone(), true
	case tracking.KindTask:
		t, ok := s.tasks[ref.ID]
		return t, ok
	case tracking.KindActivity:
		a, ok := s.activities[ref.ID]
		return a, ok
	}
	return nil, false
}

// Upsert inserts or replaces an entity and maintains the indices.
func (s *Store) Upsert(e tracking.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsert(e)
}

// checkEntity reports why e cannot be stored.
func checkEntity(e tracking.Entity) error {
	if e == nil {
		return fmt.Errorf("store: nil entity")
	}
	switch e.(type) {
	case tracking.Goal, tracking.Milestone, tracking.KeyArea, tracking.Task, tracking.Activity:
	default:
		return fmt.Errorf("store: unsupported entity %T", e)
	}
	if ref := e.Ref(); ref.ID == "" {
		return fmt.Errorf("store: %s without id", ref.Kind)
	}
	return nil
}

func (s *Store) upsert(e tracking.Entity) error {
	if err := checkEntity(e); err != nil {
		return err
	}
	ref := e.Ref()
	s.remove(ref)

	switch v := e.CloneEntity().(type) {
	case tracking.Goal:
		s.goals[v.ID] = v
	case tracking.Milestone:
		s.milestones[v.ID] = v
		index(s.milestonesByGoal, v.GoalID, v.ID)
	case tracking.KeyArea:
		s.keyAreas[v.ID] = v
	case tracking.Task:
		s.tasks[v.ID] = v
		index(s.tasksByKeyArea, v.KeyAreaID, v.ID)
		index(s.tasksByList, ListKey{KeyAreaID: v.KeyAreaID, Index: v.ListIndex}, v.ID)
	case tracking.Activity:
		s.activities[v.ID] = v
		index(s.activitiesByTask, v.TaskID, v.ID)
	default:
		return fmt.Errorf("store: unsupported entity %T", e)
	}
	return nil
}

// Remove deletes the entity ref points to and reports whether it existed.
func (s *Store) Remove(ref tracking.Ref) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(ref)
}

func (s *Store) remove(ref tracking.Ref) bool {
	switch ref.Kind {
	case tracking.KindGoal:
		if _, ok := s.goals[ref.ID]; ok {
			delete(s.goals, ref.ID)
			return true
		}
	case tracking.KindMilestone:
		if m, ok := s.milestones[ref.ID]; ok {
			unindex(s.milestonesByGoal, m.GoalID, m.ID)
			delete(s.milestones, ref.ID)
			return true
		}
	case tracking.KindKeyArea:
		if _, ok := s.keyAreas[ref.ID]; ok {
			delete(s.keyAreas, ref.ID)
			return true
		}
	case tracking.KindTask:
		if t, ok := s.tasks[ref.ID]; ok {
			unindex(s.tasksByKeyArea, t.KeyAreaID, t.ID)
			unindex(s.tasksByList, ListKey{KeyAreaID: t.KeyAreaID, Index: t.ListIndex}, t.ID)
			delete(s.tasks, ref.ID)
			return true
		}
	case tracking.KindActivity:
		if a, ok := s.activities[ref.ID]; ok {
			unindex(s.activitiesByTask, a.TaskID, a.ID)
			delete(s.activities, ref.ID)
			return true
		}
	}
	return false
}

func index[K comparable](idx map[K]idSet, key K, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(idSet)
		idx[key] = set
	}
	set[id] = struct{}{}
}

func unindex[K comparable](idx map[K]idSet, key K, id string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}

// Replace swaps the whole content for entities, as after a full sync.
func (s *Store) Replace(entities []tracking.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	for _, e := range entities {
		if err := s.upsert(e); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of entities of kind.
func (s *Store) Len(kind tracking.EntityKind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch kind {
	case tracking.KindGoal:
		return len(s.goals)
	case tracking.KindMilestone:
		return len(s.milestones)
	case tracking.KindKeyArea:
		return len(s.keyAreas)
	case tracking.KindTask:
		return len(s.tasks)
	case tracking.KindActivity:
		return len(s.activities)
	}
	return 0
}

// Goal returns the goal with id.
func (s *Store) Goal(id string) (tracking.Goal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.goals[id]
	return g, ok
}

// Milestone returns the milestone with id.
func (s *Store) Milestone(id string) (tracking.Milestone, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.milestones[id]
	return m, ok
}

// KeyArea returns the key area with id.
func (s *Store) KeyArea(id string) (tracking.KeyArea, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keyAreas[id]
	return k.Clone(), ok
}

// Task returns the task with id.
func (s *Store) Task(id string) (tracking.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

// Activity returns the activity with id as stored, without inherited fields.
func (s *Store) Activity(id string) (tracking.Activity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.activities[id]
	return a, ok
}

// EffectiveActivity returns the activity with the fields it inherits from its task.
func (s *Store) EffectiveActivity(id string) (tracking.Activity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.activities[id]
	if !ok {
		return a, false
	}
	return s.effective(a), true
}

func (s *Store) effective(a tracking.Activity) tracking.Activity {
	if a.TaskID == "" {
		return a
	}
	if parent, ok := s.tasks[a.TaskID]; ok {
		return a.Effective(&parent)
	}
	return a
}

// Goals returns every goal ordered by id.
func (s *Store) Goals() []tracking.Goal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tracking.Goal, 0, len(s.goals))
	for _, g := range s.goals {
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b tracking.Goal) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// KeyAreas returns every key area ordered by position, default last.
func (s *Store) KeyAreas() []tracking.KeyArea {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keyAreaList()
}

func (s *Store) keyAreaList() []tracking.KeyArea {
	out := make([]tracking.KeyArea, 0, len(s.keyAreas))
	for _, k := range s.keyAreas {
		out = append(out, k)
	}
	return ordering.Sorted(out)
}

// DefaultKeyArea returns the locked default key area.
func (s *Store) DefaultKeyArea() (tracking.KeyArea, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keyAreas {
		if k.IsDefault {
			return k.Clone(), true
		}
	}
	return tracking.KeyArea{}, false
}

// Tasks returns every task ordered by key area, list and id.
func (s *Store) Tasks() []tracking.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tracking.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sortTasks(out)
	return out
}

// TasksByKeyArea returns the tasks of a key area.
func (s *Store) TasksByKeyArea(keyAreaID string) []tracking.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasksFor(s.tasksByKeyArea[keyAreaID])
}

// TasksInList returns the tasks of one list.
func (s *Store) TasksInList(keyAreaID string, listIndex int) []tracking.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasksFor(s.tasksByList[ListKey{KeyAreaID: keyAreaID, Index: listIndex}])
}

// TaskCountInKeyArea counts the tasks that reference a key area.
func (s *Store) TaskCountInKeyArea(keyAreaID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasksByKeyArea[keyAreaID])
}

// TaskCountInList counts the tasks that reference a list.
func (s *Store) TaskCountInList(keyAreaID string, listIndex int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasksByList[ListKey{KeyAreaID: keyAreaID, Index: listIndex}])
}

// TasksByGoal returns the tasks linked to a goal.
func (s *Store) TasksByGoal(goalID string) []tracking.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tracking.Task
	for _, t := range s.tasks {
		if t.GoalID == goalID {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out
}

func (s *Store) tasksFor(ids idSet) []tracking.Task {
	out := make([]tracking.Task, 0, len(ids))
	for _, id := range ids.sorted() {
		out = append(out, s.tasks[id])
	}
	sortTasks(out)
	return out
}

func sortTasks(tasks []tracking.Task) {
	slices.SortFunc(tasks, func(a, b tracking.Task) int {
		if c := strings.Compare(a.KeyAreaID, b.KeyAreaID); c != 0 {
			return c
		}
		if a.ListIndex != b.ListIndex {
			return a.ListIndex - b.ListIndex
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// ActivitiesByTask returns the activities of a task with inherited fields filled in.
func (s *Store) ActivitiesByTask(taskID string) []tracking.Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.activitiesByTask[taskID]
	out := make([]tracking.Activity, 0, len(ids))
	for _, id := range ids.sorted() {
		out = append(out, s.effective(s.activities[id]))
	}
	return out
}

// ActivityCount counts the activities attached to a task.
func (s *Store) ActivityCount(taskID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.activitiesByTask[taskID])
}

// Activities returns every activity with inherited fields filled in.
func (s *Store) Activities() []tracking.Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tracking.Activity, 0, len(s.activities))
	for _, a := range s.activities {
		out = append(out, s.effective(a))
	}
	slices.SortFunc(out, func(a, b tracking.Activity) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// MilestonesByGoal returns the milestones of a goal ordered by sortOrder.
func (s *Store) MilestonesByGoal(goalID string) []tracking.Milestone {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.milestonesOf(goalID)
}

func (s *Store) milestonesOf(goalID string) []tracking.Milestone {
	ids := s.milestonesByGoal[goalID]
	out := make([]tracking.Milestone, 0, len(ids))
	for id := range ids {
		out = append(out, s.milestones[id])
	}
	slices.SortFunc(out, func(a, b tracking.Milestone) int {
		if a.SortOrder != b.SortOrder {
			return a.SortOrder - b.SortOrder
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// GoalProgress computes the weighted progress of a goal from its milestones.
func (s *Store) GoalProgress(goalID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.goals[goalID]
	if !ok {
		return 0, false
	}
	return tracking.GoalProgress(g, s.milestonesOf(goalID)), true
}

// Quadrant classifies a task or activity at now.
func (s *Store) Quadrant(ref tracking.Ref, now time.Time) (tracking.Quadrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals(ref)
	if !ok {
		return "", &tracking.NotFoundError{Ref: ref}
	}
	return s.classifier.Classify(sig, now), nil
}

// Signals returns the classification inputs of a task or activity.
func (s *Store) Signals(ref tracking.Ref) (tracking.Signals, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signals(ref)
}

func (s *Store) signals(ref tracking.Ref) (tracking.Signals, bool) {
	switch ref.Kind {
	case tracking.KindTask:
		t, ok := s.tasks[ref.ID]
		return tracking.SignalsOfTask(t), ok
	case tracking.KindActivity:
		a, ok := s.activities[ref.ID]
		return tracking.SignalsOfActivity(s.effective(a)), ok
	}
	return tracking.Signals{}, false
}

// Matrix groups every open task and activity by quadrant.
func (s *Store) Matrix(now time.Time) map[tracking.Quadrant][]tracking.Ref {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[tracking.Quadrant][]tracking.Ref, 4)
	for _, id := range keys(s.tasks) {
		t := s.tasks[id]
		if t.Status.IsTerminal() {
			continue
		}
		q := s.classifier.Classify(tracking.SignalsOfTask(t), now)
		out[q] = append(out[q], t.Ref())
	}
	for _, id := range keys(s.activities) {
		a := s.effective(s.activities[id])
		if a.Completed {
			continue
		}
		q := s.classifier.Classify(tracking.SignalsOfActivity(a), now)
		out[q] = append(out[q], a.Ref())
	}
	return out
}

// PendingFor lists the tasks and activities waiting for user to answer a delegation.
func (s *Store) PendingFor(user string) []tracking.Ref {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []tracking.Ref
	for _, id := range keys(s.tasks) {
		if d := s.tasks[id].Delegation; d.Status == tracking.DelegationPending && d.DelegatedTo == user {
			out = append(out, tracking.Ref{Kind: tracking.KindTask, ID: id})
		}
	}
	for _, id := range keys(s.activities) {
		if d := s.activities[id].Delegation; d.Status == tracking.DelegationPending && d.DelegatedTo == user {
			out = append(out, tracking.Ref{Kind: tracking.KindActivity, ID: id})
		}
	}
	return out
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
