package store

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
)

// Snapshot is a deep copy of the whole store.
type Snapshot struct {
	Goals      []tracking.Goal      `json:"goals"`
	Milestones []tracking.Milestone `json:"milestones"`
	KeyAreas   []tracking.KeyArea   `json:"key_areas"`
	Tasks      []tracking.Task      `json:"tasks"`
	Activities []tracking.Activity  `json:"activities"`
}

// Entities flattens the snapshot, owners first.
func (s Snapshot) Entities() []tracking.Entity {
	out := make([]tracking.Entity, 0, len(s.Goals)+len(s.Milestones)+len(s.KeyAreas)+len(s.Tasks)+len(s.Activities))
	for _, k := range s.KeyAreas {
		out = append(out, k.Clone())
	}
	for _, g := range s.Goals {
		out = append(out, g)
	}
	for _, m := range s.Milestones {
		out = append(out, m)
	}
	for _, t := range s.Tasks {
		out = append(out, t)
	}
	for _, a := range s.Activities {
		out = append(out, a)
	}
	return out
}

func sortedValues[V any](m map[string]V, clone func(V) V) []V {
	out := make([]V, 0, len(m))
	for _, id := range keys(m) {
		out = append(out, clone(m[id]))
	}
	return out
}

func identity[V any](v V) V { return v }

// Snapshot returns a deep copy of every table, each ordered by id.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Goals:      sortedValues(s.goals, identity[tracking.Goal]),
		Milestones: sortedValues(s.milestones, identity[tracking.Milestone]),
		KeyAreas:   sortedValues(s.keyAreas, tracking.KeyArea.Clone),
		Tasks:      sortedValues(s.tasks, identity[tracking.Task]),
		Activities: sortedValues(s.activities, identity[tracking.Activity]),
	}
}

// Restore replaces the store content with snap.
func (s *Store) Restore(snap Snapshot) error {
	return s.Replace(snap.Entities())
}

// Capture remembers the state of a set of entities, including their absence.
type Capture struct {
	entries []captured
}

type captured struct {
	ref     tracking.Ref
	entity  tracking.Entity
	present bool
}

// Refs lists the captured references.
func (c Capture) Refs() []tracking.Ref {
	out := make([]tracking.Ref, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.ref
	}
	return out
}

// Entity returns the captured state of ref, if it existed at capture time.
func (c Capture) Entity(ref tracking.Ref) (tracking.Entity, bool) {
	for _, e := range c.entries {
		if e.ref == ref && e.present {
			return e.entity.CloneEntity(), true
		}
	}
	return nil, false
}

// Len is the number of captured references.
func (c Capture) Len() int { return len(c.entries) }

// Capture records the current state of refs for a later Revert.
func (s *Store) Capture(refs ...tracking.Ref) Capture {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[tracking.Ref]bool, len(refs))
	c := Capture{entries: make([]captured, 0, len(refs))}
	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		e, ok := s.get(ref)
		if ok {
			e = e.CloneEntity()
		}
		c.entries = append(c.entries, captured{ref: ref, entity: e, present: ok})
	}
	slices.SortFunc(c.entries, func(a, b captured) int {
		return strings.Compare(a.ref.String(), b.ref.String())
	})
	return c
}

// Revert puts every captured entity back as it was, leaving the rest of the
// store untouched. Every entry is restored even when one fails.
func (s *Store) Revert(c Capture) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, e := range c.entries {
		if !e.present {
			s.remove(e.ref)
			continue
		}
		if err := s.upsert(e.entity.CloneEntity()); err != nil {
			errs = append(errs, fmt.Errorf("revert %s: %w", e.ref, err))
		}
	}
	return errors.Join(errs...)
}

// Apply runs a batch of writes under one lock so readers never observe a
// half-applied command. The batch is checked first; an invalid entity leaves
// the store untouched.
func (s *Store) Apply(upserts []tracking.Entity, removals []tracking.Ref) error {
	for _, e := range upserts {
		if err := checkEntity(e); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ref := range removals {
		s.remove(ref)
	}
	for _, e := range upserts {
		if err := s.upsert(e); err != nil {
			return err
		}
	}
	return nil
}
