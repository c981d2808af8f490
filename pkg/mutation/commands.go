package mutation

import (
	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
	"github.com/felixgeelhaar/stride/pkg/store"
)

// Command is a request to change the entity store. The set of commands is
// closed; build them with the types below.
type Command interface {
	// Name identifies the command in logs and notifications.
	Name() string
	// Target is the entity the command is about.
	Target() tracking.Ref

	keys(st *store.Store) []string
	plan(pc *planContext) (*plan, error)
}

// keyAreaOrderKey serializes commands that renumber key areas.
const keyAreaOrderKey = "key_area:order"

func refKey(kind tracking.EntityKind, id string) string {
	return tracking.Ref{Kind: kind, ID: id}.String()
}

// Create adds a new entity. A missing id is generated client-side.
type Create struct {
	Entity tracking.Entity
}

func (c Create) Name() string { return "create" }

func (c Create) Target() tracking.Ref {
	if c.Entity == nil {
		return tracking.Ref{}
	}
	return c.Entity.Ref()
}

func (c Create) keys(st *store.Store) []string {
	switch e := c.Entity.(type) {
	case tracking.KeyArea:
		return []string{keyAreaOrderKey}
	case tracking.Milestone:
		return []string{e.Ref().String(), refKey(tracking.KindGoal, e.GoalID)}
	case tracking.Task:
		keys := []string{e.Ref().String(), refKey(tracking.KindKeyArea, e.KeyAreaID)}
		if e.GoalID != "" {
			keys = append(keys, refKey(tracking.KindGoal, e.GoalID))
		}
		if e.KeyAreaID == "" {
			if def, ok := st.DefaultKeyArea(); ok {
				keys = append(keys, def.Ref().String())
			}
		}
		return keys
	case tracking.Activity:
		return []string{e.Ref().String(), refKey(tracking.KindTask, e.TaskID)}
	case nil:
		return nil
	default:
		return []string{c.Entity.Ref().String()}
	}
}

// Update replaces the mutable fields of an existing entity.
type Update struct {
	Entity tracking.Entity
}

func (c Update) Name() string { return "update" }

func (c Update) Target() tracking.Ref {
	if c.Entity == nil {
		return tracking.Ref{}
	}
	return c.Entity.Ref()
}

func (c Update) keys(st *store.Store) []string {
	if c.Entity == nil {
		return nil
	}
	keys := []string{c.Entity.Ref().String()}
	switch e := c.Entity.(type) {
	case tracking.Milestone:
		keys = append(keys, refKey(tracking.KindGoal, e.GoalID))
		if old, ok := st.Milestone(e.ID); ok {
			keys = append(keys, refKey(tracking.KindGoal, old.GoalID))
		}
	case tracking.Task:
		keys = append(keys, refKey(tracking.KindKeyArea, e.KeyAreaID))
		if e.GoalID != "" {
			keys = append(keys, refKey(tracking.KindGoal, e.GoalID))
		}
		if old, ok := st.Task(e.ID); ok {
			keys = append(keys, refKey(tracking.KindKeyArea, old.KeyAreaID))
		}
	case tracking.Activity:
		keys = append(keys, refKey(tracking.KindTask, e.TaskID))
		if old, ok := st.Activity(e.ID); ok {
			keys = append(keys, refKey(tracking.KindTask, old.TaskID))
		}
	}
	return keys
}

// Delete removes an entity subject to the referential guards.
type Delete struct {
	Ref tracking.Ref
}

func (c Delete) Name() string         { return "delete" }
func (c Delete) Target() tracking.Ref { return c.Ref }

func (c Delete) keys(st *store.Store) []string {
	keys := []string{c.Ref.String()}
	switch c.Ref.Kind {
	case tracking.KindKeyArea:
		keys = append(keys, keyAreaOrderKey)
		for _, ka := range st.KeyAreas() {
			keys = append(keys, ka.Ref().String())
		}
	case tracking.KindGoal:
		for _, m := range st.MilestonesByGoal(c.Ref.ID) {
			keys = append(keys, m.Ref().String())
		}
		for _, t := range st.TasksByGoal(c.Ref.ID) {
			keys = append(keys, t.Ref().String())
		}
	case tracking.KindTask:
		if t, ok := st.Task(c.Ref.ID); ok {
			keys = append(keys, refKey(tracking.KindKeyArea, t.KeyAreaID))
		}
	case tracking.KindMilestone:
		if m, ok := st.Milestone(c.Ref.ID); ok {
			keys = append(keys, refKey(tracking.KindGoal, m.GoalID))
		}
	}
	return keys
}

// Delegate hands a task or activity to another user.
type Delegate struct {
	Ref tracking.Ref
	To  string
}

func (c Delegate) Name() string               { return "delegate" }
func (c Delegate) Target() tracking.Ref       { return c.Ref }
func (c Delegate) keys(*store.Store) []string { return []string{c.Ref.String()} }

// AcceptDelegation takes over a task or activity delegated to the acting user.
type AcceptDelegation struct {
	Ref tracking.Ref
}

func (c AcceptDelegation) Name() string               { return "accept_delegation" }
func (c AcceptDelegation) Target() tracking.Ref       { return c.Ref }
func (c AcceptDelegation) keys(*store.Store) []string { return []string{c.Ref.String()} }

// RejectDelegation declines a task or activity delegated to the acting user.
type RejectDelegation struct {
	Ref tracking.Ref
}

func (c RejectDelegation) Name() string               { return "reject_delegation" }
func (c RejectDelegation) Target() tracking.Ref       { return c.Ref }
func (c RejectDelegation) keys(*store.Store) []string { return []string{c.Ref.String()} }

// ReorderKeyAreas drags one key area onto another's slot.
type ReorderKeyAreas struct {
	DraggedID string
	TargetID  string
}

func (c ReorderKeyAreas) Name() string { return "reorder_key_areas" }

func (c ReorderKeyAreas) Target() tracking.Ref {
	return tracking.Ref{Kind: tracking.KindKeyArea, ID: c.DraggedID}
}

func (c ReorderKeyAreas) keys(st *store.Store) []string {
	keys := []string{keyAreaOrderKey}
	for _, ka := range st.KeyAreas() {
		keys = append(keys, ka.Ref().String())
	}
	return keys
}

// AddList appends a named list to a key area. An empty name becomes "List N".
type AddList struct {
	KeyAreaID string
	ListName  string
}

func (c AddList) Name() string { return "add_list" }

func (c AddList) Target() tracking.Ref {
	return tracking.Ref{Kind: tracking.KindKeyArea, ID: c.KeyAreaID}
}

func (c AddList) keys(*store.Store) []string { return []string{refKey(tracking.KindKeyArea, c.KeyAreaID)} }

// RenameList renames a list; the empty name deletes it.
type RenameList struct {
	KeyAreaID string
	Index     int
	ListName  string
}

func (c RenameList) Name() string { return "rename_list" }

func (c RenameList) Target() tracking.Ref {
	return tracking.Ref{Kind: tracking.KindKeyArea, ID: c.KeyAreaID}
}

func (c RenameList) keys(*store.Store) []string {
	return []string{refKey(tracking.KindKeyArea, c.KeyAreaID)}
}

// DeleteList removes an empty list.
type DeleteList struct {
	KeyAreaID string
	Index     int
}

func (c DeleteList) Name() string { return "delete_list" }

func (c DeleteList) Target() tracking.Ref {
	return tracking.Ref{Kind: tracking.KindKeyArea, ID: c.KeyAreaID}
}

func (c DeleteList) keys(*store.Store) []string {
	return []string{refKey(tracking.KindKeyArea, c.KeyAreaID)}
}
