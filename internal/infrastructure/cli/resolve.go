package cli

import (
	"strings"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
	"github.com/felixgeelhaar/stride/pkg/store"
)

// findKeyArea matches arg against key area ids, then titles.
func findKeyArea(st *store.Store, arg string) (tracking.KeyArea, error) {
	if k, ok := st.KeyArea(arg); ok {
		return k, nil
	}
	for _, k := range st.KeyAreas() {
		if strings.EqualFold(k.Title, strings.TrimSpace(arg)) {
			return k, nil
		}
	}
	return tracking.KeyArea{}, &tracking.NotFoundError{Ref: tracking.Ref{Kind: tracking.KindKeyArea, ID: arg}}
}

func findTask(st *store.Store, id string) (tracking.Task, error) {
	if t, ok := st.Task(id); ok {
		return t, nil
	}
	return tracking.Task{}, &tracking.NotFoundError{Ref: tracking.Ref{Kind: tracking.KindTask, ID: id}}
}

func findGoal(st *store.Store, id string) (tracking.Goal, error) {
	if g, ok := st.Goal(id); ok {
		return g, nil
	}
	return tracking.Goal{}, &tracking.NotFoundError{Ref: tracking.Ref{Kind: tracking.KindGoal, ID: id}}
}

func findActivity(st *store.Store, id string) (tracking.Activity, error) {
	if act, ok := st.Activity(id); ok {
		return act, nil
	}
	return tracking.Activity{}, &tracking.NotFoundError{Ref: tracking.Ref{Kind: tracking.KindActivity, ID: id}}
}

func findMilestone(st *store.Store, id string) (tracking.Milestone, error) {
	if m, ok := st.Milestone(id); ok {
		return m, nil
	}
	return tracking.Milestone{}, &tracking.NotFoundError{Ref: tracking.Ref{Kind: tracking.KindMilestone, ID: id}}
}

// entityTitle is the display text of a task or activity.
func entityTitle(st *store.Store, ref tracking.Ref) string {
	switch ref.Kind {
	case tracking.KindTask:
		if t, ok := st.Task(ref.ID); ok {
			return t.Title
		}
	case tracking.KindActivity:
		if act, ok := st.Activity(ref.ID); ok {
			return act.Text
		}
	}
	return ref.ID
}
