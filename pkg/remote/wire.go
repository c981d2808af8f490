package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
)

// DateLayout is the wire form of every date field.
const DateLayout = "2006-01-02"

// wirePriority accepts "low|medium|high" as well as 1|2|3 given as a string
// or a number. It is always written as a name.
type wirePriority string

func (p *wirePriority) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*p = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = wirePriority(s)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("priority: %w", err)
	}
	*p = wirePriority(strconv.Itoa(n))
	return nil
}

// parser collects the first error while converting a wire record.
type parser struct {
	err error
}

func (p *parser) date(field, s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" || p.err != nil {
		return time.Time{}
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		// some servers send full timestamps
		if ts, tsErr := time.Parse(time.RFC3339, s); tsErr == nil {
			y, m, d := ts.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		}
		p.err = &tracking.ValidationError{Field: field, Reason: fmt.Sprintf("%q is not a YYYY-MM-DD date", s)}
	}
	return t
}

func (p *parser) priority(raw wirePriority) tracking.Priority {
	if p.err != nil {
		return ""
	}
	v, err := tracking.ParsePriority(string(raw))
	if err != nil {
		p.err = err
	}
	return v
}

func (p *parser) delegation(w delegationWire) tracking.Delegation {
	if p.err != nil {
		return tracking.Delegation{}
	}
	status, err := tracking.ParseDelegationStatus(w.DelegationStatus)
	if err != nil {
		p.err = err
	}
	return tracking.Delegation{Status: status, DelegatedTo: w.DelegatedTo, DelegatedBy: w.DelegatedBy}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

type delegationWire struct {
	DelegationStatus string `json:"delegation_status"`
	DelegatedTo      string `json:"delegated_to"`
	DelegatedBy      string `json:"delegated_by"`
}

func delegationToWire(d tracking.Delegation) delegationWire {
	status := d.Status
	if status == "" {
		status = tracking.DelegationNone
	}
	return delegationWire{DelegationStatus: string(status), DelegatedTo: d.DelegatedTo, DelegatedBy: d.DelegatedBy}
}

// record is the wire form of one entity.
type record interface {
	entity() (tracking.Entity, error)
}

type goalWire struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Visibility  string `json:"visibility"`
	StartDate   string `json:"start_date"`
	DueDate     string `json:"due_date"`
	Version     int    `json:"version"`
}

func (w *goalWire) entity() (tracking.Entity, error) {
	status, err := tracking.ParseGoalStatus(w.Status)
	if err != nil {
		return nil, err
	}
	visibility, err := tracking.ParseVisibility(w.Visibility)
	if err != nil {
		return nil, err
	}
	p := &parser{}
	g := tracking.Goal{
		ID:          w.ID,
		Title:       w.Title,
		Description: w.Description,
		Status:      status,
		Visibility:  visibility,
		StartDate:   p.date("start_date", w.StartDate),
		DueDate:     p.date("due_date", w.DueDate),
		Version:     w.Version,
	}
	return g, p.err
}

type milestoneWire struct {
	ID        string  `json:"id"`
	GoalID    string  `json:"goal_id"`
	Title     string  `json:"title"`
	Weight    float64 `json:"weight"`
	Done      bool    `json:"done"`
	Score     float64 `json:"score"`
	DueDate   string  `json:"due_date"`
	SortOrder int     `json:"sort_order"`
	Version   int     `json:"version"`
}

func (w *milestoneWire) entity() (tracking.Entity, error) {
	p := &parser{}
	m := tracking.Milestone{
		ID:        w.ID,
		GoalID:    w.GoalID,
		Title:     w.Title,
		Weight:    w.Weight,
		Done:      w.Done,
		Score:     w.Score,
		DueDate:   p.date("due_date", w.DueDate),
		SortOrder: w.SortOrder,
		Version:   w.Version,
	}
	return m, p.err
}

type listWire struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

type keyAreaWire struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Color     string     `json:"color"`
	Position  int        `json:"position"`
	IsDefault bool       `json:"is_default"`
	Lists     []listWire `json:"lists"`
	Version   int        `json:"version"`
}

func (w *keyAreaWire) entity() (tracking.Entity, error) {
	k := tracking.KeyArea{
		ID:        w.ID,
		Title:     w.Title,
		Color:     w.Color,
		Position:  w.Position,
		IsDefault: w.IsDefault,
		Version:   w.Version,
	}
	if len(w.Lists) > 0 {
		k.ListNames = make(map[int]string, len(w.Lists))
		for _, l := range w.Lists {
			k.ListNames[l.Index] = l.Name
		}
	}
	return k, nil
}

type taskWire struct {
	ID          string       `json:"id"`
	KeyAreaID   string       `json:"key_area_id"`
	GoalID      string       `json:"goal_id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      string       `json:"status"`
	Priority    wirePriority `json:"priority"`
	StartDate   string       `json:"start_date"`
	EndDate     string       `json:"end_date"`
	Deadline    string       `json:"deadline"`
	Assignee    string       `json:"assignee"`
	ListIndex   int          `json:"list_index"`
	delegationWire
	CompletionDate string `json:"completion_date"`
	Version        int    `json:"version"`
}

func (w *taskWire) entity() (tracking.Entity, error) {
	status, err := tracking.ParseTaskStatus(w.Status)
	if err != nil {
		return nil, err
	}
	p := &parser{}
	t := tracking.Task{
		ID:             w.ID,
		KeyAreaID:      w.KeyAreaID,
		GoalID:         w.GoalID,
		Title:          w.Title,
		Description:    w.Description,
		Status:         status,
		Priority:       p.priority(w.Priority),
		StartDate:      p.date("start_date", w.StartDate),
		EndDate:        p.date("end_date", w.EndDate),
		Deadline:       p.date("deadline", w.Deadline),
		Assignee:       w.Assignee,
		ListIndex:      w.ListIndex,
		Delegation:     p.delegation(w.delegationWire),
		CompletionDate: p.date("completion_date", w.CompletionDate),
		Version:        w.Version,
	}
	return t, p.err
}

type activityWire struct {
	ID        string       `json:"id"`
	TaskID    string       `json:"task_id"`
	Text      string       `json:"text"`
	Completed bool         `json:"completed"`
	Priority  wirePriority `json:"priority"`
	StartDate string       `json:"start_date"`
	EndDate   string       `json:"end_date"`
	Deadline  string       `json:"deadline"`
	KeyAreaID string       `json:"key_area_id"`
	ListIndex int          `json:"list_index"`
	Assignee  string       `json:"assignee"`
	GoalID    string       `json:"goal_id"`
	delegationWire
	CompletionDate string `json:"completion_date"`
	Version        int    `json:"version"`
}

func (w *activityWire) entity() (tracking.Entity, error) {
	p := &parser{}
	a := tracking.Activity{
		ID:             w.ID,
		TaskID:         w.TaskID,
		Text:           w.Text,
		Completed:      w.Completed,
		Priority:       p.priority(w.Priority),
		StartDate:      p.date("start_date", w.StartDate),
		EndDate:        p.date("end_date", w.EndDate),
		Deadline:       p.date("deadline", w.Deadline),
		KeyAreaID:      w.KeyAreaID,
		ListIndex:      w.ListIndex,
		Assignee:       w.Assignee,
		GoalID:         w.GoalID,
		Delegation:     p.delegation(w.delegationWire),
		CompletionDate: p.date("completion_date", w.CompletionDate),
		Version:        w.Version,
	}
	return a, p.err
}

func newRecord(kind tracking.EntityKind) (record, error) {
	switch kind {
	case tracking.KindGoal:
		return &goalWire{}, nil
	case tracking.KindMilestone:
		return &milestoneWire{}, nil
	case tracking.KindKeyArea:
		return &keyAreaWire{}, nil
	case tracking.KindTask:
		return &taskWire{}, nil
	case tracking.KindActivity:
		return &activityWire{}, nil
	}
	return nil, fmt.Errorf("remote: unknown entity kind %q", kind)
}

func recordOf(e tracking.Entity) (record, error) {
	switch v := e.(type) {
	case tracking.Goal:
		return &goalWire{
			ID:          v.ID,
			Title:       v.Title,
			Description: v.Description,
			Status:      string(v.Status),
			Visibility:  string(v.Visibility),
			StartDate:   formatDate(v.StartDate),
			DueDate:     formatDate(v.DueDate),
			Version:     v.Version,
		}, nil
	case tracking.Milestone:
		return &milestoneWire{
			ID:        v.ID,
			GoalID:    v.GoalID,
			Title:     v.Title,
			Weight:    v.Weight,
			Done:      v.Done,
			Score:     v.Score,
			DueDate:   formatDate(v.DueDate),
			SortOrder: v.SortOrder,
			Version:   v.Version,
		}, nil
	case tracking.KeyArea:
		w := &keyAreaWire{
			ID:        v.ID,
			Title:     v.Title,
			Color:     v.Color,
			Position:  v.Position,
			IsDefault: v.IsDefault,
			Lists:     []listWire{},
			Version:   v.Version,
		}
		for _, idx := range slices.Sorted(maps.Keys(v.ListNames)) {
			w.Lists = append(w.Lists, listWire{Index: idx, Name: v.ListNames[idx]})
		}
		return w, nil
	case tracking.Task:
		return &taskWire{
			ID:             v.ID,
			KeyAreaID:      v.KeyAreaID,
			GoalID:         v.GoalID,
			Title:          v.Title,
			Description:    v.Description,
			Status:         v.Status.WireName(),
			Priority:       wirePriority(v.Priority),
			StartDate:      formatDate(v.StartDate),
			EndDate:        formatDate(v.EndDate),
			Deadline:       formatDate(v.Deadline),
			Assignee:       v.Assignee,
			ListIndex:      v.ListIndex,
			delegationWire: delegationToWire(v.Delegation),
			CompletionDate: formatDate(v.CompletionDate),
			Version:        v.Version,
		}, nil
	case tracking.Activity:
		return &activityWire{
			ID:             v.ID,
			TaskID:         v.TaskID,
			Text:           v.Text,
			Completed:      v.Completed,
			Priority:       wirePriority(v.Priority),
			StartDate:      formatDate(v.StartDate),
			EndDate:        formatDate(v.EndDate),
			Deadline:       formatDate(v.Deadline),
			KeyAreaID:      v.KeyAreaID,
			ListIndex:      v.ListIndex,
			Assignee:       v.Assignee,
			GoalID:         v.GoalID,
			delegationWire: delegationToWire(v.Delegation),
			CompletionDate: formatDate(v.CompletionDate),
			Version:        v.Version,
		}, nil
	}
	return nil, fmt.Errorf("remote: cannot encode %T", e)
}

// Encode writes an entity in wire form.
func Encode(e tracking.Entity) ([]byte, error) {
	r, err := recordOf(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

// EncodeList writes entities as a JSON array.
func EncodeList(entities []tracking.Entity) ([]byte, error) {
	records := make([]record, 0, len(entities))
	for _, e := range entities {
		r, err := recordOf(e)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return json.Marshal(records)
}

// Decode reads a wire record of the given kind. Fields missing from body keep
// their value from base, which may be nil.
func Decode(kind tracking.EntityKind, body []byte, base tracking.Entity) (tracking.Entity, error) {
	var (
		r   record
		err error
	)
	if base != nil {
		if base.Ref().Kind != kind {
			return nil, fmt.Errorf("remote: base is a %s, not a %s", base.Ref().Kind, kind)
		}
		r, err = recordOf(base)
	} else {
		r, err = newRecord(kind)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, r); err != nil {
		return nil, &tracking.ValidationError{Field: string(kind), Reason: err.Error()}
	}
	return r.entity()
}

// DecodeList reads a JSON array of wire records.
func DecodeList(kind tracking.EntityKind, body []byte) ([]tracking.Entity, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &tracking.ValidationError{Field: string(kind), Reason: err.Error()}
	}
	out := make([]tracking.Entity, 0, len(raw))
	for _, item := range raw {
		e, err := Decode(kind, item, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func decodeAs[T tracking.Entity](kind tracking.EntityKind, body []byte, base tracking.Entity) (T, error) {
	var zero T
	e, err := Decode(kind, body, base)
	if err != nil {
		return zero, err
	}
	v, ok := e.(T)
	if !ok {
		return zero, fmt.Errorf("remote: decoded %T, want %T", e, zero)
	}
	return v, nil
}

func decodeListAs[T tracking.Entity](kind tracking.EntityKind, body []byte) ([]T, error) {
	entities, err := DecodeList(kind, body)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.(T))
	}
	return out, nil
}

// PositionRecord is one entry of a key area reorder batch.
type PositionRecord struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

// DelegateBody is the payload of a delegate action.
type DelegateBody struct {
	To string `json:"to"`
}

// InboxRecord is the reply of the delegation inbox.
type InboxRecord struct {
	Tasks      json.RawMessage `json:"tasks"`
	Activities json.RawMessage `json:"activities"`
}

// EncodeInbox writes the delegation inbox reply.
func EncodeInbox(tasks, activities []tracking.Entity) ([]byte, error) {
	t, err := EncodeList(tasks)
	if err != nil {
		return nil, err
	}
	a, err := EncodeList(activities)
	if err != nil {
		return nil, err
	}
	return json.Marshal(InboxRecord{Tasks: t, Activities: a})
}

// ResourceOf names the wire collection of an entity kind.
func ResourceOf(kind tracking.EntityKind) string {
	switch kind {
	case tracking.KindGoal:
		return ResourceGoals
	case tracking.KindMilestone:
		return ResourceMilestones
	case tracking.KindKeyArea:
		return ResourceKeyAreas
	case tracking.KindTask:
		return ResourceTasks
	case tracking.KindActivity:
		return ResourceActivities
	}
	return ""
}

// KindOf is the inverse of ResourceOf.
func KindOf(resource string) (tracking.EntityKind, bool) {
	for _, k := range tracking.AllKinds() {
		if ResourceOf(k) == resource {
			return k, true
		}
	}
	return "", false
}
