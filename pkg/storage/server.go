package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/stride/pkg/domain/delegation"
	"github.com/felixgeelhaar/stride/pkg/domain/ordering"
	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
	"github.com/felixgeelhaar/stride/pkg/remote"
	"github.com/felixgeelhaar/stride/pkg/store"
)

// Server answers wire requests against the state file. Every request loads
// the state, applies the change and saves a new revision when something moved.
type Server struct {
	// mu makes load, change and save one step per request.
	mu     sync.Mutex
	repo   *FilesystemRepository
	newID  func() string
	now    func() time.Time
	logger *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger. nil keeps slog.Default().
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIDGenerator replaces uuid.NewString for records created without an id.
func WithIDGenerator(f func() string) ServerOption {
	return func(s *Server) { s.newID = f }
}

// WithServerClock sets the time source.
func WithServerClock(now func() time.Time) ServerOption {
	return func(s *Server) { s.now = now }
}

// NewServer creates a Server over repo.
func NewServer(repo *FilesystemRepository, opts ...ServerOption) *Server {
	s := &Server{
		repo:   repo,
		newID:  uuid.NewString,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// session is the working set of one request.
type session struct {
	st      *store.Store
	actor   string
	changed bool
}

// Do implements remote.Transport. Domain errors are reported as responses;
// only storage failures are returned as errors.
func (s *Server) Do(ctx context.Context, req *remote.Request) (*remote.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, revision, err := s.repo.Load(ctx)
	if err != nil {
		return nil, err
	}

	sess := &session{st: st, actor: req.Actor}
	resp, err := s.route(sess, req)
	if err != nil {
		s.logger.Debug("request rejected", "request", req.String(), "actor", req.Actor, "error", err)
		return remote.ErrorResponse(err), nil
	}
	if sess.changed {
		if err := s.repo.Save(st, revision); err != nil {
			return nil, err
		}
		s.logger.Debug("state saved", "request", req.String(), "revision", revision+1)
	}
	return resp, nil
}

func (s *Server) route(sess *session, req *remote.Request) (*remote.Response, error) {
	switch {
	case req.Resource == remote.ResourceDelegations && req.Action == remote.ActionInbox:
		if req.Method != http.MethodGet {
			return nil, methodNotAllowed(req)
		}
		return s.inbox(sess)
	case req.Resource == remote.ResourceKeyAreas && req.Action == remote.ActionReorder:
		if req.Method != http.MethodPost {
			return nil, methodNotAllowed(req)
		}
		return s.reorder(sess, req.Body)
	case req.Action != "":
		if req.Method != http.MethodPost {
			return nil, methodNotAllowed(req)
		}
		return s.delegationStep(sess, req)
	}

	kind, ok := remote.KindOf(req.Resource)
	if !ok {
		return nil, &tracking.NotFoundError{Ref: tracking.Ref{Kind: tracking.EntityKind(req.Resource)}}
	}
	ref := tracking.Ref{Kind: kind, ID: req.ID}

	switch {
	case req.Method == http.MethodPost && req.ID == "":
		return s.create(sess, kind, req.Body)
	case req.Method == http.MethodGet && req.ID == "":
		return s.list(sess, kind, req)
	case req.Method == http.MethodGet:
		e, ok := sess.st.Get(ref)
		if !ok {
			return nil, &tracking.NotFoundError{Ref: ref}
		}
		return encoded(http.StatusOK, e)
	case req.Method == http.MethodPut && req.ID != "":
		return s.update(sess, ref, req.Body)
	case req.Method == http.MethodDelete && req.ID != "":
		return s.remove(sess, ref)
	}
	return nil, methodNotAllowed(req)
}

func methodNotAllowed(req *remote.Request) error {
	return &tracking.ValidationError{Field: "method", Reason: fmt.Sprintf("%s is not supported", req)}
}

func encoded(status int, e tracking.Entity) (*remote.Response, error) {
	body, err := remote.Encode(e)
	if err != nil {
		return nil, err
	}
	return &remote.Response{Status: status, Body: body}, nil
}

func encodedList(list []tracking.Entity) (*remote.Response, error) {
	body, err := remote.EncodeList(list)
	if err != nil {
		return nil, err
	}
	return &remote.Response{Status: http.StatusOK, Body: body}, nil
}

func (s *Server) create(sess *session, kind tracking.EntityKind, body []byte) (*remote.Response, error) {
	e, err := remote.Decode(kind, body, nil)
	if err != nil {
		return nil, err
	}
	if e.Ref().ID == "" {
		e = tracking.WithID(e, s.newID())
	}
	ref := e.Ref()
	if _, exists := sess.st.Get(ref); exists {
		return nil, &tracking.ConflictError{Ref: ref, Err: fmt.Errorf("%s already exists", ref)}
	}

	if e, err = s.admit(sess, e, nil); err != nil {
		return nil, err
	}
	e = tracking.WithVersion(e, 1)
	if err := sess.st.Upsert(e); err != nil {
		return nil, err
	}
	sess.changed = true
	return encoded(http.StatusCreated, e)
}

func (s *Server) update(sess *session, ref tracking.Ref, body []byte) (*remote.Response, error) {
	old, ok := sess.st.Get(ref)
	if !ok {
		return nil, &tracking.NotFoundError{Ref: ref}
	}
	next, err := remote.Decode(ref.Kind, body, old)
	if err != nil {
		return nil, err
	}
	if next.Ref().ID != ref.ID {
		return nil, &tracking.ValidationError{Field: "id", Reason: "id does not match the addressed record"}
	}
	if v, current := tracking.VersionOf(next), tracking.VersionOf(old); v != 0 && v != current {
		return nil, &tracking.ConflictError{Ref: ref, Err: fmt.Errorf("version %d is stale, current is %d", v, current)}
	}

	if next, err = s.admit(sess, next, old); err != nil {
		return nil, err
	}
	next = tracking.WithVersion(next, tracking.VersionOf(old)+1)
	if err := sess.st.Upsert(next); err != nil {
		return nil, err
	}
	sess.changed = true
	return encoded(http.StatusOK, next)
}

// admit checks references and the rules owned by the server. old is nil on
// create.
func (s *Server) admit(sess *session, e tracking.Entity, old tracking.Entity) (tracking.Entity, error) {
	st := sess.st
	switch v := e.(type) {
	case tracking.Goal:
		if v.Title == "" {
			return nil, &tracking.ValidationError{Field: "title", Reason: "title is required"}
		}
		return v, nil

	case tracking.Milestone:
		if _, ok := st.Goal(v.GoalID); !ok {
			return nil, &tracking.ValidationError{Field: "goal_id", Reason: fmt.Sprintf("goal %q does not exist", v.GoalID)}
		}
		return v, nil

	case tracking.KeyArea:
		if old == nil {
			position, err := ordering.PlanNewKeyArea(st.KeyAreas(), v.Title)
			if err != nil {
				return nil, err
			}
			v.Position = position
			v.IsDefault = false
			return v, nil
		}
		prev := old.(tracking.KeyArea)
		if err := ordering.CheckRename(prev, v.Title); err != nil {
			return nil, err
		}
		v.Position = prev.Position
		v.IsDefault = prev.IsDefault
		return v, nil

	case tracking.Task:
		if _, ok := st.KeyArea(v.KeyAreaID); !ok {
			return nil, &tracking.ValidationError{Field: "key_area_id", Reason: fmt.Sprintf("key area %q does not exist", v.KeyAreaID)}
		}
		if v.GoalID != "" {
			if _, ok := st.Goal(v.GoalID); !ok {
				return nil, &tracking.ValidationError{Field: "goal_id", Reason: fmt.Sprintf("goal %q does not exist", v.GoalID)}
			}
		}
		if old != nil {
			v.Delegation = old.(tracking.Task).Delegation
		} else if v.Assignee == "" {
			v.Assignee = sess.actor
		}
		v.CompletionDate = s.stamp(v.Status == tracking.TaskCompleted, v.CompletionDate)
		return v, nil

	case tracking.Activity:
		if v.TaskID != "" {
			if _, ok := st.Task(v.TaskID); !ok {
				return nil, &tracking.ValidationError{Field: "task_id", Reason: fmt.Sprintf("task %q does not exist", v.TaskID)}
			}
		}
		if old != nil {
			v.Delegation = old.(tracking.Activity).Delegation
		}
		v.CompletionDate = s.stamp(v.Completed, v.CompletionDate)
		return v, nil
	}
	return nil, &tracking.ValidationError{Field: "kind", Reason: fmt.Sprintf("unsupported record %T", e)}
}

// stamp keeps a completion date only on completed records and fills it in
// when the client sent none.
func (s *Server) stamp(completed bool, date time.Time) time.Time {
	switch {
	case !completed:
		return time.Time{}
	case date.IsZero():
		return s.now().UTC().Truncate(24 * time.Hour)
	}
	return date
}

func (s *Server) remove(sess *session, ref tracking.Ref) (*remote.Response, error) {
	st := sess.st
	current, ok := st.Get(ref)
	if !ok {
		return nil, &tracking.NotFoundError{Ref: ref}
	}

	switch ref.Kind {
	case tracking.KindTask:
		if n := st.ActivityCount(ref.ID); n > 0 {
			return nil, &tracking.GuardViolation{
				Rule:   "task-has-activities",
				Ref:    ref,
				Detail: fmt.Sprintf("%d activit(ies) still attached", n),
			}
		}
		st.Remove(ref)

	case tracking.KindGoal:
		for _, m := range st.MilestonesByGoal(ref.ID) {
			st.Remove(m.Ref())
		}
		for _, t := range st.TasksByGoal(ref.ID) {
			t.GoalID = ""
			t.Version++
			if err := st.Upsert(t); err != nil {
				return nil, err
			}
		}
		st.Remove(ref)

	case tracking.KindKeyArea:
		area := current.(tracking.KeyArea)
		if err := ordering.CheckDelete(area, st.TaskCountInKeyArea(area.ID)); err != nil {
			return nil, err
		}
		st.Remove(ref)
		if err := s.compact(st); err != nil {
			return nil, err
		}

	default:
		st.Remove(ref)
	}

	sess.changed = true
	return &remote.Response{Status: http.StatusNoContent}, nil
}

// compact closes the gap a removed key area leaves.
func (s *Server) compact(st *store.Store) error {
	for _, ka := range ordering.Compact(st.KeyAreas()) {
		prev, _ := st.KeyArea(ka.ID)
		if prev.Position == ka.Position {
			continue
		}
		ka.Version = prev.Version + 1
		if err := st.Upsert(ka); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) list(sess *session, kind tracking.EntityKind, req *remote.Request) (*remote.Response, error) {
	st := sess.st
	q := req.Query
	var out []tracking.Entity

	switch kind {
	case tracking.KindGoal:
		out = entities(st.Goals())
	case tracking.KindKeyArea:
		out = entities(st.KeyAreas())
	case tracking.KindMilestone:
		if goalID := q.Get("goal_id"); goalID != "" {
			out = entities(st.MilestonesByGoal(goalID))
		} else {
			out = entities(st.Snapshot().Milestones)
		}
	case tracking.KindActivity:
		if taskID := q.Get("task_id"); taskID != "" {
			out = entities(st.ActivitiesByTask(taskID))
		} else {
			out = entities(st.Activities())
		}
	case tracking.KindTask:
		var status tracking.TaskStatus
		if raw := q.Get("status"); raw != "" {
			parsed, err := tracking.ParseTaskStatus(raw)
			if err != nil {
				return nil, &tracking.ValidationError{Field: "status", Reason: err.Error()}
			}
			status = parsed
		}
		for _, t := range st.Tasks() {
			if !matches(q.Get("key_area_id"), t.KeyAreaID) ||
				!matches(q.Get("goal_id"), t.GoalID) ||
				!matches(q.Get("assignee"), t.Assignee) ||
				(status != "" && t.Status != status) {
				continue
			}
			out = append(out, t)
		}
	}
	return encodedList(out)
}

func matches(filter, value string) bool {
	return filter == "" || filter == value
}

func (s *Server) reorder(sess *session, body []byte) (*remote.Response, error) {
	var batch []remote.PositionRecord
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, &tracking.ValidationError{Field: "positions", Reason: err.Error()}
	}

	st := sess.st
	areas := st.KeyAreas()
	byID := make(map[string]int, len(areas))
	for i, ka := range areas {
		byID[ka.ID] = i
	}
	moved := make(map[string]bool, len(batch))
	for _, p := range batch {
		i, ok := byID[p.ID]
		if !ok {
			return nil, &tracking.NotFoundError{Ref: tracking.Ref{Kind: tracking.KindKeyArea, ID: p.ID}}
		}
		if areas[i].IsDefault {
			return nil, &tracking.GuardViolation{
				Rule:   "default-key-area-locked",
				Ref:    areas[i].Ref(),
				Detail: "the default key area cannot be moved",
			}
		}
		if areas[i].Position != p.Position {
			areas[i].Position = p.Position
			moved[p.ID] = true
		}
	}
	if err := ordering.CheckInvariants(areas); err != nil {
		return nil, &tracking.ValidationError{Field: "positions", Reason: err.Error()}
	}

	var out []tracking.Entity
	for _, ka := range ordering.Sorted(areas) {
		if ka.IsDefault {
			continue
		}
		if moved[ka.ID] {
			ka.Version++
			if err := st.Upsert(ka); err != nil {
				return nil, err
			}
			sess.changed = true
		}
		out = append(out, ka)
	}
	return encodedList(out)
}

func (s *Server) delegationStep(sess *session, req *remote.Request) (*remote.Response, error) {
	if sess.actor == "" {
		return nil, fmt.Errorf("%s: %w", req, tracking.ErrUnauthorized)
	}
	kind, ok := remote.KindOf(req.Resource)
	if !ok || (kind != tracking.KindTask && kind != tracking.KindActivity) {
		return nil, &tracking.ValidationError{Field: "kind", Reason: fmt.Sprintf("%s cannot be delegated", req.Resource)}
	}
	ref := tracking.Ref{Kind: kind, ID: req.ID}

	var subject delegation.Subject
	switch kind {
	case tracking.KindTask:
		t, ok := sess.st.Task(ref.ID)
		if !ok {
			return nil, &tracking.NotFoundError{Ref: ref}
		}
		subject = delegation.SubjectOfTask(t)
	case tracking.KindActivity:
		a, ok := sess.st.EffectiveActivity(ref.ID)
		if !ok {
			return nil, &tracking.NotFoundError{Ref: ref}
		}
		subject = delegation.SubjectOfActivity(a)
	}

	var (
		next    delegation.Subject
		changed = true
		err     error
	)
	switch req.Action {
	case remote.ActionDelegate:
		var body remote.DelegateBody
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return nil, &tracking.ValidationError{Field: "to", Reason: err.Error()}
		}
		next, err = delegation.Delegate(subject, sess.actor, body.To)
	case remote.ActionAccept:
		next, changed, err = delegation.Accept(subject, sess.actor)
	case remote.ActionReject:
		next, changed, err = delegation.Reject(subject, sess.actor)
	default:
		return nil, &tracking.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", req.Action)}
	}
	if err != nil {
		return nil, err
	}

	current, _ := sess.st.Get(ref)
	if !changed {
		return encoded(http.StatusOK, current)
	}

	var saved tracking.Entity
	switch v := current.(type) {
	case tracking.Task:
		v.Assignee = next.Assignee
		v.Delegation = next.Delegation
		v.Version++
		saved = v
	case tracking.Activity:
		// The stored activity keeps inheriting from its parent unless
		// ownership actually moved.
		if next.Assignee != subject.Assignee {
			v.Assignee = next.Assignee
		}
		v.Delegation = next.Delegation
		v.Version++
		saved = v
	}
	if err := sess.st.Upsert(saved); err != nil {
		return nil, err
	}
	sess.changed = true
	s.logger.Info("delegation step", "ref", ref.String(), "action", req.Action, "actor", sess.actor, "status", next.Delegation.Status)
	return encoded(http.StatusOK, saved)
}

func (s *Server) inbox(sess *session) (*remote.Response, error) {
	if sess.actor == "" {
		return nil, fmt.Errorf("inbox: %w", tracking.ErrUnauthorized)
	}
	var tasks, activities []tracking.Entity
	for _, ref := range sess.st.PendingFor(sess.actor) {
		e, ok := sess.st.Get(ref)
		if !ok {
			continue
		}
		switch ref.Kind {
		case tracking.KindTask:
			tasks = append(tasks, e)
		case tracking.KindActivity:
			activities = append(activities, e)
		}
	}
	body, err := remote.EncodeInbox(tasks, activities)
	if err != nil {
		return nil, err
	}
	return &remote.Response{Status: http.StatusOK, Body: body}, nil
}
