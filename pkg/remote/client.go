package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
	"github.com/felixgeelhaar/stride/pkg/mutation"
)

// Client speaks the wire protocol over a Transport.
type Client struct {
	transport Transport
	actor     string
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithActor sets the user every request is made for.
func WithActor(user string) Option {
	return func(c *Client) { c.actor = user }
}

// WithLogger sets the logger. nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a Client.
func NewClient(t Transport, opts ...Option) *Client {
	c := &Client{transport: t, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewServices returns the six engine services backed by t.
func NewServices(t Transport, opts ...Option) mutation.Services {
	return NewClient(t, opts...).Services()
}

// Services returns the engine services backed by c.
func (c *Client) Services() mutation.Services {
	return mutation.Services{
		Tasks:       taskClient{c},
		Goals:       goalClient{c},
		Milestones:  milestoneClient{c},
		KeyAreas:    keyAreaClient{c},
		Activities:  activityClient{c},
		Delegations: delegationClient{c},
	}
}

// do sends req and returns the body of a 2xx reply. Anything else is mapped
// onto the error taxonomy.
func (c *Client) do(ctx context.Context, req *Request, ref tracking.Ref) ([]byte, error) {
	req.Actor = c.actor
	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		c.logger.Debug("remote call failed", "request", req.String(), "error", err)
		if errors.Is(err, tracking.ErrUnauthorized) {
			return nil, err
		}
		return nil, &tracking.TransientError{Op: req.String(), Err: err}
	}
	if resp == nil {
		return nil, &tracking.TransientError{Op: req.String(), Err: errors.New("empty response")}
	}
	if err := statusError(req, resp, ref); err != nil {
		c.logger.Debug("remote call rejected", "request", req.String(), "status", resp.Status, "error", err)
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) send(ctx context.Context, method string, e tracking.Entity, id string) ([]byte, error) {
	body, err := Encode(e)
	if err != nil {
		return nil, err
	}
	ref := e.Ref()
	return c.do(ctx, &Request{Method: method, Resource: ResourceOf(ref.Kind), ID: id, Body: body}, ref)
}

func (c *Client) create(ctx context.Context, e tracking.Entity) (tracking.Entity, error) {
	body, err := c.send(ctx, http.MethodPost, e, "")
	if err != nil {
		return nil, err
	}
	return Decode(e.Ref().Kind, body, e)
}

func (c *Client) update(ctx context.Context, e tracking.Entity) (tracking.Entity, error) {
	body, err := c.send(ctx, http.MethodPut, e, e.Ref().ID)
	if err != nil {
		return nil, err
	}
	return Decode(e.Ref().Kind, body, e)
}

func (c *Client) remove(ctx context.Context, kind tracking.EntityKind, id string) error {
	ref := tracking.Ref{Kind: kind, ID: id}
	_, err := c.do(ctx, &Request{Method: http.MethodDelete, Resource: ResourceOf(kind), ID: id}, ref)
	return err
}

func (c *Client) get(ctx context.Context, kind tracking.EntityKind, id string) ([]byte, error) {
	ref := tracking.Ref{Kind: kind, ID: id}
	return c.do(ctx, &Request{Method: http.MethodGet, Resource: ResourceOf(kind), ID: id}, ref)
}

func (c *Client) list(ctx context.Context, kind tracking.EntityKind, query url.Values) ([]byte, error) {
	return c.do(ctx, &Request{Method: http.MethodGet, Resource: ResourceOf(kind), Query: query}, tracking.Ref{Kind: kind})
}

func as[T tracking.Entity](e tracking.Entity, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	v, ok := e.(T)
	if !ok {
		return zero, fmt.Errorf("remote: got %T, want %T", e, zero)
	}
	return v, nil
}

type taskClient struct{ c *Client }

func (s taskClient) Create(ctx context.Context, t tracking.Task) (tracking.Task, error) {
	return as[tracking.Task](s.c.create(ctx, t))
}

func (s taskClient) Update(ctx context.Context, t tracking.Task) (tracking.Task, error) {
	return as[tracking.Task](s.c.update(ctx, t))
}

func (s taskClient) Remove(ctx context.Context, id string) error {
	return s.c.remove(ctx, tracking.KindTask, id)
}

func (s taskClient) List(ctx context.Context, f mutation.TaskFilter) ([]tracking.Task, error) {
	q := url.Values{}
	setIf(q, "key_area_id", f.KeyAreaID)
	setIf(q, "goal_id", f.GoalID)
	setIf(q, "assignee", f.Assignee)
	if f.Status != "" {
		q.Set("status", f.Status.WireName())
	}
	body, err := s.c.list(ctx, tracking.KindTask, q)
	if err != nil {
		return nil, err
	}
	return decodeListAs[tracking.Task](tracking.KindTask, body)
}

func (s taskClient) Get(ctx context.Context, id string) (tracking.Task, error) {
	body, err := s.c.get(ctx, tracking.KindTask, id)
	if err != nil {
		return tracking.Task{}, err
	}
	return decodeAs[tracking.Task](tracking.KindTask, body, nil)
}

type goalClient struct{ c *Client }

func (s goalClient) Create(ctx context.Context, g tracking.Goal) (tracking.Goal, error) {
	return as[tracking.Goal](s.c.create(ctx, g))
}

func (s goalClient) Update(ctx context.Context, g tracking.Goal) (tracking.Goal, error) {
	return as[tracking.Goal](s.c.update(ctx, g))
}

func (s goalClient) Remove(ctx context.Context, id string) error {
	return s.c.remove(ctx, tracking.KindGoal, id)
}

func (s goalClient) List(ctx context.Context) ([]tracking.Goal, error) {
	body, err := s.c.list(ctx, tracking.KindGoal, nil)
	if err != nil {
		return nil, err
	}
	return decodeListAs[tracking.Goal](tracking.KindGoal, body)
}

func (s goalClient) Get(ctx context.Context, id string) (tracking.Goal, error) {
	body, err := s.c.get(ctx, tracking.KindGoal, id)
	if err != nil {
		return tracking.Goal{}, err
	}
	return decodeAs[tracking.Goal](tracking.KindGoal, body, nil)
}

type milestoneClient struct{ c *Client }

func (s milestoneClient) Create(ctx context.Context, m tracking.Milestone) (tracking.Milestone, error) {
	return as[tracking.Milestone](s.c.create(ctx, m))
}

func (s milestoneClient) Update(ctx context.Context, m tracking.Milestone) (tracking.Milestone, error) {
	return as[tracking.Milestone](s.c.update(ctx, m))
}

func (s milestoneClient) Remove(ctx context.Context, id string) error {
	return s.c.remove(ctx, tracking.KindMilestone, id)
}

func (s milestoneClient) ListByGoal(ctx context.Context, goalID string) ([]tracking.Milestone, error) {
	body, err := s.c.list(ctx, tracking.KindMilestone, url.Values{"goal_id": {goalID}})
	if err != nil {
		return nil, err
	}
	return decodeListAs[tracking.Milestone](tracking.KindMilestone, body)
}

type keyAreaClient struct{ c *Client }

func (s keyAreaClient) Create(ctx context.Context, k tracking.KeyArea) (tracking.KeyArea, error) {
	return as[tracking.KeyArea](s.c.create(ctx, k))
}

func (s keyAreaClient) Update(ctx context.Context, k tracking.KeyArea) (tracking.KeyArea, error) {
	return as[tracking.KeyArea](s.c.update(ctx, k))
}

func (s keyAreaClient) Remove(ctx context.Context, id string) error {
	return s.c.remove(ctx, tracking.KindKeyArea, id)
}

func (s keyAreaClient) List(ctx context.Context) ([]tracking.KeyArea, error) {
	body, err := s.c.list(ctx, tracking.KindKeyArea, nil)
	if err != nil {
		return nil, err
	}
	return decodeListAs[tracking.KeyArea](tracking.KindKeyArea, body)
}

func (s keyAreaClient) Reorder(ctx context.Context, batch []mutation.KeyAreaPosition) ([]tracking.KeyArea, error) {
	records := make([]PositionRecord, len(batch))
	for i, p := range batch {
		records[i] = PositionRecord{ID: p.ID, Position: p.Position}
	}
	body, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	req := &Request{Method: http.MethodPost, Resource: ResourceKeyAreas, Action: ActionReorder, Body: body}
	out, err := s.c.do(ctx, req, tracking.Ref{Kind: tracking.KindKeyArea})
	if err != nil {
		return nil, err
	}
	return decodeListAs[tracking.KeyArea](tracking.KindKeyArea, out)
}

type activityClient struct{ c *Client }

func (s activityClient) Create(ctx context.Context, a tracking.Activity) (tracking.Activity, error) {
	return as[tracking.Activity](s.c.create(ctx, a))
}

func (s activityClient) Update(ctx context.Context, a tracking.Activity) (tracking.Activity, error) {
	return as[tracking.Activity](s.c.update(ctx, a))
}

func (s activityClient) Remove(ctx context.Context, id string) error {
	return s.c.remove(ctx, tracking.KindActivity, id)
}

func (s activityClient) List(ctx context.Context, f mutation.ActivityFilter) ([]tracking.Activity, error) {
	q := url.Values{}
	setIf(q, "task_id", f.TaskID)
	body, err := s.c.list(ctx, tracking.KindActivity, q)
	if err != nil {
		return nil, err
	}
	return decodeListAs[tracking.Activity](tracking.KindActivity, body)
}

type delegationClient struct{ c *Client }

func (s delegationClient) step(ctx context.Context, ref tracking.Ref, action string, payload any) (tracking.Entity, error) {
	if ref.Kind != tracking.KindTask && ref.Kind != tracking.KindActivity {
		return nil, &tracking.ValidationError{Field: "kind", Reason: fmt.Sprintf("%s cannot be delegated", ref.Kind)}
	}
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, err
		}
	}
	req := &Request{Method: http.MethodPost, Resource: ResourceOf(ref.Kind), ID: ref.ID, Action: action, Body: body}
	out, err := s.c.do(ctx, req, ref)
	if err != nil {
		return nil, err
	}
	return Decode(ref.Kind, out, nil)
}

func (s delegationClient) Delegate(ctx context.Context, ref tracking.Ref, to string) (tracking.Entity, error) {
	return s.step(ctx, ref, ActionDelegate, DelegateBody{To: to})
}

func (s delegationClient) Accept(ctx context.Context, ref tracking.Ref) (tracking.Entity, error) {
	return s.step(ctx, ref, ActionAccept, nil)
}

func (s delegationClient) Reject(ctx context.Context, ref tracking.Ref) (tracking.Entity, error) {
	return s.step(ctx, ref, ActionReject, nil)
}

func (s delegationClient) ListDelegatedToMe(ctx context.Context) (mutation.Inbox, error) {
	req := &Request{Method: http.MethodGet, Resource: ResourceDelegations, Action: ActionInbox}
	body, err := s.c.do(ctx, req, tracking.Ref{})
	if err != nil {
		return mutation.Inbox{}, err
	}
	var rec InboxRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return mutation.Inbox{}, &tracking.ValidationError{Field: "inbox", Reason: err.Error()}
	}
	var inbox mutation.Inbox
	if len(rec.Tasks) > 0 {
		if inbox.Tasks, err = decodeListAs[tracking.Task](tracking.KindTask, rec.Tasks); err != nil {
			return mutation.Inbox{}, err
		}
	}
	if len(rec.Activities) > 0 {
		if inbox.Activities, err = decodeListAs[tracking.Activity](tracking.KindActivity, rec.Activities); err != nil {
			return mutation.Inbox{}, err
		}
	}
	return inbox, nil
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}
