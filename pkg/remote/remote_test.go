package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
	"github.com/felixgeelhaar/stride/pkg/mutation"
)

func TestDecodeTask_CanonicalizesWireSpellings(t *testing.T) {
	body := []byte(`{
		"id": "t1",
		"key_area_id": "ka1",
		"title": "File taxes",
		"status": "done",
		"priority": 3,
		"deadline": "2026-04-15",
		"completion_date": "2026-04-01T10:30:00Z",
		"delegation_status": "pending",
		"delegated_to": "alex",
		"delegated_by": "me",
		"version": 7
	}`)

	task, err := decodeAs[tracking.Task](tracking.KindTask, body, nil)
	require.NoError(t, err)
	assert.Equal(t, tracking.TaskCompleted, task.Status)
	assert.Equal(t, tracking.PriorityHigh, task.Priority)
	assert.Equal(t, time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC), task.Deadline)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), task.CompletionDate)
	assert.Equal(t, tracking.DelegationPending, task.Delegation.Status)
	assert.Equal(t, "alex", task.Delegation.DelegatedTo)
	assert.Equal(t, 7, task.Version)
}

func TestDecodeTask_PriorityForms(t *testing.T) {
	cases := map[string]tracking.Priority{
		`"low"`:  tracking.PriorityLow,
		`"2"`:    tracking.PriorityMedium,
		`1`:      tracking.PriorityLow,
		`3`:      tracking.PriorityHigh,
		`null`:   tracking.PriorityMedium,
		`"HIGH"`: tracking.PriorityHigh,
	}
	for raw, want := range cases {
		t.Run(raw, func(t *testing.T) {
			task, err := decodeAs[tracking.Task](tracking.KindTask, []byte(`{"id":"t1","priority":`+raw+`}`), nil)
			require.NoError(t, err)
			assert.Equal(t, want, task.Priority)
		})
	}
}

func TestEncodeTask_EmitsWireForm(t *testing.T) {
	task := tracking.Task{
		ID:        "t1",
		KeyAreaID: "ka1",
		Title:     "Plan sprint",
		Status:    tracking.TaskOpen,
		Priority:  tracking.PriorityHigh,
		StartDate: time.Date(2026, 5, 4, 15, 0, 0, 0, time.UTC),
		ListIndex: 2,
	}
	data, err := Encode(task)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "todo", fields["status"])
	assert.Equal(t, "high", fields["priority"])
	assert.Equal(t, "2026-05-04", fields["start_date"])
	assert.Equal(t, "", fields["deadline"])
	assert.Equal(t, "none", fields["delegation_status"])
	assert.EqualValues(t, 2, fields["list_index"])
}

func TestDecode_OverlaysOntoBase(t *testing.T) {
	base := tracking.KeyArea{ID: "ka1", Title: "Work", Position: 2, ListNames: map[int]string{1: "Now", 3: "Later"}}

	e, err := Decode(tracking.KindKeyArea, []byte(`{"version": 4}`), base)
	require.NoError(t, err)

	area := e.(tracking.KeyArea)
	assert.Equal(t, "Work", area.Title)
	assert.Equal(t, 2, area.Position)
	assert.Equal(t, map[int]string{1: "Now", 3: "Later"}, area.ListNames)
	assert.Equal(t, 4, area.Version)
}

func TestDecode_RejectsBadDate(t *testing.T) {
	_, err := Decode(tracking.KindGoal, []byte(`{"id":"g1","due_date":"next friday"}`), nil)
	assert.ErrorIs(t, err, tracking.ErrValidation)
}

func TestDecode_KindMismatch(t *testing.T) {
	_, err := Decode(tracking.KindTask, []byte(`{}`), tracking.Goal{ID: "g1"})
	assert.Error(t, err)
}

func replying(status int, body string) TransportFunc {
	return func(context.Context, *Request) (*Response, error) {
		return &Response{Status: status, Body: []byte(body)}, nil
	}
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"bad request", http.StatusBadRequest, `{"error":"title is required","field":"title"}`, tracking.ErrValidation},
		{"guard", http.StatusUnprocessableEntity, `{"error":"has tasks","rule":"key-area-has-tasks"}`, tracking.ErrGuardViolation},
		{"capacity", http.StatusUnprocessableEntity, `{"error":"full","resource":"key_area","limit":9}`, tracking.ErrCapacity},
		{"unauthorized", http.StatusUnauthorized, `{"error":"who are you"}`, tracking.ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ``, tracking.ErrUnauthorized},
		{"not found", http.StatusNotFound, ``, tracking.ErrConflict},
		{"conflict", http.StatusConflict, `{"error":"stale version"}`, tracking.ErrConflict},
		{"precondition", http.StatusPreconditionFailed, ``, tracking.ErrConflict},
		{"rate limited", http.StatusTooManyRequests, ``, tracking.ErrTransient},
		{"unavailable", http.StatusServiceUnavailable, ``, tracking.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewServices(replying(tt.status, tt.body))
			_, err := svc.Tasks.Get(context.Background(), "t1")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_NotFoundIsConflictWithNotFound(t *testing.T) {
	svc := NewServices(replying(http.StatusNotFound, `{"error":"gone"}`))
	_, err := svc.Goals.Get(context.Background(), "g1")

	require.ErrorIs(t, err, tracking.ErrConflict)
	assert.ErrorIs(t, err, tracking.ErrNotFound)
	assert.False(t, tracking.IsRetryable(err))
}

func TestClient_TransportErrorIsTransient(t *testing.T) {
	svc := NewServices(TransportFunc(func(context.Context, *Request) (*Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	}))
	_, err := svc.KeyAreas.List(context.Background())

	assert.ErrorIs(t, err, tracking.ErrTransient)
	assert.True(t, tracking.IsRetryable(err))
}

func TestClient_CreateSendsWireRecord(t *testing.T) {
	var got *Request
	transport := TransportFunc(func(_ context.Context, req *Request) (*Response, error) {
		got = req
		return &Response{Status: http.StatusCreated, Body: []byte(`{"id":"t1","version":1,"status":"todo"}`)}, nil
	})
	svc := NewServices(transport, WithActor("me"))

	out, err := svc.Tasks.Create(context.Background(), tracking.Task{ID: "t1", KeyAreaID: "ka1", Title: "Draft", Status: tracking.TaskOpen})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/tasks", got.Path())
	assert.Equal(t, "me", got.Actor)
	assert.Contains(t, string(got.Body), `"key_area_id":"ka1"`)
	assert.Equal(t, "Draft", out.Title)
	assert.Equal(t, 1, out.Version)
	assert.Equal(t, tracking.TaskOpen, out.Status)
}

func TestClient_ListFilters(t *testing.T) {
	var got *Request
	transport := TransportFunc(func(_ context.Context, req *Request) (*Response, error) {
		got = req
		return &Response{Status: http.StatusOK, Body: []byte(`[{"id":"t1","status":"in progress"},{"id":"t2","status":"closed"}]`)}, nil
	})
	svc := NewServices(transport)

	tasks, err := svc.Tasks.List(context.Background(), mutation.TaskFilter{KeyAreaID: "ka1", Status: tracking.TaskOpen})
	require.NoError(t, err)

	assert.Equal(t, "ka1", got.Query.Get("key_area_id"))
	assert.Equal(t, "todo", got.Query.Get("status"))
	require.Len(t, tasks, 2)
	assert.Equal(t, tracking.TaskInProgress, tasks[0].Status)
	assert.Equal(t, tracking.TaskCompleted, tasks[1].Status)
}

func TestClient_ReorderAndInbox(t *testing.T) {
	var reorder []PositionRecord
	transport := TransportFunc(func(_ context.Context, req *Request) (*Response, error) {
		switch req.Action {
		case ActionReorder:
			if err := json.Unmarshal(req.Body, &reorder); err != nil {
				return nil, err
			}
			return &Response{Status: http.StatusOK, Body: []byte(`[{"id":"b","position":1},{"id":"a","position":2}]`)}, nil
		case ActionInbox:
			return &Response{Status: http.StatusOK, Body: []byte(`{"tasks":[{"id":"t1","delegation_status":"pending","delegated_to":"me"}],"activities":[]}`)}, nil
		}
		return &Response{Status: http.StatusNotFound}, nil
	})
	svc := NewServices(transport)

	areas, err := svc.KeyAreas.Reorder(context.Background(), []mutation.KeyAreaPosition{{ID: "b", Position: 1}, {ID: "a", Position: 2}})
	require.NoError(t, err)
	assert.Equal(t, []PositionRecord{{ID: "b", Position: 1}, {ID: "a", Position: 2}}, reorder)
	require.Len(t, areas, 2)
	assert.Equal(t, "b", areas[0].ID)

	inbox, err := svc.Delegations.ListDelegatedToMe(context.Background())
	require.NoError(t, err)
	require.Len(t, inbox.Tasks, 1)
	assert.Equal(t, tracking.DelegationPending, inbox.Tasks[0].Delegation.Status)
	assert.Empty(t, inbox.Activities)
}

func TestErrorResponse_RoundTrip(t *testing.T) {
	ref := tracking.Ref{Kind: tracking.KindKeyArea, ID: "ka1"}
	resp := ErrorResponse(&tracking.GuardViolation{Rule: "key-area-has-tasks", Ref: ref, Detail: "3 task(s) left"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Status)

	err := statusError(&Request{Method: http.MethodDelete, Resource: ResourceKeyAreas, ID: "ka1"}, resp, ref)
	var guard *tracking.GuardViolation
	require.ErrorAs(t, err, &guard)
	assert.Equal(t, "key-area-has-tasks", guard.Rule)
	assert.Equal(t, ref, guard.Ref)

	assert.Equal(t, http.StatusConflict, ErrorResponse(&tracking.ConflictError{Ref: ref, Err: errors.New("stale")}).Status)
	assert.Equal(t, http.StatusNotFound, ErrorResponse(&tracking.NotFoundError{Ref: ref}).Status)
	assert.Equal(t, http.StatusBadRequest, ErrorResponse(&tracking.ValidationError{Field: "title"}).Status)
}

func TestHTTPTransport_ThroughHandler(t *testing.T) {
	var seen *Request
	backend := TransportFunc(func(_ context.Context, req *Request) (*Response, error) {
		seen = req
		if req.ID == "missing" {
			return nil, &tracking.NotFoundError{Ref: tracking.Ref{Kind: tracking.KindTask, ID: req.ID}}
		}
		return &Response{Status: http.StatusOK, Body: []byte(`{"id":"t1","title":"From server"}`)}, nil
	})
	srv := httptest.NewServer(Handler(backend))
	defer srv.Close()

	client := NewClient(NewHTTPTransport(srv.URL+"/"), WithActor("me"))
	svc := client.Services()

	out, err := svc.Delegations.Delegate(context.Background(), tracking.Ref{Kind: tracking.KindTask, ID: "t1"}, "alex")
	require.NoError(t, err)
	assert.Equal(t, "From server", out.(tracking.Task).Title)
	assert.Equal(t, ResourceTasks, seen.Resource)
	assert.Equal(t, "t1", seen.ID)
	assert.Equal(t, ActionDelegate, seen.Action)
	assert.Equal(t, "me", seen.Actor)
	assert.JSONEq(t, `{"to":"alex"}`, string(seen.Body))

	_, err = svc.Tasks.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, tracking.ErrNotFound)
}
