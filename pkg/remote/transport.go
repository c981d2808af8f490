// Package remote adapts the engine's service interfaces to a request/response
// transport. It is the only place where wire spellings of records exist.
package remote

import (
	"context"
	"net/url"
	"strings"
)

// Resource names used on the wire.
const (
	ResourceTasks       = "tasks"
	ResourceGoals       = "goals"
	ResourceMilestones  = "milestones"
	ResourceKeyAreas    = "key_areas"
	ResourceActivities  = "activities"
	ResourceDelegations = "delegations"
)

// Actions addressed below a resource or record.
const (
	ActionReorder  = "reorder"
	ActionDelegate = "delegate"
	ActionAccept   = "accept"
	ActionReject   = "reject"
	ActionInbox    = "inbox"
)

// Request is one call to the remote service. Method uses the net/http method
// names.
type Request struct {
	Method   string
	Resource string
	ID       string
	Action   string
	Query    url.Values
	Body     []byte
	// Actor is the user the call is made for.
	Actor string
}

// Path renders the request as a URL path, e.g. /tasks/t1/delegate.
func (r *Request) Path() string {
	parts := []string{"", r.Resource}
	if r.ID != "" {
		parts = append(parts, url.PathEscape(r.ID))
	}
	if r.Action != "" {
		parts = append(parts, r.Action)
	}
	return strings.Join(parts, "/")
}

func (r *Request) String() string {
	return r.Method + " " + r.Path()
}

// Response is the raw reply. Status follows HTTP status codes.
type Response struct {
	Status int
	Body   []byte
}

// Transport carries requests to the remote service.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

// Do calls f.
func (f TransportFunc) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
