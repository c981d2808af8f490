package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ActorHeader carries Request.Actor over HTTP.
const ActorHeader = "X-Stride-User"

// maxBody bounds how much of a reply is read.
const maxBody = 8 << 20

// HTTPTransport sends requests to a JSON service under BaseURL.
type HTTPTransport struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPTransport creates an HTTPTransport. Deadlines come from the request
// context, the client timeout is a backstop.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Do implements Transport.
func (t *HTTPTransport) Do(ctx context.Context, r *Request) (*Response, error) {
	target := t.BaseURL + r.Path()
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.Actor != "" {
		req.Header.Set(ActorHeader, r.Actor)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{Status: resp.StatusCode, Body: data}, nil
}

// Handler exposes a Transport over HTTP; it is the server side of
// HTTPTransport.
func Handler(t Transport) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := &Request{Method: r.Method, Query: r.URL.Query(), Actor: r.Header.Get(ActorHeader)}
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		switch {
		case len(parts) == 1 && parts[0] != "":
			req.Resource = parts[0]
		case len(parts) == 2 && (parts[1] == ActionReorder || parts[1] == ActionInbox):
			req.Resource, req.Action = parts[0], parts[1]
		case len(parts) == 2:
			req.Resource, req.ID = parts[0], parts[1]
		case len(parts) == 3:
			req.Resource, req.ID, req.Action = parts[0], parts[1], parts[2]
		default:
			http.NotFound(w, r)
			return
		}

		if r.Body != nil {
			data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if len(data) > 0 {
				req.Body = data
			}
		}

		resp, err := t.Do(r.Context(), req)
		if err != nil {
			resp = ErrorResponse(err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.Status)
		_, _ = w.Write(resp.Body)
	})
}
