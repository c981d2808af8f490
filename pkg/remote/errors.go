package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
)

// ErrorBody is the JSON body of a failed response.
type ErrorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	// Rule names the guard that refused the change.
	Rule string `json:"rule,omitempty"`
	// Resource and Limit describe an exceeded capacity.
	Resource string `json:"resource,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// StatusError is a non-2xx response.
type StatusError struct {
	Status  int
	Request string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Request, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Request, e.Status, e.Message)
}

// Is matches ErrUnauthorized for 401 and 403.
func (e *StatusError) Is(target error) bool {
	return target == tracking.ErrUnauthorized &&
		(e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden)
}

// statusError maps a response onto the error taxonomy. ref names the record
// the request was about, if any.
func statusError(req *Request, resp *Response, ref tracking.Ref) error {
	if resp.Status >= 200 && resp.Status < 300 {
		return nil
	}
	var body ErrorBody
	_ = json.Unmarshal(resp.Body, &body)
	se := &StatusError{Status: resp.Status, Request: req.String(), Message: body.Error}

	switch resp.Status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		switch {
		case body.Rule != "":
			return &tracking.GuardViolation{Rule: body.Rule, Ref: ref, Detail: body.Error}
		case body.Limit > 0:
			return &tracking.CapacityError{Resource: body.Resource, Limit: body.Limit}
		}
		return &tracking.ValidationError{Field: body.Field, Reason: body.Error}
	case http.StatusUnauthorized, http.StatusForbidden:
		return se
	case http.StatusNotFound:
		return &tracking.ConflictError{Ref: ref, Err: &tracking.NotFoundError{Ref: ref}}
	case http.StatusConflict, http.StatusPreconditionFailed:
		return &tracking.ConflictError{Ref: ref, Err: se}
	}
	return &tracking.TransientError{Op: req.String(), Err: se}
}

// ErrorResponse renders a domain error as a response, the way a server
// reports it.
func ErrorResponse(err error) *Response {
	status := http.StatusInternalServerError
	body := ErrorBody{Error: err.Error()}

	var (
		validation *tracking.ValidationError
		guard      *tracking.GuardViolation
		capacity   *tracking.CapacityError
	)
	switch {
	case errors.As(err, &guard):
		status = http.StatusUnprocessableEntity
		body.Rule = guard.Rule
		body.Error = guard.Detail
	case errors.As(err, &capacity):
		status = http.StatusUnprocessableEntity
		body.Resource = capacity.Resource
		body.Limit = capacity.Limit
	case errors.As(err, &validation):
		status = http.StatusBadRequest
		body.Field = validation.Field
		body.Error = validation.Reason
	case errors.Is(err, tracking.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, tracking.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, tracking.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, tracking.ErrTransient):
		status = http.StatusServiceUnavailable
	}
	data, _ := json.Marshal(body)
	return &Response{Status: status, Body: data}
}
