package tracking

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the engine. Typed errors below carry details and
// match these sentinels through errors.Is.
var (
	// ErrValidation indicates a malformed command; nothing was written.
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates the server state diverged from the local copy.
	ErrConflict = errors.New("conflict with server state")

	// ErrTransient indicates a network failure, timeout or cancellation.
	ErrTransient = errors.New("transient failure")

	// ErrCapacity indicates a key area or list limit was reached.
	ErrCapacity = errors.New("capacity exceeded")

	// ErrGuardViolation indicates a referential or locking rule forbids the change.
	ErrGuardViolation = errors.New("guard violation")

	// ErrUnauthorized indicates the remote service refused the caller's identity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates the referenced entity is not in the store.
	ErrNotFound = errors.New("entity not found")
)

// ValidationError describes a rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid command: " + e.Reason
	}
	return "invalid " + e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// GuardViolation names the rule that blocked a change.
type GuardViolation struct {
	Rule   string
	Ref    Ref
	Detail string
}

func (e *GuardViolation) Error() string {
	return fmt.Sprintf("%s blocked by %s: %s", e.Ref, e.Rule, e.Detail)
}

func (e *GuardViolation) Is(target error) bool { return target == ErrGuardViolation }

// CapacityError reports which resource is full.
type CapacityError struct {
	Resource string
	Limit    int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s limit of %d reached", e.Resource, e.Limit)
}

func (e *CapacityError) Is(target error) bool { return target == ErrCapacity }

// ConflictError wraps a divergence reported by the server.
type ConflictError struct {
	Ref Ref
	Err error
}

func (e *ConflictError) Error() string {
	if e.Err == nil {
		return "conflict on " + e.Ref.String()
	}
	return "conflict on " + e.Ref.String() + ": " + e.Err.Error()
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
func (e *ConflictError) Unwrap() error        { return e.Err }

// TransientError wraps a failure the caller may retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return e.Op + ": transient failure"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *TransientError) Is(target error) bool { return target == ErrTransient }
func (e *TransientError) Unwrap() error        { return e.Err }

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Ref Ref
}

func (e *NotFoundError) Error() string { return e.Ref.String() + " not found" }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IsRetryable reports whether the caller may retry the same command.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) && !errors.Is(err, ErrUnauthorized)
}
