// Package events defines the notifications the mutation engine emits and the
// dispatcher that fans them out to subscribers.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
)

// DomainEvent is the base interface for all domain events.
type DomainEvent interface {
	EventType() string
	AggregateID() string
	AggregateType() string
	OccurredAt() time.Time
	Version() int
}

// Event types.
const (
	EventTypeEntityChanged     = "entity.changed"
	EventTypeDelegationSettled = "delegation.settled"
	EventTypeCapacityExceeded  = "capacity.exceeded"
	EventTypeMutationSettled   = "mutation.settled"
)

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	AggregateID_   string    `json:"aggregate_id"`
	AggregateType_ string    `json:"aggregate_type"`
	Timestamp      time.Time `json:"timestamp"`
	Version_       int       `json:"version"`
	Actor          string    `json:"actor,omitempty"`
}

func (e BaseEvent) EventType() string     { return e.Type }
func (e BaseEvent) AggregateID() string   { return e.AggregateID_ }
func (e BaseEvent) AggregateType() string { return e.AggregateType_ }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) Version() int          { return e.Version_ }

func newBase(eventType string, ref tracking.Ref, version int, actor string, at time.Time) BaseEvent {
	return BaseEvent{
		ID:             uuid.NewString(),
		Type:           eventType,
		AggregateID_:   ref.ID,
		AggregateType_: string(ref.Kind),
		Timestamp:      at,
		Version_:       version,
		Actor:          actor,
	}
}

// ChangePhase says which step of a mutation produced a change.
type ChangePhase string

const (
	PhaseOptimistic ChangePhase = "optimistic"
	PhaseConfirmed  ChangePhase = "confirmed"
	PhaseReverted   ChangePhase = "reverted"
	PhaseRefetched  ChangePhase = "refetched"
	PhaseSynced     ChangePhase = "synced"
)

// EntityChanged tells subscribers to re-read an entity from the store.
type EntityChanged struct {
	BaseEvent
	Kind    tracking.EntityKind `json:"kind"`
	Entity  string              `json:"entity_id"`
	Phase   ChangePhase         `json:"phase"`
	Removed bool                `json:"removed,omitempty"`
}

// NewEntityChanged creates an EntityChanged event.
func NewEntityChanged(ref tracking.Ref, phase ChangePhase, removed bool, version int, at time.Time) *EntityChanged {
	return &EntityChanged{
		BaseEvent: newBase(EventTypeEntityChanged, ref, version, "", at),
		Kind:      ref.Kind,
		Entity:    ref.ID,
		Phase:     phase,
		Removed:   removed,
	}
}

// DelegationSettled reports the server-confirmed outcome of a delegation step.
type DelegationSettled struct {
	BaseEvent
	Kind        tracking.EntityKind       `json:"kind"`
	Entity      string                    `json:"entity_id"`
	Outcome     tracking.DelegationStatus `json:"outcome"`
	DelegatedTo string                    `json:"delegated_to,omitempty"`
	DelegatedBy string                    `json:"delegated_by,omitempty"`
}

// NewDelegationSettled creates a DelegationSettled event.
func NewDelegationSettled(ref tracking.Ref, d tracking.Delegation, actor string, version int, at time.Time) *DelegationSettled {
	return &DelegationSettled{
		BaseEvent:   newBase(EventTypeDelegationSettled, ref, version, actor, at),
		Kind:        ref.Kind,
		Entity:      ref.ID,
		Outcome:     d.Status,
		DelegatedTo: d.DelegatedTo,
		DelegatedBy: d.DelegatedBy,
	}
}

// CapacityExceeded reports a rejected command that hit a layout limit.
type CapacityExceeded struct {
	BaseEvent
	Resource string `json:"resource"`
	Limit    int    `json:"limit"`
}

// NewCapacityExceeded creates a CapacityExceeded event.
func NewCapacityExceeded(ref tracking.Ref, resource string, limit int, actor string, at time.Time) *CapacityExceeded {
	return &CapacityExceeded{
		BaseEvent: newBase(EventTypeCapacityExceeded, ref, 0, actor, at),
		Resource:  resource,
		Limit:     limit,
	}
}

// Outcome summarizes how a mutation ended.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeNoop      Outcome = "noop"
	OutcomeRejected  Outcome = "rejected"
	OutcomeReverted  Outcome = "reverted"
	OutcomeRefetched Outcome = "refetched"
)

// MutationSettled is emitted once per command for instrumentation.
type MutationSettled struct {
	BaseEvent
	Command  string        `json:"command"`
	Outcome  Outcome       `json:"outcome"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// NewMutationSettled creates a MutationSettled event.
func NewMutationSettled(ref tracking.Ref, command string, outcome Outcome, d time.Duration, err error, actor string, at time.Time) *MutationSettled {
	e := &MutationSettled{
		BaseEvent: newBase(EventTypeMutationSettled, ref, 0, actor, at),
		Command:   command,
		Outcome:   outcome,
		Duration:  d,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
