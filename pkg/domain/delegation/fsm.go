// Package delegation models the handoff of a task or activity to another user.
package delegation

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
)

// State constants for statekit. They mirror tracking.DelegationStatus.
const (
	StateNone     = "none"
	StatePending  = "pending"
	StateAccepted = "accepted"
	StateRejected = "rejected"
)

// Events understood by the machine.
const (
	EventDelegate = "delegate"
	EventAccept   = "accept"
	EventReject   = "reject"
)

func init() {
	stateMap := map[string]tracking.DelegationStatus{
		StateNone:     tracking.DelegationNone,
		StatePending:  tracking.DelegationPending,
		StateAccepted: tracking.DelegationAccepted,
		StateRejected: tracking.DelegationRejected,
	}
	for fsmState, status := range stateMap {
		if fsmState != string(status) {
			panic(fmt.Sprintf("FSM state %q does not match DelegationStatus %q", fsmState, status))
		}
	}
}

// machineContext carries the actors the guards compare.
type machineContext struct {
	Actor       string
	DelegatedTo string
	Owner       string
}

type machine struct {
	interpreter *statekit.Interpreter[machineContext]
}

func newMachine(initial tracking.DelegationStatus, ctx machineContext) (*machine, error) {
	if initial == "" {
		initial = tracking.DelegationNone
	}

	builder := statekit.NewMachine[machineContext]("delegation-machine").
		WithInitial(statekit.StateID(initial)).
		WithContext(ctx).
		WithGuard("isDelegate", func(c machineContext, _ statekit.Event) bool {
			return c.Actor != "" && c.Actor == c.DelegatedTo
		}).
		WithGuard("isOwner", isOwner)

	builder.State(StateNone).
		On(EventDelegate).Target(StatePending).Guard("isOwner").
		Done()

	builder.State(StatePending).
		On(EventAccept).Target(StateAccepted).Guard("isDelegate").
		On(EventReject).Target(StateRejected).Guard("isDelegate").
		Done()

	// The new owner may hand the item on.
	builder.State(StateAccepted).
		On(EventDelegate).Target(StatePending).Guard("isOwner").
		Done()

	builder.State(StateRejected).
		On(EventDelegate).Target(StatePending).Guard("isOwner").
		Done()

	def, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build delegation machine: %w", err)
	}

	interp := statekit.NewInterpreter(def)
	interp.Start()
	return &machine{interpreter: interp}, nil
}

// isOwner lets the owner delegate. An unassigned item may be delegated by
// anyone.
func isOwner(c machineContext, _ statekit.Event) bool {
	if c.Actor == "" {
		return false
	}
	return c.Owner == "" || c.Actor == c.Owner
}

func (m *machine) current() tracking.DelegationStatus {
	return tracking.DelegationStatus(m.interpreter.State().Value)
}

// fire sends event and reports whether the state moved.
func (m *machine) fire(event string) bool {
	before := m.current()
	m.interpreter.Send(statekit.Event{Type: statekit.EventType(event)})
	return m.current() != before
}

// Subject is the delegable part of a task or activity.
type Subject struct {
	Ref        tracking.Ref
	Assignee   string
	Delegation tracking.Delegation
}

// SubjectOfTask extracts the delegable part of a task.
func SubjectOfTask(t tracking.Task) Subject {
	return Subject{Ref: t.Ref(), Assignee: t.Assignee, Delegation: t.Delegation}
}

// SubjectOfActivity extracts the delegable part of an activity.
func SubjectOfActivity(a tracking.Activity) Subject {
	return Subject{Ref: a.Ref(), Assignee: a.Assignee, Delegation: a.Delegation}
}

func (s Subject) status() tracking.DelegationStatus {
	if s.Delegation.Status == "" {
		return tracking.DelegationNone
	}
	return s.Delegation.Status
}

// Delegate hands s to the user to. Ownership does not move until the delegate
// accepts.
func Delegate(s Subject, actor, to string) (Subject, error) {
	actor = strings.TrimSpace(actor)
	to = strings.TrimSpace(to)
	if actor == "" {
		return s, &tracking.ValidationError{Field: "actor", Reason: "acting user is required"}
	}
	if to == "" {
		return s, &tracking.ValidationError{Field: "delegated_to", Reason: "target user is required"}
	}
	if to == actor {
		return s, &tracking.ValidationError{Field: "delegated_to", Reason: "cannot delegate to yourself"}
	}

	mctx := machineContext{
		Actor: actor,
		Owner: tracking.Owner(s.Assignee, s.Delegation),
	}
	m, err := newMachine(s.status(), mctx)
	if err != nil {
		return s, err
	}
	if !m.fire(EventDelegate) {
		if s.status() != tracking.DelegationPending && !isOwner(mctx, statekit.Event{}) {
			return s, &tracking.GuardViolation{
				Rule:   "delegation-owner",
				Ref:    s.Ref,
				Detail: fmt.Sprintf("only %s may delegate this item", mctx.Owner),
			}
		}
		return s, &tracking.GuardViolation{
			Rule:   "delegation-state",
			Ref:    s.Ref,
			Detail: fmt.Sprintf("cannot delegate while delegation is %s", s.status()),
		}
	}

	s.Delegation = tracking.Delegation{
		Status:      m.current(),
		DelegatedTo: to,
		DelegatedBy: actor,
	}
	return s, nil
}

// Accept transfers ownership to the delegate. On an already answered
// delegation it returns s unchanged and changed=false.
func Accept(s Subject, actor string) (Subject, bool, error) {
	return answer(s, actor, EventAccept)
}

// Reject declines the delegation; ownership stays with the delegator. On an
// already answered delegation it returns s unchanged and changed=false.
func Reject(s Subject, actor string) (Subject, bool, error) {
	return answer(s, actor, EventReject)
}

func answer(s Subject, actor, event string) (Subject, bool, error) {
	status := s.status()
	if status.IsTerminal() {
		return s, false, nil
	}
	if status != tracking.DelegationPending {
		return s, false, &tracking.GuardViolation{
			Rule:   "delegation-state",
			Ref:    s.Ref,
			Detail: "no pending delegation to " + event,
		}
	}

	actor = strings.TrimSpace(actor)
	m, err := newMachine(status, machineContext{
		Actor:       actor,
		DelegatedTo: s.Delegation.DelegatedTo,
	})
	if err != nil {
		return s, false, err
	}
	if !m.fire(event) {
		return s, false, &tracking.GuardViolation{
			Rule:   "delegation-recipient",
			Ref:    s.Ref,
			Detail: fmt.Sprintf("only %s may %s this delegation", s.Delegation.DelegatedTo, event),
		}
	}

	s.Delegation.Status = m.current()
	if s.Delegation.Status == tracking.DelegationAccepted {
		s.Assignee = s.Delegation.DelegatedTo
	}
	return s, true, nil
}

// CanAnswer reports whether actor is the recipient of a pending delegation.
func CanAnswer(d tracking.Delegation, actor string) bool {
	return d.Status == tracking.DelegationPending && actor != "" && d.DelegatedTo == actor
}
