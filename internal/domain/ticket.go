package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status enumerates lifecycle states for tickets.
type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusClaimed Status = "CLAIMED"
	StatusClosed  Status = "CLOSED"
)

// ActiveStatuses are the statuses of tickets that still need attention.
var ActiveStatuses = []Status{StatusOpen, StatusClaimed}

// AllStatuses lists every persisted status.
var AllStatuses = []Status{StatusOpen, StatusClaimed, StatusClosed}

// Valid reports whether s is one of the persisted statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusClaimed, StatusClosed:
		return true
	}
	return false
}

// Active reports whether the ticket is OPEN or CLAIMED.
func (s Status) Active() bool {
	return s == StatusOpen || s == StatusClaimed
}

// Ticket is the aggregate for support requests. Values are snapshots: code outside the
// modification path treats them as read-only and uses Clone before changing anything.
type Ticket struct {
	ID        int64
	Owner     uuid.UUID
	Status    Status
	Claimer   *uuid.UUID
	Context   Context
	Actions   []Action
	CreatedAt time.Time
}

// Message returns the payload of the latest CREATE or EDIT action.
func (t Ticket) Message() string {
	return CurrentMessage(t.Actions)
}

// Version increases with every committed action.
func (t Ticket) Version() int {
	return len(t.Actions)
}

// LastActivity is the timestamp of the newest action.
func (t Ticket) LastActivity() time.Time {
	if len(t.Actions) == 0 {
		return t.CreatedAt
	}
	return t.Actions[len(t.Actions)-1].At
}

// Clone returns a deep copy.
func (t Ticket) Clone() Ticket {
	out := t
	if t.Claimer != nil {
		claimer := *t.Claimer
		out.Claimer = &claimer
	}
	out.Context = t.Context.Clone()
	out.Actions = make([]Action, len(t.Actions))
	copy(out.Actions, t.Actions)
	return out
}

// Apply validates action against the current status and returns the resulting snapshot.
// The receiver is left untouched.
func (t Ticket) Apply(action Action) (Ticket, error) {
	next, err := Transition(t.Status, action.Kind)
	if err != nil {
		return Ticket{}, err
	}
	out := t.Clone()
	if action.Seq == 0 {
		action.Seq = len(out.Actions) + 1
	}
	action.TicketID = t.ID
	out.Actions = append(out.Actions, action)
	out.Status = next
	out.Claimer = NextClaimer(t.Claimer, action)
	return out, nil
}

// CurrentStatus replays actions from creation and returns the resulting status.
// Actions that are not legal at their position are skipped.
func CurrentStatus(actions []Action) Status {
	status := StatusOpen
	for _, action := range actions {
		if action.Kind == ActionCreate {
			status = StatusOpen
			continue
		}
		if next, err := Transition(status, action.Kind); err == nil {
			status = next
		}
	}
	return status
}

// CurrentMessage returns the message of the most recent EDIT or CREATE action.
func CurrentMessage(actions []Action) string {
	for i := len(actions) - 1; i >= 0; i-- {
		switch actions[i].Kind {
		case ActionCreate, ActionEdit:
			return actions[i].Message
		}
	}
	return ""
}

// CurrentClaimer replays actions and returns who holds the ticket, if anyone.
func CurrentClaimer(actions []Action) *uuid.UUID {
	var claimer *uuid.UUID
	for _, action := range actions {
		claimer = NextClaimer(claimer, action)
	}
	return claimer
}

// NextClaimer returns the claimer after action is applied. CLOSE keeps the claimer so
// that closed tickets still count for whoever handled them.
func NextClaimer(current *uuid.UUID, action Action) *uuid.UUID {
	switch action.Kind {
	case ActionClaim:
		claimer := action.Claimer
		if claimer == uuid.Nil {
			claimer = action.Actor
		}
		return &claimer
	case ActionUnclaim, ActionReopen, ActionCreate:
		return nil
	default:
		return current
	}
}
