package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActionKind discriminates entries of a ticket's history.
type ActionKind string

const (
	ActionCreate  ActionKind = "CREATE"
	ActionEdit    ActionKind = "EDIT"
	ActionClaim   ActionKind = "CLAIM"
	ActionUnclaim ActionKind = "UNCLAIM"
	ActionClose   ActionKind = "CLOSE"
	ActionReopen  ActionKind = "REOPEN"
	ActionNote    ActionKind = "NOTE"
)

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionCreate, ActionEdit, ActionClaim, ActionUnclaim, ActionClose, ActionReopen, ActionNote:
		return true
	}
	return false
}

// Action is one immutable entry of a ticket's audit log.
// Message is set for CREATE, EDIT and NOTE. Claimer is set for CLAIM.
type Action struct {
	TicketID int64
	Seq      int
	Kind     ActionKind
	Actor    uuid.UUID
	At       time.Time
	Message  string
	Claimer  uuid.UUID
}

// NewAction builds an action stamped with the current UTC time.
func NewAction(kind ActionKind, actor uuid.UUID, message string) Action {
	action := Action{
		Kind:    kind,
		Actor:   actor,
		At:      time.Now().UTC(),
		Message: message,
	}
	if kind == ActionClaim {
		action.Claimer = actor
	}
	return action
}
