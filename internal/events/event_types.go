package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/hgschmie/broccolai-tickets/internal/domain"
)

// Kind discriminates lifecycle events.
type Kind string

const (
	KindCreated   Kind = "created"
	KindUpdated   Kind = "updated"
	KindClaimed   Kind = "claimed"
	KindUnclaimed Kind = "unclaimed"
	KindClosed    Kind = "closed"
	KindReopened  Kind = "reopened"
	KindNoted     Kind = "noted"
)

// AllKinds lists every event kind.
var AllKinds = []Kind{KindCreated, KindUpdated, KindClaimed, KindUnclaimed, KindClosed, KindReopened, KindNoted}

var kindsByAction = map[domain.ActionKind]Kind{
	domain.ActionCreate:  KindCreated,
	domain.ActionEdit:    KindUpdated,
	domain.ActionClaim:   KindClaimed,
	domain.ActionUnclaim: KindUnclaimed,
	domain.ActionClose:   KindClosed,
	domain.ActionReopen:  KindReopened,
	domain.ActionNote:    KindNoted,
}

// KindForAction maps a committed action to the event it produces.
func KindForAction(kind domain.ActionKind) (Kind, bool) {
	k, ok := kindsByAction[kind]
	return k, ok
}

// LifecycleEvent reports one committed ticket mutation. Ticket is the snapshot right
// after Action was applied.
type LifecycleEvent struct {
	ID        uuid.UUID     `json:"id"`
	Kind      Kind          `json:"kind"`
	Ticket    domain.Ticket `json:"ticket"`
	Action    domain.Action `json:"action"`
	Actor     uuid.UUID     `json:"actor"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewLifecycleEvent builds the event for action applied to ticket.
func NewLifecycleEvent(ticket domain.Ticket, action domain.Action) (LifecycleEvent, bool) {
	kind, ok := KindForAction(action.Kind)
	if !ok {
		return LifecycleEvent{}, false
	}
	return LifecycleEvent{
		ID:        uuid.New(),
		Kind:      kind,
		Ticket:    ticket,
		Action:    action,
		Actor:     action.Actor,
		Timestamp: action.At,
	}, true
}
