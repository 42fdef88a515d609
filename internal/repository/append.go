package repository

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/hgschmie/broccolai-tickets/internal/domain"
	apperrors "github.com/hgschmie/broccolai-tickets/pkg/util/errorutil"
)

// storedState is what a write transaction reads about a ticket before appending.
type storedState struct {
	status  domain.Status
	claimer *uuid.UUID
	lastSeq int
}

type appendPlan struct {
	action  domain.Action
	status  domain.Status
	claimer *uuid.UUID
}

// planAppend checks action against the row locked by the enclosing transaction.
// A caller-assigned Seq that does not directly follow the stored log means another
// writer got in between, which is reported as a lost concurrent modification.
func planAppend(state storedState, action domain.Action) (appendPlan, error) {
	if action.Kind == domain.ActionCreate || !action.Kind.Valid() {
		return appendPlan{}, apperrors.NewInvalidTransition(&domain.TransitionError{Current: state.status, Attempted: action.Kind})
	}
	next, err := domain.Transition(state.status, action.Kind)
	if err != nil {
		return appendPlan{}, apperrors.NewInvalidTransition(err)
	}
	seq := state.lastSeq + 1
	if action.Seq != 0 && action.Seq != seq {
		return appendPlan{}, apperrors.NewConcurrentModificationLost(action.TicketID,
			fmt.Errorf("action seq %d does not follow stored seq %d", action.Seq, state.lastSeq))
	}
	action.Seq = seq
	return appendPlan{
		action:  action,
		status:  next,
		claimer: domain.NextClaimer(state.claimer, action),
	}, nil
}

func validateInitial(initial domain.Action) error {
	if initial.Kind != domain.ActionCreate {
		return apperrors.NewValidationError("initial action must be CREATE", map[string]any{"kind": string(initial.Kind)})
	}
	return nil
}

// attachActions distributes actions, ordered by ticket and seq, onto their tickets.
func attachActions(tickets []domain.Ticket, actions []domain.Action) {
	index := make(map[int64]int, len(tickets))
	for i := range tickets {
		index[tickets[i].ID] = i
	}
	for _, action := range actions {
		if i, ok := index[action.TicketID]; ok {
			tickets[i].Actions = append(tickets[i].Actions, action)
		}
	}
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
