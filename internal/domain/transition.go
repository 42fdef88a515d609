package domain

import "fmt"

// TransitionError describes an action that is not legal for the current status.
type TransitionError struct {
	Current   Status
	Attempted ActionKind
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a ticket that is %s", e.Attempted, e.Current)
}

// Details returns the error's fields for API error payloads.
func (e *TransitionError) Details() map[string]any {
	return map[string]any{"current": string(e.Current), "attempted": string(e.Attempted)}
}

var transitions = map[Status]map[ActionKind]Status{
	StatusOpen: {
		ActionClaim: StatusClaimed,
		ActionClose: StatusClosed,
		ActionEdit:  StatusOpen,
		ActionNote:  StatusOpen,
	},
	StatusClaimed: {
		ActionUnclaim: StatusOpen,
		ActionClose:   StatusClosed,
		ActionEdit:    StatusClaimed,
		ActionNote:    StatusClaimed,
	},
	StatusClosed: {
		ActionReopen: StatusOpen,
		ActionNote:   StatusClosed,
	},
}

// Transition returns the status reached by applying kind to current.
func Transition(current Status, kind ActionKind) (Status, error) {
	if next, ok := transitions[current][kind]; ok {
		return next, nil
	}
	return current, &TransitionError{Current: current, Attempted: kind}
}

// ChangesStatus reports whether kind can move a ticket to a different status.
func ChangesStatus(kind ActionKind) bool {
	switch kind {
	case ActionClaim, ActionUnclaim, ActionClose, ActionReopen:
		return true
	}
	return false
}
