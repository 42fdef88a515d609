package dto

import (
	"time"
)

// PositionPayload is the location a ticket was raised at.
type PositionPayload struct {
	World string  `json:"world"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Message  string            `json:"message"`
	Context  map[string]string `json:"context"`
	Position *PositionPayload  `json:"position"`
}

// UpdateTicketRequest payload.
type UpdateTicketRequest struct {
	Message string `json:"message"`
}

// NotesRequest carries one or more staff notes.
type NotesRequest struct {
	Messages []string `json:"messages"`
}

// TicketResponse is the public view of a ticket.
type TicketResponse struct {
	ID           int64             `json:"id"`
	Owner        string            `json:"owner"`
	Status       string            `json:"status"`
	Claimer      *string           `json:"claimer"`
	Message      string            `json:"message"`
	Context      map[string]string `json:"context,omitempty"`
	Position     *PositionPayload  `json:"position,omitempty"`
	Version      int               `json:"version"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
}

// ActionResponse is one audit log entry.
type ActionResponse struct {
	Seq     int       `json:"seq"`
	Kind    string    `json:"kind"`
	Actor   string    `json:"actor"`
	At      time.Time `json:"at"`
	Message string    `json:"message,omitempty"`
	Claimer string    `json:"claimer,omitempty"`
}

// MutationResponse returns the committed snapshot and the action that produced it.
type MutationResponse struct {
	Ticket TicketResponse `json:"ticket"`
	Action ActionResponse `json:"action"`
}

// ScoreResponse is one highscore row.
type ScoreResponse struct {
	Claimer string `json:"claimer"`
	Closed  int    `json:"closed"`
}

// ConnectResponse reports how many queued notices were delivered on connect.
type ConnectResponse struct {
	Delivered int `json:"delivered"`
}

// SettingsRequest payload.
type SettingsRequest struct {
	Announcements *bool `json:"announcements"`
}

// SettingsResponse view.
type SettingsResponse struct {
	Announcements bool `json:"announcements"`
}
