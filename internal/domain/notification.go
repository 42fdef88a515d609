package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RecipientKind separates people from machine sinks.
type RecipientKind string

const (
	RecipientUser        RecipientKind = "user"
	RecipientIntegration RecipientKind = "integration"
)

// Recipient addresses one notification target.
type Recipient struct {
	Kind RecipientKind
	ID   string
}

// UserRecipient addresses a user by id.
func UserRecipient(id uuid.UUID) Recipient {
	return Recipient{Kind: RecipientUser, ID: id.String()}
}

// IntegrationRecipient addresses a named integration sink.
func IntegrationRecipient(name string) Recipient {
	return Recipient{Kind: RecipientIntegration, ID: name}
}

func (r Recipient) String() string {
	return string(r.Kind) + ":" + r.ID
}

// UserID returns the user id for user recipients.
func (r Recipient) UserID() (uuid.UUID, bool) {
	if r.Kind != RecipientUser {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(r.ID)
	return id, err == nil
}

// ParseRecipient is the inverse of Recipient.String.
func ParseRecipient(s string) (Recipient, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Recipient{}, fmt.Errorf("malformed recipient %q", s)
	}
	switch RecipientKind(kind) {
	case RecipientUser:
		if _, err := uuid.Parse(id); err != nil {
			return Recipient{}, fmt.Errorf("malformed user recipient %q: %w", s, err)
		}
	case RecipientIntegration:
	default:
		return Recipient{}, fmt.Errorf("unknown recipient kind %q", kind)
	}
	return Recipient{Kind: RecipientKind(kind), ID: id}, nil
}

// PendingNotification is a queued notice for a recipient that could not be reached.
type PendingNotification struct {
	ID        uuid.UUID
	Recipient Recipient
	TicketID  int64
	Payload   []byte
	CreatedAt time.Time
	Attempts  int
}

// UserSettings holds per-user preferences.
type UserSettings struct {
	UserID        uuid.UUID
	Announcements bool
}
