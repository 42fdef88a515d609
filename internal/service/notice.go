package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hgschmie/broccolai-tickets/internal/domain"
	"github.com/hgschmie/broccolai-tickets/internal/events"
)

// Role describes why a recipient is told about an event.
type Role string

const (
	RoleCreator     Role = "creator"
	RoleClaimer     Role = "claimer"
	RoleStaff       Role = "staff"
	RoleIntegration Role = "integration"
)

// Notice is the rendered payload handed to a recipient. It is also what gets queued,
// so it carries everything needed to deliver later.
type Notice struct {
	EventID  uuid.UUID     `json:"event_id" cbor:"event_id"`
	Kind     events.Kind   `json:"kind" cbor:"kind"`
	Role     Role          `json:"role" cbor:"role"`
	TicketID int64         `json:"ticket_id" cbor:"ticket_id"`
	Status   domain.Status `json:"status" cbor:"status"`
	Owner    uuid.UUID     `json:"owner" cbor:"owner"`
	Actor    uuid.UUID     `json:"actor" cbor:"actor"`
	Message  string        `json:"message,omitempty" cbor:"message,omitempty"`
	At       time.Time     `json:"at" cbor:"at"`
	Text     string        `json:"text" cbor:"text"`
}

// Renderer turns an event into the notice a recipient with the given role sees.
type Renderer interface {
	Render(event events.LifecycleEvent, role Role) (Notice, error)
}

// Deliverer hands a notice to a reachable recipient.
type Deliverer interface {
	Deliver(ctx context.Context, recipient domain.Recipient, notice Notice) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, recipient domain.Recipient, notice Notice) error

func (f DelivererFunc) Deliver(ctx context.Context, recipient domain.Recipient, notice Notice) error {
	return f(ctx, recipient, notice)
}

// TextRenderer produces short plain-text notices.
type TextRenderer struct{}

var verbs = map[events.Kind]string{
	events.KindCreated:   "opened",
	events.KindUpdated:   "updated",
	events.KindClaimed:   "claimed",
	events.KindUnclaimed: "unclaimed",
	events.KindClosed:    "closed",
	events.KindReopened:  "reopened",
	events.KindNoted:     "annotated",
}

func (TextRenderer) Render(event events.LifecycleEvent, role Role) (Notice, error) {
	verb, ok := verbs[event.Kind]
	if !ok {
		return Notice{}, fmt.Errorf("no rendering for event kind %q", event.Kind)
	}

	subject := fmt.Sprintf("Ticket #%d", event.Ticket.ID)
	if role == RoleCreator {
		subject = fmt.Sprintf("Your ticket #%d", event.Ticket.ID)
	}
	text := fmt.Sprintf("%s was %s by %s", subject, verb, event.Actor)

	message := event.Action.Message
	if message == "" && event.Kind != events.KindNoted {
		message = event.Ticket.Message()
	}
	if message != "" {
		text += ": " + message
	}

	return Notice{
		EventID:  event.ID,
		Kind:     event.Kind,
		Role:     role,
		TicketID: event.Ticket.ID,
		Status:   event.Ticket.Status,
		Owner:    event.Ticket.Owner,
		Actor:    event.Actor,
		Message:  message,
		At:       event.Timestamp,
		Text:     text,
	}, nil
}

// LogDeliverer writes notices to the log. It serves in-process recipients such as the
// console user.
type LogDeliverer struct {
	Logger *zap.Logger
}

func (d LogDeliverer) Deliver(_ context.Context, recipient domain.Recipient, notice Notice) error {
	if d.Logger == nil {
		return nil
	}
	d.Logger.Info("notice",
		zap.String("recipient", recipient.String()),
		zap.String("kind", string(notice.Kind)),
		zap.Int64("ticket_id", notice.TicketID),
		zap.String("text", notice.Text))
	return nil
}

// WebhookSink posts notices as JSON to an external integration.
type WebhookSink struct {
	URL     string
	Timeout time.Duration
}

func (w WebhookSink) Deliver(_ context.Context, recipient domain.Recipient, notice Notice) error {
	agent := fiber.Post(w.URL).JSON(notice)
	if w.Timeout > 0 {
		agent = agent.Timeout(w.Timeout)
	}
	code, _, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("post notice to %s: %w", recipient, errs[0])
	}
	if code < fiber.StatusOK || code >= fiber.StatusMultipleChoices {
		return fmt.Errorf("post notice to %s: unexpected status %d", recipient, code)
	}
	return nil
}
