package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hgschmie/broccolai-tickets/internal/codec"
	"github.com/hgschmie/broccolai-tickets/internal/domain"
	"github.com/hgschmie/broccolai-tickets/internal/events"
	"github.com/hgschmie/broccolai-tickets/internal/lock"
	"github.com/hgschmie/broccolai-tickets/internal/observability"
	"github.com/hgschmie/broccolai-tickets/internal/presence"
	"github.com/hgschmie/broccolai-tickets/internal/repository"
)

const fanOutLimit = 8

// NotificationService turns lifecycle events into notices. Reachable recipients get
// them immediately; everyone else gets a pending entry that is flushed when they
// reconnect. Delivery is at-least-once.
type NotificationService struct {
	pending     repository.NotificationRepository
	settings    repository.SettingsRepository
	presence    presence.Tracker
	deliverer   Deliverer
	sink        Deliverer
	sinkName    string
	renderer    Renderer
	dispatcher  events.Dispatcher
	locks       lock.Locker
	consoleUser uuid.UUID
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// NotificationDependencies bundles collaborators for the notification service.
type NotificationDependencies struct {
	PendingRepo  repository.NotificationRepository
	SettingsRepo repository.SettingsRepository
	Presence     presence.Tracker
	// Deliverer reaches connected users.
	Deliverer Deliverer
	// Sink is the optional external integration. SinkName addresses its queue.
	Sink        Deliverer
	SinkName    string
	Renderer    Renderer
	Dispatcher  events.Dispatcher
	Locks       lock.Locker
	ConsoleUser uuid.UUID
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

type target struct {
	recipient domain.Recipient
	role      Role
	// queue is false for broadcast targets whose notices are not worth keeping.
	queue bool
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	logger := observability.OrNop(deps.Logger)
	svc := &NotificationService{
		pending:     deps.PendingRepo,
		settings:    deps.SettingsRepo,
		presence:    deps.Presence,
		deliverer:   deps.Deliverer,
		sink:        deps.Sink,
		sinkName:    deps.SinkName,
		renderer:    deps.Renderer,
		dispatcher:  deps.Dispatcher,
		locks:       deps.Locks,
		consoleUser: deps.ConsoleUser,
		logger:      logger,
		metrics:     deps.Metrics,
	}
	if svc.deliverer == nil {
		svc.deliverer = LogDeliverer{Logger: logger}
	}
	if svc.renderer == nil {
		svc.renderer = TextRenderer{}
	}
	if svc.locks == nil {
		svc.locks = lock.NewKeyedMutex()
	}
	if svc.sinkName == "" {
		svc.sinkName = "webhook"
	}
	return svc
}

// RegisterHandlers subscribes to every lifecycle event.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, kind := range events.AllKinds {
		n.dispatcher.Subscribe(kind, n.Handle)
	}
}

// Handle notifies every target of event. Failures are absorbed: a notice that cannot
// be delivered is queued, and one that cannot be queued is logged.
func (n *NotificationService) Handle(ctx context.Context, event events.LifecycleEvent) error {
	targets := n.targets(ctx, event)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for _, t := range targets {
		g.Go(func() error {
			n.notify(gctx, event, t)
			return nil
		})
	}
	return g.Wait()
}

// targets lists who hears about event. The actor is never told about their own action.
func (n *NotificationService) targets(ctx context.Context, event events.LifecycleEvent) []target {
	seen := map[uuid.UUID]bool{event.Actor: true}
	var out []target
	addUser := func(id uuid.UUID, role Role, queue bool) {
		if id == uuid.Nil || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, target{recipient: domain.UserRecipient(id), role: role, queue: queue})
	}

	addUser(event.Ticket.Owner, RoleCreator, true)
	if event.Ticket.Claimer != nil {
		addUser(*event.Ticket.Claimer, RoleClaimer, true)
	}

	if n.presence != nil {
		staff, err := n.presence.OnlineStaff(ctx)
		if err != nil {
			n.logger.Warn("list online staff", zap.Error(err))
		}
		for _, id := range staff {
			if seen[id] || !n.wantsAnnouncements(ctx, id) {
				continue
			}
			addUser(id, RoleStaff, false)
		}
	}

	if n.sink != nil {
		out = append(out, target{recipient: domain.IntegrationRecipient(n.sinkName), role: RoleIntegration, queue: true})
	}
	return out
}

func (n *NotificationService) wantsAnnouncements(ctx context.Context, user uuid.UUID) bool {
	if n.settings == nil {
		return true
	}
	settings, err := n.settings.Get(ctx, user)
	if err != nil {
		n.logger.Warn("load settings", zap.String("user", user.String()), zap.Error(err))
		return true
	}
	return settings.Announcements
}

func (n *NotificationService) notify(ctx context.Context, event events.LifecycleEvent, t target) {
	notice, err := n.renderer.Render(event, t.role)
	if err != nil {
		n.logger.Error("render notice", zap.String("kind", string(event.Kind)), zap.Error(err))
		return
	}

	if n.isConsole(t.recipient) {
		if err := n.deliverer.Deliver(ctx, t.recipient, notice); err != nil {
			n.logger.Warn("console delivery failed", zap.Error(err))
		}
		return
	}

	// Held across the reachability check and the enqueue so a concurrent Connect
	// either sees the queued notice or was already reachable.
	release, err := n.locks.Acquire(ctx, queueLockKey(t.recipient))
	if err != nil {
		n.logger.Warn("queue lock unavailable",
			zap.String("recipient", t.recipient.String()),
			zap.Error(err))
		release = func() {}
	}
	defer release()

	if n.reachable(ctx, t.recipient) {
		err := n.deliverTo(ctx, t.recipient, notice)
		if err == nil {
			n.metrics.RecordNotification(observability.OutcomeDelivered)
			return
		}
		n.logger.Warn("delivery failed",
			zap.String("recipient", t.recipient.String()),
			zap.Int64("ticket_id", notice.TicketID),
			zap.Error(err))
	}

	if !t.queue {
		return
	}
	if err := n.enqueue(ctx, t.recipient, notice); err != nil {
		n.logger.Error("queue notice",
			zap.String("recipient", t.recipient.String()),
			zap.Int64("ticket_id", notice.TicketID),
			zap.Error(err))
	}
}

func (n *NotificationService) reachable(ctx context.Context, recipient domain.Recipient) bool {
	user, ok := recipient.UserID()
	if !ok {
		// Integrations are always tried; a failure queues the notice.
		return true
	}
	if n.presence == nil {
		return false
	}
	online, err := n.presence.IsReachable(ctx, user)
	if err != nil {
		n.logger.Warn("presence lookup failed", zap.String("user", user.String()), zap.Error(err))
		return false
	}
	return online
}

func (n *NotificationService) deliverTo(ctx context.Context, recipient domain.Recipient, notice Notice) error {
	if recipient.Kind == domain.RecipientIntegration {
		if n.sink == nil {
			return fmt.Errorf("no sink for %s", recipient)
		}
		return n.sink.Deliver(ctx, recipient, notice)
	}
	return n.deliverer.Deliver(ctx, recipient, notice)
}

func (n *NotificationService) enqueue(ctx context.Context, recipient domain.Recipient, notice Notice) error {
	if n.pending == nil {
		return fmt.Errorf("no pending queue configured")
	}
	payload, err := codec.Marshal(notice)
	if err != nil {
		return err
	}
	err = n.pending.Enqueue(ctx, domain.PendingNotification{
		ID:        uuid.New(),
		Recipient: recipient,
		TicketID:  notice.TicketID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	n.metrics.RecordNotification(observability.OutcomeQueued)
	return nil
}

func queueLockKey(recipient domain.Recipient) string {
	return "notify:" + recipient.String()
}

func (n *NotificationService) isConsole(recipient domain.Recipient) bool {
	user, ok := recipient.UserID()
	return ok && user == n.consoleUser
}

// Connect marks user reachable and flushes their pending notices.
func (n *NotificationService) Connect(ctx context.Context, user uuid.UUID, staff bool) (int, error) {
	if n.presence != nil {
		if err := n.presence.SetOnline(ctx, user, staff); err != nil {
			return 0, storageFailure(err)
		}
	}
	return n.Flush(ctx, domain.UserRecipient(user))
}

// Disconnect marks user unreachable. Later notices are queued.
func (n *NotificationService) Disconnect(ctx context.Context, user uuid.UUID) error {
	if n.presence == nil {
		return nil
	}
	return storageFailure(n.presence.SetOffline(ctx, user))
}

// Flush delivers the recipient's queued notices oldest first and deletes each one after
// it was delivered. The first delivery failure stops the flush and is counted against
// that notice. It returns how many notices were delivered.
func (n *NotificationService) Flush(ctx context.Context, recipient domain.Recipient) (int, error) {
	if n.pending == nil {
		return 0, nil
	}
	release, err := n.locks.Acquire(ctx, queueLockKey(recipient))
	if err != nil {
		return 0, err
	}
	defer release()

	queued, err := n.pending.ListByRecipient(ctx, recipient)
	if err != nil {
		return 0, storageFailure(err)
	}

	delivered := 0
	for _, pending := range queued {
		var notice Notice
		if err := codec.Unmarshal(pending.Payload, &notice); err != nil {
			n.logger.Error("dropping unreadable notice", zap.String("id", pending.ID.String()), zap.Error(err))
			if err := n.pending.Delete(ctx, pending.ID); err != nil {
				return delivered, storageFailure(err)
			}
			continue
		}

		if err := n.deliverTo(ctx, recipient, notice); err != nil {
			n.logger.Warn("flush stopped",
				zap.String("recipient", recipient.String()),
				zap.Int("attempts", pending.Attempts+1),
				zap.Error(err))
			if err := n.pending.IncrementAttempts(ctx, pending.ID); err != nil {
				n.logger.Warn("increment attempts", zap.String("id", pending.ID.String()), zap.Error(err))
			}
			n.metrics.RecordNotification(observability.OutcomeFailed)
			return delivered, nil
		}

		if err := n.pending.Delete(ctx, pending.ID); err != nil {
			return delivered, storageFailure(err)
		}
		delivered++
		n.metrics.RecordNotification(observability.OutcomeFlushed)
	}
	return delivered, nil
}

// RetryIntegrations flushes every integration queue.
func (n *NotificationService) RetryIntegrations(ctx context.Context) error {
	if n.pending == nil || n.sink == nil {
		return nil
	}
	recipients, err := n.pending.Recipients(ctx, domain.RecipientIntegration)
	if err != nil {
		return storageFailure(err)
	}

	var firstErr error
	for _, recipient := range recipients {
		if _, err := n.Flush(ctx, recipient); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
