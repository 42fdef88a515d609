package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hgschmie/broccolai-tickets/internal/cache"
	"github.com/hgschmie/broccolai-tickets/internal/domain"
	"github.com/hgschmie/broccolai-tickets/internal/events"
	"github.com/hgschmie/broccolai-tickets/internal/lock"
	"github.com/hgschmie/broccolai-tickets/internal/observability"
	"github.com/hgschmie/broccolai-tickets/internal/repository"
	apperrors "github.com/hgschmie/broccolai-tickets/pkg/util/errorutil"
)

// ModificationService is the only writer of tickets. Mutations of one ticket are
// serialized through a keyed lock; different tickets proceed in parallel.
type ModificationService struct {
	tickets        repository.TicketRepository
	cache          *cache.TicketCache
	locks          lock.Locker
	dispatcher     events.Dispatcher
	storageTimeout time.Duration
	lockTimeout    time.Duration
	reloadOnWrite  bool
	logger         *zap.Logger
	metrics        *observability.Metrics
}

// ModificationDependencies bundles collaborators for the modification service.
type ModificationDependencies struct {
	TicketRepo     repository.TicketRepository
	Cache          *cache.TicketCache
	Locks          lock.Locker
	Dispatcher     events.Dispatcher
	StorageTimeout time.Duration
	LockTimeout    time.Duration
	// ReloadOnWrite reads the ticket from storage instead of the cache before every
	// mutation. Needed when several processes write to the same database.
	ReloadOnWrite bool
	Logger        *zap.Logger
	Metrics       *observability.Metrics
}

// Result is a committed snapshot together with the action that produced it.
type Result struct {
	Ticket domain.Ticket
	Action domain.Action
}

// NewModificationService constructs the service.
func NewModificationService(deps ModificationDependencies) *ModificationService {
	locks := deps.Locks
	if locks == nil {
		locks = lock.NewKeyedMutex()
	}
	return &ModificationService{
		tickets:        deps.TicketRepo,
		cache:          deps.Cache,
		locks:          locks,
		dispatcher:     deps.Dispatcher,
		storageTimeout: deps.StorageTimeout,
		lockTimeout:    deps.LockTimeout,
		reloadOnWrite:  deps.ReloadOnWrite,
		logger:         observability.OrNop(deps.Logger),
		metrics:        deps.Metrics,
	}
}

// Create opens a new ticket owned by actor.
func (s *ModificationService) Create(ctx context.Context, actor uuid.UUID, message string, ticketContext domain.Context) (Result, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Result{}, apperrors.NewValidationError("message is required", nil)
	}

	action := domain.NewAction(domain.ActionCreate, actor, message)
	action.Seq = 1

	sctx, cancel := withTimeout(ctx, s.storageTimeout)
	id, err := s.tickets.Create(sctx, actor, ticketContext, action)
	cancel()
	if err != nil {
		s.metrics.RecordTransition(string(action.Kind), observability.OutcomeFailed)
		return Result{}, storageFailure(err)
	}

	action.TicketID = id
	ticket := domain.Ticket{
		ID:        id,
		Owner:     actor,
		Status:    domain.StatusOpen,
		Context:   ticketContext.Clone(),
		Actions:   []domain.Action{action},
		CreatedAt: action.At,
	}
	s.cache.Put(ticket)
	s.publish(ctx, ticket, action)
	s.metrics.RecordTransition(string(action.Kind), observability.OutcomeCommitted)

	s.logger.Info("ticket created", zap.Int64("ticket_id", id), zap.String("owner", actor.String()))
	return Result{Ticket: ticket, Action: action}, nil
}

// Update replaces the ticket's message.
func (s *ModificationService) Update(ctx context.Context, actor uuid.UUID, id int64, message string) (Result, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Result{}, apperrors.NewValidationError("message is required", nil)
	}
	return s.mutate(ctx, id, domain.NewAction(domain.ActionEdit, actor, message))
}

// Claim assigns the ticket to actor.
func (s *ModificationService) Claim(ctx context.Context, actor uuid.UUID, id int64) (Result, error) {
	return s.mutate(ctx, id, domain.NewAction(domain.ActionClaim, actor, ""))
}

// Unclaim hands a claimed ticket back to the open pool.
func (s *ModificationService) Unclaim(ctx context.Context, actor uuid.UUID, id int64) (Result, error) {
	return s.mutate(ctx, id, domain.NewAction(domain.ActionUnclaim, actor, ""))
}

// Close closes an open or claimed ticket.
func (s *ModificationService) Close(ctx context.Context, actor uuid.UUID, id int64) (Result, error) {
	return s.mutate(ctx, id, domain.NewAction(domain.ActionClose, actor, ""))
}

// Reopen moves a closed ticket back to OPEN.
func (s *ModificationService) Reopen(ctx context.Context, actor uuid.UUID, id int64) (Result, error) {
	return s.mutate(ctx, id, domain.NewAction(domain.ActionReopen, actor, ""))
}

// Note attaches staff notes to a ticket without changing its status. All messages are
// written in one batch; the returned Action is the last note.
func (s *ModificationService) Note(ctx context.Context, actor uuid.UUID, id int64, messages ...string) (Result, error) {
	var actions []domain.Action
	for _, message := range messages {
		if message = strings.TrimSpace(message); message != "" {
			actions = append(actions, domain.NewAction(domain.ActionNote, actor, message))
		}
	}
	if len(actions) == 0 {
		return Result{}, apperrors.NewValidationError("at least one note is required", nil)
	}

	release, err := s.acquire(ctx, id)
	if err != nil {
		return Result{}, err
	}
	defer release()

	ticket, err := s.current(ctx, id)
	if err != nil {
		return Result{}, err
	}
	next := ticket
	for i := range actions {
		if next, err = next.Apply(actions[i]); err != nil {
			s.metrics.RecordTransition(string(domain.ActionNote), observability.OutcomeRejected)
			return Result{}, apperrors.NewInvalidTransition(err)
		}
		actions[i] = next.Actions[len(next.Actions)-1]
	}

	sctx, cancel := withTimeout(ctx, s.storageTimeout)
	err = s.tickets.SaveActions(sctx, actions)
	cancel()
	if err != nil {
		return Result{}, s.writeFailure(id, domain.ActionNote, err)
	}

	s.cache.Put(next)
	for i := range actions {
		s.publish(ctx, next, actions[i])
	}
	s.metrics.RecordTransition(string(domain.ActionNote), observability.OutcomeCommitted)
	return Result{Ticket: next, Action: actions[len(actions)-1]}, nil
}

func (s *ModificationService) mutate(ctx context.Context, id int64, action domain.Action) (Result, error) {
	release, err := s.acquire(ctx, id)
	if err != nil {
		return Result{}, err
	}
	defer release()

	ticket, err := s.current(ctx, id)
	if err != nil {
		return Result{}, err
	}

	next, err := ticket.Apply(action)
	if err != nil {
		s.metrics.RecordTransition(string(action.Kind), observability.OutcomeRejected)
		return Result{}, apperrors.NewInvalidTransition(err)
	}
	action = next.Actions[len(next.Actions)-1]

	sctx, cancel := withTimeout(ctx, s.storageTimeout)
	err = s.tickets.AppendAction(sctx, id, action)
	cancel()
	if err != nil {
		return Result{}, s.writeFailure(id, action.Kind, err)
	}

	s.cache.Put(next)
	s.publish(ctx, next, action)
	s.metrics.RecordTransition(string(action.Kind), observability.OutcomeCommitted)

	s.logger.Debug("ticket modified",
		zap.Int64("ticket_id", id),
		zap.String("kind", string(action.Kind)),
		zap.String("status", string(next.Status)),
		zap.Int("seq", action.Seq))
	return Result{Ticket: next, Action: action}, nil
}

func (s *ModificationService) acquire(ctx context.Context, id int64) (func(), error) {
	lctx, cancel := withTimeout(ctx, s.lockTimeout)
	defer cancel()
	release, err := s.locks.Acquire(lctx, ticketKey(id))
	if err != nil {
		return nil, apperrors.NewConcurrentModificationLost(id, err)
	}
	return release, nil
}

// current re-reads the ticket under the lock so that decisions never rest on a copy
// the caller brought along.
func (s *ModificationService) current(ctx context.Context, id int64) (domain.Ticket, error) {
	sctx, cancel := withTimeout(ctx, s.storageTimeout)
	defer cancel()
	var (
		ticket domain.Ticket
		err    error
	)
	if s.reloadOnWrite {
		ticket, err = s.cache.Reload(sctx, id)
	} else {
		ticket, err = s.cache.Get(sctx, id)
	}
	if err != nil {
		return domain.Ticket{}, storageFailure(err)
	}
	return ticket, nil
}

// writeFailure maps a failed append. The outcome of a failed write is unknown, so the
// cached copy is dropped and the next read goes to storage.
func (s *ModificationService) writeFailure(id int64, kind domain.ActionKind, err error) error {
	s.cache.Invalidate(id)
	s.metrics.RecordTransition(string(kind), observability.OutcomeFailed)

	switch {
	case apperrors.HasCode(err, apperrors.CodeTicketNotFound),
		apperrors.HasCode(err, apperrors.CodeConcurrentModificationLost):
		return err
	case apperrors.HasCode(err, apperrors.CodeInvalidTransition):
		// Storage disagrees with what was read under the lock: another process wrote.
		return apperrors.NewConcurrentModificationLost(id, err)
	default:
		s.logger.Warn("append failed", zap.Int64("ticket_id", id), zap.String("kind", string(kind)), zap.Error(err))
		return storageFailure(err)
	}
}

func (s *ModificationService) publish(ctx context.Context, ticket domain.Ticket, action domain.Action) {
	if s.dispatcher == nil {
		return
	}
	event, ok := events.NewLifecycleEvent(ticket.Clone(), action)
	if !ok {
		return
	}
	if err := s.dispatcher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("publish failed", zap.Int64("ticket_id", ticket.ID), zap.String("kind", string(event.Kind)), zap.Error(err))
	}
}
