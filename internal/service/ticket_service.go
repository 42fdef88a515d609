package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hgschmie/broccolai-tickets/internal/cache"
	"github.com/hgschmie/broccolai-tickets/internal/domain"
	"github.com/hgschmie/broccolai-tickets/internal/repository"
	apperrors "github.com/hgschmie/broccolai-tickets/pkg/util/errorutil"
)

// TicketService answers read-only ticket queries. Single-ticket and per-owner lookups go
// through the cache; aggregate queries go to storage.
type TicketService struct {
	tickets        repository.TicketRepository
	cache          *cache.TicketCache
	storageTimeout time.Duration
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo     repository.TicketRepository
	Cache          *cache.TicketCache
	StorageTimeout time.Duration
}

// Score is one row of the highscore table.
type Score struct {
	Claimer uuid.UUID
	Closed  int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	return &TicketService{
		tickets:        deps.TicketRepo,
		cache:          deps.Cache,
		storageTimeout: deps.StorageTimeout,
	}
}

// Get returns a single ticket.
func (s *TicketService) Get(ctx context.Context, id int64) (domain.Ticket, error) {
	ctx, cancel := withTimeout(ctx, s.storageTimeout)
	defer cancel()
	ticket, err := s.cache.Get(ctx, id)
	return ticket, storageFailure(err)
}

// GetMany returns the known tickets among ids. Unknown ids are absent from the result.
func (s *TicketService) GetMany(ctx context.Context, ids []int64) (map[int64]domain.Ticket, error) {
	ctx, cancel := withTimeout(ctx, s.storageTimeout)
	defer cancel()
	tickets, err := s.cache.GetMany(ctx, ids)
	if err != nil {
		return nil, storageFailure(err)
	}
	return tickets, nil
}

// ListByOwner returns the owner's tickets in any of statuses, ordered by id. An empty
// status list means all statuses.
func (s *TicketService) ListByOwner(ctx context.Context, owner uuid.UUID, statuses []domain.Status) ([]domain.Ticket, error) {
	if len(statuses) == 0 {
		statuses = domain.AllStatuses
	}
	ctx, cancel := withTimeout(ctx, s.storageTimeout)
	defer cancel()
	tickets, err := s.cache.ByOwner(ctx, owner, statuses)
	if err != nil {
		return nil, storageFailure(err)
	}
	return sortedTickets(tickets), nil
}

// LatestByOwner returns the owner's most recently created ticket in any of statuses.
func (s *TicketService) LatestByOwner(ctx context.Context, owner uuid.UUID, statuses []domain.Status) (domain.Ticket, error) {
	tickets, err := s.ListByOwner(ctx, owner, statuses)
	if err != nil {
		return domain.Ticket{}, err
	}
	if len(tickets) == 0 {
		return domain.Ticket{}, apperrors.NewNotFound("ticket", map[string]any{"owner": owner.String()})
	}
	return tickets[len(tickets)-1], nil
}

// ListByStatus returns up to limit tickets in any of statuses, oldest first.
func (s *TicketService) ListByStatus(ctx context.Context, statuses []domain.Status, limit int) ([]domain.Ticket, error) {
	if len(statuses) == 0 {
		statuses = domain.ActiveStatuses
	}
	ctx, cancel := withTimeout(ctx, s.storageTimeout)
	defer cancel()
	tickets, err := s.tickets.QueryByStatus(ctx, statuses, limit)
	if err != nil {
		return nil, storageFailure(err)
	}
	return tickets, nil
}

// Count returns how many tickets are in any of statuses. An empty list counts all.
func (s *TicketService) Count(ctx context.Context, statuses []domain.Status) (int, error) {
	ctx, cancel := withTimeout(ctx, s.storageTimeout)
	defer cancel()
	n, err := s.tickets.CountByStatus(ctx, statuses)
	return n, storageFailure(err)
}

// StatsByOwner counts tickets per status, for one owner or for everyone when owner is nil.
func (s *TicketService) StatsByOwner(ctx context.Context, owner *uuid.UUID) (map[domain.Status]int, error) {
	ctx, cancel := withTimeout(ctx, s.storageTimeout)
	defer cancel()
	stats, err := s.tickets.StatsByOwner(ctx, owner)
	if err != nil {
		return nil, storageFailure(err)
	}
	if stats == nil {
		stats = make(map[domain.Status]int, len(domain.AllStatuses))
	}
	for _, status := range domain.AllStatuses {
		if _, ok := stats[status]; !ok {
			stats[status] = 0
		}
	}
	return stats, nil
}

// Highscores ranks claimers by closed tickets with activity within span.
func (s *TicketService) Highscores(ctx context.Context, span time.Duration) ([]Score, error) {
	if span <= 0 {
		return nil, apperrors.NewValidationError("span must be positive", map[string]any{"span": span.String()})
	}
	ctx, cancel := withTimeout(ctx, s.storageTimeout)
	defer cancel()
	counts, err := s.tickets.Highscores(ctx, time.Now().UTC().Add(-span))
	if err != nil {
		return nil, storageFailure(err)
	}

	scores := make([]Score, 0, len(counts))
	for claimer, closed := range counts {
		scores = append(scores, Score{Claimer: claimer, Closed: closed})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Closed != scores[j].Closed {
			return scores[i].Closed > scores[j].Closed
		}
		return scores[i].Claimer.String() < scores[j].Claimer.String()
	})
	return scores, nil
}

// Log returns the ticket's actions in sequence order.
func (s *TicketService) Log(ctx context.Context, id int64) ([]domain.Action, error) {
	ticket, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return ticket.Actions, nil
}

func sortedTickets(tickets map[int64]domain.Ticket) []domain.Ticket {
	out := make([]domain.Ticket, 0, len(tickets))
	for _, ticket := range tickets {
		out = append(out, ticket)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
