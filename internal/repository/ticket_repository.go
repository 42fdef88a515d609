package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hgschmie/broccolai-tickets/internal/domain"
	apperrors "github.com/hgschmie/broccolai-tickets/pkg/util/errorutil"
)

// TicketRepository is the storage port for tickets and their action log.
// Every write is atomic per ticket: an action and the status change it implies become
// visible together or not at all.
type TicketRepository interface {
	// Create allocates a new id and stores the ticket together with its CREATE action.
	Create(ctx context.Context, owner uuid.UUID, ticketContext domain.Context, initial domain.Action) (int64, error)
	// LoadMany returns the requested tickets. Unknown ids are absent from the result.
	LoadMany(ctx context.Context, ids []int64) (map[int64]domain.Ticket, error)
	QueryByOwner(ctx context.Context, owner uuid.UUID, statuses []domain.Status) (map[int64]domain.Ticket, error)
	// QueryByStatus lists tickets oldest first. limit <= 0 means no limit.
	QueryByStatus(ctx context.Context, statuses []domain.Status, limit int) ([]domain.Ticket, error)
	// CountByStatus counts tickets in any of statuses. An empty set counts every ticket.
	CountByStatus(ctx context.Context, statuses []domain.Status) (int, error)
	// AppendAction validates action against the stored status and appends it.
	AppendAction(ctx context.Context, ticketID int64, action domain.Action) error
	// SaveActions appends several actions in one transaction, all or nothing.
	SaveActions(ctx context.Context, actions []domain.Action) error
	// StatsByOwner counts tickets per status, for one owner or for everyone when owner is nil.
	StatsByOwner(ctx context.Context, owner *uuid.UUID) (map[domain.Status]int, error)
	// Highscores counts closed tickets per claimer among tickets closed at or after since.
	Highscores(ctx context.Context, since time.Time) (map[uuid.UUID]int, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates the PostgreSQL repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Create(ctx context.Context, owner uuid.UUID, ticketContext domain.Context, initial domain.Action) (int64, error) {
	if err := validateInitial(initial); err != nil {
		return 0, err
	}
	if ticketContext == nil {
		ticketContext = domain.Context{}
	}

	var id int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const query = `
        INSERT INTO tickets (owner_id, status, context, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $4)
        RETURNING id`
		if err := tx.QueryRow(ctx, query, owner, string(domain.StatusOpen), ticketContext, initial.At).Scan(&id); err != nil {
			return err
		}
		initial.TicketID = id
		initial.Seq = 1
		return insertPgAction(ctx, tx, initial)
	})
	if err != nil {
		return 0, fmt.Errorf("create ticket: %w", err)
	}
	return id, nil
}

func (r *ticketRepository) LoadMany(ctx context.Context, ids []int64) (map[int64]domain.Ticket, error) {
	result := make(map[int64]domain.Ticket, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	const query = `
        SELECT id, owner_id, status, claimer_id, context, created_at
        FROM tickets WHERE id = ANY($1)`
	tickets, err := r.snapshot(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("load tickets: %w", err)
	}
	for _, ticket := range tickets {
		result[ticket.ID] = ticket
	}
	return result, nil
}

func (r *ticketRepository) QueryByOwner(ctx context.Context, owner uuid.UUID, statuses []domain.Status) (map[int64]domain.Ticket, error) {
	const query = `
        SELECT id, owner_id, status, claimer_id, context, created_at
        FROM tickets WHERE owner_id = $1 AND status = ANY($2)`
	tickets, err := r.snapshot(ctx, query, owner, statusStrings(statuses))
	if err != nil {
		return nil, fmt.Errorf("query tickets by owner: %w", err)
	}
	result := make(map[int64]domain.Ticket, len(tickets))
	for _, ticket := range tickets {
		result[ticket.ID] = ticket
	}
	return result, nil
}

func (r *ticketRepository) QueryByStatus(ctx context.Context, statuses []domain.Status, limit int) ([]domain.Ticket, error) {
	query := `
        SELECT id, owner_id, status, claimer_id, context, created_at
        FROM tickets WHERE status = ANY($1) ORDER BY id`
	args := []any{statusStrings(statuses)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	tickets, err := r.snapshot(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tickets by status: %w", err)
	}
	return tickets, nil
}

func (r *ticketRepository) CountByStatus(ctx context.Context, statuses []domain.Status) (int, error) {
	var count int
	var err error
	if len(statuses) == 0 {
		err = r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets`).Scan(&count)
	} else {
		err = r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE status = ANY($1)`, statusStrings(statuses)).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count tickets: %w", err)
	}
	return count, nil
}

func (r *ticketRepository) AppendAction(ctx context.Context, ticketID int64, action domain.Action) error {
	action.TicketID = ticketID
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return appendPgAction(ctx, tx, action)
	})
}

func (r *ticketRepository) SaveActions(ctx context.Context, actions []domain.Action) error {
	if len(actions) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, action := range actions {
			if err := appendPgAction(ctx, tx, action); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *ticketRepository) StatsByOwner(ctx context.Context, owner *uuid.UUID) (map[domain.Status]int, error) {
	query := `SELECT status, COUNT(*) FROM tickets`
	var args []any
	if owner != nil {
		query += ` WHERE owner_id = $1`
		args = append(args, *owner)
	}
	query += ` GROUP BY status`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ticket stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[domain.Status]int, len(domain.AllStatuses))
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[domain.Status(status)] = count
	}
	return stats, rows.Err()
}

func (r *ticketRepository) Highscores(ctx context.Context, since time.Time) (map[uuid.UUID]int, error) {
	const query = `
        SELECT t.claimer_id, COUNT(*)
        FROM tickets t
        WHERE t.status = 'CLOSED' AND t.claimer_id IS NOT NULL
          AND EXISTS (
            SELECT 1 FROM ticket_actions a
            WHERE a.ticket_id = t.id AND a.kind = 'CLOSE' AND a.created_at >= $1)
        GROUP BY t.claimer_id`
	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("highscores: %w", err)
	}
	defer rows.Close()

	scores := make(map[uuid.UUID]int)
	for rows.Next() {
		var claimer uuid.UUID
		var count int
		if err := rows.Scan(&claimer, &count); err != nil {
			return nil, err
		}
		scores[claimer] = count
	}
	return scores, rows.Err()
}

// snapshot runs a ticket query and loads the matching actions inside one repeatable-read
// transaction so a ticket's status and its log always come from the same commit.
func (r *ticketRepository) snapshot(ctx context.Context, query string, args ...any) ([]domain.Ticket, error) {
	var tickets []domain.Ticket
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := pgx.BeginTxFunc(ctx, r.pool, opts, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		tickets, err = scanPgTickets(rows)
		if err != nil {
			return err
		}
		if len(tickets) == 0 {
			return nil
		}

		ids := make([]int64, len(tickets))
		for i := range tickets {
			ids[i] = tickets[i].ID
		}
		const actionsQuery = `
            SELECT ticket_id, seq, kind, actor_id, message, claimer_id, created_at
            FROM ticket_actions WHERE ticket_id = ANY($1) ORDER BY ticket_id, seq`
		actionRows, err := tx.Query(ctx, actionsQuery, ids)
		if err != nil {
			return err
		}
		actions, err := scanPgActions(actionRows)
		if err != nil {
			return err
		}
		attachActions(tickets, actions)
		return nil
	})
	return tickets, err
}

func appendPgAction(ctx context.Context, tx pgx.Tx, action domain.Action) error {
	var state storedState
	var status string
	err := tx.QueryRow(ctx, `SELECT status, claimer_id FROM tickets WHERE id = $1 FOR UPDATE`, action.TicketID).
		Scan(&status, &state.claimer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewTicketNotFound(action.TicketID)
		}
		return fmt.Errorf("lock ticket %d: %w", action.TicketID, err)
	}
	state.status = domain.Status(status)
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM ticket_actions WHERE ticket_id = $1`, action.TicketID).
		Scan(&state.lastSeq); err != nil {
		return fmt.Errorf("read sequence of ticket %d: %w", action.TicketID, err)
	}

	planned, err := planAppend(state, action)
	if err != nil {
		return err
	}
	if err := insertPgAction(ctx, tx, planned.action); err != nil {
		return err
	}

	const update = `UPDATE tickets SET status = $1, claimer_id = $2, updated_at = $3 WHERE id = $4`
	if _, err := tx.Exec(ctx, update, string(planned.status), planned.claimer, planned.action.At, action.TicketID); err != nil {
		return fmt.Errorf("update ticket %d: %w", action.TicketID, err)
	}
	return nil
}

func insertPgAction(ctx context.Context, tx pgx.Tx, action domain.Action) error {
	const query = `
        INSERT INTO ticket_actions (ticket_id, seq, kind, actor_id, message, claimer_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := tx.Exec(ctx, query,
		action.TicketID,
		action.Seq,
		string(action.Kind),
		action.Actor,
		nullableString(action.Message),
		nullableUUID(action.Claimer),
		action.At,
	)
	if err != nil {
		return fmt.Errorf("insert action for ticket %d: %w", action.TicketID, err)
	}
	return nil
}

func scanPgTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	defer rows.Close()
	var result []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		var status string
		if err := rows.Scan(&t.ID, &t.Owner, &status, &t.Claimer, &t.Context, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Status = domain.Status(status)
		t.CreatedAt = t.CreatedAt.UTC()
		result = append(result, t)
	}
	return result, rows.Err()
}

func scanPgActions(rows pgx.Rows) ([]domain.Action, error) {
	defer rows.Close()
	var result []domain.Action
	for rows.Next() {
		var a domain.Action
		var kind string
		var message *string
		var claimer *uuid.UUID
		if err := rows.Scan(&a.TicketID, &a.Seq, &kind, &a.Actor, &message, &claimer, &a.At); err != nil {
			return nil, err
		}
		a.Kind = domain.ActionKind(kind)
		a.At = a.At.UTC()
		if message != nil {
			a.Message = *message
		}
		if claimer != nil {
			a.Claimer = *claimer
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
