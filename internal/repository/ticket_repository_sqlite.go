package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hgschmie/broccolai-tickets/internal/domain"
	apperrors "github.com/hgschmie/broccolai-tickets/pkg/util/errorutil"
)

// sqliteTimeLayout is fixed width so stored timestamps compare correctly as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

type sqliteTicketRepository struct {
	db *sql.DB
}

// NewSQLiteTicketRepository instantiates the embedded repository.
func NewSQLiteTicketRepository(db *sql.DB) TicketRepository {
	return &sqliteTicketRepository{db: db}
}

func (r *sqliteTicketRepository) Create(ctx context.Context, owner uuid.UUID, ticketContext domain.Context, initial domain.Action) (int64, error) {
	if err := validateInitial(initial); err != nil {
		return 0, err
	}
	if ticketContext == nil {
		ticketContext = domain.Context{}
	}
	encoded, err := json.Marshal(ticketContext)
	if err != nil {
		return 0, fmt.Errorf("create ticket: encode context: %w", err)
	}

	var id int64
	err = withSQLiteTx(ctx, r.db, func(tx *sql.Tx) error {
		const query = `
        INSERT INTO tickets (owner_id, status, context, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)`
		at := formatTime(initial.At)
		res, err := tx.ExecContext(ctx, query, owner.String(), string(domain.StatusOpen), string(encoded), at, at)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		initial.TicketID = id
		initial.Seq = 1
		return insertSQLiteAction(ctx, tx, initial)
	})
	if err != nil {
		return 0, fmt.Errorf("create ticket: %w", err)
	}
	return id, nil
}

func (r *sqliteTicketRepository) LoadMany(ctx context.Context, ids []int64) (map[int64]domain.Ticket, error) {
	result := make(map[int64]domain.Ticket, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT id, owner_id, status, claimer_id, context, created_at FROM tickets WHERE id IN (` + placeholders(len(ids)) + `)`
	tickets, err := r.snapshot(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load tickets: %w", err)
	}
	for _, ticket := range tickets {
		result[ticket.ID] = ticket
	}
	return result, nil
}

func (r *sqliteTicketRepository) QueryByOwner(ctx context.Context, owner uuid.UUID, statuses []domain.Status) (map[int64]domain.Ticket, error) {
	result := make(map[int64]domain.Ticket)
	if len(statuses) == 0 {
		return result, nil
	}
	args := append([]any{owner.String()}, statusArgs(statuses)...)
	query := `SELECT id, owner_id, status, claimer_id, context, created_at FROM tickets
        WHERE owner_id = ? AND status IN (` + placeholders(len(statuses)) + `)`
	tickets, err := r.snapshot(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tickets by owner: %w", err)
	}
	for _, ticket := range tickets {
		result[ticket.ID] = ticket
	}
	return result, nil
}

func (r *sqliteTicketRepository) QueryByStatus(ctx context.Context, statuses []domain.Status, limit int) ([]domain.Ticket, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := statusArgs(statuses)
	query := `SELECT id, owner_id, status, claimer_id, context, created_at FROM tickets
        WHERE status IN (` + placeholders(len(statuses)) + `) ORDER BY id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	tickets, err := r.snapshot(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tickets by status: %w", err)
	}
	return tickets, nil
}

func (r *sqliteTicketRepository) CountByStatus(ctx context.Context, statuses []domain.Status) (int, error) {
	query := `SELECT COUNT(*) FROM tickets`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + placeholders(len(statuses)) + `)`
		args = statusArgs(statuses)
	}
	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count tickets: %w", err)
	}
	return count, nil
}

func (r *sqliteTicketRepository) AppendAction(ctx context.Context, ticketID int64, action domain.Action) error {
	action.TicketID = ticketID
	return withSQLiteTx(ctx, r.db, func(tx *sql.Tx) error {
		return appendSQLiteAction(ctx, tx, action)
	})
}

func (r *sqliteTicketRepository) SaveActions(ctx context.Context, actions []domain.Action) error {
	if len(actions) == 0 {
		return nil
	}
	return withSQLiteTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, action := range actions {
			if err := appendSQLiteAction(ctx, tx, action); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *sqliteTicketRepository) StatsByOwner(ctx context.Context, owner *uuid.UUID) (map[domain.Status]int, error) {
	query := `SELECT status, COUNT(*) FROM tickets`
	var args []any
	if owner != nil {
		query += ` WHERE owner_id = ?`
		args = append(args, owner.String())
	}
	query += ` GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query, args...)
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

func (r *sqliteTicketRepository) Highscores(ctx context.Context, since time.Time) (map[uuid.UUID]int, error) {
	const query = `
        SELECT t.claimer_id, COUNT(*)
        FROM tickets t
        WHERE t.status = 'CLOSED' AND t.claimer_id IS NOT NULL
          AND EXISTS (
            SELECT 1 FROM ticket_actions a
            WHERE a.ticket_id = t.id AND a.kind = 'CLOSE' AND a.created_at >= ?)
        GROUP BY t.claimer_id`
	rows, err := r.db.QueryContext(ctx, query, formatTime(since))
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

func (r *sqliteTicketRepository) snapshot(ctx context.Context, query string, args ...any) ([]domain.Ticket, error) {
	var tickets []domain.Ticket
	err := withSQLiteTx(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		tickets, err = scanSQLiteTickets(rows)
		if err != nil || len(tickets) == 0 {
			return err
		}

		ids := make([]any, len(tickets))
		for i := range tickets {
			ids[i] = tickets[i].ID
		}
		actionsQuery := `SELECT ticket_id, seq, kind, actor_id, message, claimer_id, created_at
            FROM ticket_actions WHERE ticket_id IN (` + placeholders(len(ids)) + `) ORDER BY ticket_id, seq`
		actionRows, err := tx.QueryContext(ctx, actionsQuery, ids...)
		if err != nil {
			return err
		}
		actions, err := scanSQLiteActions(actionRows)
		if err != nil {
			return err
		}
		attachActions(tickets, actions)
		return nil
	})
	return tickets, err
}

func appendSQLiteAction(ctx context.Context, tx *sql.Tx, action domain.Action) error {
	var state storedState
	var status string
	var claimer uuid.NullUUID
	err := tx.QueryRowContext(ctx, `SELECT status, claimer_id FROM tickets WHERE id = ?`, action.TicketID).Scan(&status, &claimer)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewTicketNotFound(action.TicketID)
		}
		return fmt.Errorf("read ticket %d: %w", action.TicketID, err)
	}
	state.status = domain.Status(status)
	if claimer.Valid {
		state.claimer = &claimer.UUID
	}
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM ticket_actions WHERE ticket_id = ?`, action.TicketID).
		Scan(&state.lastSeq); err != nil {
		return fmt.Errorf("read sequence of ticket %d: %w", action.TicketID, err)
	}

	planned, err := planAppend(state, action)
	if err != nil {
		return err
	}
	if err := insertSQLiteAction(ctx, tx, planned.action); err != nil {
		return err
	}

	var nextClaimer any
	if planned.claimer != nil {
		nextClaimer = planned.claimer.String()
	}
	const update = `UPDATE tickets SET status = ?, claimer_id = ?, updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, update, string(planned.status), nextClaimer, formatTime(planned.action.At), action.TicketID); err != nil {
		return fmt.Errorf("update ticket %d: %w", action.TicketID, err)
	}
	return nil
}

func insertSQLiteAction(ctx context.Context, tx *sql.Tx, action domain.Action) error {
	var message, claimer any
	if action.Message != "" {
		message = action.Message
	}
	if action.Claimer != uuid.Nil {
		claimer = action.Claimer.String()
	}
	const query = `
        INSERT INTO ticket_actions (ticket_id, seq, kind, actor_id, message, claimer_id, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, query,
		action.TicketID,
		action.Seq,
		string(action.Kind),
		action.Actor.String(),
		message,
		claimer,
		formatTime(action.At),
	)
	if err != nil {
		return fmt.Errorf("insert action for ticket %d: %w", action.TicketID, err)
	}
	return nil
}

func scanSQLiteTickets(rows *sql.Rows) ([]domain.Ticket, error) {
	defer rows.Close()
	var result []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		var status, encodedContext, createdAt string
		var claimer uuid.NullUUID
		if err := rows.Scan(&t.ID, &t.Owner, &status, &claimer, &encodedContext, &createdAt); err != nil {
			return nil, err
		}
		t.Status = domain.Status(status)
		if claimer.Valid {
			id := claimer.UUID
			t.Claimer = &id
		}
		if err := json.Unmarshal([]byte(encodedContext), &t.Context); err != nil {
			return nil, fmt.Errorf("decode context of ticket %d: %w", t.ID, err)
		}
		var err error
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func scanSQLiteActions(rows *sql.Rows) ([]domain.Action, error) {
	defer rows.Close()
	var result []domain.Action
	for rows.Next() {
		var a domain.Action
		var kind, at string
		var message sql.NullString
		var claimer uuid.NullUUID
		if err := rows.Scan(&a.TicketID, &a.Seq, &kind, &a.Actor, &message, &claimer, &at); err != nil {
			return nil, err
		}
		a.Kind = domain.ActionKind(kind)
		a.Message = message.String
		if claimer.Valid {
			a.Claimer = claimer.UUID
		}
		var err error
		if a.At, err = parseTime(at); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// withSQLiteTx runs fn in a transaction, committing on success and rolling back otherwise.
func withSQLiteTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func statusArgs(statuses []domain.Status) []any {
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	return args
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
