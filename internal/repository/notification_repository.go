package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hgschmie/broccolai-tickets/internal/domain"
)

// NotificationRepository persists notices that could not be delivered yet.
type NotificationRepository interface {
	Enqueue(ctx context.Context, n domain.PendingNotification) error
	// ListByRecipient returns the recipient's queue, oldest first.
	ListByRecipient(ctx context.Context, recipient domain.Recipient) ([]domain.PendingNotification, error)
	Delete(ctx context.Context, id uuid.UUID) error
	IncrementAttempts(ctx context.Context, id uuid.UUID) error
	// Recipients lists every recipient of the given kind with at least one queued notice.
	Recipients(ctx context.Context, kind domain.RecipientKind) ([]domain.Recipient, error)
}

type notificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository instantiates the PostgreSQL repository.
func NewNotificationRepository(pool *pgxpool.Pool) NotificationRepository {
	return &notificationRepository{pool: pool}
}

func (r *notificationRepository) Enqueue(ctx context.Context, n domain.PendingNotification) error {
	const query = `
        INSERT INTO pending_notifications (id, recipient, ticket_id, payload, attempts, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, n.ID, n.Recipient.String(), n.TicketID, n.Payload, n.Attempts, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) ListByRecipient(ctx context.Context, recipient domain.Recipient) ([]domain.PendingNotification, error) {
	const query = `
        SELECT id, recipient, ticket_id, payload, attempts, created_at
        FROM pending_notifications WHERE recipient = $1 ORDER BY created_at, id`
	rows, err := r.pool.Query(ctx, query, recipient.String())
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var result []domain.PendingNotification
	for rows.Next() {
		var n domain.PendingNotification
		var rawRecipient string
		if err := rows.Scan(&n.ID, &rawRecipient, &n.TicketID, &n.Payload, &n.Attempts, &n.CreatedAt); err != nil {
			return nil, err
		}
		if n.Recipient, err = domain.ParseRecipient(rawRecipient); err != nil {
			return nil, err
		}
		n.CreatedAt = n.CreatedAt.UTC()
		result = append(result, n)
	}
	return result, rows.Err()
}

func (r *notificationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM pending_notifications WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE pending_notifications SET attempts = attempts + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment attempts: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *notificationRepository) Recipients(ctx context.Context, kind domain.RecipientKind) ([]domain.Recipient, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT recipient FROM pending_notifications WHERE recipient LIKE $1`, string(kind)+":%")
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()
	return scanRecipients(rows)
}

type sqliteNotificationRepository struct {
	db *sql.DB
}

// NewSQLiteNotificationRepository instantiates the embedded repository.
func NewSQLiteNotificationRepository(db *sql.DB) NotificationRepository {
	return &sqliteNotificationRepository{db: db}
}

func (r *sqliteNotificationRepository) Enqueue(ctx context.Context, n domain.PendingNotification) error {
	const query = `
        INSERT INTO pending_notifications (id, recipient, ticket_id, payload, attempts, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, n.ID.String(), n.Recipient.String(), n.TicketID, n.Payload, n.Attempts, formatTime(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

func (r *sqliteNotificationRepository) ListByRecipient(ctx context.Context, recipient domain.Recipient) ([]domain.PendingNotification, error) {
	const query = `
        SELECT id, recipient, ticket_id, payload, attempts, created_at
        FROM pending_notifications WHERE recipient = ? ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, recipient.String())
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var result []domain.PendingNotification
	for rows.Next() {
		var n domain.PendingNotification
		var rawRecipient, createdAt string
		if err := rows.Scan(&n.ID, &rawRecipient, &n.TicketID, &n.Payload, &n.Attempts, &createdAt); err != nil {
			return nil, err
		}
		if n.Recipient, err = domain.ParseRecipient(rawRecipient); err != nil {
			return nil, err
		}
		if n.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (r *sqliteNotificationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pending_notifications WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return nil
}

func (r *sqliteNotificationRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `UPDATE pending_notifications SET attempts = attempts + 1 WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("increment attempts: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *sqliteNotificationRepository) Recipients(ctx context.Context, kind domain.RecipientKind) ([]domain.Recipient, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT recipient FROM pending_notifications WHERE recipient LIKE ?`, string(kind)+":%")
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()
	return scanRecipients(rows)
}

type stringRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRecipients(rows stringRows) ([]domain.Recipient, error) {
	var result []domain.Recipient
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		recipient, err := domain.ParseRecipient(raw)
		if err != nil {
			return nil, err
		}
		result = append(result, recipient)
	}
	return result, rows.Err()
}
