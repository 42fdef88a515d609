package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hgschmie/broccolai-tickets/internal/domain"
)

// SettingsRepository stores per-user preferences.
type SettingsRepository interface {
	// Get returns the stored settings, or the defaults when the user has none.
	Get(ctx context.Context, userID uuid.UUID) (domain.UserSettings, error)
	Save(ctx context.Context, settings domain.UserSettings) error
}

// DefaultSettings applies to users that never changed anything.
func DefaultSettings(userID uuid.UUID) domain.UserSettings {
	return domain.UserSettings{UserID: userID, Announcements: true}
}

type settingsRepository struct {
	pool *pgxpool.Pool
}

// NewSettingsRepository instantiates the PostgreSQL repository.
func NewSettingsRepository(pool *pgxpool.Pool) SettingsRepository {
	return &settingsRepository{pool: pool}
}

func (r *settingsRepository) Get(ctx context.Context, userID uuid.UUID) (domain.UserSettings, error) {
	settings := DefaultSettings(userID)
	err := r.pool.QueryRow(ctx, `SELECT announcements FROM user_settings WHERE user_id = $1`, userID).Scan(&settings.Announcements)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return settings, fmt.Errorf("get settings: %w", err)
	}
	return settings, nil
}

func (r *settingsRepository) Save(ctx context.Context, settings domain.UserSettings) error {
	const query = `
        INSERT INTO user_settings (user_id, announcements) VALUES ($1, $2)
        ON CONFLICT (user_id) DO UPDATE SET announcements = EXCLUDED.announcements`
	if _, err := r.pool.Exec(ctx, query, settings.UserID, settings.Announcements); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

type sqliteSettingsRepository struct {
	db *sql.DB
}

// NewSQLiteSettingsRepository instantiates the embedded repository.
func NewSQLiteSettingsRepository(db *sql.DB) SettingsRepository {
	return &sqliteSettingsRepository{db: db}
}

func (r *sqliteSettingsRepository) Get(ctx context.Context, userID uuid.UUID) (domain.UserSettings, error) {
	settings := DefaultSettings(userID)
	err := r.db.QueryRowContext(ctx, `SELECT announcements FROM user_settings WHERE user_id = ?`, userID.String()).Scan(&settings.Announcements)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return settings, fmt.Errorf("get settings: %w", err)
	}
	return settings, nil
}

func (r *sqliteSettingsRepository) Save(ctx context.Context, settings domain.UserSettings) error {
	const query = `
        INSERT INTO user_settings (user_id, announcements) VALUES (?, ?)
        ON CONFLICT (user_id) DO UPDATE SET announcements = excluded.announcements`
	if _, err := r.db.ExecContext(ctx, query, settings.UserID.String(), settings.Announcements); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
