package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/hgschmie/broccolai-tickets/internal/domain"
	"github.com/hgschmie/broccolai-tickets/internal/repository"
)

// SettingsService manages per-user notification preferences.
type SettingsService struct {
	settings repository.SettingsRepository
}

// NewSettingsService constructs the service.
func NewSettingsService(settings repository.SettingsRepository) *SettingsService {
	return &SettingsService{settings: settings}
}

func (s *SettingsService) Get(ctx context.Context, user uuid.UUID) (domain.UserSettings, error) {
	settings, err := s.settings.Get(ctx, user)
	return settings, storageFailure(err)
}

// SetAnnouncements opts user in or out of the staff broadcast.
func (s *SettingsService) SetAnnouncements(ctx context.Context, user uuid.UUID, enabled bool) (domain.UserSettings, error) {
	settings, err := s.settings.Get(ctx, user)
	if err != nil {
		return domain.UserSettings{}, storageFailure(err)
	}
	settings.Announcements = enabled
	if err := s.settings.Save(ctx, settings); err != nil {
		return domain.UserSettings{}, storageFailure(err)
	}
	return settings, nil
}
