package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/hgschmie/broccolai-tickets/internal/api/dto"
	"github.com/hgschmie/broccolai-tickets/internal/service"
	apperrors "github.com/hgschmie/broccolai-tickets/pkg/util/errorutil"
)

// PresenceHandler tracks connecting clients and their notification settings.
type PresenceHandler struct {
	notifications *service.NotificationService
	settings      *service.SettingsService
}

// NewPresenceHandler constructs handler.
func NewPresenceHandler(notifications *service.NotificationService, settings *service.SettingsService) *PresenceHandler {
	return &PresenceHandler{notifications: notifications, settings: settings}
}

// Connect POST /presence/connect. Queued notices are delivered before it returns.
func (h *PresenceHandler) Connect(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	delivered, err := h.notifications.Connect(c.UserContext(), p.UserID, p.Staff)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ConnectResponse{Delivered: delivered}})
}

// Disconnect POST /presence/disconnect.
func (h *PresenceHandler) Disconnect(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	if err := h.notifications.Disconnect(c.UserContext(), p.UserID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetSettings GET /settings.
func (h *PresenceHandler) GetSettings(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	settings, err := h.settings.Get(c.UserContext(), p.UserID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.SettingsResponse{Announcements: settings.Announcements}})
}

// UpdateSettings PUT /settings.
func (h *PresenceHandler) UpdateSettings(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.SettingsRequest
	if err := c.BodyParser(&req); err != nil || req.Announcements == nil {
		return apperrors.NewValidationError("announcements is required", nil)
	}
	settings, err := h.settings.SetAnnouncements(c.UserContext(), p.UserID, *req.Announcements)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.SettingsResponse{Announcements: settings.Announcements}})
}
