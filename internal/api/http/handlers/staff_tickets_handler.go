package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/hgschmie/broccolai-tickets/internal/api/dto"
	"github.com/hgschmie/broccolai-tickets/internal/service"
	apperrors "github.com/hgschmie/broccolai-tickets/pkg/util/errorutil"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	defaultSpan      = 7 * 24 * time.Hour
)

// StaffTicketsHandler handles staff ticket endpoints.
type StaffTicketsHandler struct {
	modify *service.ModificationService
	read   *service.TicketService
}

// NewStaffTicketsHandler constructs handler.
func NewStaffTicketsHandler(modify *service.ModificationService, read *service.TicketService) *StaffTicketsHandler {
	return &StaffTicketsHandler{modify: modify, read: read}
}

// ListTickets GET /staff/tickets.
func (h *StaffTicketsHandler) ListTickets(c *fiber.Ctx) error {
	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		return err
	}
	limit := parseInt(c.Query("limit"), defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	tickets, err := h.read.ListByStatus(c.UserContext(), statuses, limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponses(tickets)})
}

// CountTickets GET /staff/tickets/count.
func (h *StaffTicketsHandler) CountTickets(c *fiber.Ctx) error {
	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		return err
	}
	count, err := h.read.Count(c.UserContext(), statuses)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"count": count}})
}

// Stats GET /staff/tickets/stats.
func (h *StaffTicketsHandler) Stats(c *fiber.Ctx) error {
	var owner *uuid.UUID
	if raw := c.Query("owner"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperrors.NewValidationError("invalid owner", map[string]any{"owner": raw})
		}
		owner = &id
	}
	stats, err := h.read.StatsByOwner(c.UserContext(), owner)
	if err != nil {
		return err
	}
	out := make(map[string]int, len(stats))
	for status, n := range stats {
		out[string(status)] = n
	}
	return c.JSON(fiber.Map{"data": out})
}

// Highscores GET /staff/highscores.
func (h *StaffTicketsHandler) Highscores(c *fiber.Ctx) error {
	span := defaultSpan
	if raw := c.Query("span"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return apperrors.NewValidationError("invalid span", map[string]any{"span": raw})
		}
		span = parsed
	}
	scores, err := h.read.Highscores(c.UserContext(), span)
	if err != nil {
		return err
	}
	items := make([]dto.ScoreResponse, 0, len(scores))
	for _, score := range scores {
		items = append(items, dto.ScoreResponse{Claimer: score.Claimer.String(), Closed: score.Closed})
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /staff/tickets/:id.
func (h *StaffTicketsHandler) GetTicket(c *fiber.Ctx) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	ticket, err := h.read.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// Claim POST /staff/tickets/:id/claim.
func (h *StaffTicketsHandler) Claim(c *fiber.Ctx) error {
	return h.transition(c, h.modify.Claim)
}

// Unclaim POST /staff/tickets/:id/unclaim.
func (h *StaffTicketsHandler) Unclaim(c *fiber.Ctx) error {
	return h.transition(c, h.modify.Unclaim)
}

// Close POST /staff/tickets/:id/close.
func (h *StaffTicketsHandler) Close(c *fiber.Ctx) error {
	return h.transition(c, h.modify.Close)
}

// Reopen POST /staff/tickets/:id/reopen.
func (h *StaffTicketsHandler) Reopen(c *fiber.Ctx) error {
	return h.transition(c, h.modify.Reopen)
}

// AddNotes POST /staff/tickets/:id/notes.
func (h *StaffTicketsHandler) AddNotes(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req dto.NotesRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	res, err := h.modify.Note(c.UserContext(), p.UserID, id, req.Messages...)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": mutationResponse(res)})
}

type transitionFunc func(ctx context.Context, actor uuid.UUID, id int64) (service.Result, error)

func (h *StaffTicketsHandler) transition(c *fiber.Ctx, apply transitionFunc) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	res, err := apply(c.UserContext(), p.UserID, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": mutationResponse(res)})
}

