package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/hgschmie/broccolai-tickets/internal/api/dto"
	"github.com/hgschmie/broccolai-tickets/internal/auth"
	"github.com/hgschmie/broccolai-tickets/internal/domain"
	"github.com/hgschmie/broccolai-tickets/internal/service"
	apperrors "github.com/hgschmie/broccolai-tickets/pkg/util/errorutil"
)

// TicketsHandler manages ticket endpoints for ticket owners.
type TicketsHandler struct {
	modify *service.ModificationService
	read   *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(modify *service.ModificationService, read *service.TicketService) *TicketsHandler {
	return &TicketsHandler{modify: modify, read: read}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticketContext := domain.Context(req.Context).Clone()
	if req.Position != nil {
		ticketContext = ticketContext.WithPosition(domain.Position{
			World: req.Position.World, X: req.Position.X, Y: req.Position.Y, Z: req.Position.Z,
		})
	}

	res, err := h.modify.Create(c.UserContext(), p.UserID, req.Message, ticketContext)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": mutationResponse(res)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		return err
	}
	tickets, err := h.read.ListByOwner(c.UserContext(), p.UserID, statuses)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponses(tickets)})
}

// LatestTicket GET /tickets/latest.
func (h *TicketsHandler) LatestTicket(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		return err
	}
	ticket, err := h.read.LatestByOwner(c.UserContext(), p.UserID, statuses)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, _, err := h.accessible(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// GetTicketLog GET /tickets/:id/log.
func (h *TicketsHandler) GetTicketLog(c *fiber.Ctx) error {
	ticket, _, err := h.accessible(c)
	if err != nil {
		return err
	}
	items := make([]dto.ActionResponse, 0, len(ticket.Actions))
	for _, action := range ticket.Actions {
		items = append(items, actionResponse(action))
	}
	return c.JSON(fiber.Map{"data": items})
}

// UpdateTicket PUT /tickets/:id.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	ticket, p, err := h.accessible(c)
	if err != nil {
		return err
	}
	var req dto.UpdateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	res, err := h.modify.Update(c.UserContext(), p.UserID, ticket.ID, req.Message)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": mutationResponse(res)})
}

// CloseTicket POST /tickets/:id/close.
func (h *TicketsHandler) CloseTicket(c *fiber.Ctx) error {
	ticket, p, err := h.accessible(c)
	if err != nil {
		return err
	}
	res, err := h.modify.Close(c.UserContext(), p.UserID, ticket.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": mutationResponse(res)})
}

// accessible loads the ticket named in the path if the caller owns it or is staff.
// Strangers get the same answer as for a missing ticket.
func (h *TicketsHandler) accessible(c *fiber.Ctx) (domain.Ticket, *auth.Principal, error) {
	p, err := principal(c)
	if err != nil {
		return domain.Ticket{}, nil, err
	}
	id, err := ticketID(c)
	if err != nil {
		return domain.Ticket{}, nil, err
	}
	ticket, err := h.read.Get(c.UserContext(), id)
	if err != nil {
		return domain.Ticket{}, nil, err
	}
	if !p.CanAccess(ticket.Owner) {
		return domain.Ticket{}, nil, apperrors.NewTicketNotFound(id)
	}
	return ticket, p, nil
}
