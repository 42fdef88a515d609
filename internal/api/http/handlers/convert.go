package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/hgschmie/broccolai-tickets/internal/api/dto"
	"github.com/hgschmie/broccolai-tickets/internal/auth"
	"github.com/hgschmie/broccolai-tickets/internal/domain"
	"github.com/hgschmie/broccolai-tickets/internal/service"
	apperrors "github.com/hgschmie/broccolai-tickets/pkg/util/errorutil"
)

func principal(c *fiber.Ctx) (*auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return p, nil
}

func ticketID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("invalid ticket id", map[string]any{"id": c.Params("id")})
	}
	return id, nil
}

// parseStatuses reads a comma separated status filter. Empty means no filter.
func parseStatuses(raw string) ([]domain.Status, error) {
	var statuses []domain.Status
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		status := domain.Status(part)
		if !status.Valid() {
			return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": part})
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	if v, err := strconv.Atoi(val); err == nil {
		return v
	}
	return def
}

func ticketResponse(ticket domain.Ticket) dto.TicketResponse {
	resp := dto.TicketResponse{
		ID:           ticket.ID,
		Owner:        ticket.Owner.String(),
		Status:       string(ticket.Status),
		Message:      ticket.Message(),
		Context:      ticket.Context,
		Version:      ticket.Version(),
		CreatedAt:    ticket.CreatedAt,
		LastActivity: ticket.LastActivity(),
	}
	if ticket.Claimer != nil {
		claimer := ticket.Claimer.String()
		resp.Claimer = &claimer
	}
	if pos, ok := ticket.Context.Position(); ok {
		resp.Position = &dto.PositionPayload{World: pos.World, X: pos.X, Y: pos.Y, Z: pos.Z}
	}
	return resp
}

func ticketResponses(tickets []domain.Ticket) []dto.TicketResponse {
	items := make([]dto.TicketResponse, 0, len(tickets))
	for _, ticket := range tickets {
		items = append(items, ticketResponse(ticket))
	}
	return items
}

func actionResponse(action domain.Action) dto.ActionResponse {
	resp := dto.ActionResponse{
		Seq:     action.Seq,
		Kind:    string(action.Kind),
		Actor:   action.Actor.String(),
		At:      action.At,
		Message: action.Message,
	}
	if action.Claimer != uuid.Nil {
		resp.Claimer = action.Claimer.String()
	}
	return resp
}

func mutationResponse(res service.Result) dto.MutationResponse {
	return dto.MutationResponse{Ticket: ticketResponse(res.Ticket), Action: actionResponse(res.Action)}
}
