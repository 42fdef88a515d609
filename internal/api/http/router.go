package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/hgschmie/broccolai-tickets/internal/api/http/handlers"
	"github.com/hgschmie/broccolai-tickets/internal/auth"
	"github.com/hgschmie/broccolai-tickets/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	StaffTickets   *handlers.StaffTicketsHandler
	Presence       *handlers.PresenceHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	protected := app.Group("", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())

	tickets := protected.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/latest", cfg.Tickets.LatestTicket)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/log", cfg.Tickets.GetTicketLog)
	tickets.Put("/:id", cfg.Tickets.UpdateTicket)
	tickets.Post("/:id/close", cfg.Tickets.CloseTicket)

	staff := protected.Group("/staff", auth.RequireStaff())
	staff.Get("/tickets", cfg.StaffTickets.ListTickets)
	staff.Get("/tickets/count", cfg.StaffTickets.CountTickets)
	staff.Get("/tickets/stats", cfg.StaffTickets.Stats)
	staff.Get("/tickets/:id", cfg.StaffTickets.GetTicket)
	staff.Post("/tickets/:id/claim", cfg.StaffTickets.Claim)
	staff.Post("/tickets/:id/unclaim", cfg.StaffTickets.Unclaim)
	staff.Post("/tickets/:id/close", cfg.StaffTickets.Close)
	staff.Post("/tickets/:id/reopen", cfg.StaffTickets.Reopen)
	staff.Post("/tickets/:id/notes", cfg.StaffTickets.AddNotes)
	staff.Get("/highscores", cfg.StaffTickets.Highscores)

	protected.Post("/presence/connect", cfg.Presence.Connect)
	protected.Post("/presence/disconnect", cfg.Presence.Disconnect)
	protected.Get("/settings", cfg.Presence.GetSettings)
	protected.Put("/settings", cfg.Presence.UpdateSettings)
}
