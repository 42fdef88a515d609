package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// RequireStaff ensures the caller authenticated as staff.
func RequireStaff() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok || !principal.Staff {
			return fiber.NewError(http.StatusForbidden, "staff required")
		}
		return c.Next()
	}
}

// RequireAnyRole ensures caller is authenticated (user or staff).
func RequireAnyRole() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		}
		return c.Next()
	}
}

// CanAccess reports whether p may see or change a ticket owned by owner.
func (p *Principal) CanAccess(owner uuid.UUID) bool {
	return p != nil && (p.Staff || p.UserID == owner)
}
