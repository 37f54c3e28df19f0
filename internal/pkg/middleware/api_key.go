package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/venuekey/venuekey/app/models"
	"github.com/venuekey/venuekey/app/repository"
	"github.com/venuekey/venuekey/internal/pkg/usercontext"
)

// APIKeyAuth resolves the request's API key (X-API-Key header or Authorization
// bearer) to a user and stores the user context. Requests without a valid key
// continue anonymously; route guards decide what needs an identity.
func APIKeyAuth(c *fiber.Ctx) error {
	raw := extractAPIKey(c)
	if raw == "" {
		return c.Next()
	}

	repo := repository.GetGlobalRepositories().User
	user, err := repo.GetByAPIKeyHash(models.HashAPIKey(raw))
	if err != nil || !user.IsActive() {
		return c.Next()
	}

	usercontext.SetUserContext(c, usercontext.FromUser(user))
	// Best effort; a failed timestamp must not fail the request.
	_ = repo.TouchAPIKeyUsage(user.ID)
	return c.Next()
}

func extractAPIKey(c *fiber.Ctx) string {
	if key := strings.TrimSpace(c.Get("X-API-Key")); key != "" {
		return key
	}
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// RequireAuth ensures an authenticated API identity and returns JSON 401 otherwise.
func RequireAuth(c *fiber.Ctx) error {
	if !usercontext.IsAuthenticated(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "valid API key required",
		})
	}
	return c.Next()
}

// RequireProvider ensures the caller may hold key bundles and accept requests.
func RequireProvider(c *fiber.Ctx) error {
	if !usercontext.IsAuthenticated(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "valid API key required",
		})
	}
	if !usercontext.IsProvider(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "provider role required",
		})
	}
	return c.Next()
}

// RequireAdmin ensures an authenticated admin.
func RequireAdmin(c *fiber.Ctx) error {
	if !usercontext.IsAuthenticated(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "valid API key required",
		})
	}
	if !usercontext.IsAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "admin role required",
		})
	}
	return c.Next()
}
