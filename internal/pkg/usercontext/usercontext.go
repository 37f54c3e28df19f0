package usercontext

import (
	"github.com/gofiber/fiber/v2"

	"github.com/venuekey/venuekey/app/models"
)

// ContextKey is the fiber local the authenticated user context is stored under.
const ContextKey = "USER_CONTEXT"

// UserContext represents the complete user context for a request
type UserContext struct {
	UserID     uint   `json:"user_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	IsAuthed   bool   `json:"is_authed"`
	IsAdmin    bool   `json:"is_admin"`
	IsProvider bool   `json:"is_provider"`
}

// FromUser builds the request context for an authenticated account.
func FromUser(u *models.User) UserContext {
	return UserContext{
		UserID:     u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Role:       u.Role,
		IsAuthed:   true,
		IsAdmin:    u.Role == models.ROLE_ADMIN,
		IsProvider: u.IsProvider(),
	}
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx := c.Locals(ContextKey); ctx != nil {
		if uc, ok := ctx.(UserContext); ok {
			return uc
		}
	}
	return UserContext{}
}

// SetUserContext stores the user context on the request.
func SetUserContext(c *fiber.Ctx, uc UserContext) {
	c.Locals(ContextKey, uc)
}

// IsAuthenticated checks if the current request carries a valid API identity
func IsAuthenticated(c *fiber.Ctx) bool {
	return GetUserContext(c).IsAuthed
}

// IsAdmin checks if the current user is an admin
func IsAdmin(c *fiber.Ctx) bool {
	return GetUserContext(c).IsAdmin
}

// IsProvider checks if the current user can accept requests
func IsProvider(c *fiber.Ctx) bool {
	return GetUserContext(c).IsProvider
}

// GetUserID returns the current user's ID, or 0 if not authenticated
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}
