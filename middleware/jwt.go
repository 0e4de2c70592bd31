package middleware

import (
	"context"
	"strings"

	"authapi/services"
	"authapi/utils"

	"github.com/gofiber/fiber/v2"
)

// TokenParser validates access tokens.
type TokenParser interface {
	Parse(token string) (*services.Claims, error)
}

// SessionChecker reports whether a session is still live.
type SessionChecker interface {
	IsActive(ctx context.Context, sessionID string) (bool, error)
}

// JWTMiddleware creates a Fiber middleware for JWT token validation.
// It validates the bearer token, checks the bound session has not been
// revoked, and sets user_id and session_id locals.
func JWTMiddleware(tokens TokenParser, sessions SessionChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing authorization"})
		}

		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid authorization header"})
		}

		claims, err := tokens.Parse(strings.TrimSpace(token))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
		}

		active, err := sessions.IsActive(c.UserContext(), claims.SessionID)
		if err != nil {
			utils.LogRequestError(c, "SESSION_CHECK", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Session store unavailable"})
		}
		if !active {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Session expired"})
		}

		c.Locals("user_id", claims.UserID())
		c.Locals("session_id", claims.SessionID)

		return c.Next()
	}
}
