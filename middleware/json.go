package middleware

import (
	"encoding/json"
	"mime"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// JSONBody rejects malformed bodies declared as JSON. Bodies of any other
// content type pass through untouched and are left to the route; size limits
// are enforced by the app's BodyLimit before this runs.
func JSONBody() fiber.Handler {
	return func(c *fiber.Ctx) error {
		body := c.Body()
		if len(body) == 0 || !IsJSONContentType(c.Get(fiber.HeaderContentType)) {
			return c.Next()
		}

		if !json.Valid(body) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid JSON body"})
		}

		return c.Next()
	}
}

// IsJSONContentType matches application/json and application/*+json.
func IsJSONContentType(header string) bool {
	if header == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	if mediaType == fiber.MIMEApplicationJSON {
		return true
	}
	return strings.HasPrefix(mediaType, "application/") && strings.HasSuffix(mediaType, "+json")
}
