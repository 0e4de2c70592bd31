package middleware

import (
	"time"

	"authapi/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis/v3"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig holds all rate limiter instances
type RateLimitConfig struct {
	AuthLimiter        fiber.Handler
	RegisterLimiter    fiber.Handler
	MFAVerifyLimiter   fiber.Handler
	RefreshLimiter     fiber.Handler
	LightweightLimiter fiber.Handler
}

// NewRedisLimiterStorage shares an existing Redis client with the limiter so
// counters are consistent across replicas.
func NewRedisLimiterStorage(rdb *redis.Client) fiber.Storage {
	return redisstorage.NewFromConnection(rdb)
}

// newIPLimiter keys counters by tier and client IP so tiers sharing a
// storage never consume each other's budget.
func newIPLimiter(storage fiber.Storage, tier string, max int, window time.Duration, message string) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "rl:" + tier + ":" + utils.ClientIP(c)
		},
		Storage: storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": message,
			})
		},
	})
}

// NewRateLimitConfig creates the auth limiter tiers on the given storage.
// A nil storage keeps counters in process memory.
func NewRateLimitConfig(storage fiber.Storage) *RateLimitConfig {
	return &RateLimitConfig{
		// Strictest: brute-force targets
		AuthLimiter:      newIPLimiter(storage, "auth", 10, 5*time.Minute, "Too many authentication attempts. Please try again later."),
		RegisterLimiter:  newIPLimiter(storage, "register", 5, 15*time.Minute, "Too many registration attempts. Please try again later."),
		MFAVerifyLimiter: newIPLimiter(storage, "mfa", 10, 5*time.Minute, "Too many MFA verification attempts. Please try again later."),
		RefreshLimiter:   newIPLimiter(storage, "refresh", 30, 5*time.Minute, "Too many token refresh requests. Please try again later."),
		// Liberal: authenticated reads
		LightweightLimiter: newIPLimiter(storage, "light", 200, time.Minute, "Too many requests. Please try again later."),
	}
}
