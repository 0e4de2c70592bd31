package server

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"authapi/config"
	"authapi/database"
	"authapi/metrics"
)

// ReadyState tracks initialization state for health checks
type ReadyState struct {
	db         database.Database
	rdb        redis.UniversalClient
	config     *config.Config
	dbReady    atomic.Bool
	redisReady atomic.Bool
}

// NewReadyState creates a new ReadyState instance
func NewReadyState(db database.Database, rdb redis.UniversalClient, cfg *config.Config) *ReadyState {
	return &ReadyState{
		db:     db,
		rdb:    rdb,
		config: cfg,
	}
}

// MarkDatabaseReady records that migrations have been applied.
func (r *ReadyState) MarkDatabaseReady() {
	r.dbReady.Store(true)
	metrics.SetDependencyReady("postgres", true)
}

// MarkRedisReady records that Redis answered a ping.
func (r *ReadyState) MarkRedisReady() {
	r.redisReady.Store(true)
	metrics.SetDependencyReady("redis", true)
}

// IsFullyReady returns true if all initialization steps are complete
func (r *ReadyState) IsFullyReady() bool {
	return r.dbReady.Load() && r.redisReady.Load()
}

func (r *ReadyState) IsDatabaseReady() bool {
	return r.dbReady.Load()
}

func (r *ReadyState) IsRedisReady() bool {
	return r.redisReady.Load()
}

// GetConfig returns the application configuration
func (r *ReadyState) GetConfig() *config.Config {
	return r.config
}

// RequireReady rejects requests with 503 until every dependency is up.
func (r *ReadyState) RequireReady() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !r.IsFullyReady() {
			c.Set(fiber.HeaderRetryAfter, "5")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Service is initializing"})
		}
		return c.Next()
	}
}

// probe runs live checks against both dependencies.
func (r *ReadyState) probe(ctx context.Context) (string, bool) {
	if r.db != nil {
		if err := database.Ping(ctx, r.db); err != nil {
			return "database check failed", false
		}
	}
	if r.rdb != nil {
		if err := r.rdb.Ping(ctx).Err(); err != nil {
			return "redis check failed", false
		}
	}
	return "", true
}

// HealthResponse is the fixed GET /health payload. A struct keeps the field
// order stable; a map would be emitted with sorted keys.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// healthHandler answers GET /health. It never touches dependencies.
func healthHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(HealthResponse{
		Status:  "ok",
		Message: "Server is running",
	})
}

func liveHandler(startTime time.Time) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "live",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    time.Since(startTime).String(),
		})
	}
}

func readyHandler(readyState *ReadyState, startTime time.Time) fiber.Handler {
	return func(c *fiber.Ctx) error {
		health := fiber.Map{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    time.Since(startTime).String(),
		}

		if !readyState.IsFullyReady() {
			health["status"] = "initializing"
			health["database_ready"] = readyState.IsDatabaseReady()
			health["redis_ready"] = readyState.IsRedisReady()
			return c.Status(fiber.StatusServiceUnavailable).JSON(health)
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		if msg, ok := readyState.probe(ctx); !ok {
			health["status"] = "unhealthy"
			health["error"] = msg
			return c.Status(fiber.StatusServiceUnavailable).JSON(health)
		}

		health["status"] = "ready"
		return c.JSON(health)
	}
}
