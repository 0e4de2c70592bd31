package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"authapi/config"
	"authapi/metrics"
	"authapi/middleware"
	"authapi/utils"
)

// CreateFiberApp creates the Fiber application with the global middleware
// chain and the health and metrics endpoints. Feature routes are mounted by
// the caller.
func CreateFiberApp(cfg *config.Config, readyState *ReadyState, startTime time.Time) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "authapi",
		DisableStartupMessage: true,
		BodyLimit:             cfg.BodyLimit,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          15 * time.Second,
		IdleTimeout:           60 * time.Second,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			metrics.IncrementError("panic", "http")
			utils.LogError("PANIC RECOVERED", fmt.Errorf("%v", e),
				"method", c.Method(),
				"path", c.Path(),
				"ip", utils.ClientIP(c),
				"user_agent", c.Get(fiber.HeaderUserAgent),
			)
		},
	}))

	// Request ID for error correlation
	app.Use(requestid.New(requestid.Config{
		Header:     fiber.HeaderXRequestID,
		Generator:  uuid.NewString,
		ContextKey: "request_id",
	}))

	app.Use(logger.New(logger.Config{
		Output: utils.InfoLogger.Writer(),
		Format: "[${time}] ${locals:request_id} ${status} - ${method} ${path} - ${ip} - ${latency}\n",
	}))

	helmetCfg := helmet.Config{
		XSSProtection:      "0",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'; " +
			"frame-ancestors 'none'; " +
			"base-uri 'none'",
		// the docs page loads its UI bundle from a CDN
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), "/api/docs")
		},
	}
	if cfg.IsProduction() {
		helmetCfg.HSTSMaxAge = 31536000
		helmetCfg.HSTSPreloadEnabled = true
	}
	app.Use(helmet.New(helmetCfg))

	app.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
		// promhttp negotiates its own encoding
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/metrics"
		},
	}))

	app.Use(middleware.JSONBody())

	if cfg.EnableMetrics {
		app.Use(metrics.PrometheusMiddleware())
	}

	app.Get("/health", healthHandler)
	app.Get("/health/live", liveHandler(startTime))
	app.Get("/health/ready", readyHandler(readyState, startTime))

	if cfg.EnableMetrics {
		app.Get("/metrics", WrapHTTPHandler(promhttp.Handler()))
	}

	return app
}

func corsConfig(origins []string) cors.Config {
	allowOrigins := strings.Join(origins, ",")
	return cors.Config{
		AllowOrigins: allowOrigins,
		// browsers refuse credentialed responses for a wildcard origin
		AllowCredentials: allowOrigins != "*",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		ExposeHeaders:    "X-Request-ID, Retry-After",
		MaxAge:           600,
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	if code >= fiber.StatusInternalServerError {
		metrics.IncrementError("http", "server")
		utils.LogRequestError(c, "HTTP_ERROR", err)
		message = "Internal Server Error"
	}

	return c.Status(code).JSON(fiber.Map{"error": message})
}
