package main

import (
	"github.com/gofiber/fiber/v2"
)

// setupRoutes mounts the API routes on an app built by server.CreateFiberApp.
// Health and metrics endpoints are registered there.
func setupRoutes(app *fiber.App, deps *appDeps) {
	authHandler, rateLimits := newAuthHandler(deps)

	// 503 until migrations ran and Redis answered
	auth := app.Group("/api/auth", deps.readyState.RequireReady())
	authHandler.RegisterRoutes(auth, rateLimits)

	docs := app.Group("/api/docs")
	docs.Get("/", swaggerUIHandler)
	docs.Get("/openapi.json", swaggerJSONHandler)
}
