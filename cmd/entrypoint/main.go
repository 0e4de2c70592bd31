// Command entrypoint is PID 1 of the authapi container image.
//
// Without arguments it fills in environment defaults, waits out STARTUP_DELAY
// and replaces itself with the API binary. `entrypoint healthcheck` instead
// requests GET /health on the local port and exits non-zero when the API is not
// serving, for use as the image HEALTHCHECK.
package main

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"authapi/config"
	"authapi/server"
	"authapi/utils"
)

const defaultBinary = "/app/authapi"

func main() {
	utils.InitLogging()

	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		port := config.GetEnvOrDefault("PORT", config.DefaultPort)
		if err := healthcheck("http://127.0.0.1:"+port+"/health", 3*time.Second); err != nil {
			utils.LogError("HEALTHCHECK", err)
			os.Exit(1)
		}
		return
	}

	applyDefaults()

	if d := startupDelay(); d > 0 {
		utils.LogInfo("Applying startup delay", "delay", d)
		time.Sleep(d)
	}

	target := config.GetEnvOrDefault("AUTHAPI_BINARY", defaultBinary)
	if err := syscall.Exec(target, []string{target}, os.Environ()); err != nil {
		utils.ErrorLogger.Fatalf("failed to exec %s: %v", target, err)
	}
}

// applyDefaults sets variables the API needs from the container environment
// before it reads .env.
func applyDefaults() {
	if os.Getenv("PORT") == "" {
		_ = os.Setenv("PORT", config.DefaultPort)
	}
}

// startupDelay is STARTUP_DELAY as a duration; invalid or negative values
// mean no delay.
func startupDelay() time.Duration {
	d := config.GetEnvAsDuration("STARTUP_DELAY", 0)
	if d < 0 {
		return 0
	}
	return d
}

// healthcheck requires a 200 carrying the fixed health payload from url.
func healthcheck(url string, timeout time.Duration) error {
	var payload server.HealthResponse
	code, _, errs := fiber.Get(url).Timeout(timeout).Struct(&payload)
	if len(errs) > 0 {
		return fmt.Errorf("GET %s: %w", url, errors.Join(errs...))
	}
	if code != fiber.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, code)
	}
	if payload.Status != "ok" {
		return fmt.Errorf("GET %s: status field %q", url, payload.Status)
	}
	return nil
}
