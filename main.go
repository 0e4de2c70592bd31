// authapi
//
// HTTP entry point for the authentication API: health probes, CORS, JSON body
// handling, and the /api/auth router backed by Postgres, Redis and Kafka.
//
// @title authapi
// @version 1.0
// @BasePath /api/auth
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"authapi/config"
	"authapi/crypto"
	"authapi/database"
	"authapi/handlers"
	"authapi/middleware"
	"authapi/server"
	"authapi/services"
	"authapi/utils"
)

// dependencyRetryInterval is the pause between startup attempts against
// Postgres and Redis.
const dependencyRetryInterval = 3 * time.Second

func main() {
	utils.InitLogging()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: could not load .env file: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// run wires the application, serves until SIGINT/SIGTERM, then shuts down.
func run(cfg *config.Config) error {
	utils.TrustProxyHeaders.Store(cfg.TrustProxyHeaders)
	startTime := time.Now()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer rdb.Close()

	events := services.NewEventPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer func() {
		if err := events.Close(); err != nil {
			utils.LogError("EVENTS_CLOSE", err)
		}
	}()

	domains := services.NewDomainAllowlist(cfg.RegistrationDomains, cfg.RegistrationDomainsFile)
	domains.StartRefresher(ctx, 5*time.Second)
	if n := domains.Len(); n > 0 {
		utils.LogInfo("Registration restricted by email domain", "entries", n)
	}

	readyState := server.NewReadyState(pool, rdb, cfg)
	app := server.CreateFiberApp(cfg, readyState, startTime)
	setupRoutes(app, &appDeps{
		cfg:        cfg,
		users:      database.NewUserRepository(pool),
		rdb:        rdb,
		events:     events,
		domains:    domains,
		readyState: readyState,
	})

	cleanupDone := make(chan struct{})
	go func() {
		defer close(cleanupDone)
		initDependencies(ctx, cfg, pool, rdb, readyState)
		if ctx.Err() != nil {
			return
		}
		<-services.StartCleanupService(ctx, database.NewUserRepository(pool), time.Hour)
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenWithIPv6Fallback(app, cfg.Port)
	}()

	select {
	case err := <-serveErr:
		stop()
		<-cleanupDone
		return err
	case <-ctx.Done():
	}

	utils.LogInfo("Shutdown signal received, draining connections", "timeout", cfg.ShutdownTimeout)
	if err := app.ShutdownWithTimeout(cfg.ShutdownTimeout); err != nil {
		utils.LogError("SHUTDOWN", err)
	}
	<-cleanupDone
	return <-serveErr
}

// initDependencies brings Postgres and Redis up in the background so the
// listener can bind immediately. Each step retries until it succeeds or ctx
// is cancelled.
func initDependencies(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client, readyState *server.ReadyState) {
	database.EnsureDatabase(ctx, cfg.DatabaseURL)

	retry(ctx, "database migration", func(ctx context.Context) error {
		return database.Migrate(ctx, pool)
	})
	if ctx.Err() != nil {
		return
	}
	readyState.MarkDatabaseReady()
	utils.LogInfo("Database ready")

	retry(ctx, "redis ping", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	if ctx.Err() != nil {
		return
	}
	readyState.MarkRedisReady()
	utils.LogInfo("Redis ready")
}

func retry(ctx context.Context, name string, fn func(context.Context) error) {
	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return
		}
		utils.LogError("STARTUP", err, "step", name, "attempt", attempt)

		select {
		case <-ctx.Done():
			return
		case <-time.After(dependencyRetryInterval):
		}
	}
}

// appDeps carries what setupRoutes needs from main.
type appDeps struct {
	cfg        *config.Config
	users      handlers.UserStore
	rdb        *redis.Client
	events     services.EventPublisher
	domains    handlers.RegistrationPolicy
	readyState *server.ReadyState
}

func newAuthHandler(deps *appDeps) (*handlers.AuthHandler, *middleware.RateLimitConfig) {
	cryptoService := crypto.NewCryptoService(deps.cfg.EncryptionKey)
	sessions := services.NewSessionStore(deps.rdb, cryptoService, deps.cfg.SessionDuration)
	tokens := services.NewTokenIssuer(deps.cfg.JWTSecret, deps.cfg.TokenIssuer, deps.cfg.AccessTokenTTL)

	h := handlers.NewAuthHandler(deps.users, sessions, tokens, cryptoService, deps.events, deps.cfg)
	if deps.domains != nil {
		h.SetRegistrationPolicy(deps.domains)
	}
	return h, middleware.NewRateLimitConfig(middleware.NewRedisLimiterStorage(deps.rdb))
}
