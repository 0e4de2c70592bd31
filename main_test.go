package main

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authapi/config"
	"authapi/database"
	"authapi/server"
	"authapi/services"
)

// emptyUserStore knows no users and accepts every write.
type emptyUserStore struct{}

func (emptyUserStore) Create(ctx context.Context, email, name, passwordHash string) (*database.User, error) {
	return &database.User{ID: uuid.New(), Email: database.NormalizeEmail(email), Name: name, PasswordHash: passwordHash}, nil
}

func (emptyUserStore) GetByEmail(ctx context.Context, email string) (*database.User, error) {
	return nil, database.ErrUserNotFound
}

func (emptyUserStore) GetByID(ctx context.Context, id uuid.UUID) (*database.User, error) {
	return nil, database.ErrUserNotFound
}

func (emptyUserStore) RecordFailedLogin(ctx context.Context, id uuid.UUID) (int, error) {
	return 0, database.ErrUserNotFound
}

func (emptyUserStore) LockUntil(ctx context.Context, id uuid.UUID, until time.Time) error {
	return nil
}

func (emptyUserStore) RecordSuccessfulLogin(ctx context.Context, id uuid.UUID) error { return nil }

func (emptyUserStore) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return nil
}

func (emptyUserStore) SetMFASecret(ctx context.Context, id uuid.UUID, encrypted []byte) error {
	return nil
}

func (emptyUserStore) EnableMFA(ctx context.Context, id uuid.UUID) error { return nil }

func (emptyUserStore) DisableMFA(ctx context.Context, id uuid.UUID) error { return nil }

func (emptyUserStore) SetBackupCodes(ctx context.Context, id uuid.UUID, hashes [][]byte) error {
	return nil
}

func (emptyUserStore) ConsumeBackupCode(ctx context.Context, id uuid.UUID, hash []byte) (bool, error) {
	return false, nil
}

func (emptyUserStore) BackupCodesRemaining(ctx context.Context, id uuid.UUID) (int, error) {
	return 0, nil
}

func (emptyUserStore) LogAudit(ctx context.Context, userID uuid.UUID, action, ip, userAgent string) error {
	return nil
}

func newTestServer(t *testing.T) (*fiber.App, *server.ReadyState) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		Port:                config.DefaultPort,
		FrontendURL:         config.DefaultFrontendURL,
		AllowedOrigins:      []string{config.DefaultFrontendURL},
		JWTSecret:           []byte("main-test-jwt-secret-0123456789abcdef"),
		EncryptionKey:       []byte("main-test-encryption-key-0123456789"),
		AccessTokenTTL:      15 * time.Minute,
		SessionDuration:     time.Hour,
		TokenIssuer:         "authapi",
		MaxLoginAttempts:    5,
		LockoutDuration:     15 * time.Minute,
		RegistrationEnabled: true,
		MFAIssuer:           "AuthAPI",
		BodyLimit:           100 * 1024,
	}

	readyState := server.NewReadyState(nil, rdb, cfg)
	app := server.CreateFiberApp(cfg, readyState, time.Now())
	setupRoutes(app, &appDeps{
		cfg:        cfg,
		users:      emptyUserStore{},
		rdb:        rdb,
		events:     services.NopPublisher{},
		readyState: readyState,
	})
	return app, readyState
}

func TestHealthRoute(t *testing.T) {
	app, _ := newTestServer(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, `{"status":"ok","message":"Server is running"}`, string(body))
}

func TestAuthRoutesWaitForDependencies(t *testing.T) {
	app, readyState := newTestServer(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/auth/registration", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	readyState.MarkDatabaseReady()
	readyState.MarkRedisReady()

	resp, err = app.Test(httptest.NewRequest("GET", "/api/auth/registration", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"enabled":true}`, string(body))
}

func TestAuthRouterIsMounted(t *testing.T) {
	app, readyState := newTestServer(t)
	readyState.MarkDatabaseReady()
	readyState.MarkRedisReady()

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"login unknown user", "POST", "/api/auth/login", `{"email":"ghost@example.com","password":"whatever-password"}`, fiber.StatusUnauthorized},
		{"register", "POST", "/api/auth/register", `{"email":"new@example.com","password":"a long enough password"}`, fiber.StatusCreated},
		{"me without token", "GET", "/api/auth/me", "", fiber.StatusUnauthorized},
		{"unknown auth path", "GET", "/api/auth/does-not-exist", "", fiber.StatusNotFound},
		{"health under auth prefix", "GET", "/api/auth/health", "", fiber.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req = httptest.NewRequest(tt.method, tt.path, nil)
			if tt.body != "" {
				req = httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
				req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestHealthWithTextBody(t *testing.T) {
	app, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/health", strings.NewReader("hello"))
	req.Header.Set(fiber.HeaderContentType, "text/plain")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, `{"status":"ok","message":"Server is running"}`, string(body))
}

// The global middleware lets form bodies through; the auth handler refuses them.
func TestAuthRejectsNonJSONBody(t *testing.T) {
	app, readyState := newTestServer(t)
	readyState.MarkDatabaseReady()
	readyState.MarkRedisReady()

	req := httptest.NewRequest("POST", "/api/auth/login", strings.NewReader("email=a&password=b"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationForm)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestCORSForFrontend(t *testing.T) {
	app, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(fiber.HeaderOrigin, config.DefaultFrontendURL)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultFrontendURL, resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))

	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(fiber.HeaderOrigin, "https://attacker.example")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))
}

func TestDocsRoutes(t *testing.T) {
	app, _ := newTestServer(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/docs/openapi.json", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"/api/auth/login"`)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/docs", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentType), "text/html")
}
