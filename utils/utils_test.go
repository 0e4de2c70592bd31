package utils

import (
	"bytes"
	"errors"
	"io"
	"log"
	"net"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPublicIP(t *testing.T) {
	tests := []struct {
		name     string
		ip       string
		expected bool
	}{
		{"Google DNS", "8.8.8.8", true},
		{"Cloudflare DNS", "1.1.1.1", true},
		{"Private 10.x", "10.0.0.1", false},
		{"Private 172.16.x", "172.16.0.1", false},
		{"Private 192.168.x", "192.168.1.1", false},
		{"Localhost", "127.0.0.1", false},
		{"IPv6 localhost", "::1", false},
		{"IPv6 private fc00", "fc00::1", false},
		{"IPv6 link-local", "fe80::1", false},
		{"Unspecified IPv4", "0.0.0.0", false},
		{"Unspecified IPv6", "::", false},
		{"Nil IP", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ip net.IP
			if tt.ip != "" {
				ip = net.ParseIP(tt.ip)
			}
			assert.Equal(t, tt.expected, IsPublicIP(ip), "IP: %s", tt.ip)
		})
	}
}

func clientIPFor(t *testing.T, headers map[string]string) string {
	t.Helper()
	app := fiber.New()
	app.Get("/ip", func(c *fiber.Ctx) error {
		return c.SendString(ClientIP(c))
	})

	req := httptest.NewRequest(fiber.MethodGet, "/ip", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestClientIP(t *testing.T) {
	defer TrustProxyHeaders.Store(false)

	t.Run("Proxy headers ignored when trust disabled", func(t *testing.T) {
		TrustProxyHeaders.Store(false)
		ip := clientIPFor(t, map[string]string{"X-Forwarded-For": "8.8.8.8"})
		assert.NotEqual(t, "8.8.8.8", ip)
		assert.NotEmpty(t, ip)
	})

	t.Run("CF-Connecting-IP wins when trusted", func(t *testing.T) {
		TrustProxyHeaders.Store(true)
		ip := clientIPFor(t, map[string]string{
			"CF-Connecting-IP": "1.2.3.4",
			"X-Forwarded-For":  "8.8.8.8",
		})
		assert.Equal(t, "1.2.3.4", ip)
	})

	t.Run("X-Forwarded-For skips private proxy hops", func(t *testing.T) {
		TrustProxyHeaders.Store(true)
		ip := clientIPFor(t, map[string]string{"X-Forwarded-For": "10.0.0.1, 8.8.8.8"})
		assert.Equal(t, "8.8.8.8", ip)
	})

	t.Run("X-Forwarded-For ignores client supplied hops", func(t *testing.T) {
		TrustProxyHeaders.Store(true)
		for _, spoofed := range []string{"1.2.3.4", "5.6.7.8"} {
			ip := clientIPFor(t, map[string]string{"X-Forwarded-For": spoofed + ", 8.8.8.8, 10.0.0.2"})
			assert.Equal(t, "8.8.8.8", ip)
		}
	})

	t.Run("X-Forwarded-For falls back to leftmost private hop", func(t *testing.T) {
		TrustProxyHeaders.Store(true)
		ip := clientIPFor(t, map[string]string{"X-Forwarded-For": "unknown, 10.0.0.1, 192.168.1.1"})
		assert.Equal(t, "10.0.0.1", ip)
	})

	t.Run("X-Real-IP used when nothing else present", func(t *testing.T) {
		TrustProxyHeaders.Store(true)
		ip := clientIPFor(t, map[string]string{"X-Real-IP": "9.9.9.9"})
		assert.Equal(t, "9.9.9.9", ip)
	})

	t.Run("Garbage headers fall back to peer address", func(t *testing.T) {
		TrustProxyHeaders.Store(true)
		ip := clientIPFor(t, map[string]string{
			"CF-Connecting-IP": "not-an-ip",
			"X-Real-IP":        "also-bad",
		})
		assert.NotEqual(t, "not-an-ip", ip)
		assert.NotEqual(t, "also-bad", ip)
	})
}

func TestLogRequestError(t *testing.T) {
	var buf bytes.Buffer
	original := ErrorLogger
	ErrorLogger = log.New(&buf, "", 0)
	defer func() { ErrorLogger = original }()

	userID := uuid.New()
	app := fiber.New()
	app.Get("/boom", func(c *fiber.Ctx) error {
		c.Locals("request_id", "req-123")
		c.Locals("user_id", userID)
		LogRequestError(c, "LOGIN", errors.New("kaboom"), "extra", "value")
		LogRequestError(c, "IGNORED", nil)
		return c.SendStatus(fiber.StatusNoContent)
	})

	_, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/boom", nil), -1)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "req-123")
	assert.Contains(t, out, userID.String())
	assert.Contains(t, out, "kaboom")
	assert.Contains(t, out, "extra value")
	assert.NotContains(t, out, "IGNORED")
}

func TestLogErrorIgnoresNil(t *testing.T) {
	var buf bytes.Buffer
	original := ErrorLogger
	ErrorLogger = log.New(&buf, "", 0)
	defer func() { ErrorLogger = original }()

	LogError("NOTHING", nil)
	assert.Empty(t, buf.String())

	LogError("SOMETHING", errors.New("bad"), "k", "v")
	assert.Contains(t, buf.String(), "SOMETHING bad k v")
}
