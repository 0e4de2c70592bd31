package utils

import (
	"net"
	"strings"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
)

var privateIPBlocks []*net.IPNet

// TrustProxyHeaders controls whether ClientIP looks at proxy headers at all.
var TrustProxyHeaders atomic.Bool

func init() {
	blocks := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	}
	for _, cidr := range blocks {
		if _, block, err := net.ParseCIDR(cidr); err == nil {
			privateIPBlocks = append(privateIPBlocks, block)
		}
	}
}

// ClientIP returns the best-effort client address. Proxy headers are only
// consulted when TrustProxyHeaders is set; the socket peer is the fallback.
func ClientIP(c *fiber.Ctx) string {
	if !TrustProxyHeaders.Load() {
		return c.IP()
	}
	if ip := parsedHeaderIP(c.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if ip := forwardedForIP(c.Get(fiber.HeaderXForwardedFor)); ip != "" {
		return ip
	}
	if ip := parsedHeaderIP(c.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return c.IP()
}

// forwardedForIP walks an X-Forwarded-For chain from the right, skipping
// private hops (our own proxies), and returns the first public address. Hops
// left of it were supplied by the client and are ignored. When every hop is
// private the leftmost valid one is used.
func forwardedForIP(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Split(header, ",")
	var fallback string
	for i := len(parts) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(parts[i])
		if candidate == "" || strings.EqualFold(candidate, "unknown") {
			continue
		}
		parsed := net.ParseIP(candidate)
		if parsed == nil {
			continue
		}
		if IsPublicIP(parsed) {
			return candidate
		}
		fallback = candidate
	}
	return fallback
}

func parsedHeaderIP(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || net.ParseIP(value) == nil {
		return ""
	}
	return value
}

// IsPublicIP reports whether ip is routable on the public internet.
func IsPublicIP(ip net.IP) bool {
	if ip == nil || ip.IsLoopback() || ip.IsUnspecified() {
		return false
	}
	for _, block := range privateIPBlocks {
		if block.Contains(ip) {
			return false
		}
	}
	return true
}
