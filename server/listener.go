package server

import (
	"context"
	"net"
	"syscall"

	"github.com/gofiber/fiber/v2"

	"authapi/utils"
)

// Bind opens the listening socket for port. It tries a dual-stack [::]
// socket first and falls back to IPv4 when the host has no IPv6 stack.
func Bind(port string) (net.Listener, error) {
	addrIPv6 := "[::]:" + port

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			if network != "tcp6" {
				return nil
			}

			var sockErr error
			if controlErr := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IPV6, syscall.IPV6_V6ONLY, 0)
			}); controlErr != nil {
				return controlErr
			}
			return sockErr
		},
	}

	ln6, err := lc.Listen(context.Background(), "tcp6", addrIPv6)
	if err == nil {
		return ln6, nil
	}
	utils.LogInfo("IPv6 bind failed, falling back to IPv4", "addr", addrIPv6, "error", err)

	return net.Listen("tcp4", "0.0.0.0:"+port)
}

// ListenWithIPv6Fallback binds port, logs the startup line once the socket
// is open, and serves app until it is shut down.
func ListenWithIPv6Fallback(app *fiber.App, port string) error {
	ln, err := Bind(port)
	if err != nil {
		return err
	}
	utils.InfoLogger.Printf("🚀 Server running on http://localhost:%s", port)
	return app.Listener(ln)
}
