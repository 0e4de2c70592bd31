package server

import (
	"bytes"
	"io"
	"net/http"
	"net/url"

	"github.com/gofiber/fiber/v2"
)

// FiberResponseWriter adapts a Fiber context to http.ResponseWriter so that
// net/http handlers such as promhttp can answer Fiber requests.
type FiberResponseWriter struct {
	ctx         *fiber.Ctx
	status      int
	header      http.Header
	wroteHeader bool
}

// NewFiberResponseWriter creates a new FiberResponseWriter adapter
func NewFiberResponseWriter(ctx *fiber.Ctx) *FiberResponseWriter {
	return &FiberResponseWriter{
		ctx:    ctx,
		status: http.StatusOK,
		header: make(http.Header),
	}
}

func (w *FiberResponseWriter) Header() http.Header {
	return w.header
}

func (w *FiberResponseWriter) Write(data []byte) (int, error) {
	if !w.wroteHeader {
		w.flushHeader()
	}
	return w.ctx.Write(data)
}

func (w *FiberResponseWriter) WriteHeader(statusCode int) {
	if w.wroteHeader {
		return
	}
	w.status = statusCode
	w.flushHeader()
}

func (w *FiberResponseWriter) flushHeader() {
	w.wroteHeader = true
	for key, values := range w.header {
		for _, value := range values {
			w.ctx.Set(key, value)
		}
	}
	w.ctx.Status(w.status)
}

// WrapHTTPHandler serves h from a Fiber route.
func WrapHTTPHandler(h http.Handler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req := &http.Request{
			Method:     c.Method(),
			URL:        &url.URL{Path: c.Path(), RawQuery: string(c.Request().URI().QueryString())},
			Header:     make(http.Header),
			Body:       io.NopCloser(bytes.NewReader(c.Body())),
			Host:       string(c.Request().Host()),
			RequestURI: c.OriginalURL(),
		}
		c.Request().Header.VisitAll(func(key, value []byte) {
			req.Header.Add(string(key), string(value))
		})
		req = req.WithContext(c.UserContext())

		h.ServeHTTP(NewFiberResponseWriter(c), req)
		return nil
	}
}
