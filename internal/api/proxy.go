package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/shopforge/portal-agent/internal/httpclient"
	"github.com/shopforge/portal-agent/internal/pipeline"
)

// forwardedHeaders are copied from the caller to the backend. Authorization
// is never forwarded: the pipeline attaches the agent's own token.
var forwardedHeaders = []string{"Accept", "Accept-Language", "Content-Type", "X-Request-Id"}

// ProxyHandler forwards /api/* calls to the backend through the authenticated pipeline.
type ProxyHandler struct {
	logger *zap.Logger
	exec   *httpclient.Executor
}

// NewProxyHandler expects exec to send through the pipeline client.
func NewProxyHandler(logger *zap.Logger, exec *httpclient.Executor) *ProxyHandler {
	return &ProxyHandler{logger: logger, exec: exec}
}

// Forward relays the request and passes the backend's answer through untouched.
func (h *ProxyHandler) Forward(c *fiber.Ctx) error {
	target, err := h.exec.Resolve(c.OriginalURL())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid path"})
	}

	var body io.Reader
	if raw := c.Body(); len(raw) > 0 {
		body = bytes.NewReader(append([]byte(nil), raw...))
	}
	req, err := http.NewRequestWithContext(c.UserContext(), c.Method(), target.String(), body)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	for _, name := range forwardedHeaders {
		if v := c.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}

	resp, err := h.exec.Do(c.UserContext(), req)
	if err != nil {
		if errors.Is(err, pipeline.ErrSessionExpired) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":    "session expired",
				"redirect": "/login",
			})
		}
		h.logger.Warn("api.proxy_failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "backend unavailable"})
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "backend response truncated"})
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		c.Set(fiber.HeaderContentType, ct)
	}
	return c.Status(resp.StatusCode).Send(payload)
}
