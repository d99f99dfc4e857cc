package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shopforge/portal-agent/internal/credstore"
)

// Broker is a message broker connection reported by /health.
type Broker interface {
	Connected() bool
}

// RegisterRoutes mounts every agent endpoint. broker may be nil when events are disabled.
func RegisterRoutes(app *fiber.App, st credstore.Store, broker Broker,
	sessionHandler *SessionHandler,
	proxyHandler *ProxyHandler,
) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", func(c *fiber.Ctx) error {
		checks := map[string]string{"store": "ok"}
		status := "ok"
		code := fiber.StatusOK

		if broker != nil {
			checks["broker"] = "ok"
			if !broker.Connected() {
				checks["broker"] = "disconnected"
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			}
		}

		healthCtx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := st.HealthCheck(healthCtx); err != nil {
			checks["store"] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	})

	app.Get("/session", sessionHandler.Status)
	app.Post("/session/login", sessionHandler.Login)
	app.Post("/session/logout", sessionHandler.Logout)

	app.All("/api/*", proxyHandler.Forward)
}
