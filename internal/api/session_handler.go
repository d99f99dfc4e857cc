package api

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/shopforge/portal-agent/internal/identity"
	"github.com/shopforge/portal-agent/pkg/model"
)

// SessionService is the session surface the handlers need.
type SessionService interface {
	Login(ctx context.Context, creds model.Credentials) (model.Session, error)
	Logout(ctx context.Context) error
	Status(ctx context.Context) (model.Session, error)
}

type SessionHandler struct {
	logger  *zap.Logger
	service SessionService
}

func NewSessionHandler(logger *zap.Logger, service SessionService) *SessionHandler {
	return &SessionHandler{logger: logger, service: service}
}

// Login handles POST /session/login.
func (h *SessionHandler) Login(c *fiber.Ctx) error {
	var creds model.Credentials
	if err := c.BodyParser(&creds); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	creds.Email = strings.TrimSpace(creds.Email)
	if creds.Email == "" || creds.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "email and password are required"})
	}

	sess, err := h.service.Login(c.UserContext(), creds)
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid credentials"})
	case err != nil:
		h.logger.Error("api.login_failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "login failed"})
	}
	return c.JSON(sess)
}

// Logout handles POST /session/logout.
func (h *SessionHandler) Logout(c *fiber.Ctx) error {
	if err := h.service.Logout(c.UserContext()); err != nil {
		h.logger.Error("api.logout_failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "logout failed"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Status handles GET /session.
func (h *SessionHandler) Status(c *fiber.Ctx) error {
	sess, err := h.service.Status(c.UserContext())
	if err != nil {
		h.logger.Error("api.session_status_failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "session unavailable"})
	}
	return c.JSON(sess)
}
