package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/shopforge/portal-agent/internal/credstore"
	"github.com/shopforge/portal-agent/internal/identity"
	"github.com/shopforge/portal-agent/internal/metrics"
	"github.com/shopforge/portal-agent/internal/tenant"
	"github.com/shopforge/portal-agent/pkg/model"
)

// Authenticator exchanges credentials for tokens.
type Authenticator interface {
	Login(ctx context.Context, creds model.Credentials) (identity.LoginResult, error)
}

// Discoverer resolves the signed-in user's store.
type Discoverer interface {
	Discover(ctx context.Context) (model.TenantContext, error)
}

// Publisher emits session lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, evt model.SessionEvent) error
}

// Service owns the agent's session: it writes tokens on login, erases them on
// logout and reacts when the pipeline gives up on refreshing.
type Service struct {
	logger    *zap.Logger
	store     credstore.Store
	auth      Authenticator
	discovery Discoverer
	pub       Publisher

	loginRequired atomic.Bool
}

// NewService wires a Service. discovery and pub may be nil.
func NewService(logger *zap.Logger, store credstore.Store, auth Authenticator, discovery Discoverer, pub Publisher) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		logger:    logger,
		store:     store,
		auth:      auth,
		discovery: discovery,
		pub:       pub,
	}
}

// Login signs in, persists the token pair and display fields, and resolves
// the tenant when no slug is stored for this user yet.
func (s *Service) Login(ctx context.Context, creds model.Credentials) (model.Session, error) {
	res, err := s.auth.Login(ctx, creds)
	if err != nil {
		return model.Session{}, err
	}

	prevEmail, err := s.store.Get(ctx, credstore.UserEmail)
	if err != nil {
		return model.Session{}, fmt.Errorf("read stored user: %w", err)
	}
	if prevEmail != "" && prevEmail != res.UserEmail {
		// a different account owns a different store
		if err := s.store.Delete(ctx, credstore.StoreSlug); err != nil {
			return model.Session{}, fmt.Errorf("clear previous tenant: %w", err)
		}
	}

	// The refresh token goes first: an access token is never stored without
	// the refresh token issued with it.
	values := []struct{ key, val string }{
		{credstore.RefreshToken, res.Tokens.Refresh},
		{credstore.AccessToken, res.Tokens.Access},
		{credstore.UserName, res.UserName},
		{credstore.UserEmail, res.UserEmail},
	}
	for _, kv := range values {
		if kv.val == "" {
			err = s.store.Delete(ctx, kv.key)
		} else {
			err = s.store.Set(ctx, kv.key, kv.val)
		}
		if err != nil {
			if derr := s.store.Delete(ctx, credstore.AccessToken, credstore.RefreshToken); derr != nil {
				s.logger.Error("session.clear_partial_login_failed", zap.Error(derr))
			}
			return model.Session{}, fmt.Errorf("persist %s: %w", kv.key, err)
		}
	}

	slug, err := s.store.Get(ctx, credstore.StoreSlug)
	if err != nil {
		return model.Session{}, fmt.Errorf("read store slug: %w", err)
	}
	if slug == "" && s.discovery != nil {
		slug = s.discover(ctx)
	}

	s.loginRequired.Store(false)
	s.logger.Info("session.login_success",
		zap.String("user_email", res.UserEmail),
		zap.String("store_slug", slug))
	s.publish(ctx, model.NewSessionEvent(model.SessionLoggedIn, slug, res.UserEmail))

	return s.Status(ctx)
}

func (s *Service) discover(ctx context.Context) string {
	tc, err := s.discovery.Discover(ctx)
	switch {
	case errors.Is(err, tenant.ErrNoTenant):
		s.logger.Info("session.no_tenant")
		return ""
	case err != nil:
		s.logger.Warn("session.tenant_discovery_failed", zap.Error(err))
		return ""
	}
	if err := s.store.Set(ctx, credstore.StoreSlug, tc.StoreSlug); err != nil {
		s.logger.Error("session.persist_slug_failed", zap.Error(err))
		return ""
	}
	return tc.StoreSlug
}

// Logout erases every session key, tenant included.
func (s *Service) Logout(ctx context.Context) error {
	slug, _ := s.store.Get(ctx, credstore.StoreSlug)
	email, _ := s.store.Get(ctx, credstore.UserEmail)

	if err := s.store.Delete(ctx,
		credstore.AccessToken,
		credstore.RefreshToken,
		credstore.StoreSlug,
		credstore.UserName,
		credstore.UserEmail,
	); err != nil {
		return fmt.Errorf("logout: %w", err)
	}

	s.logger.Info("session.logout", zap.String("user_email", email))
	s.publish(ctx, model.NewSessionEvent(model.SessionLoggedOut, slug, email))
	return nil
}

// Expire is the sign-out hook for the request pipeline. The tokens are
// already gone when it runs; it flags that a new login is required and
// announces it once until the next successful login.
func (s *Service) Expire(ctx context.Context, reason error) {
	if !s.loginRequired.CompareAndSwap(false, true) {
		s.logger.Debug("session.expire_repeated", zap.Error(reason))
		return
	}

	slug, _ := s.store.Get(ctx, credstore.StoreSlug)
	email, _ := s.store.Get(ctx, credstore.UserEmail)
	s.logger.Warn("session.expired",
		zap.String("store_slug", slug),
		zap.Error(reason))

	evt := model.NewSessionEvent(model.SessionExpired, slug, email)
	if reason != nil {
		evt.Reason = reason.Error()
	}
	s.publish(ctx, evt)
}

// LoginRequired reports whether the session expired since the last login.
func (s *Service) LoginRequired() bool {
	return s.loginRequired.Load()
}

// Status reports the current session as stored.
func (s *Service) Status(ctx context.Context) (model.Session, error) {
	keys := []string{credstore.AccessToken, credstore.StoreSlug, credstore.UserName, credstore.UserEmail}
	vals := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := s.store.Get(ctx, k)
		if err != nil {
			return model.Session{}, fmt.Errorf("read %s: %w", k, err)
		}
		vals[k] = v
	}

	sess := model.Session{
		Authenticated: vals[credstore.AccessToken] != "",
		LoginRequired: s.loginRequired.Load(),
		StoreSlug:     vals[credstore.StoreSlug],
		UserName:      vals[credstore.UserName],
		UserEmail:     vals[credstore.UserEmail],
	}
	if exp, ok := identity.ExpiresAt(vals[credstore.AccessToken]); ok {
		sess.AccessExpiresAt = &exp
	}
	return sess, nil
}

func (s *Service) publish(ctx context.Context, evt model.SessionEvent) {
	metrics.IncSessionEvent(string(evt.Type))
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(context.WithoutCancel(ctx), evt); err != nil {
		s.logger.Warn("session.publish_failed",
			zap.String("type", string(evt.Type)),
			zap.Error(err))
	}
}
