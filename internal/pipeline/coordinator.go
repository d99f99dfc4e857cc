package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shopforge/portal-agent/internal/credstore"
	"github.com/shopforge/portal-agent/internal/metrics"
	"github.com/shopforge/portal-agent/pkg/model"
	"github.com/shopforge/portal-agent/pkg/utils"
)

// Refresher exchanges a refresh token for a new access token.
// The returned pair's Refresh is empty unless the service rotated it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error)
}

// SessionExpiredFunc is called once per failed refresh cycle, after both tokens were erased.
type SessionExpiredFunc func(ctx context.Context, reason error)

const defaultRefreshTimeout = 15 * time.Second

// renewal is the outcome handed to a request parked behind a refresh.
type renewal struct {
	token string
	err   error
}

// Coordinator serialises access token refreshes. At most one refresh call is
// in flight; every request that needs a token while it runs is parked and
// released, in arrival order, with the refresh outcome.
type Coordinator struct {
	logger    *zap.Logger
	store     credstore.Store
	refresher Refresher
	timeout   time.Duration

	mu         sync.Mutex
	refreshing bool
	queue      []chan renewal
	onExpired  SessionExpiredFunc

	// release hands the outcome to one parked request.
	release func(chan renewal, renewal)
}

// NewCoordinator builds a Coordinator. refreshTimeout bounds each refresh call; zero selects 15s.
func NewCoordinator(logger *zap.Logger, store credstore.Store, refresher Refresher, refreshTimeout time.Duration) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if refreshTimeout <= 0 {
		refreshTimeout = defaultRefreshTimeout
	}
	return &Coordinator{
		logger:    logger,
		store:     store,
		refresher: refresher,
		timeout:   refreshTimeout,
		release:   func(ch chan renewal, r renewal) { ch <- r },
	}
}

// OnSessionExpired registers the callback fired when a refresh fails.
func (c *Coordinator) OnSessionExpired(fn SessionExpiredFunc) {
	c.mu.Lock()
	c.onExpired = fn
	c.mu.Unlock()
}

// Renew returns an access token to replace staleToken, the one a request was
// rejected with. It joins an in-flight refresh when there is one, reuses a
// token rotated since staleToken was sent, or refreshes.
func (c *Coordinator) Renew(ctx context.Context, staleToken string) (string, error) {
	c.mu.Lock()
	if c.refreshing {
		ch := make(chan renewal, 1)
		c.queue = append(c.queue, ch)
		c.mu.Unlock()
		metrics.IncQueued()

		select {
		case r := <-ch:
			return r.token, r.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if current, err := c.store.Get(ctx, credstore.AccessToken); err == nil && current != "" && current != staleToken {
		c.mu.Unlock()
		c.logger.Debug("pipeline.token_already_rotated", zap.String("token", utils.MaskToken(current)))
		return current, nil
	}

	c.refreshing = true
	c.mu.Unlock()

	token, err := c.refresh(ctx)

	c.mu.Lock()
	waiters := c.queue
	c.queue = nil
	c.refreshing = false
	onExpired := c.onExpired
	c.mu.Unlock()

	for _, w := range waiters {
		c.release(w, renewal{token: token, err: err})
	}

	if err != nil {
		c.logger.Warn("pipeline.session_expired",
			zap.Int("rejected_waiters", len(waiters)),
			zap.Error(err))
		if onExpired != nil {
			onExpired(context.WithoutCancel(ctx), err)
		}
		return "", err
	}

	c.logger.Info("pipeline.refresh_success",
		zap.Int("released_waiters", len(waiters)),
		zap.String("token", utils.MaskToken(token)))
	return token, nil
}

// refresh runs one refresh call and persists its outcome. Both tokens are
// erased on failure, including a failure to persist the new pair. The call ignores the caller's cancellation and is
// bounded by the refresh timeout only.
func (c *Coordinator) refresh(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	start := time.Now()
	refreshToken, err := c.store.Get(ctx, credstore.RefreshToken)
	if err != nil {
		return "", c.fail(ctx, "store_error", start, fmt.Errorf("read refresh token: %w", err))
	}
	if refreshToken == "" {
		return "", c.fail(ctx, "no_refresh_token", start, ErrNoRefreshToken)
	}

	pair, err := c.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return "", c.fail(ctx, "failure", start, err)
	}
	if pair.Access == "" {
		return "", c.fail(ctx, "failure", start, fmt.Errorf("refresh returned an empty access token"))
	}

	if pair.Refresh != "" && pair.Refresh != refreshToken {
		if err := c.store.Set(ctx, credstore.RefreshToken, pair.Refresh); err != nil {
			return "", c.fail(ctx, "store_error", start, fmt.Errorf("persist refresh token: %w", err))
		}
	}
	if err := c.store.Set(ctx, credstore.AccessToken, pair.Access); err != nil {
		return "", c.fail(ctx, "store_error", start, fmt.Errorf("persist access token: %w", err))
	}

	metrics.IncTokenRefresh("success")
	metrics.ObserveDuration(metrics.TokenRefreshDuration, start, "success")
	return pair.Access, nil
}

func (c *Coordinator) fail(ctx context.Context, outcome string, start time.Time, cause error) error {
	metrics.IncTokenRefresh(outcome)
	metrics.ObserveDuration(metrics.TokenRefreshDuration, start, outcome)

	if err := c.store.Delete(ctx, credstore.AccessToken, credstore.RefreshToken); err != nil {
		c.logger.Error("pipeline.clear_tokens_failed", zap.Error(err))
	}
	c.logger.Warn("pipeline.refresh_failed",
		zap.String("outcome", outcome),
		zap.Error(cause))
	return fmt.Errorf("%w: %w", ErrSessionExpired, cause)
}
