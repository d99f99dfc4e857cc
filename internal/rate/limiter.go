package rate

import (
	"context"
	"sync"

	xrate "golang.org/x/time/rate"
)

// Config defines rate limiting parameters for one upstream host.
// RequestsPerSecond <= 0 disables limiting.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

func (c Config) limiter() *xrate.Limiter {
	if c.RequestsPerSecond <= 0 {
		return xrate.NewLimiter(xrate.Inf, 0)
	}
	burst := c.Burst
	if burst < 1 {
		burst = 1
	}
	return xrate.NewLimiter(xrate.Limit(c.RequestsPerSecond), burst)
}

// Manager holds one token bucket per key.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*xrate.Limiter
	defaults Config
}

func NewManager(defaults Config) *Manager {
	return &Manager{
		limiters: make(map[string]*xrate.Limiter),
		defaults: defaults,
	}
}

func (m *Manager) GetLimiter(key string) *xrate.Limiter {
	m.mu.RLock()
	if lim, ok := m.limiters[key]; ok {
		m.mu.RUnlock()
		return lim
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[key]; ok {
		return lim
	}
	lim := m.defaults.limiter()
	m.limiters[key] = lim
	return lim
}

// Wait blocks until key may send or ctx is done.
func (m *Manager) Wait(ctx context.Context, key string) error {
	return m.GetLimiter(key).Wait(ctx)
}

// Allow reports whether key may send now without waiting.
func (m *Manager) Allow(key string) bool {
	return m.GetLimiter(key).Allow()
}
