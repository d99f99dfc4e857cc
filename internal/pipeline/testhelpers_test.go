package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shopforge/portal-agent/internal/credstore"
	"github.com/shopforge/portal-agent/pkg/model"
)

// fakeRefresher counts calls and optionally blocks until gate is closed.
type fakeRefresher struct {
	calls atomic.Int32
	gate  chan struct{}
	pair  model.TokenPair
	err   error

	mu   sync.Mutex
	seen []string
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.seen = append(f.seen, refreshToken)
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return model.TokenPair{}, ctx.Err()
		}
	}
	return f.pair, f.err
}

// failingStore errors on every read.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, error) {
	return "", errors.New("store unavailable")
}

// setFailingStore is a MemoryStore whose writes to failKey error.
type setFailingStore struct {
	*credstore.MemoryStore
	failKey string
}

func (s setFailingStore) Set(ctx context.Context, key, value string) error {
	if key == s.failKey {
		return errors.New("write rejected")
	}
	return s.MemoryStore.Set(ctx, key, value)
}

// expiryRecorder captures session-expired callbacks.
type expiryRecorder struct {
	calls   atomic.Int32
	mu      sync.Mutex
	reasons []error
}

func (e *expiryRecorder) fn(_ context.Context, reason error) {
	e.calls.Add(1)
	e.mu.Lock()
	e.reasons = append(e.reasons, reason)
	e.mu.Unlock()
}

func seededStore(t *testing.T, kv map[string]string) *credstore.MemoryStore {
	t.Helper()
	st := credstore.NewMemory()
	for k, v := range kv {
		require.NoError(t, st.Set(context.Background(), k, v))
	}
	return st
}

func newTestDispatcher(t *testing.T, store credstore.Reader) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(store, Routing{
		AnchorSegment:  "api/tenants",
		ExemptPrefixes: []string{"api/auth/", "api/tenants/my-store/", "api/payments/", "api/pricing/"},
	}, zap.NewNop())
	require.NoError(t, err)
	return d
}

// queued reports how many requests are parked behind the in-flight refresh.
func queued(c *Coordinator) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func storeValue(t *testing.T, st credstore.Reader, key string) string {
	t.Helper()
	v, err := st.Get(context.Background(), key)
	require.NoError(t, err)
	return v
}
