package credstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*HybridStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	st, err := NewHybrid(Options{RedisAddr: mr.Addr(), Namespace: "test"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}

// ─── HybridStore ──────────────────────────────────────────────────────────────

func TestHybrid_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	st, mr := newTestStore(t)
	defer mr.Close()

	require.NoError(t, st.Set(ctx, AccessToken, "tok-1"))
	require.NoError(t, st.Set(ctx, RefreshToken, "ref-1"))

	got, err := st.Get(ctx, AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", got)

	raw, err := mr.Get("portal:test:accessToken")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", raw, "keys are namespaced in redis")

	require.NoError(t, st.Delete(ctx, AccessToken, RefreshToken))
	got, err = st.Get(ctx, AccessToken)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.False(t, mr.Exists("portal:test:refreshToken"))
}

func TestHybrid_MissingKeyIsEmpty(t *testing.T) {
	st, mr := newTestStore(t)
	defer mr.Close()

	got, err := st.Get(context.Background(), StoreSlug)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHybrid_DeleteNoKeys(t *testing.T) {
	st, mr := newTestStore(t)
	defer mr.Close()

	require.NoError(t, st.Delete(context.Background()))
}

func TestHybrid_NamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	a, err := NewHybrid(Options{RedisAddr: mr.Addr(), Namespace: "a"}, nil)
	require.NoError(t, err)
	defer a.Close() //nolint:errcheck
	b, err := NewHybrid(Options{RedisAddr: mr.Addr(), Namespace: "b"}, nil)
	require.NoError(t, err)
	defer b.Close() //nolint:errcheck

	require.NoError(t, a.Set(ctx, StoreSlug, "acme"))
	got, err := b.Get(ctx, StoreSlug)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHybrid_RedisDownSurfacesError(t *testing.T) {
	st, mr := newTestStore(t)
	mr.Close()

	_, err := st.Get(context.Background(), AccessToken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis get")
}

// ─── HealthCheck / Close ──────────────────────────────────────────────────────

func TestHealthCheck_Success(t *testing.T) {
	st, mr := newTestStore(t)
	defer mr.Close()

	require.NoError(t, st.HealthCheck(context.Background()))
}

func TestHealthCheck_RedisNil(t *testing.T) {
	st := &HybridStore{redis: nil}
	err := st.HealthCheck(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis not initialized")
}

func TestHealthCheck_RedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := &HybridStore{redis: rdb, namespace: "x"}
	mr.Close()

	err = st.HealthCheck(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

func TestClose_NilComponents(t *testing.T) {
	st := &HybridStore{}
	require.NoError(t, st.Close())
}

// ─── NewHybrid ────────────────────────────────────────────────────────────────

func TestNewHybrid_InvalidRedis(t *testing.T) {
	_, err := NewHybrid(Options{RedisAddr: "localhost:1"}, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

func TestNewHybrid_InvalidPGURL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	_, err = NewHybrid(Options{RedisAddr: mr.Addr(), PGURL: "not-a-valid-pg-url"}, nil)
	assert.Error(t, err)
}

func TestNewHybrid_DefaultNamespace(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	st, err := NewHybrid(Options{RedisAddr: mr.Addr()}, nil)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	require.NoError(t, st.Set(context.Background(), UserName, "Ada"))
	assert.True(t, mr.Exists("portal:default:user_name"))
}

// ─── MemoryStore ──────────────────────────────────────────────────────────────

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	var st Store = NewMemory()

	require.NoError(t, st.Set(ctx, AccessToken, "a"))
	require.NoError(t, st.Set(ctx, StoreSlug, "acme"))

	got, _ := st.Get(ctx, AccessToken)
	assert.Equal(t, "a", got)

	require.NoError(t, st.Delete(ctx, AccessToken))
	got, _ = st.Get(ctx, AccessToken)
	assert.Empty(t, got)

	slug, _ := st.Get(ctx, StoreSlug)
	assert.Equal(t, "acme", slug)
	assert.NoError(t, st.HealthCheck(ctx))
	assert.NoError(t, st.Close())
}
