package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shopforge/portal-agent/internal/httpclient"
	"github.com/shopforge/portal-agent/pkg/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	exec, err := httpclient.New(zap.NewNop(), srv.URL, nil, srv.Client(), 0, "identity")
	require.NoError(t, err)
	return NewClient(zap.NewNop(), exec, "api/auth/login/", "api/auth/token/refresh/")
}

// ─── Login ────────────────────────────────────────────────────────────────────

func TestLogin_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/auth/login/", r.URL.Path)
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "owner@acme.test", in["email"])
		assert.Equal(t, "s3cret", in["password"])
		_, _ = w.Write([]byte(`{"access":"A1","refresh":"R1","user":{"name":"Ada","email":"ada@acme.test"}}`))
	})

	res, err := c.Login(context.Background(), model.Credentials{Email: "owner@acme.test", Password: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, model.TokenPair{Access: "A1", Refresh: "R1"}, res.Tokens)
	assert.Equal(t, "Ada", res.UserName)
	assert.Equal(t, "ada@acme.test", res.UserEmail)
}

func TestLogin_AlternateFieldNames(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"A1","refresh_token":"R1"}`))
	})

	res, err := c.Login(context.Background(), model.Credentials{Email: "owner@acme.test", Password: "x"})
	require.NoError(t, err)
	assert.Equal(t, model.TokenPair{Access: "A1", Refresh: "R1"}, res.Tokens)
	assert.Equal(t, "owner@acme.test", res.UserEmail, "falls back to the login email")
}

func TestLogin_Rejected(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusBadRequest} {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"detail":"No active account found"}`))
		})
		_, err := c.Login(context.Background(), model.Credentials{Email: "a", Password: "b"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidCredentials, "status %d", status)
	}
}

func TestLogin_ServerErrorIsNotInvalidCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.Login(context.Background(), model.Credentials{Email: "a", Password: "b"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidCredentials))
}

func TestLogin_MissingAccessToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"refresh":"R1"}`))
	})
	_, err := c.Login(context.Background(), model.Credentials{Email: "a", Password: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no access token")
}

// ─── Refresh ──────────────────────────────────────────────────────────────────

func TestRefresh_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/token/refresh/", r.URL.Path)
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "R1", in["refresh"])
		_, _ = w.Write([]byte(`{"access":"A2"}`))
	})

	pair, err := c.Refresh(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, model.TokenPair{Access: "A2"}, pair, "no rotation reported")
}

func TestRefresh_Rotated(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access":"A2","refresh":"R2"}`))
	})
	pair, err := c.Refresh(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, "R2", pair.Refresh)
}

func TestRefresh_RejectedIsStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Token is invalid or expired"}`))
	})
	_, err := c.Refresh(context.Background(), "R1")
	require.Error(t, err)

	var se *httpclient.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Status)
}

// ─── Claims ───────────────────────────────────────────────────────────────────

func TestExpiresAt(t *testing.T) {
	exp := time.Now().Add(5 * time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("not-our-key"))
	require.NoError(t, err)

	got, ok := ExpiresAt(signed)
	require.True(t, ok)
	assert.True(t, exp.Equal(got))
}

func TestExpiresAt_Opaque(t *testing.T) {
	_, ok := ExpiresAt("opaque-token")
	assert.False(t, ok)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "42"}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, ok = ExpiresAt(noExp)
	assert.False(t, ok)
}
