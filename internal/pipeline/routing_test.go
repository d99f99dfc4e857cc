package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRouting(t *testing.T) Routing {
	t.Helper()
	r := Routing{
		AnchorSegment: "api/tenants/",
		ExemptPrefixes: []string{
			"/api/auth/",
			"api/token/",
			"api/tenants/my-store/",
			"api/payments/",
			"api/pricing/",
		},
	}
	require.NoError(t, r.Validate())
	return r
}

// ─── Validate ─────────────────────────────────────────────────────────────────

func TestRouting_Validate(t *testing.T) {
	tests := []struct {
		name    string
		routing Routing
		wantErr string
	}{
		{name: "empty anchor", routing: Routing{}, wantErr: "anchor segment is required"},
		{name: "slash only anchor", routing: Routing{AnchorSegment: "/"}, wantErr: "anchor segment is required"},
		{name: "empty inner segment", routing: Routing{AnchorSegment: "api//tenants"}, wantErr: "empty segment"},
		{name: "blank exempt prefix", routing: Routing{AnchorSegment: "api/tenants", ExemptPrefixes: []string{"api/auth/", " "}}, wantErr: "exempt prefix #1"},
		{name: "valid", routing: Routing{AnchorSegment: "/api/tenants/", ExemptPrefixes: []string{"/api/auth/"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.routing.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRouting_ValidateNormalisesPrefixes(t *testing.T) {
	r := Routing{AnchorSegment: "api/tenants", ExemptPrefixes: []string{"/api/auth/"}}
	require.NoError(t, r.Validate())
	assert.Equal(t, []string{"api/auth/"}, r.ExemptPrefixes)
}

// ─── Rewrite ──────────────────────────────────────────────────────────────────

func TestRouting_Rewrite(t *testing.T) {
	r := testRouting(t)

	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "inserts after anchor", path: "api/tenants/orders/", want: "api/tenants/acme/orders/"},
		{name: "keeps leading slash", path: "/api/tenants/products/42/", want: "/api/tenants/acme/products/42/"},
		{name: "anchor at end", path: "/api/tenants", want: "/api/tenants/acme"},
		{name: "anchor with trailing slash", path: "/api/tenants/", want: "/api/tenants/acme/"},
		{name: "already rewritten", path: "/api/tenants/acme/orders/", want: "/api/tenants/acme/orders/"},
		{name: "anchor absent", path: "/api/users/me/", want: "/api/users/me/"},
		{name: "partial anchor", path: "/api/tenantsx/orders/", want: "/api/tenantsx/orders/"},
		{name: "anchor not at root", path: "/v2/api/tenants/orders", want: "/v2/api/tenants/acme/orders"},
		{name: "slug elsewhere in path", path: "/api/tenants/orders/acme", want: "/api/tenants/acme/orders/acme"},
		{name: "only first anchor", path: "/api/tenants/x/api/tenants/y", want: "/api/tenants/acme/x/api/tenants/y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Rewrite(tt.path, "acme"))
		})
	}
}

func TestRouting_RewriteIsIdempotent(t *testing.T) {
	r := testRouting(t)
	paths := []string{
		"api/tenants/orders/",
		"/api/tenants/",
		"/api/tenants",
		"/api/tenants/acme/",
		"/api/other/",
		"",
		"/",
		"/v1/api/tenants/invoices/2024/",
	}
	for _, p := range paths {
		once := r.Rewrite(p, "acme")
		assert.Equal(t, once, r.Rewrite(once, "acme"), "rewrite of %q must be stable", p)
	}
}

func TestRouting_RewriteWithoutValidate(t *testing.T) {
	r := Routing{AnchorSegment: "api/tenants"}
	assert.Equal(t, "/api/tenants/acme/orders", r.Rewrite("/api/tenants/orders", "acme"))
}

func TestRouting_MultiSegmentAnchor(t *testing.T) {
	r := Routing{AnchorSegment: "backend/api/tenants"}
	require.NoError(t, r.Validate())
	assert.Equal(t, "/backend/api/tenants/acme/orders", r.Rewrite("/backend/api/tenants/orders", "acme"))
	assert.Equal(t, "/api/tenants/orders", r.Rewrite("/api/tenants/orders", "acme"))
}

// ─── IsExempt ─────────────────────────────────────────────────────────────────

func TestRouting_IsExempt(t *testing.T) {
	r := testRouting(t)

	exempt := []string{
		"/api/auth/login/",
		"api/auth/token/refresh/",
		"/api/token/verify/",
		"/api/tenants/my-store/",
		"/api/payments/intent/",
		"/api/pricing/plans/",
	}
	for _, p := range exempt {
		assert.True(t, r.IsExempt(p), p)
	}

	scoped := []string{
		"/api/tenants/orders/",
		"/api/tenants/my-storefront/",
		"/api/authz/",
		"/",
	}
	for _, p := range scoped {
		assert.False(t, r.IsExempt(p), p)
	}
}
