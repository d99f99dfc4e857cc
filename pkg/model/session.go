package model

import "time"

// TokenPair is the access/refresh credential pair issued by the identity service.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Credentials are the email/password a portal user logs in with.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TenantContext identifies the store whose data tenant-scoped calls target.
type TenantContext struct {
	StoreSlug string `json:"store_slug"`
}

// Session is the agent's view of the current login, as served by GET /session.
type Session struct {
	Authenticated   bool       `json:"authenticated"`
	LoginRequired   bool       `json:"login_required"`
	StoreSlug       string     `json:"store_slug,omitempty"`
	UserName        string     `json:"user_name,omitempty"`
	UserEmail       string     `json:"user_email,omitempty"`
	AccessExpiresAt *time.Time `json:"access_expires_at,omitempty"`
}
