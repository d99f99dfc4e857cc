package credstore

import "context"

// Keys persisted by the agent. The names match what the portal front end keeps in local storage.
const (
	AccessToken  = "accessToken"
	RefreshToken = "refreshToken"
	StoreSlug    = "store_slug"
	UserName     = "user_name"
	UserEmail    = "user_email"
)

// Reader is the read side of the credential store.
// Get returns "" with a nil error when the key is absent.
type Reader interface {
	Get(ctx context.Context, key string) (string, error)
}

// Store is durable key-value storage for session credentials.
type Store interface {
	Reader
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	HealthCheck(ctx context.Context) error
	Close() error
}
