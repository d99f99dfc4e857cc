package secrets

import "context"

// Provider fetches JSON secrets as flat string maps.
type Provider interface {
	GetSecret(ctx context.Context, name string) (map[string]string, error)
}
