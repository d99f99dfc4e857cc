package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/shopforge/portal-agent/pkg/model"
	pkgsecrets "github.com/shopforge/portal-agent/pkg/secrets"
)

// AccountResolver loads portal service-account credentials, caching them locally.
//
// Secret naming convention: {env}/{account}/portal, holding {"email": ..., "password": ...}.
type AccountResolver struct {
	logger   *zap.Logger
	env      string
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[model.Credentials]
}

func NewAccountResolver(
	logger *zap.Logger,
	env string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[model.Credentials],
) *AccountResolver {
	return &AccountResolver{logger: logger, env: env, provider: provider, cache: cache}
}

// SecretName returns the secret holding account's credentials.
func (r *AccountResolver) SecretName(account string) string {
	return strings.ToLower(fmt.Sprintf("%s/%s/portal", r.env, account))
}

// Resolve returns the credentials of account from cache or the provider.
func (r *AccountResolver) Resolve(ctx context.Context, account string) (model.Credentials, error) {
	name := r.SecretName(account)
	if creds, ok := r.cache.Get(name); ok {
		return creds, nil
	}

	raw, err := r.provider.GetSecret(ctx, name)
	if err != nil {
		r.logger.Warn("secrets.fetch_failed",
			zap.String("key", name),
			zap.Error(err))
		return model.Credentials{}, fmt.Errorf("resolve account %q: %w", account, err)
	}

	creds, err := parseCredentials(raw)
	if err != nil {
		return model.Credentials{}, fmt.Errorf("parse secret %q: %w", name, err)
	}
	r.cache.Put(name, creds)

	r.logger.Info("secrets.account_resolved",
		zap.String("account", account),
		zap.String("email", creds.Email))
	return creds, nil
}

// Invalidate drops the cached credentials of account, e.g. after a rejected login.
func (r *AccountResolver) Invalidate(account string) {
	r.cache.Bust(r.SecretName(account))
}

func parseCredentials(raw map[string]string) (model.Credentials, error) {
	creds := model.Credentials{
		Email:    strings.TrimSpace(raw["email"]),
		Password: raw["password"],
	}
	if creds.Email == "" {
		creds.Email = strings.TrimSpace(raw["username"])
	}
	if creds.Email == "" || creds.Password == "" {
		return model.Credentials{}, errors.New("secret must contain email and password")
	}
	return creds, nil
}
