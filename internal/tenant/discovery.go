package tenant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/shopforge/portal-agent/internal/httpclient"
	"github.com/shopforge/portal-agent/pkg/model"
)

// ErrNoTenant means the signed-in user does not own a store yet.
var ErrNoTenant = errors.New("no tenant for current user")

// Discovery resolves the store slug of the signed-in user. The executor must
// send through the authenticated pipeline; path must be exempt from tenant rewriting.
type Discovery struct {
	exec   *httpclient.Executor
	path   string
	logger *zap.Logger
}

func NewDiscovery(logger *zap.Logger, exec *httpclient.Executor, path string) *Discovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{exec: exec, path: path, logger: logger}
}

// Discover fetches the current user's store and returns its slug.
func (d *Discovery) Discover(ctx context.Context) (model.TenantContext, error) {
	body, err := d.exec.Call(ctx, http.MethodGet, d.path, nil)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			return model.TenantContext{}, ErrNoTenant
		}
		return model.TenantContext{}, fmt.Errorf("tenant discovery: %w", err)
	}

	var slug string
	for _, path := range []string{"slug", "store_slug", "store.slug"} {
		if slug = strings.TrimSpace(gjson.GetBytes(body, path).String()); slug != "" {
			break
		}
	}
	if slug == "" {
		return model.TenantContext{}, ErrNoTenant
	}
	if strings.Contains(slug, "/") {
		return model.TenantContext{}, fmt.Errorf("tenant discovery: slug %q is not a path segment", slug)
	}

	d.logger.Info("tenant.discovered", zap.String("store_slug", slug))
	return model.TenantContext{StoreSlug: slug}, nil
}
