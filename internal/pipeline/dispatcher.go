package pipeline

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/shopforge/portal-agent/internal/credstore"
	"github.com/shopforge/portal-agent/internal/metrics"
)

// Dispatcher prepares outgoing requests: it attaches the bearer token and
// routes tenant-scoped paths to the current store. It never sends anything
// and never fails a request.
type Dispatcher struct {
	store   credstore.Reader
	routing Routing
	logger  *zap.Logger
}

// NewDispatcher validates routing and builds a Dispatcher reading from store.
func NewDispatcher(store credstore.Reader, routing Routing, logger *zap.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := routing.Validate(); err != nil {
		return nil, err
	}
	return &Dispatcher{store: store, routing: routing, logger: logger}, nil
}

// Dispatch returns a prepared clone of req and the bearer token it carries.
// When token is empty the current access token is read from the store.
func (d *Dispatcher) Dispatch(req *http.Request, token string) (*http.Request, string) {
	ctx := req.Context()
	out := req.Clone(ctx)

	if token == "" {
		t, err := d.store.Get(ctx, credstore.AccessToken)
		if err != nil {
			d.logger.Warn("pipeline.token_read_failed",
				zap.String("url", req.URL.Redacted()),
				zap.Error(err))
		}
		token = t
	}
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}

	d.rewrite(out)
	return out, token
}

func (d *Dispatcher) rewrite(req *http.Request) {
	ctx := req.Context()
	slug, err := d.store.Get(ctx, credstore.StoreSlug)
	if err != nil {
		d.logger.Warn("pipeline.slug_read_failed",
			zap.String("url", req.URL.Redacted()),
			zap.Error(err))
		return
	}
	if slug == "" {
		metrics.IncTenantRewrite("no_slug")
		return
	}
	if strings.Contains(slug, "/") {
		d.logger.Warn("pipeline.slug_invalid", zap.String("slug", slug))
		metrics.IncTenantRewrite("no_slug")
		return
	}
	if d.routing.IsExempt(req.URL.Path) {
		metrics.IncTenantRewrite("exempt")
		return
	}

	rewritten := d.routing.Rewrite(req.URL.Path, slug)
	if rewritten == req.URL.Path {
		metrics.IncTenantRewrite("unchanged")
		return
	}
	d.logger.Debug("pipeline.tenant_rewrite",
		zap.String("from", req.URL.Path),
		zap.String("to", rewritten))
	req.URL.Path = rewritten
	req.URL.RawPath = ""
	metrics.IncTenantRewrite("rewritten")
}
