package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/shopforge/portal-agent/internal/api"
	"github.com/shopforge/portal-agent/internal/audit"
	"github.com/shopforge/portal-agent/internal/config"
	"github.com/shopforge/portal-agent/internal/credstore"
	"github.com/shopforge/portal-agent/internal/httpclient"
	"github.com/shopforge/portal-agent/internal/identity"
	"github.com/shopforge/portal-agent/internal/jobs"
	"github.com/shopforge/portal-agent/internal/pipeline"
	"github.com/shopforge/portal-agent/internal/publisher"
	"github.com/shopforge/portal-agent/internal/rate"
	internalsecrets "github.com/shopforge/portal-agent/internal/secrets"
	"github.com/shopforge/portal-agent/internal/session"
	"github.com/shopforge/portal-agent/internal/tenant"
	"github.com/shopforge/portal-agent/pkg/logger"
	"github.com/shopforge/portal-agent/pkg/model"
	"github.com/shopforge/portal-agent/pkg/secrets"
	"github.com/shopforge/portal-agent/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()
	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()

	if err := cfg.Validate(); err != nil {
		logg.Fatalw("invalid configuration", "error", err)
	}
	logg.Infow("starting [portal-agent]...",
		"backend", cfg.BackendURL,
		"credstore", cfg.CredstoreBackend,
		"events", cfg.EventsBackend)

	// --- Credential store ---
	st, err := openStore(cfg)
	if err != nil {
		logg.Fatalw("failed to init credential store", "error", err)
	}

	// --- Session events ---
	pub, broker, err := openPublisher(cfg)
	if err != nil {
		logg.Fatalw("failed to init publisher", "error", err)
	}

	// --- Session audit trail (Postgres mirror only) ---
	var pruner *jobs.AuditPruner
	if hs, ok := st.(*credstore.HybridStore); ok && hs.PG != nil && cfg.AuditEnabled {
		pub = publisher.Multi{pub, audit.NewWriter(hs.PG, logger.Named("audit"), cfg.CredstoreNamespace)}
		pruner = jobs.NewAuditPruner(logger.Named("audit"), hs.PG, cfg.AuditPruneInterval, cfg.AuditRetention)
		go pruner.Start(ctx)
	}

	// --- Outbound HTTP ---
	rateMgr := rate.NewManager(cfg.RateLimit())

	// the identity client must not go through the pipeline
	identityExec, err := httpclient.New(logger.Named("identity"), cfg.BackendURL, rateMgr,
		&http.Client{Timeout: cfg.RefreshTimeout}, 0, "identity")
	if err != nil {
		logg.Fatalw("failed to init identity executor", "error", err)
	}
	idClient := identity.NewClient(logger.Named("identity"), identityExec, cfg.LoginPath, cfg.RefreshPath)

	// --- Authenticated request pipeline ---
	dispatcher, err := pipeline.NewDispatcher(st, cfg.Routing(), logger.Named("pipeline"))
	if err != nil {
		logg.Fatalw("invalid tenant routing", "error", err)
	}
	coordinator := pipeline.NewCoordinator(logger.Named("pipeline"), st, idClient, cfg.RefreshTimeout)
	transport := pipeline.NewTransport(logger.Named("pipeline"), nil, dispatcher, coordinator)

	backendExec, err := httpclient.New(logger.Named("backend"), cfg.BackendURL, rateMgr,
		pipeline.NewClient(transport, cfg.RequestTimeout), cfg.RetryMax, "backend")
	if err != nil {
		logg.Fatalw("failed to init backend executor", "error", err)
	}

	// --- Session ---
	discovery := tenant.NewDiscovery(logger.Named("tenant"), backendExec, cfg.TenantDiscoveryPath)
	sessions := session.NewService(logger.Named("session"), st, idClient, discovery, pub)
	coordinator.OnSessionExpired(sessions.Expire)

	// --- Service account bootstrap ---
	stopCleaner := make(chan struct{})
	if cfg.PortalAccount != "" {
		bootstrap(ctx, cfg, sessions, stopCleaner)
	}

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.HTTPReadTimeout,
		WriteTimeout:          cfg.HTTPWriteTimeout,
		IdleTimeout:           cfg.HTTPIdleTimeout,
		BodyLimit:             cfg.HTTPBodyLimit,
		DisableStartupMessage: cfg.Env != "dev",
	})
	api.RegisterRoutes(app, st, broker,
		api.NewSessionHandler(logger.Named("api"), sessions),
		api.NewProxyHandler(logger.Named("api"), backendExec))

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	<-ctx.Done()
	logg.Info("shutting down [portal-agent]...")

	close(stopCleaner)
	if pruner != nil {
		pruner.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := pub.Close(); err != nil {
		logg.Warnw("publisher.close_failed", "error", err)
	}
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
}

func openStore(cfg *config.Config) (credstore.Store, error) {
	if cfg.CredstoreBackend == "memory" {
		logger.L().Warn("credstore.memory", zap.String("hint", "session is lost on restart"))
		return credstore.NewMemory(), nil
	}
	if cfg.DatabaseURL != "" {
		logger.S().Infow("credstore.pg_mirror", "dsn", utils.MaskDSN(cfg.DatabaseURL))
	}
	st, err := credstore.NewHybrid(cfg.StoreOptions(), logger.Named("credstore"))
	if err != nil {
		return nil, err
	}
	return st, nil
}

// openPublisher returns the configured publisher and, for real brokers, its health probe.
func openPublisher(cfg *config.Config) (publisher.Publisher, api.Broker, error) {
	switch cfg.EventsBackend {
	case "nats":
		p, err := publisher.NewNATS(logger.Named("publisher"), cfg.NATSURL, cfg.NATSSubject, cfg.ServiceName)
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		return p, p, nil
	case "amqp":
		p, err := publisher.NewAMQP(logger.Named("publisher"), cfg.AMQPURL, cfg.AMQPExchange, cfg.ServiceName)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	default:
		return publisher.Nop{}, nil, nil
	}
}

// bootstrap signs the agent in with the service account stored in AWS Secrets Manager.
func bootstrap(ctx context.Context, cfg *config.Config, sessions *session.Service, stopCleaner <-chan struct{}) {
	logg := logger.S()

	provider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
	if err != nil {
		logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
	}
	cache := secrets.NewCache[model.Credentials](cfg.CacheTTL)
	go cache.StartCleaner(cfg.CleanupFreq, stopCleaner)

	resolver := internalsecrets.NewAccountResolver(logger.Named("secrets"), cfg.Env, provider, cache)
	creds, err := resolver.Resolve(ctx, cfg.PortalAccount)
	if err != nil {
		logg.Fatalw("failed to resolve portal account", "account", cfg.PortalAccount, "error", err)
	}

	sess, err := sessions.Login(ctx, creds)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		resolver.Invalidate(cfg.PortalAccount)
	}
	if err != nil {
		logg.Fatalw("service account login failed", "account", cfg.PortalAccount, "error", err)
	}
	logg.Infow("service account signed in",
		"account", cfg.PortalAccount,
		"store_slug", sess.StoreSlug)
}
