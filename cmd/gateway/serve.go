package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/4runr/gateway/internal/agent"
	"github.com/4runr/gateway/internal/api"
	"github.com/4runr/gateway/internal/audit"
	"github.com/4runr/gateway/internal/config"
	"github.com/4runr/gateway/internal/crypto"
	"github.com/4runr/gateway/internal/gateway"
	"github.com/4runr/gateway/internal/metrics"
	"github.com/4runr/gateway/internal/policy"
	"github.com/4runr/gateway/internal/ratelimit"
	"github.com/4runr/gateway/internal/resilience"
	"github.com/4runr/gateway/internal/secrets"
	"github.com/4runr/gateway/internal/token"
	"github.com/4runr/gateway/internal/tools"
	"github.com/4runr/gateway/internal/validate"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	slog.Info("connected to database")

	m := metrics.New()
	m.RegisterDBPoolCollector(func() (total, idle, acquired int32) {
		s := pool.Stat()
		return s.TotalConns(), s.IdleConns(), s.AcquiredConns()
	})

	// Key material.
	sealer, signer, err := loadKeyMaterial(cfg)
	if err != nil {
		return err
	}

	// Stores.
	agentStore := agent.NewPGStore(pool)
	policyStore := policy.NewPGStore(pool)
	quotaStore := policy.NewPGQuotaStore(pool)
	registryStore := token.NewPGRegistryStore(pool)
	auditStore := audit.NewPGStore(pool)

	// Audit collector: batched, fire-and-forget.
	collector := audit.NewCollector(auditStore, cfg.Audit.BatchSize, cfg.Audit.FlushInterval)
	collector.SetMetrics(m)
	go collector.Start(ctx)

	// Token issuance and provenance.
	registry := token.NewRegistry(registryStore)
	tokenService := token.NewService(sealer, signer, registry, cfg.Token.RotationWindow)

	engine := policy.NewEngine(policyStore, quotaStore, collector)
	limiter := ratelimit.New(cfg.RateLimit.Default, cfg.RateLimit.Window)

	// Upstream credentials.
	creds, err := buildSecretsProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}

	validator := validate.New(cfg.Validation.AllowedDomains, creds)
	adapters := tools.NewRegistry(
		tools.NewHTTPAdapter(tools.HTTPConfig{Name: "http", AuthType: "none"}, nil),
		tools.NewSearchAdapter(cfg.Tools.SearchEndpoint, cfg.Resilience.UpstreamTimeout, creds),
		tools.NewMailAdapter(cfg.Tools.MailEndpoint, cfg.Resilience.UpstreamTimeout, creds),
	)

	cache, err := buildCache(ctx, cfg)
	if err != nil {
		return err
	}

	executor := resilience.NewExecutor(resilience.Options{
		Cache:    cache,
		CacheTTL: cfg.Cache.TTL,
		Breakers: resilience.NewBreakerSet(cfg.Resilience.FailureThreshold, cfg.Resilience.Cooldown),
		Retry: resilience.RetryConfig{
			MaxRetries: cfg.Resilience.MaxRetries,
			BaseDelay:  cfg.Resilience.RetryBaseDelay,
			MaxDelay:   cfg.Resilience.RetryMaxDelay,
		},
		UpstreamTimeout: cfg.Resilience.UpstreamTimeout,
		Logger:          logger,
		Observer:        m,
	})

	gw := gateway.New(gateway.Options{
		Tokens:   tokenService,
		Proofs:   registry,
		Agents:   agentStore,
		Policies: engine,
		Params:   validator,
		Limiter:  limiter,
		Adapters: adapters,
		Executor: executor,
		Auditor:  collector,
		Metrics:  m,
		Logger:   logger,
	})

	router := api.NewRouter(api.RouterDeps{
		Gateway:         gw,
		Issuer:          tokenService,
		Revoker:         registry,
		AgentStore:      agentStore,
		PolicyStore:     policyStore,
		Metrics:         m,
		AdminKey:        cfg.Auth.AdminKey,
		TokenDefaultTTL: cfg.Token.DefaultTTL,
		TokenMaxTTL:     cfg.Token.MaxTTL,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	collector.Stop()

	return srv.Shutdown(shutdownCtx)
}

// loadKeyMaterial builds the sealer and signer from the configured key files
// and signing secret.
func loadKeyMaterial(cfg *config.Config) (*crypto.Sealer, *crypto.Signer, error) {
	pubPEM, err := os.ReadFile(cfg.Token.EncryptionKeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("reading encryption key: %w", err)
	}
	privPEM, err := os.ReadFile(cfg.Token.DecryptionKeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("reading decryption key: %w", err)
	}
	sealer, err := crypto.NewSealer(pubPEM, privPEM)
	if err != nil {
		return nil, nil, err
	}
	signer, err := crypto.NewSigner(cfg.Token.SigningSecret)
	if err != nil {
		return nil, nil, err
	}
	return sealer, signer, nil
}

// buildSecretsProvider selects the credential backend and wraps it in a TTL
// cache.
func buildSecretsProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (secrets.Provider, error) {
	var inner secrets.Provider
	switch cfg.Secrets.Provider {
	case "aws":
		p, err := secrets.NewAWSProvider(ctx, cfg.Secrets.AWSRegion, logger)
		if err != nil {
			return nil, fmt.Errorf("building aws secrets provider: %w", err)
		}
		inner = p
	case "wrapped":
		if cfg.Token.CredentialKey == "" {
			return nil, fmt.Errorf("secrets provider %q requires token.credential_key", cfg.Secrets.Provider)
		}
		wrapper, err := crypto.NewKeyWrapper(cfg.Token.CredentialKey)
		if err != nil {
			return nil, fmt.Errorf("building credential key wrapper: %w", err)
		}
		inner = secrets.NewWrappedStoreProvider(wrapper, cfg.Secrets.Wrapped)
	case "env", "":
		inner = secrets.NewEnvProvider()
	default:
		return nil, fmt.Errorf("unknown secrets provider %q", cfg.Secrets.Provider)
	}
	return secrets.NewCached(inner, cfg.Secrets.CacheTTL), nil
}

// buildCache returns the response cache: Redis when configured, otherwise
// in-process.
func buildCache(ctx context.Context, cfg *config.Config) (resilience.Cache, error) {
	if cfg.Cache.RedisURL == "" {
		return resilience.NewMemoryCache(), nil
	}
	opt, err := redis.ParseURL(cfg.Cache.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	cache := resilience.NewRedisCacheFromClient(redis.NewClient(opt))
	if err := cache.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	slog.Info("connected to redis cache")
	return cache, nil
}
