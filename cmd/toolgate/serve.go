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

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/tesserahq/toolgate/internal/builtin"
	"github.com/tesserahq/toolgate/internal/commands"
	"github.com/tesserahq/toolgate/internal/config"
	"github.com/tesserahq/toolgate/internal/executor"
	"github.com/tesserahq/toolgate/internal/gateway"
	"github.com/tesserahq/toolgate/internal/infra"
	"github.com/tesserahq/toolgate/internal/inventory"
	"github.com/tesserahq/toolgate/internal/mcp"
	"github.com/tesserahq/toolgate/internal/observability"
	"github.com/tesserahq/toolgate/internal/orchestrator"
	"github.com/tesserahq/toolgate/internal/providers"
	"github.com/tesserahq/toolgate/internal/schema"
	"github.com/tesserahq/toolgate/internal/secrets"
	"github.com/tesserahq/toolgate/internal/sources"
	"github.com/tesserahq/toolgate/internal/storage"
	"github.com/tesserahq/toolgate/internal/tokens"
	"github.com/tesserahq/toolgate/internal/workspace"
	"github.com/tesserahq/toolgate/pkg/models"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the toolgate gateway",
		Long: `Start the gateway: the WebSocket conversation channel, the admin
HTTP surface, scheduled inventory refreshes, and plugin watching.

Shuts down gracefully on SIGINT/SIGTERM.`,
		Example: `  # Start with the default config file
  toolgate serve

  # Start with an explicit config and debug logging
  toolgate serve --config /etc/toolgate/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "force debug logging")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	metrics := observability.NewMetrics(nil)
	var tracerShutdown func(context.Context) error
	if cfg.Tracing.Enabled {
		_, tracerShutdown = observability.NewTracer(observability.TraceConfig{
			ServiceName:  cfg.Tracing.ServiceName,
			Environment:  cfg.Tracing.Environment,
			Endpoint:     cfg.Tracing.Endpoint,
			SamplingRate: cfg.Tracing.SamplingRate,
			Insecure:     cfg.Tracing.Insecure,
		})
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage.
	var stores storage.StoreSet
	switch cfg.Storage.Backend {
	case "memory":
		stores = storage.NewMemoryStores()
	default:
		stores, err = storage.NewSQLiteStores(cfg.Storage.Path, &storage.SQLiteConfig{
			BusyTimeout:  cfg.Storage.BusyTimeout,
			MaxOpenConns: cfg.Storage.MaxOpenConns,
		})
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
	}
	defer stores.Close() //nolint:errcheck

	// Shared Redis tier, optional.
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close() //nolint:errcheck
	}

	// Per-source credential material.
	var secretStores secrets.Chain
	if cfg.Secrets.File != "" {
		secretStores = append(secretStores, secrets.NewFileStore(cfg.Secrets.File))
	}
	secretStores = append(secretStores, secrets.NewEnvStore(cfg.Secrets.EnvPrefix))

	// Circuit breakers, transitions fed to metrics.
	circuits := infra.NewCircuitRegistry(infra.CircuitConfig{}, func(ev infra.CircuitEvent) {
		metrics.ObserveCircuitTransition(ev.CircuitType, string(ev.To), string(ev.Reason))
	})

	// Token services.
	authClient := &http.Client{Timeout: cfg.Auth.HTTPTimeout}
	var sharedCache tokens.SharedCache
	if redisClient != nil {
		sharedCache = tokens.NewRedisCache(redisClient, cfg.Redis.KeyPrefix+":tokens")
	}
	oidc := tokens.NewOIDCCache(authClient, cfg.Auth.OIDCCacheTTL)
	svc := executor.TokenServices{
		ExternalIdP: tokens.NewExternalIdP(oidc, authClient, sharedCache),
	}
	if cfg.Auth.Broker.Configured() {
		svc.Exchanger = tokens.NewExchanger(tokens.ExchangerConfig{
			TokenURL:     cfg.Auth.Broker.TokenURL,
			ClientID:     cfg.Auth.Broker.ClientID,
			ClientSecret: cfg.Auth.Broker.ClientSecret,
		}, authClient, sharedCache, circuits)
	}
	if cfg.Auth.ClientCredentials.TokenURL != "" {
		svc.ClientCreds = tokens.NewClientCredentials(tokens.ClientCredentialsConfig{
			TokenURL:     cfg.Auth.ClientCredentials.TokenURL,
			ClientID:     cfg.Auth.ClientCredentials.ClientID,
			ClientSecret: cfg.Auth.ClientCredentials.ClientSecret,
			Scopes:       cfg.Auth.Scopes,
		}, authClient, sharedCache)
	}

	// Workspace and builtin catalogue.
	ws := workspace.NewManager(workspace.Config{
		Root:         cfg.Workspace.Root,
		MaxFileBytes: cfg.Workspace.MaxFileBytes,
		TTL:          cfg.Workspace.TTL,
	})
	ws.Start(ctx)
	defer ws.Stop()

	builtins := builtin.NewDefaultRegistry(builtin.Deps{
		Workspace:     ws,
		Redis:         redisClient,
		HTTPClient:    &http.Client{Timeout: cfg.Builtin.FetchTimeout},
		FetchMaxBytes: cfg.Builtin.FetchMaxBytes,
		FetchTimeout:  cfg.Builtin.FetchTimeout,
		CodeTimeout:   cfg.Builtin.CodeTimeout,
		Logger:        logger,
	})

	// Execution.
	pool := mcp.NewPool()
	defer pool.CloseAll()
	validator := schema.NewValidator(*cfg.Executor.ValidateArguments)
	exec := executor.New(validator, svc, circuits, &http.Client{}, builtins, pool,
		executor.Config{
			DefaultTimeout: cfg.Executor.DefaultTimeout,
			TokenObserver:  metrics.ObserveTokenRequest,
		}, logger)

	// Discovery and inventory.
	adapters := sources.NewRegistry()
	adapters.Register(models.SourceTypeOpenAPI, sources.NewOpenAPIAdapter(authClient))
	adapters.Register(models.SourceTypeMCP, sources.NewMCPAdapter(pool))
	adapters.Register(models.SourceTypeBuiltin, sources.NewBuiltinAdapter(builtins))

	reconciler := inventory.NewReconciler(stores.Sources, stores.Tools, adapters, secretStores)
	reconciler.OnRefresh(func(sourceType models.SourceType, outcome string) {
		metrics.ObserveInventoryRefresh(string(sourceType), outcome)
	})
	catalogue := inventory.NewCatalogue(stores.Tools)

	scheduler := inventory.NewScheduler(reconciler, stores.Sources, inventory.SchedulerConfig{
		Interval:    cfg.Inventory.RefreshInterval,
		Concurrency: cfg.Inventory.Concurrency,
		RunOnStart:  cfg.Inventory.RefreshOnStart,
		Logger:      logger,
	})
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = scheduler.Stop(stopCtx) //nolint:errcheck
	}()

	if cfg.Inventory.WatchPlugins {
		watcher := inventory.NewWatcher(reconciler, stores.Sources)
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("plugin watcher not started", "error", err)
		} else {
			defer watcher.Close() //nolint:errcheck
		}
	}

	// A manifest change on a live singleton connection forces a
	// re-ingest of the owning source.
	pool.OnToolsChanged(func(sourceID string) {
		if _, err := reconciler.Refresh(context.Background(), sourceID, true); err != nil {
			logger.Warn("refresh after tools/list_changed failed",
				"source_id", sourceID, "error", err)
		}
	})

	// LLM backends.
	factoryCfg := providers.FactoryConfig{Default: cfg.Providers.Default}
	if p := cfg.Providers.Anthropic; p != nil {
		factoryCfg.Anthropic = &providers.AnthropicConfig{
			APIKey: p.APIKey, BaseURL: p.BaseURL, MaxRetries: p.MaxRetries,
		}
	}
	if p := cfg.Providers.OpenAI; p != nil {
		factoryCfg.OpenAI = &providers.OpenAIConfig{
			APIKey: p.APIKey, BaseURL: p.BaseURL, MaxRetries: p.MaxRetries,
		}
	}
	factory, err := providers.NewFactory(factoryCfg, logger)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}
	runner := providers.NewRunner(factory, providers.RunnerConfig{
		MaxTurns:  cfg.Providers.MaxTurns,
		MaxTokens: cfg.Providers.MaxTokens,
	}, logger)

	// Command bus.
	bus := commands.NewBus(logger)
	instrumented := &metricsExecutor{exec: exec, metrics: metrics}
	srcHandlers := commands.NewSourceHandlers(stores.Sources, stores.Tools, reconciler, logger)
	if err := srcHandlers.Register(bus); err != nil {
		return err
	}
	toolHandlers := commands.NewToolHandlers(stores.Tools, stores.Sources, secretStores, instrumented, circuits, logger)
	if err := toolHandlers.Register(bus); err != nil {
		return err
	}
	convHandlers := commands.NewConversationHandlers(stores.Conversations, stores.Messages, stores.Responses, logger)
	if err := convHandlers.Register(bus); err != nil {
		return err
	}

	// Health probes.
	health := infra.NewHealthRegistry()
	health.RegisterFunc("storage", func(ctx context.Context) error {
		_, err := stores.Sources.List(ctx)
		return err
	})
	if redisClient != nil {
		health.Register(infra.HealthCheck{
			Name: "redis",
			Probe: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}

	// Gateway.
	server, err := gateway.NewServer(cfg, orchestrator.Deps{
		Bus:           bus,
		Conversations: stores.Conversations,
		Messages:      stores.Messages,
		Definitions:   stores.Definitions,
		Templates:     stores.Templates,
		Catalogue:     catalogue,
		Runner:        runner,
		Factory:       factory,
		Logger:        logger,
	}, health, metrics, logger)
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return err
	}

	logger.Info("toolgate started",
		"addr", server.Addr(),
		"storage", cfg.Storage.Backend,
		"redis", redisClient != nil)

	<-ctx.Done()
	logger.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(stopCtx); err != nil {
		logger.Warn("server stop", "error", err)
	}
	if tracerShutdown != nil {
		if err := tracerShutdown(stopCtx); err != nil {
			logger.Warn("tracer shutdown", "error", err)
		}
	}
	return nil
}

// metricsExecutor observes every invocation that crosses the bus.
type metricsExecutor struct {
	exec    *executor.Executor
	metrics *observability.Metrics
}

func (m *metricsExecutor) Execute(ctx context.Context, req *executor.Request) *models.ExecuteToolResult {
	started := time.Now()
	result := m.exec.Execute(ctx, req)
	m.metrics.ObserveToolExecution(sourceTypeLabel(req), string(result.Status), time.Since(started))
	return result
}

func sourceTypeLabel(req *executor.Request) string {
	if req == nil || req.Definition == nil {
		return "unknown"
	}
	switch {
	case req.Definition.IsBuiltin():
		return "builtin"
	case req.Definition.Execution.Mode == models.ModeMCPCall:
		return "mcp"
	default:
		return "openapi"
	}
}
