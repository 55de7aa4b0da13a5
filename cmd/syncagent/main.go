package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/OMARxKHALID/POSify-sub001/internal/di"
	"github.com/OMARxKHALID/POSify-sub001/internal/handlers"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/config"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/localqueue"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/netstatus"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/notify"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/observability"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/orderapi"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/secrets"
	"github.com/OMARxKHALID/POSify-sub001/internal/services"
)

const agentServiceName = "posify-syncagent"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(agentServiceName, observability.FormatJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("syncagent")
	ctx = observability.WithLogger(ctx, logger)

	resolver, err := secrets.NewResolver(ctx, secrets.WithLogger(logger.Named("secrets")))
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.LoadAgent(ctx, config.WithSecretResolver(resolver))
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger = logger.With(zap.String("organizationId", cfg.OrganizationID), zap.String("terminalId", cfg.TerminalID))

	persistence, closePersistence, err := openPersistence(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to open queue persistence", zap.Error(err), zap.String("backend", cfg.Queue.Backend))
	}
	defer closePersistence()

	queue, err := localqueue.Open(ctx, persistence,
		localqueue.WithLogger(logger),
		localqueue.WithProcessedRetention(cfg.Queue.ProcessedRetention),
		localqueue.WithProcessedLimit(cfg.Queue.ProcessedLimit),
	)
	if err != nil {
		logger.Fatal("failed to load offline queue", zap.Error(err))
	}
	logger.Info("offline queue loaded",
		zap.String("backend", cfg.Queue.Backend),
		zap.Int("queued", len(queue.QueuedOrders())),
		zap.Int("failed", len(queue.FailedOrders())),
	)

	var monitor *netstatus.Monitor
	client, err := orderapi.NewClient(orderapi.Config{
		BaseURL:        cfg.API.BaseURL,
		OrganizationID: cfg.OrganizationID,
		TerminalID:     cfg.TerminalID,
		Token:          cfg.API.Token,
		Timeout:        cfg.API.Timeout,
		MaxFailures:    cfg.Breaker.MaxConsecutiveFailures,
		OpenTimeout:    cfg.Breaker.OpenTimeout,
	},
		orderapi.WithLogger(logger),
		orderapi.WithConnectivityReporter(func(online bool) {
			if monitor != nil {
				monitor.SetOnline(online)
			}
		}),
	)
	if err != nil {
		logger.Fatal("failed to build order api client", zap.Error(err))
	}
	monitor = netstatus.NewMonitor(client,
		netstatus.WithInterval(cfg.Network.PingInterval),
		netstatus.WithTimeout(cfg.Network.PingTimeout),
		netstatus.WithLogger(logger),
	)

	initial := services.DefaultSettings(cfg.OrganizationID)
	initial.Currency = cfg.Pricing.DefaultCurrency
	settingsCache := services.NewSettingsCache(services.SettingsCacheDeps{
		Fetcher:      client,
		Initial:      initial,
		ModeOverride: cfg.SyncModeOverride,
		Logger:       logger,
	})

	board := notify.NewBoard()
	notifier := notify.Fanout{board, notify.NewLogNotifier(logger)}

	synchronizer, err := services.NewOrderSynchronizer(services.OrderSynchronizerDeps{
		Queue:    queue,
		Client:   client,
		Network:  monitor,
		Settings: settingsCache,
		Notifier: notifier,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("failed to build order synchronizer", zap.Error(err))
	}

	engine, err := di.NewPricingEngine(cfg.Pricing, logger)
	if err != nil {
		logger.Fatal("failed to build pricing engine", zap.Error(err))
	}
	submitter, err := services.NewCheckoutSubmitter(services.CheckoutSubmitterDeps{
		OrganizationID: cfg.OrganizationID,
		TerminalID:     cfg.TerminalID,
		Pricing:        engine,
		Settings:       settingsCache,
		Queue:          queue,
		Client:         client,
		Network:        monitor,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("failed to build checkout submitter", zap.Error(err))
	}

	router := handlers.NewAgentRouter(
		handlers.NewAgentHandlers(submitter, queue, synchronizer, board),
		handlers.NewHealthHandlers(handlers.WithHealthBuildInfo(handlers.BuildInfo{Environment: "terminal", StartedAt: startedAt})),
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		observability.RecoveryMiddleware(logger.Named("http")),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var wg sync.WaitGroup
	runLoop := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("background loop stopped", zap.String("loop", name), zap.Error(err))
			}
		}()
	}
	runLoop("netstatus", monitor.Run)
	runLoop("settings", func(ctx context.Context) error {
		return settingsCache.Run(ctx, cfg.SettingsRefresh)
	})
	runLoop("sync", synchronizer.Run)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("terminal agent listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received; stopping agent")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	wg.Wait()
}

// openPersistence builds the configured queue backend and a func releasing it.
func openPersistence(ctx context.Context, cfg config.AgentConfig) (localqueue.Persistence, func(), error) {
	noop := func() {}
	switch cfg.Queue.Backend {
	case config.QueueBackendMemory:
		return localqueue.NewMemoryPersistence(), noop, nil
	case config.QueueBackendFile:
		return localqueue.NewFilePersistence(cfg.Queue.Path), noop, nil
	case config.QueueBackendSQLite:
		p, err := localqueue.OpenSQLite(ctx, cfg.Queue.Path)
		if err != nil {
			return nil, noop, err
		}
		return p, func() { _ = p.Close() }, nil
	case config.QueueBackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Queue.RedisAddr, DB: cfg.Queue.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("redis ping: %w", err)
		}
		return localqueue.NewRedisPersistence(client, cfg.TerminalID), func() { _ = client.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}
