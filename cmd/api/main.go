package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/OMARxKHALID/POSify-sub001/internal/di"
	"github.com/OMARxKHALID/POSify-sub001/internal/handlers"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/auth"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/config"
	pfirestore "github.com/OMARxKHALID/POSify-sub001/internal/platform/firestore"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/idempotency"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/jobs"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/observability"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/secrets"
	"github.com/OMARxKHALID/POSify-sub001/internal/repositories"
	firestoreRepo "github.com/OMARxKHALID/POSify-sub001/internal/repositories/firestore"
)

const (
	idempotencyCollection = "idempotencyKeys"
	firestoreDialTimeout  = 15 * time.Second
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger("posify-order-api", observability.FormatJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	resolver, err := secrets.NewResolver(ctx,
		secrets.WithProject(secretsProject()),
		secrets.WithLogger(logger.Named("secrets")),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(resolver))
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if cfg.Security.TerminalToken == "" {
		logger.Warn("terminal token not configured; organization routes are unauthenticated")
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore,
		pfirestore.WithDialTimeout(firestoreDialTimeout),
		pfirestore.WithClientOptions(option.WithUserAgent("posify-order-api/"+cfg.Version)),
	)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	var extraChecks []repositories.DependencyCheck
	var publisher *jobs.PubSubOrderEventPublisher
	if topicID := strings.TrimSpace(cfg.PubSub.OrderEventsTopic); topicID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(topicID)
		publisher, err = jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		defer publisher.Stop()
		extraChecks = append(extraChecks, repositories.DependencyCheck{
			Name: "pubsub",
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", topicID)
				}
				return nil
			},
		})
	}

	idempotencyStore, redisCheck := newIdempotencyStore(cfg, firestoreProvider, logger)
	if redisCheck != nil {
		extraChecks = append(extraChecks, *redisCheck)
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, cfg.Version, extraChecks...)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	containerOpts := []di.Option{di.WithLogger(logger)}
	if publisher != nil {
		containerOpts = append(containerOpts, di.WithOrderEvents(publisher))
	}
	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithMethods(http.MethodPost),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	cleanupDone := make(chan struct{})
	go func() {
		defer close(cleanupDone)
		idempotency.RunCleanup(cleanupCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()

	authenticator := auth.NewAuthenticator(cfg.Security.TerminalToken)
	orderHandlers := handlers.NewOrderHandlers(container.Services.Orders,
		handlers.WithOrderIdempotency(idempotencyMiddleware),
		handlers.WithOrderRateLimit(cfg.Security.OrderRateLimit, nil),
	)
	settingsHandlers := handlers.NewSettingsHandlers(container.Services.Settings, container.Services.Pricing)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthReporter(registry.Health()),
		handlers.WithHealthBuildInfo(handlers.BuildInfo{
			Version:     cfg.Version,
			Environment: cfg.Environment,
			StartedAt:   startedAt,
		}),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger.Named("http")),
		),
		handlers.WithRequestTimeout(cfg.Server.WriteTimeout),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrganizationMiddlewares(authenticator.RequireTerminal()),
		handlers.WithOrganizationRoutes(orderHandlers.Routes),
		handlers.WithOrganizationRoutes(settingsHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("order api listening", zap.String("version", cfg.Version), zap.String("environment", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	<-cleanupDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newIdempotencyStore returns the configured record store plus a readiness check for
// backends that live outside Firestore.
func newIdempotencyStore(cfg config.Config, provider *pfirestore.Provider, logger *zap.Logger) (idempotency.Store, *repositories.DependencyCheck) {
	if cfg.Idempotency.Backend != "redis" {
		return idempotency.NewFirestoreStore(provider, idempotencyCollection), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Idempotency.RedisAddr})
	logger.Info("idempotency records stored in redis", zap.String("addr", cfg.Idempotency.RedisAddr))
	return idempotency.NewRedisStore(client), &repositories.DependencyCheck{
		Name: "redis",
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

func secretsProject() string {
	for _, key := range []string{"API_SECRETS_PROJECT_ID", "API_FIRESTORE_PROJECT_ID"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}
