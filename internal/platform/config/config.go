package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/currency"

	"github.com/OMARxKHALID/POSify-sub001/internal/domain"
)

const (
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultEnvironment          = "local"
	defaultOrderEventsTopic     = "order-events"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyBackend   = "firestore"
	defaultOrderRateLimit       = 120
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultCurrency             = "USD"
)

// Config captures the order API runtime configuration organised by concern.
type Config struct {
	Environment string
	Version     string
	Server      ServerConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
	Pricing     PricingConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the topic order events are published to. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

// SecurityConfig holds the shared token terminals present as a bearer credential.
type SecurityConfig struct {
	TerminalToken  string
	// OrderRateLimit caps order submissions per terminal per minute. Zero disables it.
	OrderRateLimit int
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	// Backend selects the record store: "firestore" or "redis".
	Backend          string
	RedisAddr        string
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// PricingConfig selects rounding and presentation for the pricing engine.
type PricingConfig struct {
	DefaultCurrency string
	Rounding        domain.RoundingMode
	Language        string
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Load assembles the order API configuration from defaults, .env overrides, environment
// variables, and Secret Manager lookups. Keys are prefixed API_.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options, env, err := newLoader(opts)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment: strings.ToLower(env.String("API_ENVIRONMENT", defaultEnvironment)),
		Version:     env.String("API_VERSION", "dev"),
		Server: ServerConfig{
			Port:         env.String("API_SERVER_PORT", defaultPort),
			ReadTimeout:  env.Duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.Duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.Duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.String("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.String("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:        env.String("API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: env.String("API_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
		},
		Security: SecurityConfig{
			TerminalToken:  env.String("API_SECURITY_TERMINAL_TOKEN", ""),
			OrderRateLimit: env.Int("API_SECURITY_ORDER_RATE_LIMIT", defaultOrderRateLimit),
		},
		Idempotency: IdempotencyConfig{
			Backend:          strings.ToLower(env.String("API_IDEMPOTENCY_BACKEND", defaultIdempotencyBackend)),
			RedisAddr:        env.String("API_IDEMPOTENCY_REDIS_ADDR", ""),
			Header:           env.String("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.Duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.Duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.Int("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Pricing: PricingConfig{
			DefaultCurrency: strings.ToUpper(env.String("API_PRICING_DEFAULT_CURRENCY", defaultCurrency)),
			Rounding:        domain.ParseRoundingMode(env.String("API_PRICING_ROUNDING", string(domain.RoundHalfUp))),
			Language:        env.String("API_PRICING_LANGUAGE", "en"),
		},
	}

	// Pub/Sub shares the Firestore project unless told otherwise.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	resolved, err := resolveSecretFields(ctx, options.secret, []secretField{
		{"Security.TerminalToken", &cfg.Security.TerminalToken},
	})
	if err != nil {
		return Config{}, err
	}

	if err := validateConfig(cfg, env.invalid); err != nil {
		return Config{}, err
	}
	if err := findMissingSecrets(options.requiredSecrets, resolved); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	switch cfg.Idempotency.Backend {
	case "firestore":
	case "redis":
		if strings.TrimSpace(cfg.Idempotency.RedisAddr) == "" {
			missing = append(missing, "Idempotency.RedisAddr")
		}
	default:
		missing = append(missing, "Idempotency.Backend")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Security.OrderRateLimit < 0 {
		missing = append(missing, "Security.OrderRateLimit")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}
	if _, err := currency.ParseISO(cfg.Pricing.DefaultCurrency); err != nil {
		missing = append(missing, "Pricing.DefaultCurrency")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}
