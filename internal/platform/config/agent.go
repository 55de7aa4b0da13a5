package config

import (
	"context"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/currency"

	"github.com/OMARxKHALID/POSify-sub001/internal/domain"
)

// Queue backends supported by the terminal agent.
const (
	QueueBackendMemory = "memory"
	QueueBackendFile   = "file"
	QueueBackendSQLite = "sqlite"
	QueueBackendRedis  = "redis"
)

const (
	defaultAgentPort          = "8787"
	defaultAgentAPITimeout    = 10 * time.Second
	defaultQueueBackend       = QueueBackendSQLite
	defaultQueuePath          = "pos-queue.db"
	defaultProcessedRetention = 24 * time.Hour
	defaultProcessedLimit     = 1000
	defaultPingInterval       = 15 * time.Second
	defaultPingTimeout        = 3 * time.Second
	defaultSettingsRefresh    = 5 * time.Minute
	defaultBreakerFailures    = 5
	defaultBreakerOpenTimeout = 30 * time.Second
)

// AgentConfig captures the terminal agent configuration. Keys are prefixed POS_AGENT_.
type AgentConfig struct {
	OrganizationID string
	TerminalID     string
	Server         ServerConfig
	API            AgentAPIConfig
	Queue          QueueConfig
	Network        NetworkConfig
	Breaker        BreakerConfig
	Pricing        PricingConfig
	// SyncModeOverride forces a sync mode regardless of organization settings when set.
	SyncModeOverride domain.SyncMode
	SettingsRefresh  time.Duration
}

// AgentAPIConfig points the agent at the order API.
type AgentAPIConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// QueueConfig selects the durable queue backend.
type QueueConfig struct {
	Backend            string
	Path               string
	RedisAddr          string
	RedisDB            int
	ProcessedRetention time.Duration
	ProcessedLimit     int
}

// NetworkConfig tunes the connectivity probe.
type NetworkConfig struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
}

// BreakerConfig tunes the order API circuit breaker.
type BreakerConfig struct {
	MaxConsecutiveFailures int
	OpenTimeout            time.Duration
}

// LoadAgent assembles the terminal agent configuration using the same precedence as Load.
func LoadAgent(ctx context.Context, opts ...Option) (AgentConfig, error) {
	options, env, err := newLoader(opts)
	if err != nil {
		return AgentConfig{}, err
	}

	cfg := AgentConfig{
		OrganizationID: env.String("POS_AGENT_ORGANIZATION_ID", ""),
		TerminalID:     env.String("POS_AGENT_TERMINAL_ID", ""),
		Server: ServerConfig{
			Port:         env.String("POS_AGENT_PORT", defaultAgentPort),
			ReadTimeout:  env.Duration("POS_AGENT_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.Duration("POS_AGENT_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.Duration("POS_AGENT_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		API: AgentAPIConfig{
			BaseURL: strings.TrimRight(env.String("POS_AGENT_API_BASE_URL", ""), "/"),
			Token:   env.String("POS_AGENT_API_TOKEN", ""),
			Timeout: env.Duration("POS_AGENT_API_TIMEOUT", defaultAgentAPITimeout),
		},
		Queue: QueueConfig{
			Backend:            strings.ToLower(env.String("POS_AGENT_QUEUE_BACKEND", defaultQueueBackend)),
			Path:               env.String("POS_AGENT_QUEUE_PATH", defaultQueuePath),
			RedisAddr:          env.String("POS_AGENT_QUEUE_REDIS_ADDR", ""),
			RedisDB:            env.Int("POS_AGENT_QUEUE_REDIS_DB", 0),
			ProcessedRetention: env.Duration("POS_AGENT_QUEUE_PROCESSED_RETENTION", defaultProcessedRetention),
			ProcessedLimit:     env.Int("POS_AGENT_QUEUE_PROCESSED_LIMIT", defaultProcessedLimit),
		},
		Network: NetworkConfig{
			PingInterval: env.Duration("POS_AGENT_PING_INTERVAL", defaultPingInterval),
			PingTimeout:  env.Duration("POS_AGENT_PING_TIMEOUT", defaultPingTimeout),
		},
		Breaker: BreakerConfig{
			MaxConsecutiveFailures: env.Int("POS_AGENT_BREAKER_MAX_FAILURES", defaultBreakerFailures),
			OpenTimeout:            env.Duration("POS_AGENT_BREAKER_OPEN_TIMEOUT", defaultBreakerOpenTimeout),
		},
		Pricing: PricingConfig{
			DefaultCurrency: strings.ToUpper(env.String("POS_AGENT_CURRENCY", defaultCurrency)),
			Rounding:        domain.ParseRoundingMode(env.String("POS_AGENT_ROUNDING", string(domain.RoundHalfUp))),
			Language:        env.String("POS_AGENT_LANGUAGE", "en"),
		},
		SettingsRefresh: env.Duration("POS_AGENT_SETTINGS_REFRESH", defaultSettingsRefresh),
	}

	invalid := env.invalid
	if raw := env.String("POS_AGENT_SYNC_MODE", ""); raw != "" {
		mode, ok := domain.ParseSyncMode(raw)
		if !ok {
			invalid = append(invalid, "SyncModeOverride")
		}
		cfg.SyncModeOverride = mode
	}

	resolved, err := resolveSecretFields(ctx, options.secret, []secretField{
		{"API.Token", &cfg.API.Token},
	})
	if err != nil {
		return AgentConfig{}, err
	}

	if err := validateAgentConfig(cfg, invalid); err != nil {
		return AgentConfig{}, err
	}
	if err := findMissingSecrets(options.requiredSecrets, resolved); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}

func validateAgentConfig(cfg AgentConfig, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.OrganizationID == "" {
		missing = append(missing, "OrganizationID")
	}
	if cfg.TerminalID == "" {
		missing = append(missing, "TerminalID")
	}
	if u, err := url.Parse(cfg.API.BaseURL); err != nil || cfg.API.BaseURL == "" || u.Scheme == "" || u.Host == "" {
		missing = append(missing, "API.BaseURL")
	}
	if cfg.API.Timeout <= 0 {
		missing = append(missing, "API.Timeout")
	}
	switch cfg.Queue.Backend {
	case QueueBackendMemory:
	case QueueBackendFile, QueueBackendSQLite:
		if cfg.Queue.Path == "" {
			missing = append(missing, "Queue.Path")
		}
	case QueueBackendRedis:
		if cfg.Queue.RedisAddr == "" {
			missing = append(missing, "Queue.RedisAddr")
		}
	default:
		missing = append(missing, "Queue.Backend")
	}
	if cfg.Queue.ProcessedRetention <= 0 {
		missing = append(missing, "Queue.ProcessedRetention")
	}
	if cfg.Queue.ProcessedLimit <= 0 {
		missing = append(missing, "Queue.ProcessedLimit")
	}
	if cfg.Network.PingInterval <= 0 {
		missing = append(missing, "Network.PingInterval")
	}
	if cfg.Breaker.MaxConsecutiveFailures <= 0 {
		missing = append(missing, "Breaker.MaxConsecutiveFailures")
	}
	if _, err := currency.ParseISO(cfg.Pricing.DefaultCurrency); err != nil {
		missing = append(missing, "Pricing.DefaultCurrency")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}
