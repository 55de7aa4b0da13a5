package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/currency"

	domain "github.com/OMARxKHALID/POSify-sub001/internal/domain"
	"github.com/OMARxKHALID/POSify-sub001/internal/repositories"
)

const (
	defaultSettingsCurrency = "USD"
	maxTaxRules             = 20
)

var (
	// ErrSettingsInvalidInput signals invalid settings updates.
	ErrSettingsInvalidInput = errors.New("settings: invalid input")
)

// SettingsServiceDeps bundles collaborators required by the settings service.
type SettingsServiceDeps struct {
	Repository repositories.SettingsRepository
	Clock      func() time.Time
	Logger     *zap.Logger
}

type settingsService struct {
	repo   repositories.SettingsRepository
	clock  func() time.Time
	logger *zap.Logger
}

// NewSettingsService constructs the organization settings service.
func NewSettingsService(deps SettingsServiceDeps) (SettingsService, error) {
	if deps.Repository == nil {
		return nil, errors.New("settings service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &settingsService{
		repo: deps.Repository,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger.Named("settings"),
	}, nil
}

// DefaultSettings is what an organization without stored settings runs with.
func DefaultSettings(orgID string) OrganizationSettings {
	return OrganizationSettings{
		OrganizationID: orgID,
		SyncMode:       domain.SyncModeAuto,
		Currency:       defaultSettingsCurrency,
	}
}

func (s *settingsService) GetSettings(ctx context.Context, orgID string) (OrganizationSettings, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return OrganizationSettings{}, fmt.Errorf("%w: organization id is required", ErrSettingsInvalidInput)
	}
	settings, err := s.repo.Get(ctx, orgID)
	if err != nil {
		if isRepoNotFound(err) {
			return DefaultSettings(orgID), nil
		}
		return OrganizationSettings{}, fmt.Errorf("settings: load: %w", err)
	}
	if settings.SyncMode == "" {
		settings.SyncMode = domain.SyncModeAuto
	}
	if settings.Currency == "" {
		settings.Currency = defaultSettingsCurrency
	}
	settings.OrganizationID = orgID
	return settings, nil
}

func (s *settingsService) UpdateSettings(ctx context.Context, cmd UpdateSettingsCommand) (OrganizationSettings, error) {
	orgID := strings.TrimSpace(cmd.OrganizationID)
	if orgID == "" {
		return OrganizationSettings{}, fmt.Errorf("%w: organization id is required", ErrSettingsInvalidInput)
	}
	mode, ok := domain.ParseSyncMode(cmd.SyncMode)
	if !ok {
		return OrganizationSettings{}, fmt.Errorf("%w: syncMode must be auto or manual", ErrSettingsInvalidInput)
	}
	code, err := normalizeCurrency(cmd.Currency)
	if err != nil {
		return OrganizationSettings{}, err
	}
	rules, err := normalizeTaxRules(cmd.TaxRules)
	if err != nil {
		return OrganizationSettings{}, err
	}

	settings := OrganizationSettings{
		OrganizationID: orgID,
		SyncMode:       mode,
		Currency:       code,
		TaxRules:       rules,
		UpdatedAt:      s.clock(),
	}
	if err := s.repo.Save(ctx, settings); err != nil {
		return OrganizationSettings{}, fmt.Errorf("settings: save: %w", err)
	}
	s.logger.Info("settings updated",
		zap.String("organizationId", orgID),
		zap.String("syncMode", string(mode)),
		zap.String("currency", code),
		zap.Int("taxRules", len(rules)),
	)
	return settings, nil
}

func normalizeCurrency(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return defaultSettingsCurrency, nil
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%w: unknown currency %q", ErrSettingsInvalidInput, raw)
	}
	return unit.String(), nil
}

func normalizeTaxRules(rules []TaxRule) ([]TaxRule, error) {
	if len(rules) > maxTaxRules {
		return nil, fmt.Errorf("%w: at most %d tax rules are allowed", ErrSettingsInvalidInput, maxTaxRules)
	}
	seen := make(map[string]struct{}, len(rules))
	out := make([]TaxRule, 0, len(rules))
	for i, rule := range rules {
		rule.ID = strings.TrimSpace(rule.ID)
		rule.Name = strings.TrimSpace(rule.Name)
		if rule.ID == "" {
			return nil, fmt.Errorf("%w: taxRules[%d].id is required", ErrSettingsInvalidInput, i)
		}
		if _, dup := seen[rule.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate tax rule id %q", ErrSettingsInvalidInput, rule.ID)
		}
		seen[rule.ID] = struct{}{}
		if rule.Rate < 0 || rule.Rate != rule.Rate {
			return nil, fmt.Errorf("%w: taxRules[%d].rate must not be negative", ErrSettingsInvalidInput, i)
		}
		if rule.Type == "" {
			rule.Type = domain.TaxTypePercentage
		}
		if !rule.Type.Valid() {
			return nil, fmt.Errorf("%w: taxRules[%d].type must be percentage or fixed", ErrSettingsInvalidInput, i)
		}
		if rule.Name == "" {
			rule.Name = rule.ID
		}
		out = append(out, rule)
	}
	return out, nil
}

// SettingsFetcher loads the organization settings from the order API.
type SettingsFetcher interface {
	FetchSettings(ctx context.Context) (OrganizationSettings, error)
}

// SettingsCacheDeps configures a SettingsCache.
type SettingsCacheDeps struct {
	Fetcher SettingsFetcher
	// Initial is served until the first successful fetch.
	Initial OrganizationSettings
	// ModeOverride, when set, wins over the fetched sync mode.
	ModeOverride SyncMode
	Clock        func() time.Time
	Logger       *zap.Logger
}

// SettingsCache keeps the terminal's last known copy of the organization settings. It
// serves the sync mode to the synchronizer and the tax rules to checkout while offline.
type SettingsCache struct {
	fetcher  SettingsFetcher
	override SyncMode
	clock    func() time.Time
	logger   *zap.Logger

	mu        sync.RWMutex
	settings  OrganizationSettings
	fetchedAt time.Time
}

// NewSettingsCache constructs a cache. A nil fetcher serves Initial forever.
func NewSettingsCache(deps SettingsCacheDeps) *SettingsCache {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	initial := deps.Initial
	if initial.SyncMode == "" {
		initial.SyncMode = domain.SyncModeAuto
	}
	if initial.Currency == "" {
		initial.Currency = defaultSettingsCurrency
	}
	return &SettingsCache{
		fetcher:  deps.Fetcher,
		override: deps.ModeOverride,
		clock:    clock,
		logger:   logger.Named("settings_cache"),
		settings: initial,
	}
}

// SyncMode implements SyncModeProvider.
func (c *SettingsCache) SyncMode(context.Context) SyncMode {
	if c.override != "" {
		return c.override
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings.SyncMode
}

// Settings returns a copy of the cached settings.
func (c *SettingsCache) Settings() OrganizationSettings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := c.settings
	out.TaxRules = append([]TaxRule(nil), c.settings.TaxRules...)
	return out
}

// FetchedAt reports when the settings were last refreshed. Zero means never.
func (c *SettingsCache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

// Refresh fetches the settings once. On failure the previous copy stays in place.
func (c *SettingsCache) Refresh(ctx context.Context) error {
	if c.fetcher == nil {
		return nil
	}
	settings, err := c.fetcher.FetchSettings(ctx)
	if err != nil {
		c.logger.Debug("settings refresh failed", zap.Error(err))
		return fmt.Errorf("settings: refresh: %w", err)
	}
	if settings.SyncMode == "" {
		settings.SyncMode = domain.SyncModeAuto
	}

	c.mu.Lock()
	previous := c.settings.SyncMode
	c.settings = settings
	c.fetchedAt = c.clock()
	c.mu.Unlock()

	if previous != settings.SyncMode {
		c.logger.Info("sync mode changed", zap.String("from", string(previous)), zap.String("to", string(settings.SyncMode)))
	}
	return nil
}

// Run refreshes immediately and then every interval until ctx is cancelled.
func (c *SettingsCache) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	_ = c.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = c.Refresh(ctx)
		}
	}
}
