package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/OMARxKHALID/POSify-sub001/internal/domain"
	pfirestore "github.com/OMARxKHALID/POSify-sub001/internal/platform/firestore"
)

const (
	settingsCollection = "settings"
	settingsDocumentID = "pos"
)

type settingsDocument struct {
	SyncMode  string            `firestore:"syncMode"`
	Currency  string            `firestore:"currency"`
	TaxRules  []taxRuleDocument `firestore:"taxRules"`
	UpdatedAt time.Time         `firestore:"updatedAt"`
}

type taxRuleDocument struct {
	ID      string  `firestore:"id"`
	Name    string  `firestore:"name"`
	Rate    float64 `firestore:"rate"`
	Type    string  `firestore:"type"`
	Enabled bool    `firestore:"enabled"`
}

// SettingsRepository keeps one document at organizations/{orgID}/settings/pos.
type SettingsRepository struct {
	settings *pfirestore.OrgCollection[settingsDocument]
}

// NewSettingsRepository constructs a Firestore-backed settings repository.
func NewSettingsRepository(provider *pfirestore.Provider) (*SettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("settings repository requires firestore provider")
	}
	return &SettingsRepository{settings: pfirestore.NewOrgCollection[settingsDocument](provider, settingsCollection)}, nil
}

// Get returns the stored settings. A missing document surfaces as a not found error so the
// service can apply defaults.
func (r *SettingsRepository) Get(ctx context.Context, orgID string) (domain.OrganizationSettings, error) {
	doc, err := r.settings.Get(ctx, orgID, settingsDocumentID)
	if err != nil {
		return domain.OrganizationSettings{}, err
	}
	rules := make([]domain.TaxRule, 0, len(doc.Data.TaxRules))
	for _, rule := range doc.Data.TaxRules {
		rules = append(rules, domain.TaxRule{
			ID:      rule.ID,
			Name:    rule.Name,
			Rate:    rule.Rate,
			Type:    domain.TaxType(rule.Type),
			Enabled: rule.Enabled,
		})
	}
	return domain.OrganizationSettings{
		OrganizationID: strings.TrimSpace(orgID),
		SyncMode:       domain.SyncMode(doc.Data.SyncMode),
		Currency:       doc.Data.Currency,
		TaxRules:       rules,
		UpdatedAt:      doc.Data.UpdatedAt,
	}, nil
}

// Save replaces the organization's settings document.
func (r *SettingsRepository) Save(ctx context.Context, settings domain.OrganizationSettings) error {
	rules := make([]taxRuleDocument, 0, len(settings.TaxRules))
	for _, rule := range settings.TaxRules {
		rules = append(rules, taxRuleDocument{
			ID:      rule.ID,
			Name:    rule.Name,
			Rate:    rule.Rate,
			Type:    string(rule.Type),
			Enabled: rule.Enabled,
		})
	}
	return r.settings.Set(ctx, settings.OrganizationID, settingsDocumentID, settingsDocument{
		SyncMode:  string(settings.SyncMode),
		Currency:  settings.Currency,
		TaxRules:  rules,
		UpdatedAt: settings.UpdatedAt.UTC(),
	})
}
