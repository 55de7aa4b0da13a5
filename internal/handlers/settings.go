package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/OMARxKHALID/POSify-sub001/internal/platform/httpx"
	"github.com/OMARxKHALID/POSify-sub001/internal/services"
)

const maxSettingsBodySize = 32 * 1024

// SettingsHandlers serves organization settings and price quotes.
type SettingsHandlers struct {
	settings services.SettingsService
	pricing  *services.OrderPricingEngine
}

// NewSettingsHandlers constructs settings handlers. A nil pricing engine disables quotes.
func NewSettingsHandlers(settings services.SettingsService, pricing *services.OrderPricingEngine) *SettingsHandlers {
	return &SettingsHandlers{settings: settings, pricing: pricing}
}

// Routes registers the /settings and /pricing:quote endpoints.
func (h *SettingsHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/settings", h.getSettings)
	r.Put("/settings", h.putSettings)
	r.Post("/pricing:quote", h.quote)
}

func (h *SettingsHandlers) getSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settings_service_unavailable", "settings service unavailable", http.StatusServiceUnavailable))
		return
	}
	settings, err := h.settings.GetSettings(ctx, organizationID(r))
	if err != nil {
		writeSettingsError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSettingsPayload(settings))
}

func (h *SettingsHandlers) putSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settings_service_unavailable", "settings service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req settingsPayload
	if err := httpx.DecodeJSON(r, &req, maxSettingsBodySize); err != nil {
		httpx.WriteError(ctx, w, decodeError(err))
		return
	}
	settings, err := h.settings.UpdateSettings(ctx, services.UpdateSettingsCommand{
		OrganizationID: organizationID(r),
		SyncMode:       req.SyncMode,
		Currency:       req.Currency,
		TaxRules:       taxRulesFromPayload(req.TaxRules),
	})
	if err != nil {
		writeSettingsError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSettingsPayload(settings))
}

func (h *SettingsHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil || h.pricing == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pricing_unavailable", "pricing unavailable", http.StatusServiceUnavailable))
		return
	}
	var req quoteRequest
	if err := httpx.DecodeJSON(r, &req, maxOrderBodySize); err != nil {
		httpx.WriteError(ctx, w, decodeError(err))
		return
	}
	settings, err := h.settings.GetSettings(ctx, organizationID(r))
	if err != nil {
		writeSettingsError(ctx, w, err)
		return
	}
	engine, err := h.pricing.ForCurrency(settings.Currency)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_currency", err.Error(), http.StatusUnprocessableEntity))
		return
	}

	items := lineItemsFromPayload(req.Items)
	rules := settings.EnabledTaxRules()
	totals := engine.CartTotals(items, rules, req.CartDiscountPercent)
	if req.FixedTaxAsAmount {
		totals = engine.CartTotalsWithFixedTaxes(items, rules, req.CartDiscountPercent)
	}
	payload := newBreakdownPayload(totals)
	payload.Formatted = engine.FormatAmount(totals.Total)
	writeJSONResponse(w, http.StatusOK, payload)
}

func writeSettingsError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrSettingsInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("settings_error", "failed to process settings request", http.StatusInternalServerError))
	}
}
