package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/OMARxKHALID/POSify-sub001/internal/platform/httpx"
	"github.com/OMARxKHALID/POSify-sub001/internal/services"
)

const defaultNotificationLimit = 20

// OrderSubmitter places carts from the till UI.
type OrderSubmitter interface {
	Submit(ctx context.Context, cmd services.SubmitOrderCommand) (services.SubmitOrderResult, error)
	Quote(items []services.LineItem, cartDiscountPercent float64) (services.PriceBreakdown, error)
}

// QueueInspector exposes the terminal queue to the control API.
type QueueInspector interface {
	QueuedOrders() []services.QueuedOrder
	FailedOrders() []services.QueuedOrder
	Get(key string) (services.QueuedOrder, bool)
	Discard(ctx context.Context, key string) error
}

// QueueSyncer runs synchronizer passes on demand.
type QueueSyncer interface {
	SyncQueuedOrders(ctx context.Context) (services.SyncSummary, error)
	SyncSingleOrder(ctx context.Context, key string) (services.OrderSyncResult, error)
	Status(ctx context.Context) services.SyncStatus
}

// NotificationBoard lists and dismisses operator notifications.
type NotificationBoard interface {
	List() []services.Notification
	Dismiss(id string) bool
}

// AgentHandlers is the terminal agent's local control API used by the till UI.
type AgentHandlers struct {
	submitter OrderSubmitter
	queue     QueueInspector
	syncer    QueueSyncer
	board     NotificationBoard
}

// NewAgentHandlers constructs the control API handlers.
func NewAgentHandlers(submitter OrderSubmitter, queue QueueInspector, syncer QueueSyncer, board NotificationBoard) *AgentHandlers {
	return &AgentHandlers{submitter: submitter, queue: queue, syncer: syncer, board: board}
}

// NewAgentRouter constructs the agent router with the given extra middleware.
func NewAgentRouter(h *AgentHandlers, health *HealthHandlers, mw ...func(http.Handler) http.Handler) chi.Router {
	r := newBaseRouter(defaultTimeout, health, mw)
	h.Routes(r)
	return r
}

// Routes registers the agent endpoints.
func (h *AgentHandlers) Routes(r chi.Router) {
	r.Post("/orders", h.submitOrder)
	r.Post("/pricing:quote", h.quote)
	r.Get("/queue", h.listQueue)
	r.Post("/queue:sync", h.syncAll)
	r.Post("/queue/{key}:sync", h.syncOne)
	r.Delete("/queue/{key}", h.discard)
	r.Get("/notifications", h.listNotifications)
	r.Delete("/notifications/{id}", h.dismissNotification)
	r.Get("/status", h.status)
}

type submitOrderRequest struct {
	IdempotencyKey      string            `json:"idempotencyKey,omitempty"`
	Items               []lineItemPayload `json:"items"`
	CartDiscountPercent float64           `json:"cartDiscountPercent,omitempty"`
}

type submitOrderResponse struct {
	IdempotencyKey string           `json:"idempotencyKey"`
	Outcome        string           `json:"outcome"`
	OrderID        string           `json:"orderId,omitempty"`
	OrderNumber    string           `json:"orderNumber,omitempty"`
	Totals         breakdownPayload `json:"totals"`
}

type queuedOrderPayload struct {
	IdempotencyKey      string            `json:"idempotencyKey"`
	Status              string            `json:"status"`
	FailureReason       string            `json:"failureReason,omitempty"`
	Attempts            int               `json:"attempts"`
	Items               []lineItemPayload `json:"items"`
	CartDiscountPercent float64           `json:"cartDiscountPercent"`
	Totals              breakdownPayload  `json:"totals"`
	CreatedAt           string            `json:"createdAt"`
	UpdatedAt           string            `json:"updatedAt"`
}

type queueResponse struct {
	Queued []queuedOrderPayload `json:"queued"`
	Failed []queuedOrderPayload `json:"failed"`
}

type syncResultPayload struct {
	IdempotencyKey string `json:"idempotencyKey"`
	Outcome        string `json:"outcome"`
	Attempts       int    `json:"attempts"`
	OrderNumber    string `json:"orderNumber,omitempty"`
	ErrorKind      string `json:"errorKind,omitempty"`
	Error          string `json:"error,omitempty"`
}

type syncSummaryPayload struct {
	Skipped    bool                `json:"skipped"`
	SkipReason string              `json:"skipReason,omitempty"`
	Synced     int                 `json:"synced"`
	Duplicates int                 `json:"duplicates"`
	Failed     int                 `json:"failed"`
	Discarded  int                 `json:"discarded"`
	Results    []syncResultPayload `json:"results"`
	StartedAt  string              `json:"startedAt,omitempty"`
	FinishedAt string              `json:"finishedAt,omitempty"`
}

type notificationPayload struct {
	ID        string `json:"id"`
	Severity  string `json:"severity"`
	Title     string `json:"title,omitempty"`
	Message   string `json:"message"`
	CreatedAt string `json:"createdAt"`
}

type statusPayload struct {
	Syncing       bool                `json:"syncing"`
	Online        bool                `json:"online"`
	SyncMode      string              `json:"syncMode"`
	Queued        int                 `json:"queued"`
	Failed        int                 `json:"failed"`
	LastPassStart string              `json:"lastPassStart,omitempty"`
	LastTrigger   string              `json:"lastTrigger,omitempty"`
	LastSummary   *syncSummaryPayload `json:"lastSummary,omitempty"`
}

func (h *AgentHandlers) submitOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req submitOrderRequest
	if err := httpx.DecodeJSON(r, &req, maxOrderBodySize); err != nil {
		httpx.WriteError(ctx, w, decodeError(err))
		return
	}
	result, err := h.submitter.Submit(ctx, services.SubmitOrderCommand{
		IdempotencyKey:      req.IdempotencyKey,
		Items:               lineItemsFromPayload(req.Items),
		CartDiscountPercent: req.CartDiscountPercent,
	})
	if err != nil {
		writeAgentError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if result.Outcome == services.SubmitOutcomeQueued {
		status = http.StatusAccepted
	}
	writeJSONResponse(w, status, submitOrderResponse{
		IdempotencyKey: result.IdempotencyKey,
		Outcome:        string(result.Outcome),
		OrderID:        result.OrderID,
		OrderNumber:    result.OrderNumber,
		Totals:         newBreakdownPayload(result.Totals),
	})
}

func (h *AgentHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req submitOrderRequest
	if err := httpx.DecodeJSON(r, &req, maxOrderBodySize); err != nil {
		httpx.WriteError(ctx, w, decodeError(err))
		return
	}
	totals, err := h.submitter.Quote(lineItemsFromPayload(req.Items), req.CartDiscountPercent)
	if err != nil {
		writeAgentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newBreakdownPayload(totals))
}

func (h *AgentHandlers) listQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, queueResponse{
		Queued: buildQueuedPayloads(h.queue.QueuedOrders()),
		Failed: buildQueuedPayloads(h.queue.FailedOrders()),
	})
}

func (h *AgentHandlers) syncAll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.syncer.SyncQueuedOrders(r.Context())
	if err != nil {
		writeAgentError(r.Context(), w, err)
		return
	}
	status := http.StatusOK
	if summary.Skipped {
		status = http.StatusAccepted
	}
	writeJSONResponse(w, status, buildSummaryPayload(summary))
}

func (h *AgentHandlers) syncOne(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncer.SyncSingleOrder(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeAgentError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSyncResultPayload(result))
}

func (h *AgentHandlers) discard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if _, ok := h.queue.Get(key); !ok {
		httpx.WriteError(ctx, w, httpx.NewError("queued_order_not_found", "queued order not found", http.StatusNotFound))
		return
	}
	if err := h.queue.Discard(ctx, key); err != nil {
		writeAgentError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AgentHandlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r.URL.Query().Get("limit"), defaultNotificationLimit)
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	list := h.board.List()
	if len(list) > limit {
		list = list[:limit]
	}
	out := make([]notificationPayload, 0, len(list))
	for _, n := range list {
		out = append(out, notificationPayload{
			ID:        n.ID,
			Severity:  string(n.Severity),
			Title:     n.Title,
			Message:   n.Message,
			CreatedAt: formatTime(n.CreatedAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": out})
}

func (h *AgentHandlers) dismissNotification(w http.ResponseWriter, r *http.Request) {
	if !h.board.Dismiss(chi.URLParam(r, "id")) {
		httpx.WriteError(r.Context(), w, httpx.NewError("notification_not_found", "notification not found", http.StatusNotFound))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AgentHandlers) status(w http.ResponseWriter, r *http.Request) {
	status := h.syncer.Status(r.Context())
	payload := statusPayload{
		Syncing:       status.Syncing,
		Online:        status.Online,
		SyncMode:      string(status.Mode),
		Queued:        status.Queued,
		Failed:        status.Failed,
		LastPassStart: formatTime(status.LastPassStart),
		LastTrigger:   formatTime(status.LastTrigger),
	}
	if status.LastSummary != nil {
		summary := buildSummaryPayload(*status.LastSummary)
		payload.LastSummary = &summary
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func writeAgentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutAlreadyQueued):
		httpx.WriteError(ctx, w, httpx.NewError("order_already_queued", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrQueuedOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("queued_order_not_found", "queued order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrSyncOrderInFlight):
		httpx.WriteError(ctx, w, httpx.NewError("sync_in_progress", err.Error(), http.StatusConflict))
	case services.ClassifyRemoteError(err) == services.RemoteErrorValidation:
		httpx.WriteError(ctx, w, httpx.NewError("order_rejected", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("request_cancelled", "request cancelled", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("agent_error", err.Error(), http.StatusBadGateway))
	}
}

func buildQueuedPayloads(orders []services.QueuedOrder) []queuedOrderPayload {
	out := make([]queuedOrderPayload, 0, len(orders))
	for _, order := range orders {
		out = append(out, queuedOrderPayload{
			IdempotencyKey:      order.IdempotencyKey,
			Status:              string(order.Status),
			FailureReason:       order.FailureReason,
			Attempts:            order.Attempts,
			Items:               newLineItemPayloads(order.Items),
			CartDiscountPercent: order.CartDiscountPercent,
			Totals:              newBreakdownPayload(order.ComputedTotals),
			CreatedAt:           formatTime(order.CreatedAt),
			UpdatedAt:           formatTime(order.UpdatedAt),
		})
	}
	return out
}

func buildSyncResultPayload(result services.OrderSyncResult) syncResultPayload {
	return syncResultPayload{
		IdempotencyKey: result.IdempotencyKey,
		Outcome:        string(result.Outcome),
		Attempts:       result.Attempts,
		OrderNumber:    result.OrderNumber,
		ErrorKind:      string(result.ErrorKind),
		Error:          result.Error,
	}
}

func buildSummaryPayload(summary services.SyncSummary) syncSummaryPayload {
	results := make([]syncResultPayload, 0, len(summary.Results))
	for _, result := range summary.Results {
		results = append(results, buildSyncResultPayload(result))
	}
	return syncSummaryPayload{
		Skipped:    summary.Skipped,
		SkipReason: string(summary.SkipReason),
		Synced:     summary.Synced,
		Duplicates: summary.Duplicates,
		Failed:     summary.Failed,
		Discarded:  summary.Discarded,
		Results:    results,
		StartedAt:  formatTime(summary.StartedAt),
		FinishedAt: formatTime(summary.FinishedAt),
	}
}
