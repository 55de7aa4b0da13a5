package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	domain "github.com/OMARxKHALID/POSify-sub001/internal/domain"
)

var (
	// ErrCheckoutInvalidInput signals an unusable cart.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutAlreadyQueued signals a key that is still waiting in the offline queue.
	ErrCheckoutAlreadyQueued = errors.New("checkout: order already queued")
)

// CheckoutSettings supplies the terminal's view of the organization settings.
type CheckoutSettings interface {
	SyncModeProvider
	Settings() OrganizationSettings
}

// SubmitOrderCommand is a cart the operator wants to place.
type SubmitOrderCommand struct {
	// IdempotencyKey is optional; a ULID is generated when empty.
	IdempotencyKey      string
	Items               []LineItem
	CartDiscountPercent float64
}

// SubmitOutcome reports where a submitted order ended up.
type SubmitOutcome string

const (
	SubmitOutcomeCreated   SubmitOutcome = "created"
	SubmitOutcomeDuplicate SubmitOutcome = "duplicate"
	SubmitOutcomeQueued    SubmitOutcome = "queued"
)

// SubmitOrderResult is returned by CheckoutSubmitter.Submit.
type SubmitOrderResult struct {
	IdempotencyKey string
	Outcome        SubmitOutcome
	OrderID        string
	OrderNumber    string
	Totals         PriceBreakdown
}

// CheckoutSubmitterDeps bundles collaborators for the checkout submitter.
type CheckoutSubmitterDeps struct {
	OrganizationID string
	TerminalID     string
	Pricing        *OrderPricingEngine
	Settings       CheckoutSettings
	Queue          OrderQueue
	Client         RemoteOrderClient
	Network        NetworkStatus
	Clock          func() time.Time
	KeyGenerator   func() string
	Logger         *zap.Logger
}

// CheckoutSubmitter prices a cart and either places it with the order API or parks it in
// the offline queue for the synchronizer.
type CheckoutSubmitter struct {
	orgID      string
	terminalID string
	pricing    *OrderPricingEngine
	settings   CheckoutSettings
	queue      OrderQueue
	client     RemoteOrderClient
	network    NetworkStatus
	clock      func() time.Time
	newKey     func() string
	logger     *zap.Logger
}

// NewCheckoutSubmitter validates deps and constructs a submitter.
func NewCheckoutSubmitter(deps CheckoutSubmitterDeps) (*CheckoutSubmitter, error) {
	switch {
	case strings.TrimSpace(deps.OrganizationID) == "":
		return nil, errors.New("checkout submitter: organization id is required")
	case deps.Pricing == nil:
		return nil, errors.New("checkout submitter: pricing engine is required")
	case deps.Settings == nil:
		return nil, errors.New("checkout submitter: settings are required")
	case deps.Queue == nil:
		return nil, errors.New("checkout submitter: queue is required")
	case deps.Client == nil:
		return nil, errors.New("checkout submitter: order client is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newKey := deps.KeyGenerator
	if newKey == nil {
		newKey = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckoutSubmitter{
		orgID:      strings.TrimSpace(deps.OrganizationID),
		terminalID: strings.TrimSpace(deps.TerminalID),
		pricing:    deps.Pricing,
		settings:   deps.Settings,
		queue:      deps.Queue,
		client:     deps.Client,
		network:    deps.Network,
		clock:      clock,
		newKey:     newKey,
		logger:     logger.Named("checkout"),
	}, nil
}

// Quote prices a cart with the cached settings without submitting it.
func (c *CheckoutSubmitter) Quote(items []LineItem, cartDiscountPercent float64) (PriceBreakdown, error) {
	settings := c.settings.Settings()
	engine, err := c.pricing.ForCurrency(settings.Currency)
	if err != nil {
		return PriceBreakdown{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	return engine.CartTotals(domain.ClampLineItems(items), settings.EnabledTaxRules(), cartDiscountPercent), nil
}

// Submit places the order remotely when the terminal is online and in auto mode. Network
// failures, offline terminals and manual mode queue the order instead. A duplicate
// response means the server already has the order and counts as success, as does a key
// this terminal already confirmed. A key still waiting in the queue is refused.
func (c *CheckoutSubmitter) Submit(ctx context.Context, cmd SubmitOrderCommand) (SubmitOrderResult, error) {
	if len(cmd.Items) == 0 {
		return SubmitOrderResult{}, fmt.Errorf("%w: items are required", ErrCheckoutInvalidInput)
	}
	for i, item := range cmd.Items {
		if strings.TrimSpace(item.ID) == "" || item.Quantity <= 0 || item.UnitPrice < 0 {
			return SubmitOrderResult{}, fmt.Errorf("%w: items[%d] is malformed", ErrCheckoutInvalidInput, i)
		}
	}

	totals, err := c.Quote(cmd.Items, cmd.CartDiscountPercent)
	if err != nil {
		return SubmitOrderResult{}, err
	}
	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		key = c.newKey()
	}
	now := c.clock().UTC()
	order := QueuedOrder{
		IdempotencyKey:      key,
		OrganizationID:      c.orgID,
		TerminalID:          c.terminalID,
		Items:               domain.ClampLineItems(cmd.Items),
		CartDiscountPercent: domain.ClampPercent(cmd.CartDiscountPercent),
		ComputedTotals:      totals,
		Status:              domain.QueueStatusQueued,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	result := SubmitOrderResult{IdempotencyKey: key, Totals: totals}
	if known, done, err := c.knownKey(key, result); done {
		return known, err
	}

	online := c.network == nil || c.network.IsOnline()
	if !online || c.settings.SyncMode(ctx) != domain.SyncModeAuto {
		return c.enqueue(ctx, order, result, "offline or manual mode")
	}

	remote, err := c.client.CreateOrder(ctx, RemoteOrderRequestFromQueued(order))
	if err == nil {
		result.Outcome = SubmitOutcomeCreated
		result.OrderID = remote.OrderID
		result.OrderNumber = remote.OrderNumber
		return result, nil
	}
	switch ClassifyRemoteError(err) {
	case RemoteErrorDuplicate:
		c.logger.Info("order already on server", zap.String("idempotencyKey", key))
		result.Outcome = SubmitOutcomeDuplicate
		return result, nil
	case RemoteErrorNetwork:
		return c.enqueue(ctx, order, result, err.Error())
	default:
		return SubmitOrderResult{}, fmt.Errorf("checkout: submit order: %w", err)
	}
}

func (c *CheckoutSubmitter) enqueue(ctx context.Context, order QueuedOrder, result SubmitOrderResult, reason string) (SubmitOrderResult, error) {
	if err := c.queue.Enqueue(ctx, order); err != nil {
		if known, done, knownErr := c.knownKey(order.IdempotencyKey, result); done {
			return known, knownErr
		}
		return SubmitOrderResult{}, fmt.Errorf("checkout: queue order: %w", err)
	}
	c.logger.Info("order queued for sync",
		zap.String("idempotencyKey", order.IdempotencyKey),
		zap.Int64("total", order.ComputedTotals.Total),
		zap.String("reason", reason),
	)
	result.Outcome = SubmitOutcomeQueued
	return result, nil
}

// knownKey reports whether key already belongs to an order this terminal handled. A
// confirmed key comes back as a duplicate outcome; a queued one as ErrCheckoutAlreadyQueued.
func (c *CheckoutSubmitter) knownKey(key string, result SubmitOrderResult) (SubmitOrderResult, bool, error) {
	if c.queue.IsOrderProcessed(key) {
		c.logger.Info("order already confirmed", zap.String("idempotencyKey", key))
		result.Outcome = SubmitOutcomeDuplicate
		return result, true, nil
	}
	sameKey := func(order QueuedOrder) bool { return order.IdempotencyKey == key }
	if slices.ContainsFunc(c.queue.QueuedOrders(), sameKey) || slices.ContainsFunc(c.queue.FailedOrders(), sameKey) {
		return SubmitOrderResult{}, true, fmt.Errorf("%w: %s", ErrCheckoutAlreadyQueued, key)
	}
	return result, false, nil
}
