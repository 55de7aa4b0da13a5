package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/OMARxKHALID/POSify-sub001/internal/domain"
)

type fixedCheckoutSettings struct {
	settings OrganizationSettings
}

func (s fixedCheckoutSettings) SyncMode(context.Context) SyncMode { return s.settings.SyncMode }
func (s fixedCheckoutSettings) Settings() OrganizationSettings    { return s.settings }

type checkoutFixture struct {
	submitter *CheckoutSubmitter
	queue     *memoryOrderQueue
	client    *scriptedOrderClient
	network   *staticNetwork
}

func newCheckoutFixture(t *testing.T, mode SyncMode) checkoutFixture {
	t.Helper()
	fx := checkoutFixture{
		queue:   newMemoryOrderQueue(),
		client:  newScriptedOrderClient(),
		network: &staticNetwork{online: true},
	}
	submitter, err := NewCheckoutSubmitter(CheckoutSubmitterDeps{
		OrganizationID: "org-1",
		TerminalID:     "till-1",
		Pricing:        newTestPricingEngine(t, OrderPricingEngineDeps{}),
		Settings: fixedCheckoutSettings{settings: OrganizationSettings{
			SyncMode: mode,
			Currency: "USD",
			TaxRules: []TaxRule{vatRule(10)},
		}},
		Queue:        fx.queue,
		Client:       fx.client,
		Network:      fx.network,
		Clock:        func() time.Time { return time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC) },
		KeyGenerator: func() string { return "01KEY" },
	})
	if err != nil {
		t.Fatalf("new submitter: %v", err)
	}
	fx.submitter = submitter
	return fx
}

func twoBurgers() SubmitOrderCommand {
	return SubmitOrderCommand{Items: []LineItem{{ID: "burger", Name: "Burger", UnitPrice: 1000, Quantity: 2}}}
}

func TestCheckoutSubmitterCreatesRemotelyWhenOnline(t *testing.T) {
	fx := newCheckoutFixture(t, domain.SyncModeAuto)

	result, err := fx.submitter.Submit(context.Background(), twoBurgers())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Outcome != SubmitOutcomeCreated || result.IdempotencyKey != "01KEY" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Totals.Total != 2200 {
		t.Fatalf("expected total 2200, got %d", result.Totals.Total)
	}
	if fx.client.callCount("01KEY") != 1 || fx.queue.len() != 0 {
		t.Fatalf("expected one remote call and an empty queue")
	}
}

func TestCheckoutSubmitterQueuesWhenOfflineOrManual(t *testing.T) {
	offline := newCheckoutFixture(t, domain.SyncModeAuto)
	offline.network.set(false)
	manual := newCheckoutFixture(t, domain.SyncModeManual)

	for name, fx := range map[string]checkoutFixture{"offline": offline, "manual": manual} {
		t.Run(name, func(t *testing.T) {
			result, err := fx.submitter.Submit(context.Background(), twoBurgers())
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			if result.Outcome != SubmitOutcomeQueued {
				t.Fatalf("expected queued, got %s", result.Outcome)
			}
			queued := fx.queue.QueuedOrders()
			if len(queued) != 1 || queued[0].ComputedTotals.Total != 2200 || queued[0].OrganizationID != "org-1" {
				t.Fatalf("unexpected queue %+v", queued)
			}
			if fx.client.callCount("01KEY") != 0 {
				t.Fatalf("no remote call expected")
			}
		})
	}
}

func TestCheckoutSubmitterClassifiesRemoteFailures(t *testing.T) {
	t.Run("network queues", func(t *testing.T) {
		fx := newCheckoutFixture(t, domain.SyncModeAuto)
		fx.client.script("01KEY", typedRemoteError{kind: "network", msg: "dial tcp: connection refused"})
		result, err := fx.submitter.Submit(context.Background(), twoBurgers())
		if err != nil || result.Outcome != SubmitOutcomeQueued || fx.queue.len() != 1 {
			t.Fatalf("expected queued order, got %+v (%v)", result, err)
		}
	})
	t.Run("duplicate succeeds", func(t *testing.T) {
		fx := newCheckoutFixture(t, domain.SyncModeAuto)
		fx.client.script("01KEY", errors.New("order already exists"))
		result, err := fx.submitter.Submit(context.Background(), twoBurgers())
		if err != nil || result.Outcome != SubmitOutcomeDuplicate || fx.queue.len() != 0 {
			t.Fatalf("expected duplicate success, got %+v (%v)", result, err)
		}
	})
	t.Run("validation surfaces", func(t *testing.T) {
		fx := newCheckoutFixture(t, domain.SyncModeAuto)
		fx.client.script("01KEY", typedRemoteError{kind: "validation", msg: "items are required"})
		if _, err := fx.submitter.Submit(context.Background(), twoBurgers()); err == nil {
			t.Fatalf("expected error")
		}
		if fx.queue.len() != 0 {
			t.Fatalf("validation failures must not be queued")
		}
	})
}

func TestCheckoutSubmitterRejectsMalformedCarts(t *testing.T) {
	fx := newCheckoutFixture(t, domain.SyncModeAuto)
	for name, cmd := range map[string]SubmitOrderCommand{
		"empty":    {},
		"quantity": {Items: []LineItem{{ID: "a", UnitPrice: 100}}},
		"id":       {Items: []LineItem{{UnitPrice: 100, Quantity: 1}}},
	} {
		if _, err := fx.submitter.Submit(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", name, err)
		}
	}
}

func TestCheckoutSubmitterKeepsCallerKey(t *testing.T) {
	fx := newCheckoutFixture(t, domain.SyncModeManual)
	cmd := twoBurgers()
	cmd.IdempotencyKey = "client-key"
	result, err := fx.submitter.Submit(context.Background(), cmd)
	if err != nil || result.IdempotencyKey != "client-key" {
		t.Fatalf("expected caller key, got %+v (%v)", result, err)
	}
}

func TestCheckoutSubmitterRecognisesKnownKeys(t *testing.T) {
	t.Run("confirmed key is a duplicate", func(t *testing.T) {
		fx := newCheckoutFixture(t, domain.SyncModeAuto)
		if err := fx.queue.RemoveOrder(context.Background(), "01KEY"); err != nil {
			t.Fatalf("mark processed: %v", err)
		}
		result, err := fx.submitter.Submit(context.Background(), twoBurgers())
		if err != nil || result.Outcome != SubmitOutcomeDuplicate {
			t.Fatalf("expected duplicate outcome, got %+v (%v)", result, err)
		}
		if fx.client.callCount("01KEY") != 0 || fx.queue.len() != 0 {
			t.Fatalf("confirmed key must not be submitted or queued again")
		}
	})
	t.Run("queued key is refused", func(t *testing.T) {
		fx := newCheckoutFixture(t, domain.SyncModeManual)
		if _, err := fx.submitter.Submit(context.Background(), twoBurgers()); err != nil {
			t.Fatalf("first submit: %v", err)
		}
		_, err := fx.submitter.Submit(context.Background(), twoBurgers())
		if !errors.Is(err, ErrCheckoutAlreadyQueued) {
			t.Fatalf("expected already queued, got %v", err)
		}
		if fx.queue.len() != 1 {
			t.Fatalf("expected a single queued entry, got %d", fx.queue.len())
		}
	})
}
