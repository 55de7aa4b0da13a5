package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/OMARxKHALID/POSify-sub001/internal/platform/auth"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

const cartBody = `{"terminalId":"till-1","items":[{"id":"latte","price":450,"quantity":2}]}`

func fixedClock() time.Time { return fixedTime }

// submit posts an order through handler. An empty key omits the header; a nil terminal
// sends the request unauthenticated.
func submit(handler http.Handler, key, body string, terminal *auth.Terminal) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/organizations/org-1/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if terminal != nil {
		req = req.WithContext(auth.WithTerminal(req.Context(), terminal))
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// countingHandler answers 201 with a fixed order body and counts calls.
func countingHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Set-Cookie", "session=1")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"orderNumber":"ORD-20240101-000001"}`))
	})
}

func TestMiddleware_MissingHeader(t *testing.T) {
	var calls int
	rr := submit(Middleware(NewMemoryStore(), WithClock(fixedClock))(countingHandler(&calls)), "", cartBody, nil)

	if calls != 0 {
		t.Fatal("handler should not be invoked when header is missing")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(countingHandler(&calls))
	till := &auth.Terminal{OrganizationID: "org-1", TerminalID: "till-1"}

	first := submit(handler, "01HZX3", cartBody, till)
	replayed := submit(handler, "01HZX3", cartBody, till)

	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}
	if first.Code != http.StatusCreated || replayed.Code != http.StatusCreated {
		t.Fatalf("expected 201 twice, got %d and %d", first.Code, replayed.Code)
	}
	if replayed.Header().Get(ReplayHeader) != "true" || first.Header().Get(ReplayHeader) != "" {
		t.Fatalf("expected only the replay to carry %s", ReplayHeader)
	}
	if got := replayed.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected content-type json, got %s", got)
	}
	if replayed.Header().Get("Set-Cookie") != "" {
		t.Fatalf("expected cookies to be dropped from the replay")
	}
	if replayed.Body.String() != first.Body.String() {
		t.Fatalf("expected response body %s, got %s", first.Body.String(), replayed.Body.String())
	}
}

func TestMiddleware_ConflictingFingerprintReturnsConflict(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(countingHandler(&calls))

	if rr := submit(handler, "same-key", cartBody, nil); rr.Code != http.StatusCreated {
		t.Fatalf("expected first request success, got %d", rr.Code)
	}
	changed := strings.Replace(cartBody, `"quantity":2`, `"quantity":3`, 1)
	rr := submit(handler, "same-key", changed, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected conflict status, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_PendingReservationReturnsConflict(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store, WithClock(fixedClock))(countingHandler(&calls))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/organizations/org-1/orders", bytes.NewBufferString(cartBody))
	body, err := readAndReplayBody(req)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	scope := requesterScope(req.Context())
	if _, err := store.Reserve(req.Context(), scopedKey("pending-key", scope), requestFingerprint(req, body, scope), fixedTime, time.Hour); err != nil {
		t.Fatalf("failed to seed reservation: %v", err)
	}

	rr := submit(handler, "pending-key", cartBody, nil)
	if calls != 0 || rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 without reaching the handler, got %d after %d calls", rr.Code, calls)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddleware_ScopesKeysPerTerminal(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(countingHandler(&calls))

	tills := []*auth.Terminal{
		{OrganizationID: "org-a", TerminalID: "till-1"},
		{OrganizationID: "org-b", TerminalID: "till-1"},
		{OrganizationID: "org-a", TerminalID: "till-2"},
	}
	for _, till := range tills {
		if rr := submit(handler, "shared-key", cartBody, till); rr.Code != http.StatusCreated || rr.Header().Get(ReplayHeader) != "" {
			t.Fatalf("expected fresh 201 for %s, got %d", till.Scope(), rr.Code)
		}
	}
	if calls != len(tills) {
		t.Fatalf("expected each terminal to reach the handler, got %d calls", calls)
	}
}

func TestMiddleware_ServerErrorsAreNotReplayed(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	if rr := submit(handler, "retry-key", cartBody, nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected the failure to pass through, got %d", rr.Code)
	}
	if rr := submit(handler, "retry-key", cartBody, nil); rr.Code != http.StatusCreated {
		t.Fatalf("expected retry to reach handler and succeed, got %d", rr.Code)
	}
	if calls != 2 {
		t.Fatalf("expected two handler calls, got %d", calls)
	}
}

func TestMemoryStore_CleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "a", "fp", fixedTime, time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := store.Reserve(ctx, "b", "fp", fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	removed, err := store.CleanupExpired(ctx, fixedTime.Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one expired record, got %d", removed)
	}
	res, err := store.Reserve(ctx, "a", "other", fixedTime.Add(3*time.Minute), time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected expired key to be reusable, got %v %v", res.State, err)
	}
}

func TestMemoryStore_CleanupHonoursLimitOldestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for i, ttl := range []time.Duration{3 * time.Minute, time.Minute, 2 * time.Minute} {
		if _, err := store.Reserve(ctx, fmt.Sprintf("k%d", i), "fp", fixedTime, ttl); err != nil {
			t.Fatalf("reserve: %v", err)
		}
	}
	removed, err := store.CleanupExpired(ctx, fixedTime.Add(time.Hour), 2)
	if err != nil || removed != 2 {
		t.Fatalf("expected two removed, got %d %v", removed, err)
	}
	if _, err := store.Reserve(ctx, "k0", "other", fixedTime, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected latest expiry to survive, got %v", err)
	}
}

func TestMemoryStore_ReleaseKeepsRecordOfOtherRequest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "key", "fp-new", fixedTime, time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Release(ctx, "key", "fp-old"); err != nil {
		t.Fatalf("release: %v", err)
	}
	res, err := store.Reserve(ctx, "key", "fp-new", fixedTime, time.Minute)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected record to remain pending, got %v %v", res.State, err)
	}
}

func TestMiddleware_SaveFailureRollsBackReservation(t *testing.T) {
	store := &stubStore{failSave: true}
	var calls int
	rr := submit(Middleware(store, WithClock(fixedClock))(countingHandler(&calls)), "fail-key", cartBody, nil)

	if calls != 1 || rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after one handler call, got %d after %d", rr.Code, calls)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_store_error")
	if !store.released {
		t.Fatalf("expected reservation to be released on failure")
	}
}

type stubStore struct {
	failSave bool
	released bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{State: ReservationStateNew, Record: Record{}}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	return nil
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}

func TestMiddleware_RejectsOversizedKey(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked for an oversized key")
	}))
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(`{}`))
	req.Header.Set("Idempotency-Key", strings.Repeat("k", maxKeyLength+1))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_invalid")
}

func TestMiddleware_UnguardedMethodsPassThrough(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithMethods(http.MethodPost))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))
	for _, method := range []string{http.MethodGet, http.MethodPut} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(method, "/orders", nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("%s: expected pass-through, got %d", method, rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected two handler calls, got %d", calls)
	}
}

func TestSweepDrainsFullBatches(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := store.Reserve(ctx, fmt.Sprintf("k%d", i), "fp", fixedTime, time.Minute); err != nil {
			t.Fatalf("reserve: %v", err)
		}
	}
	removed, err := sweep(ctx, store, fixedTime.Add(time.Hour), 2)
	if err != nil || removed != 5 {
		t.Fatalf("expected all five swept, got %d %v", removed, err)
	}
}
