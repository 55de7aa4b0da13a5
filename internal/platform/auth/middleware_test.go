package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newTestRouter(authn *Authenticator, seen **Terminal) http.Handler {
	router := chi.NewRouter()
	router.Route("/organizations/{orgID}", func(r chi.Router) {
		r.Use(authn.RequireTerminal())
		r.Get("/orders", func(w http.ResponseWriter, r *http.Request) {
			terminal, ok := TerminalFromContext(r.Context())
			if ok {
				*seen = terminal
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})
	return router
}

func TestRequireTerminal_AllowsValidToken(t *testing.T) {
	var seen *Terminal
	router := newTestRouter(NewAuthenticator("till-secret"), &seen)

	req := httptest.NewRequest(http.MethodGet, "/organizations/org-1/orders", nil)
	req.Header.Set("Authorization", "Bearer till-secret")
	req.Header.Set(TerminalHeader, "till-7")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if seen == nil || seen.OrganizationID != "org-1" || seen.TerminalID != "till-7" {
		t.Fatalf("unexpected terminal %+v", seen)
	}
	if seen.Scope() != "org-1/till-7" {
		t.Fatalf("unexpected scope %s", seen.Scope())
	}
}

func TestRequireTerminal_RejectsMissingOrWrongToken(t *testing.T) {
	var seen *Terminal
	router := newTestRouter(NewAuthenticator("till-secret"), &seen)

	cases := map[string]string{
		"missing": "",
		"scheme":  "Basic till-secret",
		"wrong":   "Bearer nope",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/organizations/org-1/orders", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] == "" {
				t.Fatalf("expected error code in body")
			}
		})
	}
	if seen != nil {
		t.Fatalf("handler should not run")
	}
}

func TestRequireTerminal_DisabledWithoutToken(t *testing.T) {
	var seen *Terminal
	router := newTestRouter(NewAuthenticator(""), &seen)

	req := httptest.NewRequest(http.MethodGet, "/organizations/org-9/orders", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if seen == nil || seen.Scope() != "org-9" {
		t.Fatalf("unexpected terminal %+v", seen)
	}
}

func TestRequireTerminal_RejectsMalformedTerminalID(t *testing.T) {
	var seen *Terminal
	router := newTestRouter(NewAuthenticator(""), &seen)

	for _, id := range []string{"till/7", "till 7", strings.Repeat("t", 65)} {
		req := httptest.NewRequest(http.MethodGet, "/organizations/org-1/orders", nil)
		req.Header.Set(TerminalHeader, id)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("terminal %q: expected 400, got %d", id, rec.Code)
		}
	}
	if seen != nil {
		t.Fatalf("handler should not run")
	}
}

func TestRequireTerminal_ChallengesMissingToken(t *testing.T) {
	var seen *Terminal
	router := newTestRouter(NewAuthenticator("till-secret"), &seen)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/organizations/org-1/orders", nil))
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected bearer challenge")
	}
}
