package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/OMARxKHALID/POSify-sub001/internal/platform/httpx"
)

const (
	// TerminalHeader carries the calling terminal identifier.
	TerminalHeader = "X-Terminal-ID"
	// OrganizationParam is the chi URL parameter holding the organization identifier.
	OrganizationParam = "orgID"

	maxTerminalIDLength = 64
)

// Authenticator checks the bearer token every terminal of a deployment shares.
type Authenticator struct {
	digest [sha256.Size]byte
	set    bool
}

// NewAuthenticator returns an Authenticator for token. An empty token disables the check,
// which only local development should do.
func NewAuthenticator(token string) *Authenticator {
	token = strings.TrimSpace(token)
	if token == "" {
		return &Authenticator{}
	}
	return &Authenticator{digest: sha256.Sum256([]byte(token)), set: true}
}

// Enabled reports whether bearer verification is active.
func (a *Authenticator) Enabled() bool {
	return a != nil && a.set
}

// RequireTerminal verifies the bearer token and stores the calling Terminal on the request
// context: the organization from the route, the terminal from X-Terminal-ID.
func (a *Authenticator) RequireTerminal() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.Enabled() {
				token, ok := bearerToken(r.Header.Get("Authorization"))
				if !ok {
					unauthorized(w, r, "unauthenticated", "authorization header missing or invalid")
					return
				}
				// Comparing digests keeps the token length out of the timing.
				if got := sha256.Sum256([]byte(token)); subtle.ConstantTimeCompare(got[:], a.digest[:]) != 1 {
					unauthorized(w, r, "invalid_token", "terminal token invalid")
					return
				}
			}

			terminal := &Terminal{
				OrganizationID: strings.TrimSpace(chi.URLParam(r, OrganizationParam)),
				TerminalID:     strings.TrimSpace(r.Header.Get(TerminalHeader)),
			}
			if terminal.OrganizationID == "" {
				badRequest(w, r, "invalid_organization", "organization id is required")
				return
			}
			if !validTerminalID(terminal.TerminalID) {
				badRequest(w, r, "invalid_terminal", TerminalHeader+" must be at most 64 letters, digits, '.', '_' or '-'")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithTerminal(r.Context(), terminal)))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// validTerminalID accepts an empty id; requests without one are scoped to the organization.
func validTerminalID(id string) bool {
	if len(id) > maxTerminalIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

func unauthorized(w http.ResponseWriter, r *http.Request, code, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="pos"`)
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, http.StatusUnauthorized))
}

func badRequest(w http.ResponseWriter, r *http.Request, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, http.StatusBadRequest))
}
