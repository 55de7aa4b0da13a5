package auth

import (
	"context"
	"strings"
)

// Terminal identifies the point-of-sale terminal that authenticated a request.
type Terminal struct {
	OrganizationID string
	TerminalID     string
}

// Scope returns the organization scoped identifier used for idempotency and logging.
func (t *Terminal) Scope() string {
	if t == nil {
		return ""
	}
	org := strings.TrimSpace(t.OrganizationID)
	terminal := strings.TrimSpace(t.TerminalID)
	switch {
	case org == "" && terminal == "":
		return ""
	case terminal == "":
		return org
	default:
		return org + "/" + terminal
	}
}

type contextKey string

const terminalContextKey contextKey = "github.com/OMARxKHALID/POSify-sub001/internal/platform/auth/terminal"

// WithTerminal stores the terminal within the context for downstream handlers.
func WithTerminal(ctx context.Context, terminal *Terminal) context.Context {
	return context.WithValue(ctx, terminalContextKey, terminal)
}

// TerminalFromContext retrieves the terminal previously stored in context.
func TerminalFromContext(ctx context.Context) (*Terminal, bool) {
	if ctx == nil {
		return nil, false
	}
	terminal, ok := ctx.Value(terminalContextKey).(*Terminal)
	if !ok || terminal == nil {
		return nil, false
	}
	return terminal, true
}
