package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/OMARxKHALID/POSify-sub001/internal/platform/auth"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	// ReplayHeader marks responses served from a stored record.
	ReplayHeader = "X-Idempotent-Replay"

	// Terminals send ULIDs; anything much longer is a client bug.
	maxKeyLength  = 128
	anonymousUser = "anonymous"
)

type clockFunc func() time.Time

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	methods    map[string]struct{}
	clock      clockFunc
	logger     *zap.Logger
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header name used to extract the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		name = strings.TrimSpace(name)
		if name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL configures how long completed records are replayed.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithMethods restricts the HTTP methods guarded by the middleware.
func WithMethods(methods ...string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		set := make(map[string]struct{}, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				set[method] = struct{}{}
			}
		}
		if len(set) > 0 {
			cfg.methods = set
		}
	}
}

// WithLogger injects a logger for persistence errors.
func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithClock overrides the time source, primarily for testing.
func WithClock(clock clockFunc) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware enforces idempotency for order submissions. Keys are scoped to the calling
// organization and terminal so two tenants can never collide on a client generated key.
// Completed responses below 500 are replayed; server failures release the key.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods:    map[string]struct{}{http.MethodPost: {}, http.MethodPut: {}, http.MethodPatch: {}},
		clock:      time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		g := &guard{store: store, cfg: cfg, next: next}
		return http.HandlerFunc(g.serveHTTP)
	}
}

type guard struct {
	store Store
	cfg   middlewareConfig
	next  http.Handler
}

// guardedRequest is the per-request view of the key after scoping.
type guardedRequest struct {
	key         string
	scope       string
	storeKey    string
	fingerprint string
}

func (g *guard) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := g.cfg.methods[r.Method]; !ok {
		g.next.ServeHTTP(w, r)
		return
	}
	ctx := r.Context()

	key := strings.TrimSpace(r.Header.Get(g.cfg.headerName))
	switch {
	case key == "":
		writeError(ctx, w, http.StatusBadRequest, "idempotency_key_required", "missing "+g.cfg.headerName+" header")
		return
	case len(key) > maxKeyLength:
		writeError(ctx, w, http.StatusBadRequest, "idempotency_key_invalid", "idempotency key is too long")
		return
	}

	body, err := readAndReplayBody(r)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, "idempotency_read_body_failed", "unable to read request body")
		return
	}
	scope := requesterScope(ctx)
	req := guardedRequest{
		key:         key,
		scope:       scope,
		storeKey:    scopedKey(key, scope),
		fingerprint: requestFingerprint(r, body, scope),
	}

	reservation, err := g.store.Reserve(ctx, req.storeKey, req.fingerprint, g.cfg.clock().UTC(), g.cfg.ttl)
	if err != nil {
		g.storeFailure(ctx, w, req, err)
		return
	}
	switch reservation.State {
	case ReservationStateCompleted:
		g.cfg.logger.Debug("idempotency: replaying stored response", zap.String("key", key), zap.String("scope", scope))
		replay(w, reservation.Record)
	case ReservationStatePending:
		writeError(ctx, w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
	case ReservationStateNew:
		g.handle(w, r, req)
	default:
		writeError(ctx, w, http.StatusInternalServerError, "idempotency_unknown_state", "unexpected idempotency state")
	}
}

func (g *guard) handle(w http.ResponseWriter, r *http.Request, req guardedRequest) {
	ctx := r.Context()
	buf := newBufferedResponse()
	g.next.ServeHTTP(buf, r)

	if buf.Status() >= http.StatusInternalServerError {
		// Not remembered, so the terminal's retry reaches the handler again.
		if err := g.store.Release(ctx, req.storeKey, req.fingerprint); err != nil {
			g.cfg.logger.Warn("idempotency: release after server error", zap.String("key", req.key), zap.Error(err))
		}
		g.flush(w, buf, req)
		return
	}

	resp := Response{Status: buf.Status(), Headers: buf.header.Clone(), Body: buf.Bytes()}
	if err := g.store.SaveResponse(ctx, req.storeKey, req.fingerprint, resp, g.cfg.clock().UTC(), g.cfg.ttl); err != nil {
		g.cfg.logger.Error("idempotency: persist response failed", zap.String("key", req.key), zap.String("scope", req.scope), zap.Error(err))
		if releaseErr := g.store.Release(ctx, req.storeKey, req.fingerprint); releaseErr != nil {
			g.cfg.logger.Error("idempotency: release after save failure", zap.String("key", req.key), zap.Error(releaseErr))
		}
		writeError(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
		return
	}
	g.flush(w, buf, req)
}

func (g *guard) flush(w http.ResponseWriter, buf *bufferedResponse, req guardedRequest) {
	if err := buf.writeTo(w); err != nil {
		g.cfg.logger.Warn("idempotency: flush response failed", zap.String("key", req.key), zap.Error(err))
	}
}

func (g *guard) storeFailure(ctx context.Context, w http.ResponseWriter, req guardedRequest, err error) {
	if errors.Is(err, ErrFingerprintMismatch) {
		writeError(ctx, w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
		return
	}
	g.cfg.logger.Error("idempotency: store error", zap.String("key", req.key), zap.String("scope", req.scope), zap.Error(err))
	writeError(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
}

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if err := r.Body.Close(); err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// requestFingerprint ties a key to one submission: the same key with a different cart is a conflict.
func requestFingerprint(r *http.Request, body []byte, scope string) string {
	bodyHash := ""
	if len(body) > 0 {
		bodyHash = sha256Hex(body)
	}
	parts := []string{strings.ToUpper(r.Method), r.URL.Path, r.URL.RawQuery, scope, bodyHash}
	return sha256Hex([]byte(strings.Join(parts, "|")))
}

func requesterScope(ctx context.Context) string {
	if terminal, ok := auth.TerminalFromContext(ctx); ok {
		if scope := terminal.Scope(); scope != "" {
			return scope
		}
	}
	return anonymousUser
}

func scopedKey(key, scope string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = anonymousUser
	}
	return strings.TrimSpace(key) + "|" + scope
}

func replay(w http.ResponseWriter, record Record) {
	for name, values := range record.ResponseHeaders {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.Header().Set(ReplayHeader, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

// bufferedResponse holds the handler's output until the record is saved.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header)}
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 && status > 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(data []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(data)
}

func (b *bufferedResponse) Status() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedResponse) Bytes() []byte {
	if b.body.Len() == 0 {
		return nil
	}
	return b.body.Bytes()
}

func (b *bufferedResponse) writeTo(w http.ResponseWriter) error {
	dst := w.Header()
	for name, values := range b.header {
		dst[name] = append([]string(nil), values...)
	}
	w.WriteHeader(b.Status())
	if b.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(b.body.Bytes())
	return err
}
