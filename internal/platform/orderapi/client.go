package orderapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	domain "github.com/OMARxKHALID/POSify-sub001/internal/domain"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/observability"
	"github.com/OMARxKHALID/POSify-sub001/internal/services"
)

const (
	defaultTimeout        = 10 * time.Second
	defaultMaxFailures    = 5
	defaultOpenTimeout    = 30 * time.Second
	idempotencyHeader     = "Idempotency-Key"
	requestIDHeader       = "X-Request-ID"
	terminalHeader        = "X-Terminal-ID"
	maxResponseBodyBytes  = 1 << 20
	organizationsBasePath = "api/v1/organizations"
)

// Config points the client at one organization on the order API.
type Config struct {
	BaseURL        string
	OrganizationID string
	TerminalID     string
	Token          string
	Timeout        time.Duration
	MaxFailures    int
	OpenTimeout    time.Duration
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithLogger sets the logger used for breaker transitions and failed calls.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithConnectivityReporter registers a callback told whether each call reached the API.
func WithConnectivityReporter(report func(online bool)) Option {
	return func(c *Client) {
		c.report = report
	}
}

type response struct {
	status int
	body   []byte
}

// Client talks to the order API on behalf of one terminal. Calls share a circuit breaker
// so a dead API fails fast instead of holding up the sync pass.
type Client struct {
	baseURL  string
	orgID    string
	terminal string
	token    string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[response]
	logger   *zap.Logger
	report   func(online bool)
}

var _ services.RemoteOrderClient = (*Client)(nil)

// NewClient validates cfg and builds a client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("orderapi: invalid base url %q", cfg.BaseURL)
	}
	orgID := strings.TrimSpace(cfg.OrganizationID)
	if orgID == "" {
		return nil, errors.New("orderapi: organization id is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		baseURL:  base,
		orgID:    orgID,
		terminal: strings.TrimSpace(cfg.TerminalID),
		token:    strings.TrimSpace(cfg.Token),
		http:     &http.Client{Timeout: timeout},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = defaultOpenTimeout
	}
	logger := c.logger.Named("orderapi")
	c.logger = logger
	c.breaker = gobreaker.NewCircuitBreaker[response](gobreaker.Settings{
		Name:        "orderapi",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(maxFailures)
		},
		IsSuccessful: func(err error) bool {
			var apiErr *Error
			if errors.As(err, &apiErr) {
				return !apiErr.countsAsFailure()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return c, nil
}

// CreateOrder submits a queued order. An order_already_exists conflict or a legacy
// duplicate-key message comes back as an Error of KindDuplicate. A key another request
// still holds comes back as KindNetwork so the caller retries it.
func (c *Client) CreateOrder(ctx context.Context, req services.RemoteOrderRequest) (services.RemoteOrderResult, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return services.RemoteOrderResult{}, &Error{Kind: KindValidation, Code: "missing_idempotency_key", Message: "idempotency key is required"}
	}
	orgID := c.orgID
	if id := strings.TrimSpace(req.OrganizationID); id != "" {
		orgID = id
	}

	payload := createOrderPayload{
		IdempotencyKey:      key,
		TerminalID:          firstNonEmpty(req.TerminalID, c.terminal),
		Items:               newLineItemPayloads(req.Items),
		CartDiscountPercent: req.CartDiscountPercent,
	}
	if req.Totals.Currency != "" || req.Totals.Total != 0 {
		totals := newBreakdownPayload(req.Totals)
		payload.Totals = &totals
	}

	res, err := c.call(ctx, "orderapi.CreateOrder", http.MethodPost, []string{orgID, "orders"}, payload, map[string]string{idempotencyHeader: key})
	if err != nil {
		return services.RemoteOrderResult{}, err
	}

	var order orderPayload
	if err := json.Unmarshal(res.body, &order); err != nil {
		return services.RemoteOrderResult{}, &Error{Kind: KindServer, Status: res.status, Code: "invalid_response", Message: "decode order response", Err: err}
	}
	return services.RemoteOrderResult{OrderID: order.ID, OrderNumber: order.OrderNumber, Total: order.Totals.Total}, nil
}

// FetchSettings loads the organization's POS settings.
func (c *Client) FetchSettings(ctx context.Context) (domain.OrganizationSettings, error) {
	res, err := c.call(ctx, "orderapi.FetchSettings", http.MethodGet, []string{c.orgID, "settings"}, nil, nil)
	if err != nil {
		return domain.OrganizationSettings{}, err
	}
	var payload settingsPayload
	if err := json.Unmarshal(res.body, &payload); err != nil {
		return domain.OrganizationSettings{}, &Error{Kind: KindServer, Status: res.status, Code: "invalid_response", Message: "decode settings response", Err: err}
	}
	return payload.toDomain(c.orgID), nil
}

// Ping checks the API's liveness endpoint. It bypasses the circuit breaker so the network
// monitor can observe recovery while the breaker is open.
func (c *Client) Ping(ctx context.Context) error {
	endpoint, err := url.JoinPath(c.baseURL, "healthz")
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set(requestIDHeader, uuid.NewString())
	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Message: "ping failed", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodyBytes))
	if resp.StatusCode >= http.StatusBadRequest {
		return &Error{Kind: KindNetwork, Status: resp.StatusCode, Message: "health check failed"}
	}
	return nil
}

func (c *Client) call(ctx context.Context, spanName, method string, segments []string, body any, headers map[string]string) (response, error) {
	ctx, span := observability.Tracer().Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	requestID := uuid.NewString()
	span.SetAttributes(attribute.String("http.request.method", method), attribute.String("request.id", requestID))

	res, err := c.breaker.Execute(func() (response, error) {
		return c.roundTrip(ctx, method, segments, body, headers, requestID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &Error{Kind: KindNetwork, Code: "circuit_open", Message: "order api temporarily unavailable", Err: err}
		}
		var apiErr *Error
		if errors.As(err, &apiErr) {
			span.SetAttributes(attribute.String("orderapi.error_kind", string(apiErr.Kind)))
			if apiErr.Status > 0 {
				span.SetAttributes(attribute.Int("http.response.status_code", apiErr.Status))
			}
			c.reportConnectivity(apiErr.Kind != KindNetwork || apiErr.Status > 0)
		}
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug("order api call failed", zap.String("span", spanName), zap.String("requestId", requestID), zap.Error(err))
		return response{}, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", res.status))
	c.reportConnectivity(true)
	return res, nil
}

func (c *Client) roundTrip(ctx context.Context, method string, segments []string, body any, headers map[string]string, requestID string) (response, error) {
	endpoint, err := url.JoinPath(c.baseURL, append([]string{organizationsBasePath}, segments...)...)
	if err != nil {
		return response{}, &Error{Kind: KindValidation, Code: "invalid_url", Err: err}
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return response{}, &Error{Kind: KindValidation, Code: "invalid_payload", Err: err}
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return response{}, &Error{Kind: KindValidation, Code: "invalid_request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(requestIDHeader, requestID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.terminal != "" {
		req.Header.Set(terminalHeader, c.terminal)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	observability.InjectTraceHeaders(ctx, req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, &Error{Kind: KindNetwork, Message: "network request failed", Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return response{}, &Error{Kind: KindNetwork, Status: resp.StatusCode, Message: "read response failed", Err: err}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return response{}, errorFromResponse(resp.StatusCode, payload)
	}
	return response{status: resp.StatusCode, body: payload}, nil
}

func (c *Client) reportConnectivity(online bool) {
	if c.report != nil {
		c.report(online)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
