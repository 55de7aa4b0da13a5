package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxBody = 1 << 20

	maxCodeLength    = 80
	maxMessageLength = 512
)

var (
	errEmptyBody = errors.New("request body is required")
	// ErrBodyTooLarge is returned by DecodeJSON when the body exceeds its limit.
	ErrBodyTooLarge = errors.New("request body too large")
)

// Error is the JSON error envelope shared by the order API and the terminal agent:
//
//	{"error": code, "message": text, "status": 409, "request_id": "...", "trace_id": "...", ...details}
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	Details   map[string]any
}

// NewError builds an envelope. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    singleLine(code, maxCodeLength),
		Message: singleLine(message, maxMessageLength),
		Status:  status,
	}
}

func (e Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// WithRequestID pins the request id instead of reading it from the chi context.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = singleLine(id, maxCodeLength)
	return e
}

// WithDetails merges extra top level fields into the envelope, such as the stored order
// for a duplicate submission.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) > 0 {
		e.Details = maps.Clone(details)
	}
	return e
}

func (e Error) envelope(ctx context.Context) map[string]any {
	body := make(map[string]any, len(e.Details)+5)
	maps.Copy(body, e.Details)
	body["error"] = e.Code
	body["message"] = e.Message
	body["status"] = e.Status

	requestID := e.RequestID
	if requestID == "" {
		requestID = singleLine(middleware.GetReqID(ctx), maxCodeLength)
	}
	if requestID != "" {
		body["request_id"] = requestID
	}
	if span := trace.SpanContextFromContext(ctx); span.HasTraceID() {
		body["trace_id"] = span.TraceID().String()
	}
	return body
}

// WriteError writes err with its status code.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	WriteJSON(w, err.Status, err.envelope(ctx))
}

// WriteJSON writes payload as JSON with the provided status code. A nil payload writes
// headers only.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// DecodeJSON decodes exactly one JSON value of at most maxBytes into dst. Unknown fields
// are rejected.
func DecodeJSON(r *http.Request, dst any, maxBytes int64) error {
	if r.Body == nil {
		return errEmptyBody
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBody
	}
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBytes))
	decoder.DisallowUnknownFields()

	var tooLarge *http.MaxBytesError
	switch err := decoder.Decode(dst); {
	case err == nil:
	case errors.Is(err, io.EOF):
		return errEmptyBody
	case errors.As(err, &tooLarge):
		return ErrBodyTooLarge
	default:
		return fmt.Errorf("invalid json: %w", err)
	}
	if decoder.More() {
		return errors.New("invalid json: trailing data")
	}
	return nil
}

func singleLine(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
