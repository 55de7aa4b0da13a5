package orderapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/OMARxKHALID/POSify-sub001/internal/services"
)

// ErrorKind classifies failures returned by the order API.
type ErrorKind string

const (
	KindDuplicate  ErrorKind = ErrorKind(services.RemoteErrorDuplicate)
	KindNetwork    ErrorKind = ErrorKind(services.RemoteErrorNetwork)
	KindValidation ErrorKind = ErrorKind(services.RemoteErrorValidation)
	KindServer     ErrorKind = ErrorKind(services.RemoteErrorServer)
)

// Error is returned for every failed call. Callers classify it with errors.As or
// through services.ClassifyRemoteError.
type Error struct {
	Kind    ErrorKind
	Status  int
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("orderapi: ")
	b.WriteString(string(e.Kind))
	if e.Status > 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Code != "" {
		b.WriteString(" ")
		b.WriteString(e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the transport error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorKind satisfies the interface the synchronizer uses to classify failures.
func (e *Error) ErrorKind() string {
	if e == nil {
		return ""
	}
	return string(e.Kind)
}

// countsAsFailure reports whether the error says something about the API's health
// rather than about the request itself.
func (e *Error) countsAsFailure() bool {
	if e == nil {
		return false
	}
	if e.Status == http.StatusConflict {
		return false
	}
	return e.Kind == KindNetwork || e.Status >= http.StatusInternalServerError
}

// conflictKinds classifies the 409 codes the order API and its idempotency layer emit.
// Only an order that already exists counts as delivered; a key still held by another
// request is retried.
var conflictKinds = map[string]ErrorKind{
	"order_already_exists":     KindDuplicate,
	"idempotency_in_progress":  KindNetwork,
	"idempotency_key_conflict": KindValidation,
	"order_invalid_state":      KindValidation,
	"order_conflict":           KindServer,
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// errorFromResponse maps an HTTP failure to an Error. Legacy endpoints that report a
// duplicate key without an error code are still recognised by their message.
func errorFromResponse(status int, body []byte) *Error {
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err != nil || (parsed.Error == "" && parsed.Message == "") {
		parsed.Message = strings.TrimSpace(string(body))
	}
	if len(parsed.Message) > 512 {
		parsed.Message = parsed.Message[:512]
	}
	apiErr := &Error{Status: status, Code: parsed.Error, Message: parsed.Message}

	legacyDuplicate := parsed.Error == "" && services.ClassifyErrorMessage(parsed.Message) == services.RemoteErrorDuplicate

	switch {
	case status == http.StatusConflict:
		kind, ok := conflictKinds[parsed.Error]
		switch {
		case ok:
			apiErr.Kind = kind
		case legacyDuplicate:
			apiErr.Kind = KindDuplicate
		default:
			apiErr.Kind = KindServer
		}
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests,
		status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		apiErr.Kind = KindNetwork
	case services.ClassifyErrorMessage(parsed.Error+" "+parsed.Message) == services.RemoteErrorDuplicate:
		apiErr.Kind = KindDuplicate
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		apiErr.Kind = KindValidation
	default:
		apiErr.Kind = KindServer
	}
	return apiErr
}
