package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorKind buckets Firestore failures the way services branch on them.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindNotFound covers missing orders, settings and counters.
	KindNotFound
	// KindConflict covers an existing document on create (a replayed idempotency key) and
	// transactions that lost a race.
	KindConflict
	// KindUnavailable covers outages worth retrying.
	KindUnavailable
	// KindInvalid covers ids or queries Firestore refuses outright.
	KindInvalid
)

var kindByCode = map[codes.Code]ErrorKind{
	codes.NotFound:           KindNotFound,
	codes.AlreadyExists:      KindConflict,
	codes.Aborted:            KindConflict,
	codes.FailedPrecondition: KindConflict,
	codes.Unavailable:        KindUnavailable,
	codes.ResourceExhausted:  KindUnavailable,
	codes.Internal:           KindUnavailable,
	codes.InvalidArgument:    KindInvalid,
}

// Error implements repositories.RepositoryError for the Firestore repositories.
type Error struct {
	op   string
	kind ErrorKind
	err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op == "" {
		return e.err.Error()
	}
	return e.op + ": " + e.err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Kind returns the failure bucket.
func (e *Error) Kind() ErrorKind {
	if e == nil {
		return KindUnknown
	}
	return e.kind
}

func (e *Error) IsNotFound() bool    { return e.Kind() == KindNotFound }
func (e *Error) IsConflict() bool    { return e.Kind() == KindConflict }
func (e *Error) IsUnavailable() bool { return e.Kind() == KindUnavailable }

// WrapError tags err with op and its kind. Context cancellation, including the gRPC
// Canceled and DeadlineExceeded codes, is returned as the plain context error.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var existing *Error
	if errors.As(err, &existing) {
		if existing.op == "" {
			existing.op = op
		}
		return existing
	}
	return &Error{op: op, kind: kindByCode[status.Code(err)], err: err}
}

// NewNotFound reports a lookup that missed without a gRPC status, such as an empty query.
func NewNotFound(op, message string) error {
	return &Error{op: op, kind: KindNotFound, err: errors.New(message)}
}

// NewConflict reports a domain conflict detected inside a transaction.
func NewConflict(op, message string) error {
	return &Error{op: op, kind: KindConflict, err: errors.New(message)}
}

// NewInvalid reports input that can never be stored, such as a malformed document id.
func NewInvalid(op, message string) error {
	return &Error{op: op, kind: KindInvalid, err: errors.New(message)}
}
