package repositories

import "fmt"

// CounterErrorCode classifies failed sequence allocations.
type CounterErrorCode string

const (
	// CounterErrorInvalidInput means the organization, counter id or step was rejected.
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorExhausted means the counter reached its configured max value, such as the
	// 999999th order of a day.
	CounterErrorExhausted CounterErrorCode = "counter_exhausted"
)

// CounterError reports why an organization counter could not produce its next value.
type CounterError struct {
	Op             string
	Code           CounterErrorCode
	OrganizationID string
	CounterID      string
	Message        string
	Err            error
}

var _ RepositoryError = (*CounterError)(nil)

// NewCounterError builds a CounterError for the given counter.
func NewCounterError(code CounterErrorCode, orgID, counterID, message string) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{
		Code:           code,
		OrganizationID: orgID,
		CounterID:      counterID,
		Message:        message,
	}
}

func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.CounterID != "" {
		msg = fmt.Sprintf("%s/%s: %s", e.OrganizationID, e.CounterID, msg)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	return msg
}

func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound is always false; counters are created on first use.
func (e *CounterError) IsNotFound() bool { return false }

// IsConflict reports an exhausted counter.
func (e *CounterError) IsConflict() bool { return e != nil && e.Code == CounterErrorExhausted }

// IsUnavailable is always false; transport failures are wrapped by the store adapter instead.
func (e *CounterError) IsUnavailable() bool { return false }
