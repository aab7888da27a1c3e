package provider

import (
	"errors"
	"fmt"
)

// ErrDuplicateOperation is returned when an outbound idempotency claim for a
// non-idempotent call (capture, refund) is already held, meaning an earlier
// attempt has been issued and must not be repeated.
var ErrDuplicateOperation = errors.New("operation already issued")

// TransientError wraps a failure that is safe to retry with backoff:
// network errors, timeouts and provider 5xx responses.
type TransientError struct {
	Provider string
	Op       string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %s: transient failure: %v", e.Provider, e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a failure that must not be retried: provider 4xx
// responses and validation rejections. Code carries the provider's own
// error code when one was returned.
type PermanentError struct {
	Provider string
	Op       string
	Code     string
	Err      error
}

func (e *PermanentError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s: %s: %v", e.Provider, e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// MissingCredentialError names the exact prefixed credential field that the
// resolver could not find.
type MissingCredentialError struct {
	Provider string
	Field    string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("%s: missing credential %q", e.Provider, e.Field)
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ClassifyHTTPStatus converts a provider HTTP status into the transient or
// permanent error class. Adapters never convert one class into the other.
func ClassifyHTTPStatus(providerName, op string, status int, err error) error {
	if status >= 500 || status == 429 {
		return &TransientError{Provider: providerName, Op: op, Err: err}
	}
	return &PermanentError{Provider: providerName, Op: op, Code: fmt.Sprintf("http_%d", status), Err: err}
}
