package webhook

import (
	"errors"
	"fmt"

	"github.com/paymux/paymux/event"
)

// ErrUnknownProvider is returned when a delivery targets a provider that is
// not active
var ErrUnknownProvider = errors.New("unknown webhook provider")

// AuthenticationError marks a delivery whose signature check failed. The
// payload is never parsed or dispatched.
type AuthenticationError struct {
	Provider string
	Err      error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("webhook authentication failed for %s: %v", e.Provider, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// HandlerFailure reports that at least one event handler rejected the
// dispatched event. The dedup claim stays held, so the provider's retry of
// this delivery will be deduplicated; recovery is an operator action.
type HandlerFailure struct {
	Results []event.HandlerResult
}

func (e *HandlerFailure) Error() string {
	failed := 0
	var first error
	for _, r := range e.Results {
		if r.Err != nil {
			failed++
			if first == nil {
				first = r.Err
			}
		}
	}
	return fmt.Sprintf("%d of %d event handlers failed: %v", failed, len(e.Results), first)
}
