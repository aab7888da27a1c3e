// Package event implements the synchronous in-process domain event bus.
// Handlers run inline on the publisher's goroutine, in registration order,
// so a webhook acknowledgement is only written after every consequence of
// the event has been applied.
package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/paymux/paymux/infra/logger"
	"github.com/paymux/paymux/infra/metrics"
)

// Kind identifies a domain event
type Kind string

const (
	KindCheckoutInitiated     Kind = "checkout.initiated"
	KindPaymentCaptured       Kind = "payment.captured"
	KindPaymentFailed         Kind = "payment.failed"
	KindRefundRequested       Kind = "refund.requested"
	KindSubscriptionCreated   Kind = "subscription.created"
	KindSubscriptionActivated Kind = "subscription.activated"
	KindSubscriptionRenewed   Kind = "subscription.renewed"
	KindSubscriptionCancelled Kind = "subscription.cancelled"
	KindSubscriptionExpired   Kind = "subscription.expired"
)

// Event is a domain event carried on the bus. Fields are populated as far
// as the source knows them; handlers must tolerate absent optionals.
type Event struct {
	Kind                   Kind              `json:"kind"`
	Provider               string            `json:"provider,omitempty"`
	SessionID              string            `json:"sessionId,omitempty"`
	PaymentRef             string            `json:"paymentRef,omitempty"`
	ProviderSubscriptionID string            `json:"providerSubscriptionId,omitempty"`
	InvoiceID              string            `json:"invoiceId,omitempty"`
	SubscriptionID         string            `json:"subscriptionId,omitempty"`
	Amount                 float64           `json:"amount,omitempty"`
	Currency               string            `json:"currency,omitempty"`
	OccurredAt             time.Time         `json:"occurredAt"`
	Metadata               map[string]string `json:"metadata,omitempty"`
}

// Handler consumes one event. Returning an error marks the handler failed
// without stopping the remaining handlers.
type Handler func(ctx context.Context, evt Event) error

// HandlerResult reports one handler's outcome for a published event
type HandlerResult struct {
	Handler string
	Err     error
}

// Failed reports whether any handler in results errored or panicked
func Failed(results []HandlerResult) bool {
	for _, r := range results {
		if r.Err != nil {
			return true
		}
	}
	return false
}

type subscription struct {
	name    string
	handler Handler
}

// Bus dispatches events synchronously to subscribed handlers
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]subscription
	metrics  *metrics.Metrics
}

// NewBus creates an event bus. metrics may be nil.
func NewBus(m *metrics.Metrics) *Bus {
	return &Bus{
		handlers: make(map[Kind][]subscription),
		metrics:  m,
	}
}

// Subscribe registers a named handler for an event kind. Handlers run in
// registration order on every publish.
func (b *Bus) Subscribe(kind Kind, name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], subscription{name: name, handler: h})
}

// Publish dispatches evt to every handler subscribed to its kind and
// returns per-handler results. A handler error or panic is isolated; the
// remaining handlers still run.
func (b *Bus) Publish(ctx context.Context, evt Event) []HandlerResult {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	subs := b.handlers[evt.Kind]
	b.mu.RUnlock()

	if b.metrics != nil {
		b.metrics.RecordEventPublished(string(evt.Kind))
	}

	results := make([]HandlerResult, 0, len(subs))
	for _, sub := range subs {
		err := b.dispatch(ctx, sub, evt)
		if err != nil {
			if b.metrics != nil {
				b.metrics.RecordHandlerFailure(string(evt.Kind), sub.name)
			}
			logger.Error("Event handler failed", err, logger.LogContext{
				Provider: evt.Provider,
				Fields: map[string]any{
					"event_kind": string(evt.Kind),
					"handler":    sub.name,
				},
			})
		}
		results = append(results, HandlerResult{Handler: sub.name, Err: err})
	}

	return results
}

// dispatch runs one handler with panic isolation
func (b *Bus) dispatch(ctx context.Context, sub subscription, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", sub.name, r)
		}
	}()

	return sub.handler(ctx, evt)
}
