package webhook

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/paymux/paymux/event"
	"github.com/paymux/paymux/idempotency"
	"github.com/paymux/paymux/infra/logger"
	"github.com/paymux/paymux/infra/metrics"
	"github.com/paymux/paymux/infra/opensearch"
	"github.com/paymux/paymux/provider"
)

// Ingestor runs the inbound webhook pipeline: verify, parse, deduplicate,
// translate, dispatch. Verification always comes first; an unauthenticated
// payload is never parsed.
type Ingestor struct {
	adapters   provider.AdapterSource
	claims     idempotency.Store
	bus        *event.Bus
	deliveries DeliveryStore
	metrics    *metrics.Metrics
	activity   *opensearch.Logger
	dedupTTL   time.Duration
}

// IngestorConfig carries the optional ingestor settings
type IngestorConfig struct {
	// DedupTTL is how long a processed event blocks redeliveries.
	// Defaults to the store's webhook TTL.
	DedupTTL time.Duration
}

// NewIngestor creates a webhook ingestor. metrics, deliveries and activity
// may be nil.
func NewIngestor(adapters provider.AdapterSource, claims idempotency.Store, bus *event.Bus, deliveries DeliveryStore, m *metrics.Metrics, activity *opensearch.Logger, cfg IngestorConfig) *Ingestor {
	dedupTTL := cfg.DedupTTL
	if dedupTTL <= 0 {
		dedupTTL = idempotency.DefaultWebhookTTL
	}
	return &Ingestor{
		adapters:   adapters,
		claims:     claims,
		bus:        bus,
		deliveries: deliveries,
		metrics:    m,
		activity:   activity,
		dedupTTL:   dedupTTL,
	}
}

// Result describes how one delivery was handled
type Result struct {
	Delivery *Delivery
	Event    *provider.WebhookEvent
}

// Process runs one inbound delivery through the pipeline. A nil error means
// the delivery is settled and the provider should receive a success
// acknowledgement; that includes skipped and deduplicated deliveries.
func (i *Ingestor) Process(ctx context.Context, providerName string, payload []byte, headers http.Header) (*Result, error) {
	start := time.Now()
	delivery := &Delivery{
		ID:         uuid.New().String(),
		Provider:   providerName,
		RawPayload: string(payload),
		ReceivedAt: start.UTC(),
	}

	adapter, err := i.adapters.AdapterFor(providerName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerName)
	}

	if err := adapter.VerifyWebhook(ctx, payload, headers); err != nil {
		authErr := &AuthenticationError{Provider: providerName, Err: err}
		delivery.Status = DeliveryRejected
		delivery.Error = authErr.Error()
		i.finish(ctx, delivery, "", start)

		logger.Warn("webhook signature rejected", logger.LogContext{
			Provider: providerName,
			Fields:   map[string]any{"delivery_id": delivery.ID},
		})
		return &Result{Delivery: delivery}, authErr
	}
	delivery.SignatureValid = true

	evt, err := adapter.ParseWebhook(ctx, payload)
	if err != nil {
		delivery.Status = DeliveryFailed
		delivery.Error = err.Error()
		i.finish(ctx, delivery, "", start)
		return &Result{Delivery: delivery}, fmt.Errorf("failed to parse %s webhook: %w", providerName, err)
	}

	delivery.ProviderEventID = evt.EventID
	delivery.EventType = string(evt.Type)
	delivery.SessionID = evt.SessionID
	delivery.PaymentRef = evt.PaymentRef

	kind, dispatchable := domainKind(evt.Type)
	if !dispatchable {
		delivery.Status = DeliverySkipped
		i.finish(ctx, delivery, string(evt.Type), start)
		return &Result{Delivery: delivery, Event: evt}, nil
	}

	claimed, err := i.claims.ClaimOnce(ctx, idempotency.EventKey(providerName, evt.DedupKey()), i.dedupTTL)
	if err != nil {
		delivery.Status = DeliveryFailed
		delivery.Error = err.Error()
		i.finish(ctx, delivery, string(evt.Type), start)
		return &Result{Delivery: delivery, Event: evt}, fmt.Errorf("failed to claim webhook event: %w", err)
	}
	if !claimed {
		delivery.Status = DeliveryDeduped
		i.finish(ctx, delivery, string(evt.Type), start)
		if i.metrics != nil {
			i.metrics.RecordDedupHit(providerName)
		}
		logger.Debug("duplicate webhook delivery", logger.LogContext{
			Provider: providerName,
			Fields:   map[string]any{"event_id": evt.EventID, "event_type": string(evt.Type)},
		})
		return &Result{Delivery: delivery, Event: evt}, nil
	}

	results := i.bus.Publish(ctx, i.toDomainEvent(kind, providerName, evt))
	if event.Failed(results) {
		// the claim stays held: the provider's retry will be deduplicated
		// instead of re-running the surviving handlers
		failure := &HandlerFailure{Results: results}
		delivery.Status = DeliveryFailed
		delivery.Error = failure.Error()
		i.finish(ctx, delivery, string(evt.Type), start)
		return &Result{Delivery: delivery, Event: evt}, failure
	}

	delivery.Status = DeliveryDispatched
	i.finish(ctx, delivery, string(evt.Type), start)
	return &Result{Delivery: delivery, Event: evt}, nil
}

// domainKind maps a normalized provider event type onto the domain event it
// dispatches. Types without a second value carry no local side effect.
func domainKind(t provider.EventType) (event.Kind, bool) {
	switch t {
	case provider.EventPaymentSucceeded:
		return event.KindPaymentCaptured, true
	case provider.EventPaymentFailed:
		return event.KindPaymentFailed, true
	case provider.EventSubscriptionCreated:
		return event.KindSubscriptionCreated, true
	case provider.EventSubscriptionUpdated:
		return event.KindSubscriptionActivated, true
	case provider.EventSubscriptionRenewed:
		return event.KindSubscriptionRenewed, true
	case provider.EventSubscriptionCancelled:
		return event.KindSubscriptionCancelled, true
	default:
		return "", false
	}
}

func (i *Ingestor) toDomainEvent(kind event.Kind, providerName string, evt *provider.WebhookEvent) event.Event {
	occurredAt := evt.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	return event.Event{
		Kind:                   kind,
		Provider:               providerName,
		SessionID:              evt.SessionID,
		PaymentRef:             evt.PaymentRef,
		ProviderSubscriptionID: evt.ProviderSubscriptionID,
		Amount:                 evt.Amount,
		Currency:               evt.Currency,
		OccurredAt:             occurredAt,
	}
}

// finish records the audit row, metrics and the activity mirror for a
// settled delivery
func (i *Ingestor) finish(ctx context.Context, d *Delivery, eventType string, start time.Time) {
	if i.deliveries != nil {
		if err := i.deliveries.Record(ctx, d); err != nil {
			logger.Error("failed to record webhook delivery", err, logger.LogContext{
				Provider: d.Provider,
				Fields:   map[string]any{"delivery_id": d.ID},
			})
		}
	}

	if i.metrics != nil {
		i.metrics.RecordWebhookEvent(d.Provider, eventType, string(d.Status))
		i.metrics.RecordWebhookDuration(d.Provider, eventType, time.Since(start))
	}

	if i.activity != nil {
		entry := opensearch.ActivityLog{
			Timestamp:  d.ReceivedAt,
			Provider:   d.Provider,
			Kind:       opensearch.KindWebhook,
			RequestID:  d.ID,
			EventID:    d.ProviderEventID,
			EventType:  eventType,
			SessionID:  d.SessionID,
			PaymentRef: d.PaymentRef,
			Status:     string(d.Status),
			DurationMs: time.Since(start).Milliseconds(),
		}
		if d.Error != "" {
			entry.Error = opensearch.ErrorInfo{Message: d.Error}
		}
		go func() {
			logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := i.activity.LogActivity(logCtx, entry); err != nil {
				logger.Debug("activity log write failed", logger.LogContext{Provider: d.Provider})
			}
		}()
	}
}
