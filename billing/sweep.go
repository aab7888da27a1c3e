package billing

import (
	"context"
	"time"

	"github.com/paymux/paymux/event"
	"github.com/paymux/paymux/infra/logger"
	"github.com/paymux/paymux/infra/metrics"
)

// Sweeper periodically expires invoices and subscriptions whose expiry
// timestamp has passed. Expiry transitions go through the same status guards
// as webhook driven ones, so a sweep racing a late payment cannot clobber it.
type Sweeper struct {
	invoices      InvoiceStore
	subscriptions SubscriptionStore
	bus           *event.Bus
	metrics       *metrics.Metrics
	interval      time.Duration
}

// NewSweeper creates a sweeper. Interval defaults to one minute.
func NewSweeper(invoices InvoiceStore, subscriptions SubscriptionStore, bus *event.Bus, m *metrics.Metrics, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		invoices:      invoices,
		subscriptions: subscriptions,
		bus:           bus,
		metrics:       m,
		interval:      interval,
	}
}

// Run sweeps on a ticker until the context is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx, time.Now().UTC())
		}
	}
}

// SweepOnce expires everything overdue at the given time and publishes an
// expiry event for each subscription that transitioned
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) {
	expiredInvoices, err := s.invoices.ExpireOverdue(ctx, now)
	if err != nil {
		logger.Error("invoice expiry sweep failed", err)
	}

	expiredSubs, err := s.subscriptions.ExpireOverdue(ctx, now)
	if err != nil {
		logger.Error("subscription expiry sweep failed", err)
	}

	for i := range expiredSubs {
		sub := &expiredSubs[i]
		s.bus.Publish(ctx, event.Event{
			Kind:                   event.KindSubscriptionExpired,
			Provider:               sub.Provider,
			ProviderSubscriptionID: sub.ProviderSubscriptionID,
			SubscriptionID:         sub.ID,
			OccurredAt:             now,
		})
	}

	total := len(expiredInvoices) + len(expiredSubs)
	if total > 0 {
		if s.metrics != nil {
			s.metrics.RecordSweepExpired(total)
		}
		logger.Info("expiry sweep completed", logger.LogContext{
			Fields: map[string]any{
				"expired_invoices":      len(expiredInvoices),
				"expired_subscriptions": len(expiredSubs),
			},
		})
	}
}
