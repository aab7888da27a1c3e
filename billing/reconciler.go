package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paymux/paymux/event"
	"github.com/paymux/paymux/infra/logger"
)

// Reconciler applies domain events to the billing records. Every handler is
// safe to run more than once for the same event: transitions are guarded by
// the stores' status checks, so a redelivered webhook settles as a no-op.
type Reconciler struct {
	invoices      InvoiceStore
	subscriptions SubscriptionStore
	plans         PlanStore
}

// NewReconciler creates a reconciler over the given stores
func NewReconciler(invoices InvoiceStore, subscriptions SubscriptionStore, plans PlanStore) *Reconciler {
	return &Reconciler{
		invoices:      invoices,
		subscriptions: subscriptions,
		plans:         plans,
	}
}

// RegisterHandlers subscribes the reconciler to the event kinds it reacts to
func (r *Reconciler) RegisterHandlers(bus *event.Bus) {
	bus.Subscribe(event.KindPaymentCaptured, "billing.payment_captured", r.HandlePaymentCaptured)
	bus.Subscribe(event.KindPaymentFailed, "billing.payment_failed", r.HandlePaymentFailed)
	bus.Subscribe(event.KindSubscriptionActivated, "billing.subscription_activated", r.HandleSubscriptionActivated)
	bus.Subscribe(event.KindSubscriptionRenewed, "billing.subscription_renewed", r.HandleSubscriptionRenewed)
	bus.Subscribe(event.KindSubscriptionCancelled, "billing.subscription_cancelled", r.HandleSubscriptionCancelled)
}

// HandlePaymentCaptured marks the invoice paid and activates or renews the
// subscription it belongs to. Events for sessions without a local invoice are
// acknowledged without effect.
func (r *Reconciler) HandlePaymentCaptured(ctx context.Context, evt event.Event) error {
	if evt.SessionID == "" {
		return nil
	}

	inv, err := r.invoices.GetBySessionID(ctx, evt.SessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			logger.Debug("payment captured for unknown session", logger.LogContext{
				Provider: evt.Provider,
				Fields:   map[string]any{"session_id": evt.SessionID},
			})
			return nil
		}
		return fmt.Errorf("failed to load invoice for session %s: %w", evt.SessionID, err)
	}

	if inv.Status == InvoicePaid {
		return nil
	}

	paymentMethod := evt.Metadata["payment_method"]
	paidAt := evt.OccurredAt

	updated, err := r.invoices.MarkPaid(ctx, inv.ID, evt.PaymentRef, paymentMethod, paidAt)
	if err != nil {
		return fmt.Errorf("failed to mark invoice %s paid: %w", inv.ID, err)
	}
	if !updated {
		// lost the race to a concurrent delivery or the invoice already
		// reached a terminal state
		return nil
	}

	logger.Info("invoice paid", logger.LogContext{
		Provider: evt.Provider,
		Fields: map[string]any{
			"invoice_id":  inv.ID,
			"payment_ref": evt.PaymentRef,
			"amount":      inv.Amount,
			"currency":    inv.Currency,
		},
	})

	if inv.SubscriptionID == "" {
		return nil
	}
	return r.activateOrRenew(ctx, inv.SubscriptionID, evt, paidAt)
}

func (r *Reconciler) activateOrRenew(ctx context.Context, subscriptionID string, evt event.Event, now time.Time) error {
	sub, err := r.subscriptions.GetByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load subscription %s: %w", subscriptionID, err)
	}

	plan, err := r.plans.GetByID(ctx, sub.PlanID)
	if err != nil {
		return fmt.Errorf("failed to load plan %s: %w", sub.PlanID, err)
	}
	period := plan.Period.Duration()

	switch sub.Status {
	case SubscriptionInactive:
		_, err := r.subscriptions.Activate(ctx, sub.ID, evt.Provider, evt.ProviderSubscriptionID, now, now.Add(period))
		if err != nil {
			return fmt.Errorf("failed to activate subscription %s: %w", sub.ID, err)
		}
		logger.Info("subscription activated", logger.LogContext{
			Provider: evt.Provider,
			Fields:   map[string]any{"subscription_id": sub.ID, "plan_id": sub.PlanID},
		})
	case SubscriptionActive:
		// renewals extend from the current expiry when it is still in the
		// future, otherwise from the payment time
		base := now
		if sub.ExpiresAt != nil && sub.ExpiresAt.After(now) {
			base = *sub.ExpiresAt
		}
		_, err := r.subscriptions.ExtendExpiry(ctx, sub.ID, base.Add(period))
		if err != nil {
			return fmt.Errorf("failed to extend subscription %s: %w", sub.ID, err)
		}
		logger.Info("subscription renewed", logger.LogContext{
			Provider: evt.Provider,
			Fields:   map[string]any{"subscription_id": sub.ID, "expires_at": base.Add(period)},
		})
	default:
		// cancelled and expired subscriptions are terminal, a late payment
		// does not revive them
	}
	return nil
}

// HandlePaymentFailed counts the failed renewal attempt against the
// subscription. Unknown subscriptions are acknowledged without effect.
func (r *Reconciler) HandlePaymentFailed(ctx context.Context, evt event.Event) error {
	if evt.ProviderSubscriptionID == "" {
		return nil
	}

	sub, err := r.subscriptions.GetByProviderSubscriptionID(ctx, evt.ProviderSubscriptionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load subscription for %s: %w", evt.ProviderSubscriptionID, err)
	}

	if err := r.subscriptions.IncrementFailureCount(ctx, sub.ID); err != nil {
		return fmt.Errorf("failed to record payment failure for %s: %w", sub.ID, err)
	}

	logger.Warn("subscription payment failed", logger.LogContext{
		Provider: evt.Provider,
		Fields:   map[string]any{"subscription_id": sub.ID, "failure_count": sub.FailureCount + 1},
	})
	return nil
}

// HandleSubscriptionActivated activates or renews the subscription the
// provider reports as running. The subscription is resolved by its provider
// id first, then through the checkout session's invoice.
func (r *Reconciler) HandleSubscriptionActivated(ctx context.Context, evt event.Event) error {
	subscriptionID, err := r.resolveSubscriptionID(ctx, evt)
	if err != nil {
		return err
	}
	if subscriptionID == "" {
		return nil
	}
	return r.activateOrRenew(ctx, subscriptionID, evt, evt.OccurredAt)
}

// HandleSubscriptionRenewed extends the subscription period for providers
// that signal renewal separately from the payment capture.
func (r *Reconciler) HandleSubscriptionRenewed(ctx context.Context, evt event.Event) error {
	subscriptionID, err := r.resolveSubscriptionID(ctx, evt)
	if err != nil {
		return err
	}
	if subscriptionID == "" {
		return nil
	}
	return r.activateOrRenew(ctx, subscriptionID, evt, evt.OccurredAt)
}

// HandleSubscriptionCancelled marks the subscription cancelled. Access runs
// until the already paid period ends, so the expiry timestamp is kept.
func (r *Reconciler) HandleSubscriptionCancelled(ctx context.Context, evt event.Event) error {
	subscriptionID, err := r.resolveSubscriptionID(ctx, evt)
	if err != nil {
		return err
	}
	if subscriptionID == "" {
		return nil
	}

	updated, err := r.subscriptions.Cancel(ctx, subscriptionID, evt.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to cancel subscription %s: %w", subscriptionID, err)
	}
	if updated {
		logger.Info("subscription cancelled", logger.LogContext{
			Provider: evt.Provider,
			Fields:   map[string]any{"subscription_id": subscriptionID},
		})
	}
	return nil
}

func (r *Reconciler) resolveSubscriptionID(ctx context.Context, evt event.Event) (string, error) {
	if evt.ProviderSubscriptionID != "" {
		sub, err := r.subscriptions.GetByProviderSubscriptionID(ctx, evt.ProviderSubscriptionID)
		if err == nil {
			return sub.ID, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("failed to load subscription for %s: %w", evt.ProviderSubscriptionID, err)
		}
	}

	if evt.SessionID != "" {
		inv, err := r.invoices.GetBySessionID(ctx, evt.SessionID)
		if err == nil {
			return inv.SubscriptionID, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("failed to load invoice for session %s: %w", evt.SessionID, err)
		}
	}
	return "", nil
}
