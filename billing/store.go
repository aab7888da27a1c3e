package billing

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a billing record does not exist
var ErrNotFound = errors.New("record not found")

// InvoiceStore persists invoices. The Mark* methods are compare-and-set
// guarded on the current status; they return false without touching the row
// when the guard fails. That guard is the second defense line behind the
// idempotency claim.
type InvoiceStore interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id string) (*Invoice, error)
	GetBySessionID(ctx context.Context, providerSessionID string) (*Invoice, error)

	// MarkPaid transitions invoiced→paid, stamping the payment details
	MarkPaid(ctx context.Context, id, paymentRef, paymentMethod string, paidAt time.Time) (bool, error)

	// MarkExpired transitions invoiced→expired
	MarkExpired(ctx context.Context, id string) (bool, error)

	// MarkCancelled transitions invoiced→cancelled
	MarkCancelled(ctx context.Context, id string) (bool, error)

	// ExpireOverdue expires every INVOICED invoice whose expiry has passed
	// and returns the ids it transitioned
	ExpireOverdue(ctx context.Context, now time.Time) ([]string, error)
}

// SubscriptionStore persists subscriptions with the same CAS discipline
type SubscriptionStore interface {
	Create(ctx context.Context, sub *Subscription) error
	GetByID(ctx context.Context, id string) (*Subscription, error)
	GetByProviderSubscriptionID(ctx context.Context, providerSubscriptionID string) (*Subscription, error)

	// Activate transitions inactive→active, stamping the provider identity
	// and the first billing period
	Activate(ctx context.Context, id, provider, providerSubscriptionID string, startedAt, expiresAt time.Time) (bool, error)

	// ExtendExpiry applies a renewal on an active subscription
	ExtendExpiry(ctx context.Context, id string, expiresAt time.Time) (bool, error)

	// Cancel transitions active→cancelled; expires_at stays untouched so
	// the already-paid period keeps running out
	Cancel(ctx context.Context, id string, cancelledAt time.Time) (bool, error)

	// IncrementFailureCount bumps the renewal-failure counter without a
	// status transition
	IncrementFailureCount(ctx context.Context, id string) error

	// ExpireOverdue expires inactive and active subscriptions whose
	// expiry has passed and returns the records it transitioned
	ExpireOverdue(ctx context.Context, now time.Time) ([]Subscription, error)
}

// PlanStore is the read-only plan catalog
type PlanStore interface {
	GetByID(ctx context.Context, id string) (*Plan, error)
	List(ctx context.Context) ([]Plan, error)
}

// catalog is an in-memory PlanStore seeded at startup
type catalog struct {
	plans map[string]Plan
	order []string
}

// NewCatalog creates a read-only plan catalog from seed plans
func NewCatalog(plans []Plan) PlanStore {
	c := &catalog{plans: make(map[string]Plan, len(plans))}
	for _, p := range plans {
		c.plans[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	return c
}

// DefaultPlans is the seed catalog used when no custom plans are configured
func DefaultPlans() []Plan {
	return []Plan{
		{ID: "basic-monthly", Name: "Basic Monthly", Amount: 9.99, Currency: "EUR", Period: PeriodMonthly},
		{ID: "pro-monthly", Name: "Pro Monthly", Amount: 29.99, Currency: "EUR", Period: PeriodMonthly, TrialDays: 14},
		{ID: "pro-yearly", Name: "Pro Yearly", Amount: 299.00, Currency: "EUR", Period: PeriodYearly, TrialDays: 14},
		{ID: "lifetime", Name: "Lifetime", Amount: 999.00, Currency: "EUR", Period: PeriodOneTime},
	}
}

func (c *catalog) GetByID(_ context.Context, id string) (*Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (c *catalog) List(_ context.Context) ([]Plan, error) {
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	return out, nil
}
