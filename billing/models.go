// Package billing holds the invoice, subscription and plan domain model and
// the reconciliation logic that applies provider events to it.
package billing

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

// SubscriptionStatus is the lifecycle state of a subscription
type SubscriptionStatus string

const (
	SubscriptionInactive  SubscriptionStatus = "inactive"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// InvoiceStatus is the lifecycle state of an invoice
type InvoiceStatus string

const (
	InvoiceInvoiced  InvoiceStatus = "invoiced"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceExpired   InvoiceStatus = "expired"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// PlanPeriod is the billing cadence of a plan
type PlanPeriod string

const (
	PeriodMonthly   PlanPeriod = "monthly"
	PeriodQuarterly PlanPeriod = "quarterly"
	PeriodYearly    PlanPeriod = "yearly"
	PeriodOneTime   PlanPeriod = "one_time"
)

// periodDays maps a plan period to its duration in days. One-time purchases
// get a far-future horizon instead of a real renewal cycle.
var periodDays = map[PlanPeriod]int{
	PeriodMonthly:   30,
	PeriodQuarterly: 90,
	PeriodYearly:    365,
	PeriodOneTime:   36500,
}

// Duration returns the period length
func (p PlanPeriod) Duration() time.Duration {
	days, ok := periodDays[p]
	if !ok {
		days = periodDays[PeriodMonthly]
	}
	return time.Duration(days) * 24 * time.Hour
}

// Valid reports whether p is a known period
func (p PlanPeriod) Valid() bool {
	_, ok := periodDays[p]
	return ok
}

// Plan is a read-only catalog entry
type Plan struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Amount    float64    `json:"amount"`
	Currency  string     `json:"currency"`
	Period    PlanPeriod `json:"period"`
	TrialDays int        `json:"trialDays"`
}

// Subscription tracks a user's recurring entitlement to a plan
type Subscription struct {
	ID                     string             `json:"id"`
	UserID                 string             `json:"userId"`
	PlanID                 string             `json:"planId"`
	Status                 SubscriptionStatus `json:"status"`
	Provider               string             `json:"provider,omitempty"`
	ProviderSubscriptionID string             `json:"providerSubscriptionId,omitempty"`
	StartedAt              *time.Time         `json:"startedAt,omitempty"`
	ExpiresAt              *time.Time         `json:"expiresAt,omitempty"`
	CancelledAt            *time.Time         `json:"cancelledAt,omitempty"`
	FailureCount           int                `json:"failureCount"`
	CreatedAt              time.Time          `json:"createdAt"`
	UpdatedAt              time.Time          `json:"updatedAt"`
}

// Invoice is the payable record behind a checkout session
type Invoice struct {
	ID                string        `json:"id"`
	Number            string        `json:"number"`
	UserID            string        `json:"userId"`
	PlanID            string        `json:"planId,omitempty"`
	SubscriptionID    string        `json:"subscriptionId,omitempty"`
	Amount            float64       `json:"amount"`
	Currency          string        `json:"currency"`
	Status            InvoiceStatus `json:"status"`
	PaymentMethod     string        `json:"paymentMethod,omitempty"`
	PaymentRef        string        `json:"paymentRef,omitempty"`
	Provider          string        `json:"provider,omitempty"`
	ProviderSessionID string        `json:"providerSessionId,omitempty"`
	InvoicedAt        time.Time     `json:"invoicedAt"`
	PaidAt            *time.Time    `json:"paidAt,omitempty"`
	ExpiresAt         *time.Time    `json:"expiresAt,omitempty"`
}

// NewInvoiceNumber builds a human-facing invoice number of the form
// INV-YYYYMMDDHHMMSS-XXXXXX.
func NewInvoiceNumber(now time.Time) string {
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		// crypto/rand failure leaves no safe entropy source; fall back to
		// the sub-second clock bits
		nano := now.UnixNano()
		suffix[0] = byte(nano)
		suffix[1] = byte(nano >> 8)
		suffix[2] = byte(nano >> 16)
	}
	return "INV-" + now.Format("20060102150405") + "-" + strings.ToUpper(hex.EncodeToString(suffix))
}

// CanTransition reports whether an invoice status change is legal. PAID,
// EXPIRED and CANCELLED are terminal.
func (s InvoiceStatus) CanTransition(to InvoiceStatus) bool {
	if s != InvoiceInvoiced {
		return false
	}
	switch to {
	case InvoicePaid, InvoiceExpired, InvoiceCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a subscription status change is legal.
// CANCELLED never reactivates; renewals are the active→active self edge.
func (s SubscriptionStatus) CanTransition(to SubscriptionStatus) bool {
	switch s {
	case SubscriptionInactive:
		return to == SubscriptionActive || to == SubscriptionExpired
	case SubscriptionActive:
		return to == SubscriptionActive || to == SubscriptionCancelled || to == SubscriptionExpired
	}
	return false
}
