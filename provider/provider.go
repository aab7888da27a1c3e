package provider

import (
	"context"
	"net/http"
	"time"
)

// PaymentStatus represents the current status of a payment
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"
	StatusProcessing PaymentStatus = "processing"
	StatusSucceeded  PaymentStatus = "succeeded"
	StatusFailed     PaymentStatus = "failed"
	StatusCancelled  PaymentStatus = "cancelled"
	StatusRefunded   PaymentStatus = "refunded"
)

// SubscriptionStatus represents the provider-side status of a subscription
type SubscriptionStatus string

const (
	SubscriptionPending   SubscriptionStatus = "pending"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionUnknown   SubscriptionStatus = "unknown"
)

// CheckoutMode selects between a one-time purchase and a recurring subscription
type CheckoutMode string

const (
	ModeOneTime      CheckoutMode = "one_time"
	ModeSubscription CheckoutMode = "subscription"
)

// EventType is the normalized, provider-agnostic webhook event type
type EventType string

const (
	EventPaymentSucceeded      EventType = "payment.succeeded"
	EventPaymentFailed         EventType = "payment.failed"
	EventSubscriptionCreated   EventType = "subscription.created"
	EventSubscriptionUpdated   EventType = "subscription.updated"
	EventSubscriptionRenewed   EventType = "subscription.renewed"
	EventSubscriptionCancelled EventType = "subscription.cancelled"
	EventRefundCreated         EventType = "refund.created"
	EventDisputeCreated        EventType = "dispute.created"
	EventUnknown               EventType = "unknown"
)

// ConfigField represents a required configuration field for a payment provider
type ConfigField struct {
	Key         string `json:"key"`
	Required    bool   `json:"required"`
	Secret      bool   `json:"secret"` // resolved through test_/live_ credential prefixes
	Type        string `json:"type"`   // "string", "number", "url", "email", "boolean"
	Description string `json:"description"`
	Example     string `json:"example"`
	Pattern     string `json:"pattern,omitempty"`   // regex pattern for validation
	MinLength   int    `json:"minLength,omitempty"` // minimum length for string fields
	MaxLength   int    `json:"maxLength,omitempty"` // maximum length for string fields
}

// Capabilities declares what a provider implementation supports
type Capabilities struct {
	// AutoCapture is true when the provider settles payments without an
	// explicit capture call; Capture then degrades to a status query.
	AutoCapture   bool `json:"autoCapture"`
	Subscriptions bool `json:"subscriptions"`
	Refunds       bool `json:"refunds"`
}

// CheckoutRequest contains all information required to open a checkout session
type CheckoutRequest struct {
	Amount      float64           `json:"amount" validate:"required,gt=0"`
	Currency    string            `json:"currency" validate:"required,len=3"`
	Mode        CheckoutMode      `json:"mode" validate:"required,oneof=one_time subscription"`
	PlanRef     string            `json:"planRef,omitempty"`
	CustomerRef string            `json:"customerRef,omitempty"`
	Description string            `json:"description,omitempty"`
	SuccessURL  string            `json:"successUrl,omitempty"`
	CancelURL   string            `json:"cancelUrl,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CheckoutSession is the provider's answer to a checkout request
type CheckoutSession struct {
	SessionID   string     `json:"sessionId"`
	RedirectURL string     `json:"redirectUrl"`
	Provider    string     `json:"provider"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// CaptureResult contains the outcome of a capture (or capture-status query)
type CaptureResult struct {
	Status     PaymentStatus `json:"status"`
	PaymentRef string        `json:"paymentRef"`
	Amount     float64       `json:"amount,omitempty"`
	Currency   string        `json:"currency,omitempty"`
}

// SubscriptionRequest contains the information to start a provider subscription
type SubscriptionRequest struct {
	PlanRef     string            `json:"planRef" validate:"required"`
	CustomerRef string            `json:"customerRef" validate:"required"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// SubscriptionSession is the provider's answer to a subscription request
type SubscriptionSession struct {
	ProviderSubscriptionID string `json:"providerSubscriptionId"`
	RedirectURL            string `json:"redirectUrl,omitempty"`
}

// RefundRequest contains information to request a refund
type RefundRequest struct {
	PaymentRef string  `json:"paymentRef" validate:"required"`
	Amount     float64 `json:"amount,omitempty"` // zero means full refund
	Currency   string  `json:"currency,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// RefundResult contains the result of a refund request
type RefundResult struct {
	RefundRef  string  `json:"refundRef"`
	PaymentRef string  `json:"paymentRef"`
	Status     string  `json:"status"`
	Amount     float64 `json:"amount,omitempty"`
}

// WebhookEvent is a raw provider webhook normalized into a common shape.
// Amount is a currency-exact decimal regardless of how the provider encodes
// it on the wire.
type WebhookEvent struct {
	Provider               string    `json:"provider"`
	EventID                string    `json:"eventId"`
	Type                   EventType `json:"type"`
	SessionID              string    `json:"sessionId,omitempty"`
	PaymentRef             string    `json:"paymentRef,omitempty"`
	ProviderSubscriptionID string    `json:"providerSubscriptionId,omitempty"`
	Amount                 float64   `json:"amount,omitempty"`
	Currency               string    `json:"currency,omitempty"`
	OccurredAt             time.Time `json:"occurredAt"`
	Raw                    []byte    `json:"-"`
}

// DedupKey returns the identifier used to deduplicate deliveries of this
// event. Providers without a native event id fall back to session id plus
// event type.
func (e *WebhookEvent) DedupKey() string {
	if e.EventID != "" {
		return e.EventID
	}
	return e.SessionID + ":" + string(e.Type)
}

// PaymentProvider defines the interface that all payment networks must implement
type PaymentProvider interface {
	// Initialize sets up the provider with a resolved credential bag plus
	// non-secret settings. Credentials arrive unprefixed; the resolver has
	// already chosen between test and live material.
	Initialize(config map[string]string) error

	// GetRequiredConfig returns the configuration fields required for this provider
	GetRequiredConfig(mode string) []ConfigField

	// ValidateConfig validates the provided configuration against provider requirements
	ValidateConfig(config map[string]string) error

	// Capabilities declares capture timing and feature support
	Capabilities() Capabilities

	// CreateCheckout opens a checkout/order session with the provider
	CreateCheckout(ctx context.Context, request CheckoutRequest) (*CheckoutSession, error)

	// Capture finalizes a previously authorized payment. Auto-capture
	// providers answer with a status query instead of a capture call.
	Capture(ctx context.Context, sessionID string) (*CaptureResult, error)

	// CreateSubscription starts a recurring subscription with the provider
	CreateSubscription(ctx context.Context, request SubscriptionRequest) (*SubscriptionSession, error)

	// GetSubscriptionStatus retrieves the provider-side subscription status
	GetSubscriptionStatus(ctx context.Context, providerSubscriptionID string) (SubscriptionStatus, error)

	// RefundPayment issues a refund; partial when request.Amount > 0
	RefundPayment(ctx context.Context, request RefundRequest) (*RefundResult, error)

	// VerifyWebhook checks the authenticity of an inbound webhook. A nil
	// error means the payload is genuine. Local HMAC verification and a
	// remote verification call are both valid implementations.
	VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error

	// ParseWebhook normalizes a verified payload into a WebhookEvent
	ParseWebhook(ctx context.Context, payload []byte) (*WebhookEvent, error)
}

// ProviderFactory is a function type that creates a new PaymentProvider
type ProviderFactory func() PaymentProvider

// AdapterSource resolves an initialized adapter for a provider name.
// Implemented by the plugin lifecycle host.
type AdapterSource interface {
	AdapterFor(name string) (PaymentProvider, error)
}
