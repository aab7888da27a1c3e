package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/paymux/paymux/provider"
)

const providerName = "stripe"

// Stripe event types we translate
const (
	eventCheckoutCompleted    = "checkout.session.completed"
	eventPaymentIntentFailed  = "payment_intent.payment_failed"
	eventInvoicePaid          = "invoice.paid"
	eventInvoicePaymentFailed = "invoice.payment_failed"
	eventSubscriptionCreated  = "customer.subscription.created"
	eventSubscriptionUpdated  = "customer.subscription.updated"
	eventSubscriptionDeleted  = "customer.subscription.deleted"
	eventChargeRefunded       = "charge.refunded"
	eventDisputeCreated       = "charge.dispute.created"
)

// Provider implements provider.PaymentProvider on the official Stripe SDK.
// Stripe settles checkout payments itself, so Capture is a status query
// against the checkout session.
type Provider struct {
	secretKey     string
	webhookSecret string
	sandbox       bool
	client        *client.API
}

// NewProvider creates a new Stripe payment provider
func NewProvider() provider.PaymentProvider {
	return &Provider{}
}

// Initialize sets up the provider with resolved credentials
func (p *Provider) Initialize(conf map[string]string) error {
	p.secretKey = conf["secret_key"]
	if p.secretKey == "" {
		return errors.New("stripe: secret_key is required")
	}
	p.webhookSecret = conf["webhook_secret"]
	p.sandbox = conf["sandbox"] == "true"

	p.client = &client.API{}
	p.client.Init(p.secretKey, nil)
	return nil
}

// GetRequiredConfig returns the configuration fields required for Stripe
func (p *Provider) GetRequiredConfig(mode string) []provider.ConfigField {
	keyExample := "sk_live_..."
	if mode == provider.ModeTest {
		keyExample = "sk_test_..."
	}
	return []provider.ConfigField{
		{
			Key:         "secret_key",
			Required:    true,
			Secret:      true,
			Type:        "string",
			Description: "Stripe API secret key",
			Example:     keyExample,
			Pattern:     `^sk_(test_|live_)?[A-Za-z0-9]+$`,
			MinLength:   20,
		},
		{
			Key:         "webhook_secret",
			Required:    true,
			Secret:      true,
			Type:        "string",
			Description: "Stripe webhook signing secret",
			Example:     "whsec_...",
			Pattern:     `^whsec_[A-Za-z0-9]+$`,
			MinLength:   10,
		},
		{
			Key:         "sandbox",
			Required:    true,
			Type:        "boolean",
			Description: "Use test mode credentials",
			Example:     "true",
		},
	}
}

// ValidateConfig validates the provided configuration
func (p *Provider) ValidateConfig(conf map[string]string) error {
	return provider.ValidateConfigFields(providerName, conf, p.GetRequiredConfig(provider.ModeFor(conf["sandbox"] == "true")))
}

// Capabilities declares what Stripe supports
func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		AutoCapture:   true,
		Subscriptions: true,
		Refunds:       true,
	}
}

// CreateCheckout opens a Stripe Checkout session
func (p *Provider) CreateCheckout(ctx context.Context, request provider.CheckoutRequest) (*provider.CheckoutSession, error) {
	params := &stripeapi.CheckoutSessionParams{
		Params:     stripeapi.Params{Context: ctx},
		SuccessURL: stripeapi.String(request.SuccessURL),
		CancelURL:  stripeapi.String(request.CancelURL),
	}

	switch request.Mode {
	case provider.ModeSubscription:
		if request.PlanRef == "" {
			return nil, errors.New("stripe: planRef is required for subscription checkout")
		}
		params.Mode = stripeapi.String(string(stripeapi.CheckoutSessionModeSubscription))
		params.LineItems = []*stripeapi.CheckoutSessionLineItemParams{
			{
				Price:    stripeapi.String(request.PlanRef),
				Quantity: stripeapi.Int64(1),
			},
		}
	default:
		params.Mode = stripeapi.String(string(stripeapi.CheckoutSessionModePayment))
		params.LineItems = []*stripeapi.CheckoutSessionLineItemParams{
			{
				PriceData: &stripeapi.CheckoutSessionLineItemPriceDataParams{
					Currency: stripeapi.String(strings.ToLower(request.Currency)),
					ProductData: &stripeapi.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripeapi.String(productName(request)),
					},
					UnitAmount: stripeapi.Int64(minorUnits(request.Amount)),
				},
				Quantity: stripeapi.Int64(1),
			},
		}
	}

	if request.CustomerRef != "" {
		params.Customer = stripeapi.String(request.CustomerRef)
	}
	for k, v := range request.Metadata {
		params.AddMetadata(k, v)
	}

	session, err := p.client.CheckoutSessions.New(params)
	if err != nil {
		return nil, p.classify("create_checkout", err)
	}

	out := &provider.CheckoutSession{
		SessionID:   session.ID,
		RedirectURL: session.URL,
		Provider:    providerName,
	}
	if session.ExpiresAt > 0 {
		t := time.Unix(session.ExpiresAt, 0).UTC()
		out.ExpiresAt = &t
	}
	return out, nil
}

// Capture reports the settlement state of a checkout session. Stripe captures
// on its own; there is no capture call to issue.
func (p *Provider) Capture(ctx context.Context, sessionID string) (*provider.CaptureResult, error) {
	if sessionID == "" {
		return nil, errors.New("stripe: sessionID is required")
	}

	params := &stripeapi.CheckoutSessionParams{Params: stripeapi.Params{Context: ctx}}
	session, err := p.client.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, p.classify("capture", err)
	}

	result := &provider.CaptureResult{
		Amount:   float64(session.AmountTotal) / 100,
		Currency: strings.ToUpper(string(session.Currency)),
	}
	if session.PaymentIntent != nil {
		result.PaymentRef = session.PaymentIntent.ID
	}

	switch session.PaymentStatus {
	case stripeapi.CheckoutSessionPaymentStatusPaid, stripeapi.CheckoutSessionPaymentStatusNoPaymentRequired:
		result.Status = provider.StatusSucceeded
	default:
		if session.Status == stripeapi.CheckoutSessionStatusExpired {
			result.Status = provider.StatusCancelled
		} else {
			result.Status = provider.StatusPending
		}
	}
	return result, nil
}

// CreateSubscription starts a Stripe subscription on an existing customer
func (p *Provider) CreateSubscription(ctx context.Context, request provider.SubscriptionRequest) (*provider.SubscriptionSession, error) {
	params := &stripeapi.SubscriptionParams{
		Params:   stripeapi.Params{Context: ctx},
		Customer: stripeapi.String(request.CustomerRef),
		Items: []*stripeapi.SubscriptionItemsParams{
			{Price: stripeapi.String(request.PlanRef)},
		},
	}
	for k, v := range request.Metadata {
		params.AddMetadata(k, v)
	}

	sub, err := p.client.Subscriptions.New(params)
	if err != nil {
		return nil, p.classify("create_subscription", err)
	}
	return &provider.SubscriptionSession{ProviderSubscriptionID: sub.ID}, nil
}

// GetSubscriptionStatus retrieves the Stripe-side subscription status
func (p *Provider) GetSubscriptionStatus(ctx context.Context, providerSubscriptionID string) (provider.SubscriptionStatus, error) {
	if providerSubscriptionID == "" {
		return provider.SubscriptionUnknown, errors.New("stripe: providerSubscriptionID is required")
	}

	params := &stripeapi.SubscriptionParams{Params: stripeapi.Params{Context: ctx}}
	sub, err := p.client.Subscriptions.Get(providerSubscriptionID, params)
	if err != nil {
		return provider.SubscriptionUnknown, p.classify("subscription_status", err)
	}
	return mapSubscriptionStatus(sub.Status), nil
}

// RefundPayment issues a refund against a payment intent
func (p *Provider) RefundPayment(ctx context.Context, request provider.RefundRequest) (*provider.RefundResult, error) {
	if request.PaymentRef == "" {
		return nil, errors.New("stripe: paymentRef is required for refund")
	}

	params := &stripeapi.RefundParams{
		Params:        stripeapi.Params{Context: ctx},
		PaymentIntent: stripeapi.String(request.PaymentRef),
	}
	if request.Amount > 0 {
		params.Amount = stripeapi.Int64(minorUnits(request.Amount))
	}
	if request.Reason != "" {
		params.Reason = stripeapi.String(request.Reason)
	}

	refund, err := p.client.Refunds.New(params)
	if err != nil {
		return nil, p.classify("refund", err)
	}

	return &provider.RefundResult{
		RefundRef:  refund.ID,
		PaymentRef: request.PaymentRef,
		Status:     string(refund.Status),
		Amount:     float64(refund.Amount) / 100,
	}, nil
}

// VerifyWebhook checks the Stripe-Signature header against the signing secret
func (p *Provider) VerifyWebhook(_ context.Context, payload []byte, headers http.Header) error {
	if p.webhookSecret == "" {
		return errors.New("stripe: webhook_secret is not configured")
	}
	// accounts stay pinned to their own API version, so a version mismatch
	// says nothing about the signature
	_, err := webhook.ConstructEventWithOptions(payload, headers.Get("Stripe-Signature"), p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return fmt.Errorf("stripe: signature verification failed: %w", err)
	}
	return nil
}

// ParseWebhook normalizes a verified Stripe event
func (p *Provider) ParseWebhook(_ context.Context, payload []byte) (*provider.WebhookEvent, error) {
	var evt stripeapi.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("stripe: failed to parse event: %w", err)
	}

	out := &provider.WebhookEvent{
		Provider:   providerName,
		EventID:    evt.ID,
		Type:       provider.EventUnknown,
		OccurredAt: time.Unix(evt.Created, 0).UTC(),
		Raw:        payload,
	}

	switch string(evt.Type) {
	case eventCheckoutCompleted:
		var session stripeapi.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("stripe: failed to parse checkout session: %w", err)
		}
		out.Type = provider.EventPaymentSucceeded
		out.SessionID = session.ID
		out.Amount = float64(session.AmountTotal) / 100
		out.Currency = strings.ToUpper(string(session.Currency))
		if session.PaymentIntent != nil {
			out.PaymentRef = session.PaymentIntent.ID
		}
		if session.Subscription != nil {
			out.ProviderSubscriptionID = session.Subscription.ID
		}

	case eventPaymentIntentFailed:
		var intent stripeapi.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
			return nil, fmt.Errorf("stripe: failed to parse payment intent: %w", err)
		}
		out.Type = provider.EventPaymentFailed
		out.PaymentRef = intent.ID
		out.Amount = float64(intent.Amount) / 100
		out.Currency = strings.ToUpper(string(intent.Currency))

	case eventInvoicePaid:
		// recurring billing cycle settled; the subscription id rides on
		// the invoice
		var invoice struct {
			Subscription string `json:"subscription"`
			AmountPaid   int64  `json:"amount_paid"`
			Currency     string `json:"currency"`
		}
		if err := json.Unmarshal(evt.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("stripe: failed to parse invoice: %w", err)
		}
		out.Type = provider.EventSubscriptionRenewed
		out.ProviderSubscriptionID = invoice.Subscription
		out.Amount = float64(invoice.AmountPaid) / 100
		out.Currency = strings.ToUpper(invoice.Currency)

	case eventInvoicePaymentFailed:
		// renewal failure; the subscription id rides on the invoice
		var invoice struct {
			Subscription string `json:"subscription"`
			AmountDue    int64  `json:"amount_due"`
			Currency     string `json:"currency"`
		}
		if err := json.Unmarshal(evt.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("stripe: failed to parse invoice: %w", err)
		}
		out.Type = provider.EventPaymentFailed
		out.ProviderSubscriptionID = invoice.Subscription
		out.Amount = float64(invoice.AmountDue) / 100
		out.Currency = strings.ToUpper(invoice.Currency)

	case eventSubscriptionCreated, eventSubscriptionUpdated, eventSubscriptionDeleted:
		var sub stripeapi.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("stripe: failed to parse subscription: %w", err)
		}
		switch string(evt.Type) {
		case eventSubscriptionCreated:
			out.Type = provider.EventSubscriptionCreated
		case eventSubscriptionUpdated:
			out.Type = provider.EventSubscriptionUpdated
		case eventSubscriptionDeleted:
			out.Type = provider.EventSubscriptionCancelled
		}
		out.ProviderSubscriptionID = sub.ID

	case eventChargeRefunded:
		var charge stripeapi.Charge
		if err := json.Unmarshal(evt.Data.Raw, &charge); err != nil {
			return nil, fmt.Errorf("stripe: failed to parse charge: %w", err)
		}
		out.Type = provider.EventRefundCreated
		if charge.PaymentIntent != nil {
			out.PaymentRef = charge.PaymentIntent.ID
		}
		out.Amount = float64(charge.AmountRefunded) / 100
		out.Currency = strings.ToUpper(string(charge.Currency))

	case eventDisputeCreated:
		out.Type = provider.EventDisputeCreated
	}

	return out, nil
}

// classify maps a Stripe SDK error onto the transient/permanent taxonomy
func (p *Provider) classify(op string, err error) error {
	var stripeErr *stripeapi.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode > 0 {
		return provider.ClassifyHTTPStatus(providerName, op, stripeErr.HTTPStatusCode, err)
	}
	return &provider.TransientError{Provider: providerName, Op: op, Err: err}
}

// minorUnits converts a decimal amount to cents
func minorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func productName(request provider.CheckoutRequest) string {
	if request.Description != "" {
		return request.Description
	}
	return "One-time payment"
}

func mapSubscriptionStatus(s stripeapi.SubscriptionStatus) provider.SubscriptionStatus {
	switch s {
	case stripeapi.SubscriptionStatusActive, stripeapi.SubscriptionStatusTrialing:
		return provider.SubscriptionActive
	case stripeapi.SubscriptionStatusPastDue, stripeapi.SubscriptionStatusUnpaid:
		return provider.SubscriptionPastDue
	case stripeapi.SubscriptionStatusCanceled:
		return provider.SubscriptionCancelled
	case stripeapi.SubscriptionStatusIncomplete:
		return provider.SubscriptionPending
	case stripeapi.SubscriptionStatusIncompleteExpired:
		return provider.SubscriptionExpired
	default:
		return provider.SubscriptionUnknown
	}
}
