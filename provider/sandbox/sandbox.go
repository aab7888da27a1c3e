package sandbox

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/paymux/paymux/provider"
)

const (
	providerName = "sandbox"

	// SignatureHeader carries the hex HMAC-SHA256 of the payload
	SignatureHeader = "X-Sandbox-Signature"
)

// Provider is a deterministic in-process payment provider for local
// development and end-to-end tests. It talks to no network: checkouts,
// captures and refunds settle against an in-memory session table, and
// webhooks are authenticated with a local HMAC over the raw payload.
//
// Sandbox events carry no native event id, so deduplication runs on the
// session id plus event type fallback.
type Provider struct {
	secretKey string

	mu       sync.Mutex
	seq      int
	sessions map[string]*session
}

type session struct {
	amount   float64
	currency string
	captured bool
}

// NewProvider creates a new sandbox payment provider
func NewProvider() provider.PaymentProvider {
	return &Provider{sessions: make(map[string]*session)}
}

// Initialize sets up the sandbox provider
func (p *Provider) Initialize(conf map[string]string) error {
	p.secretKey = conf["secret_key"]
	if p.secretKey == "" {
		return errors.New("sandbox: secret_key is required")
	}
	return nil
}

// GetRequiredConfig returns the configuration fields required for the sandbox
func (p *Provider) GetRequiredConfig(_ string) []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "secret_key",
			Required:    true,
			Secret:      true,
			Type:        "string",
			Description: "Shared secret for webhook HMAC signatures",
			Example:     "sandbox-secret",
			MinLength:   8,
		},
		{
			Key:         "sandbox",
			Required:    true,
			Type:        "boolean",
			Description: "Always true; the sandbox has no live mode",
			Example:     "true",
		},
	}
}

// ValidateConfig validates the provided configuration
func (p *Provider) ValidateConfig(conf map[string]string) error {
	return provider.ValidateConfigFields(providerName, conf, p.GetRequiredConfig(provider.ModeTest))
}

// Capabilities declares what the sandbox supports
func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		AutoCapture:   true,
		Subscriptions: true,
		Refunds:       true,
	}
}

// CreateCheckout opens an in-memory checkout session
func (p *Provider) CreateCheckout(_ context.Context, request provider.CheckoutRequest) (*provider.CheckoutSession, error) {
	if request.Amount <= 0 {
		return nil, errors.New("sandbox: amount must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	id := fmt.Sprintf("sbx_sess_%06d", p.seq)
	p.sessions[id] = &session{
		amount:   request.Amount,
		currency: strings.ToUpper(request.Currency),
	}

	expires := time.Now().UTC().Add(30 * time.Minute)
	return &provider.CheckoutSession{
		SessionID:   id,
		RedirectURL: "https://sandbox.local/checkout/" + id,
		Provider:    providerName,
		ExpiresAt:   &expires,
	}, nil
}

// Capture reports the settlement state of a sandbox session. The sandbox
// auto-captures: a session counts as settled once its webhook fired, which
// tests simulate by calling MarkPaid.
func (p *Provider) Capture(_ context.Context, sessionID string) (*provider.CaptureResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[sessionID]
	if !ok {
		return nil, &provider.PermanentError{
			Provider: providerName,
			Op:       "capture",
			Code:     "session_not_found",
			Err:      fmt.Errorf("unknown session %s", sessionID),
		}
	}

	result := &provider.CaptureResult{
		Amount:   s.amount,
		Currency: s.currency,
	}
	if s.captured {
		result.Status = provider.StatusSucceeded
		result.PaymentRef = "sbx_pay_" + strings.TrimPrefix(sessionID, "sbx_sess_")
	} else {
		result.Status = provider.StatusPending
	}
	return result, nil
}

// MarkPaid settles a session, the way a completed checkout would. Test
// harnesses call this before delivering the matching webhook.
func (p *Provider) MarkPaid(sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[sessionID]
	if !ok {
		return fmt.Errorf("sandbox: unknown session %s", sessionID)
	}
	s.captured = true
	return nil
}

// CreateSubscription starts a deterministic sandbox subscription
func (p *Provider) CreateSubscription(_ context.Context, request provider.SubscriptionRequest) (*provider.SubscriptionSession, error) {
	if request.PlanRef == "" || request.CustomerRef == "" {
		return nil, errors.New("sandbox: planRef and customerRef are required")
	}

	p.mu.Lock()
	p.seq++
	id := fmt.Sprintf("sbx_sub_%06d", p.seq)
	p.mu.Unlock()

	return &provider.SubscriptionSession{ProviderSubscriptionID: id}, nil
}

// GetSubscriptionStatus always reports sandbox subscriptions active
func (p *Provider) GetSubscriptionStatus(_ context.Context, providerSubscriptionID string) (provider.SubscriptionStatus, error) {
	if !strings.HasPrefix(providerSubscriptionID, "sbx_sub_") {
		return provider.SubscriptionUnknown, errors.New("sandbox: unknown subscription")
	}
	return provider.SubscriptionActive, nil
}

// RefundPayment acknowledges a refund immediately
func (p *Provider) RefundPayment(_ context.Context, request provider.RefundRequest) (*provider.RefundResult, error) {
	if request.PaymentRef == "" {
		return nil, errors.New("sandbox: paymentRef is required for refund")
	}

	p.mu.Lock()
	p.seq++
	id := fmt.Sprintf("sbx_ref_%06d", p.seq)
	p.mu.Unlock()

	return &provider.RefundResult{
		RefundRef:  id,
		PaymentRef: request.PaymentRef,
		Status:     "completed",
		Amount:     request.Amount,
	}, nil
}

// Sign computes the webhook signature for a payload. Exposed so tests and
// the local webhook simulator can build authentic deliveries.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook checks the local HMAC signature
func (p *Provider) VerifyWebhook(_ context.Context, payload []byte, headers http.Header) error {
	got := headers.Get(SignatureHeader)
	if got == "" {
		return errors.New("sandbox: missing signature header")
	}
	want := Sign(p.secretKey, payload)
	if !hmac.Equal([]byte(got), []byte(want)) {
		return errors.New("sandbox: signature mismatch")
	}
	return nil
}

// ParseWebhook normalizes a sandbox event. Sandbox payloads are plain JSON
// and carry no event id.
func (p *Provider) ParseWebhook(_ context.Context, payload []byte) (*provider.WebhookEvent, error) {
	var raw struct {
		Type           string    `json:"type"`
		SessionID      string    `json:"session_id"`
		PaymentRef     string    `json:"payment_ref"`
		SubscriptionID string    `json:"subscription_id"`
		Amount         float64   `json:"amount"`
		Currency       string    `json:"currency"`
		OccurredAt     time.Time `json:"occurred_at"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("sandbox: failed to parse event: %w", err)
	}

	out := &provider.WebhookEvent{
		Provider:               providerName,
		Type:                   mapEventType(raw.Type),
		SessionID:              raw.SessionID,
		PaymentRef:             raw.PaymentRef,
		ProviderSubscriptionID: raw.SubscriptionID,
		Amount:                 raw.Amount,
		Currency:               strings.ToUpper(raw.Currency),
		OccurredAt:             raw.OccurredAt.UTC(),
		Raw:                    payload,
	}
	return out, nil
}

func mapEventType(t string) provider.EventType {
	switch t {
	case "payment.succeeded":
		return provider.EventPaymentSucceeded
	case "payment.failed":
		return provider.EventPaymentFailed
	case "subscription.created":
		return provider.EventSubscriptionCreated
	case "subscription.updated":
		return provider.EventSubscriptionUpdated
	case "subscription.renewed":
		return provider.EventSubscriptionRenewed
	case "subscription.cancelled":
		return provider.EventSubscriptionCancelled
	case "refund.created":
		return provider.EventRefundCreated
	default:
		return provider.EventUnknown
	}
}
