package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/paymux/paymux/provider"
)

const testSecret = "sandbox-secret"

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p := NewProvider().(*Provider)
	if err := p.Initialize(map[string]string{"secret_key": testSecret, "sandbox": "true"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return p
}

func TestInitializeRequiresSecret(t *testing.T) {
	p := NewProvider().(*Provider)
	if err := p.Initialize(map[string]string{"sandbox": "true"}); err == nil {
		t.Error("expected error for missing secret_key")
	}
}

func TestCapabilities(t *testing.T) {
	p := newTestProvider(t)
	caps := p.Capabilities()
	if !caps.AutoCapture || !caps.Subscriptions || !caps.Refunds {
		t.Errorf("unexpected capabilities: %+v", caps)
	}
}

func TestCheckoutAndCaptureLifecycle(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	sess, err := p.CreateCheckout(ctx, provider.CheckoutRequest{
		Amount:   29.99,
		Currency: "eur",
		Mode:     provider.ModeOneTime,
	})
	if err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}
	if sess.SessionID == "" || sess.Provider != "sandbox" {
		t.Errorf("unexpected session: %+v", sess)
	}
	if sess.RedirectURL == "" {
		t.Error("expected redirect URL")
	}

	// unsettled session reports pending
	result, err := p.Capture(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if result.Status != provider.StatusPending {
		t.Errorf("expected pending before settlement, got %s", result.Status)
	}
	if result.Amount != 29.99 || result.Currency != "EUR" {
		t.Errorf("unexpected capture amounts: %+v", result)
	}

	if err := p.MarkPaid(sess.SessionID); err != nil {
		t.Fatalf("MarkPaid failed: %v", err)
	}

	result, err = p.Capture(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("Capture after settlement failed: %v", err)
	}
	if result.Status != provider.StatusSucceeded {
		t.Errorf("expected succeeded after settlement, got %s", result.Status)
	}
	if result.PaymentRef == "" {
		t.Error("expected payment ref after settlement")
	}
}

func TestCheckoutRejectsNonPositiveAmount(t *testing.T) {
	p := newTestProvider(t)
	_, err := p.CreateCheckout(context.Background(), provider.CheckoutRequest{
		Amount:   0,
		Currency: "EUR",
		Mode:     provider.ModeOneTime,
	})
	if err == nil {
		t.Error("expected error for zero amount")
	}
}

func TestCaptureUnknownSessionIsPermanent(t *testing.T) {
	p := newTestProvider(t)
	_, err := p.Capture(context.Background(), "sbx_sess_999999")
	if err == nil {
		t.Fatal("expected error for unknown session")
	}
	if !provider.IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
}

func TestMarkPaidUnknownSession(t *testing.T) {
	p := newTestProvider(t)
	if err := p.MarkPaid("sbx_sess_999999"); err == nil {
		t.Error("expected error for unknown session")
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	sess, err := p.CreateSubscription(ctx, provider.SubscriptionRequest{
		PlanRef:     "pro-monthly",
		CustomerRef: "user_1",
	})
	if err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}
	if sess.ProviderSubscriptionID == "" {
		t.Fatal("expected subscription id")
	}

	status, err := p.GetSubscriptionStatus(ctx, sess.ProviderSubscriptionID)
	if err != nil {
		t.Fatalf("GetSubscriptionStatus failed: %v", err)
	}
	if status != provider.SubscriptionActive {
		t.Errorf("expected active, got %s", status)
	}

	if _, err := p.GetSubscriptionStatus(ctx, "not-a-sandbox-id"); err == nil {
		t.Error("expected error for foreign subscription id")
	}
}

func TestRefund(t *testing.T) {
	p := newTestProvider(t)

	result, err := p.RefundPayment(context.Background(), provider.RefundRequest{
		PaymentRef: "sbx_pay_000001",
		Amount:     10,
	})
	if err != nil {
		t.Fatalf("RefundPayment failed: %v", err)
	}
	if result.RefundRef == "" || result.Status != "completed" {
		t.Errorf("unexpected refund result: %+v", result)
	}
	if result.Amount != 10 {
		t.Errorf("expected partial amount echoed back, got %v", result.Amount)
	}

	if _, err := p.RefundPayment(context.Background(), provider.RefundRequest{}); err == nil {
		t.Error("expected error for missing payment ref")
	}
}

func TestVerifyWebhook(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	payload := []byte(`{"type":"payment.succeeded","session_id":"sbx_sess_000001"}`)

	headers := http.Header{}
	headers.Set(SignatureHeader, Sign(testSecret, payload))
	if err := p.VerifyWebhook(ctx, payload, headers); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}

	headers.Set(SignatureHeader, Sign("wrong-secret", payload))
	if err := p.VerifyWebhook(ctx, payload, headers); err == nil {
		t.Error("expected error for wrong secret")
	}

	headers.Set(SignatureHeader, Sign(testSecret, payload))
	tampered := []byte(`{"type":"payment.succeeded","session_id":"sbx_sess_000002"}`)
	if err := p.VerifyWebhook(ctx, tampered, headers); err == nil {
		t.Error("expected error for tampered payload")
	}

	if err := p.VerifyWebhook(ctx, payload, http.Header{}); err == nil {
		t.Error("expected error for missing signature header")
	}
}

func TestParseWebhook(t *testing.T) {
	p := newTestProvider(t)

	occurred := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)
	payload, _ := json.Marshal(map[string]any{
		"type":        "payment.succeeded",
		"session_id":  "sbx_sess_000001",
		"payment_ref": "sbx_pay_000001",
		"amount":      29.99,
		"currency":    "eur",
		"occurred_at": occurred,
	})

	evt, err := p.ParseWebhook(context.Background(), payload)
	if err != nil {
		t.Fatalf("ParseWebhook failed: %v", err)
	}
	if evt.Type != provider.EventPaymentSucceeded {
		t.Errorf("expected payment.succeeded, got %s", evt.Type)
	}
	if evt.SessionID != "sbx_sess_000001" || evt.PaymentRef != "sbx_pay_000001" {
		t.Errorf("unexpected refs: %+v", evt)
	}
	if evt.Amount != 29.99 || evt.Currency != "EUR" {
		t.Errorf("unexpected amounts: %+v", evt)
	}
	if !evt.OccurredAt.Equal(occurred) {
		t.Errorf("unexpected occurred_at: %v", evt.OccurredAt)
	}

	// sandbox events carry no event id, dedup falls back to session+type
	if evt.EventID != "" {
		t.Errorf("expected empty event id, got %q", evt.EventID)
	}
	if got := evt.DedupKey(); got != "sbx_sess_000001:payment.succeeded" {
		t.Errorf("unexpected dedup key %q", got)
	}
}

func TestParseWebhookTypeMapping(t *testing.T) {
	p := newTestProvider(t)

	tests := []struct {
		raw  string
		want provider.EventType
	}{
		{"payment.succeeded", provider.EventPaymentSucceeded},
		{"payment.failed", provider.EventPaymentFailed},
		{"subscription.created", provider.EventSubscriptionCreated},
		{"subscription.updated", provider.EventSubscriptionUpdated},
		{"subscription.renewed", provider.EventSubscriptionRenewed},
		{"subscription.cancelled", provider.EventSubscriptionCancelled},
		{"refund.created", provider.EventRefundCreated},
		{"something.else", provider.EventUnknown},
	}

	for _, tt := range tests {
		payload, _ := json.Marshal(map[string]string{"type": tt.raw, "session_id": "sbx_sess_000001"})
		evt, err := p.ParseWebhook(context.Background(), payload)
		if err != nil {
			t.Fatalf("ParseWebhook(%s) failed: %v", tt.raw, err)
		}
		if evt.Type != tt.want {
			t.Errorf("type %s: expected %s, got %s", tt.raw, tt.want, evt.Type)
		}
	}
}

func TestParseWebhookBadJSON(t *testing.T) {
	p := newTestProvider(t)
	if _, err := p.ParseWebhook(context.Background(), []byte("not json")); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestRegisteredInDefaultRegistry(t *testing.T) {
	if _, err := provider.Get("sandbox"); err != nil {
		t.Fatalf("sandbox is not registered: %v", err)
	}
}
