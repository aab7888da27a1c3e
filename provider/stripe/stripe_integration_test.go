// Stripe integration tests make real API calls against Stripe's test
// environment. They only run when STRIPE_TEST_SECRET_KEY is set.
// Run: STRIPE_TEST_SECRET_KEY=sk_test_... go test -v ./provider/stripe/ -run Integration

package stripe

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/paymux/paymux/provider"
)

func integrationProvider(t *testing.T) *Provider {
	t.Helper()

	secretKey := os.Getenv("STRIPE_TEST_SECRET_KEY")
	if secretKey == "" {
		t.Skip("STRIPE_TEST_SECRET_KEY not set, skipping integration test")
	}

	p := NewProvider().(*Provider)
	err := p.Initialize(map[string]string{
		"secret_key":     secretKey,
		"webhook_secret": "whsec_integration_unused",
		"sandbox":        "true",
	})
	if err != nil {
		t.Fatalf("Failed to initialize Stripe provider: %v", err)
	}
	return p
}

func TestStripeIntegration_CreateCheckout(t *testing.T) {
	p := integrationProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session, err := p.CreateCheckout(ctx, provider.CheckoutRequest{
		Amount:      25.99,
		Currency:    "EUR",
		Mode:        provider.ModeOneTime,
		Description: "Integration test payment",
		SuccessURL:  "https://example.com/success",
		CancelURL:   "https://example.com/cancel",
		Metadata:    map[string]string{"test_run": time.Now().Format("20060102150405")},
	})
	if err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}

	if !strings.HasPrefix(session.SessionID, "cs_test_") {
		t.Errorf("expected test session id, got %s", session.SessionID)
	}
	if session.RedirectURL == "" {
		t.Error("expected a redirect URL")
	}
}

func TestStripeIntegration_CaptureUnpaidSession(t *testing.T) {
	p := integrationProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session, err := p.CreateCheckout(ctx, provider.CheckoutRequest{
		Amount:     10.00,
		Currency:   "EUR",
		Mode:       provider.ModeOneTime,
		SuccessURL: "https://example.com/success",
		CancelURL:  "https://example.com/cancel",
	})
	if err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}

	// nobody completed the checkout, so the status query reports pending
	result, err := p.Capture(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if result.Status != provider.StatusPending {
		t.Errorf("expected pending, got %s", result.Status)
	}
}

func TestStripeIntegration_RefundUnknownPayment(t *testing.T) {
	p := integrationProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := p.RefundPayment(ctx, provider.RefundRequest{
		PaymentRef: "pi_nonexistent_integration",
	})
	if err == nil {
		t.Fatal("expected error refunding unknown payment")
	}
	if !provider.IsPermanent(err) {
		t.Errorf("a rejected refund must classify as permanent, got %v", err)
	}
}
