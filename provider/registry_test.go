package provider

import (
	"context"
	"net/http"
	"sync"
	"testing"
)

// stubProvider is a minimal PaymentProvider for registry tests
type stubProvider struct {
	name string
}

func (s *stubProvider) Initialize(config map[string]string) error     { return nil }
func (s *stubProvider) GetRequiredConfig(mode string) []ConfigField   { return nil }
func (s *stubProvider) ValidateConfig(config map[string]string) error { return nil }
func (s *stubProvider) Capabilities() Capabilities                    { return Capabilities{} }
func (s *stubProvider) CreateCheckout(ctx context.Context, request CheckoutRequest) (*CheckoutSession, error) {
	return &CheckoutSession{Provider: s.name}, nil
}
func (s *stubProvider) Capture(ctx context.Context, sessionID string) (*CaptureResult, error) {
	return &CaptureResult{Status: StatusSucceeded}, nil
}
func (s *stubProvider) CreateSubscription(ctx context.Context, request SubscriptionRequest) (*SubscriptionSession, error) {
	return &SubscriptionSession{}, nil
}
func (s *stubProvider) GetSubscriptionStatus(ctx context.Context, providerSubscriptionID string) (SubscriptionStatus, error) {
	return SubscriptionActive, nil
}
func (s *stubProvider) RefundPayment(ctx context.Context, request RefundRequest) (*RefundResult, error) {
	return &RefundResult{}, nil
}
func (s *stubProvider) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	return nil
}
func (s *stubProvider) ParseWebhook(ctx context.Context, payload []byte) (*WebhookEvent, error) {
	return &WebhookEvent{}, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := NewRegistry()

	registry.Register("stub", func() PaymentProvider {
		return &stubProvider{name: "stub"}
	})

	factory, err := registry.Get("stub")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if factory == nil {
		t.Fatal("Expected factory, got nil")
	}

	if _, err := registry.Get("unknown"); err == nil {
		t.Error("Expected error for unregistered provider")
	}
}

func TestRegistry_CreateProvider(t *testing.T) {
	registry := NewRegistry()

	registry.Register("stub", func() PaymentProvider {
		return &stubProvider{name: "stub"}
	})

	p, err := registry.CreateProvider("stub")
	if err != nil {
		t.Fatalf("CreateProvider failed: %v", err)
	}

	session, _ := p.CreateCheckout(context.Background(), CheckoutRequest{})
	if session.Provider != "stub" {
		t.Errorf("Expected stub provider, got %s", session.Provider)
	}

	// Each call creates a fresh instance
	p2, _ := registry.CreateProvider("stub")
	if p == p2 {
		t.Error("Expected distinct instances from factory")
	}
}

func TestRegistry_GetProviderNames(t *testing.T) {
	registry := NewRegistry()

	registry.Register("a", func() PaymentProvider { return &stubProvider{} })
	registry.Register("b", func() PaymentProvider { return &stubProvider{} })

	names := registry.GetProviderNames()
	if len(names) != 2 {
		t.Errorf("Expected 2 names, got %d", len(names))
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			registry.Register("stub", func() PaymentProvider { return &stubProvider{} })
		}()
		go func() {
			defer wg.Done()
			registry.Get("stub")
		}()
	}
	wg.Wait()
}
