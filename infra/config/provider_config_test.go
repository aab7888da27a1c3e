package config

import (
	"os"
	"testing"
)

func TestProviderConfig_SetAndGet(t *testing.T) {
	pc := NewProviderConfig()

	cfg := map[string]string{
		"test_secret_key": "sk_test_123",
		"live_secret_key": "sk_live_456",
	}

	if err := pc.SetConfig("stripe", cfg); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}

	got, err := pc.GetConfig("stripe")
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}

	if got["test_secret_key"] != "sk_test_123" {
		t.Errorf("Expected test_secret_key sk_test_123, got %s", got["test_secret_key"])
	}

	// Provider names are case-insensitive
	got2, err := pc.GetConfig("STRIPE")
	if err != nil {
		t.Fatalf("GetConfig with uppercase name failed: %v", err)
	}
	if got2["live_secret_key"] != "sk_live_456" {
		t.Errorf("Expected live_secret_key sk_live_456, got %s", got2["live_secret_key"])
	}
}

func TestProviderConfig_GetReturnsCopy(t *testing.T) {
	pc := NewProviderConfig()

	if err := pc.SetConfig("paypal", map[string]string{"client_id": "abc"}); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}

	got, _ := pc.GetConfig("paypal")
	got["client_id"] = "mutated"

	again, _ := pc.GetConfig("paypal")
	if again["client_id"] != "abc" {
		t.Error("GetConfig should return a copy, original was mutated")
	}
}

func TestProviderConfig_Validation(t *testing.T) {
	pc := NewProviderConfig()

	if err := pc.SetConfig("", map[string]string{"k": "v"}); err == nil {
		t.Error("Expected error for empty provider name")
	}

	if err := pc.SetConfig("stripe", map[string]string{}); err == nil {
		t.Error("Expected error for empty config")
	}

	if _, err := pc.GetConfig("unknown"); err == nil {
		t.Error("Expected error for unknown provider")
	}
}

func TestProviderConfig_MergeConfig(t *testing.T) {
	pc := NewProviderConfig()

	if err := pc.SetConfig("sandbox", map[string]string{
		"test_secret_key": "old",
		"webhook_secret":  "whsec_1",
	}); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}

	if err := pc.MergeConfig("sandbox", map[string]string{
		"test_secret_key": "new",
	}); err != nil {
		t.Fatalf("MergeConfig failed: %v", err)
	}

	got, _ := pc.GetConfig("sandbox")
	if got["test_secret_key"] != "new" {
		t.Errorf("Expected merged key to win, got %s", got["test_secret_key"])
	}
	if got["webhook_secret"] != "whsec_1" {
		t.Error("Expected untouched key to be preserved")
	}
}

func TestProviderConfig_Delete(t *testing.T) {
	pc := NewProviderConfig()

	pc.SetConfig("stripe", map[string]string{"k": "v"})

	if err := pc.DeleteConfig("stripe"); err != nil {
		t.Fatalf("DeleteConfig failed: %v", err)
	}

	if _, err := pc.GetConfig("stripe"); err == nil {
		t.Error("Expected error after delete")
	}
}

func TestProviderConfig_LoadFromEnv(t *testing.T) {
	os.Setenv("STRIPE_TEST_SECRET_KEY", "sk_test_env")
	os.Setenv("STRIPE_LIVE_SECRET_KEY", "sk_live_env")
	os.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_env")
	defer func() {
		os.Unsetenv("STRIPE_TEST_SECRET_KEY")
		os.Unsetenv("STRIPE_LIVE_SECRET_KEY")
		os.Unsetenv("STRIPE_WEBHOOK_SECRET")
	}()

	pc := NewProviderConfig()
	pc.LoadFromEnv([]string{"stripe", "paypal"})

	got, err := pc.GetConfig("stripe")
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}

	if got["test_secret_key"] != "sk_test_env" {
		t.Errorf("Expected test_secret_key from env, got %s", got["test_secret_key"])
	}
	if got["live_secret_key"] != "sk_live_env" {
		t.Errorf("Expected live_secret_key from env, got %s", got["live_secret_key"])
	}
	if got["webhook_secret"] != "whsec_env" {
		t.Errorf("Expected webhook_secret from env, got %s", got["webhook_secret"])
	}

	// No env vars for paypal, so no bag
	if _, err := pc.GetConfig("paypal"); err == nil {
		t.Error("Expected no config for paypal")
	}
}

func TestProviderConfig_GetAvailableProviders(t *testing.T) {
	pc := NewProviderConfig()

	pc.SetConfig("stripe", map[string]string{"k": "v"})
	pc.SetConfig("paypal", map[string]string{"k": "v"})

	providers := pc.GetAvailableProviders()
	if len(providers) != 2 {
		t.Errorf("Expected 2 providers, got %d", len(providers))
	}
}
