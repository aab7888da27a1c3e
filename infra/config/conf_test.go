package config

import "testing"

func TestAppGeneratesKeyWhenUnset(t *testing.T) {
	instance = nil
	t.Cleanup(func() { instance = nil })

	t.Setenv("API_KEY", "")
	if key := App().APIKey; key == "" {
		t.Error("expected a generated API key")
	}
}

func TestAppUsesConfiguredKey(t *testing.T) {
	instance = nil
	t.Cleanup(func() { instance = nil })

	t.Setenv("API_KEY", "configured-key")
	if key := App().APIKey; key != "configured-key" {
		t.Errorf("expected configured key, got %q", key)
	}
}
