package provider

import (
	"errors"
	"testing"
)

func TestResolveCredentials(t *testing.T) {
	bag := map[string]string{
		"test_secret_key": "sk_test_123",
		"live_secret_key": "sk_live_456",
		"api_key":         "legacy_789",
	}

	tests := []struct {
		name     string
		sandbox  bool
		required []string
		want     map[string]string
		wantErr  string
	}{
		{
			name:     "sandbox picks test prefix",
			sandbox:  true,
			required: []string{"secret_key"},
			want:     map[string]string{"secret_key": "sk_test_123"},
		},
		{
			name:     "live picks live prefix",
			sandbox:  false,
			required: []string{"secret_key"},
			want:     map[string]string{"secret_key": "sk_live_456"},
		},
		{
			name:     "unprefixed legacy fallback",
			sandbox:  true,
			required: []string{"api_key"},
			want:     map[string]string{"api_key": "legacy_789"},
		},
		{
			name:     "missing credential names prefixed field",
			sandbox:  true,
			required: []string{"webhook_secret"},
			wantErr:  "test_webhook_secret",
		},
		{
			name:     "missing live credential names live field",
			sandbox:  false,
			required: []string{"webhook_secret"},
			wantErr:  "live_webhook_secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds, err := ResolveCredentials("stripe", bag, tt.sandbox, tt.required)

			if tt.wantErr != "" {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}

				var mce *MissingCredentialError
				if !errors.As(err, &mce) {
					t.Fatalf("Expected MissingCredentialError, got %T", err)
				}
				if mce.Field != tt.wantErr {
					t.Errorf("Expected field %q, got %q", tt.wantErr, mce.Field)
				}
				if mce.Provider != "stripe" {
					t.Errorf("Expected provider stripe, got %q", mce.Provider)
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			for name, want := range tt.want {
				if got := creds.Get(name); got != want {
					t.Errorf("Expected %s=%q, got %q", name, want, got)
				}
			}
		})
	}
}

func TestResolveCredentials_PrefixedWinsOverLegacy(t *testing.T) {
	bag := map[string]string{
		"secret_key":      "legacy",
		"test_secret_key": "prefixed",
	}

	creds, err := ResolveCredentials("sandbox", bag, true, []string{"secret_key"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if creds.Get("secret_key") != "prefixed" {
		t.Errorf("Expected prefixed value to win, got %q", creds.Get("secret_key"))
	}
}

func TestResolveCredentials_EmptyValueTreatedAsMissing(t *testing.T) {
	bag := map[string]string{
		"test_secret_key": "   ",
	}

	_, err := ResolveCredentials("stripe", bag, true, []string{"secret_key"})
	if err == nil {
		t.Fatal("Expected error for blank credential value")
	}
}

func TestCredentialSet_Map(t *testing.T) {
	bag := map[string]string{"test_secret_key": "sk"}

	creds, err := ResolveCredentials("stripe", bag, true, []string{"secret_key"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	m := creds.Map()
	m["secret_key"] = "mutated"

	if creds.Get("secret_key") != "sk" {
		t.Error("Map should return a copy")
	}

	if creds.Mode != ModeTest {
		t.Errorf("Expected mode test, got %s", creds.Mode)
	}
}

func TestModeFor(t *testing.T) {
	if ModeFor(true) != ModeTest {
		t.Error("Expected test mode for sandbox")
	}
	if ModeFor(false) != ModeLive {
		t.Error("Expected live mode for production")
	}
}
