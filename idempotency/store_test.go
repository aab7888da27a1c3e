package idempotency

import (
	"strings"
	"testing"
)

func TestEventKey(t *testing.T) {
	key := EventKey("stripe", "evt_123")
	if key != "webhook:stripe:evt_123" {
		t.Errorf("Unexpected event key: %s", key)
	}

	// Fallback dedup ids pass through untouched
	key = EventKey("sandbox", "sess_1:payment.succeeded")
	if key != "webhook:sandbox:sess_1:payment.succeeded" {
		t.Errorf("Unexpected event key: %s", key)
	}
}

func TestOperationKey(t *testing.T) {
	key1 := OperationKey("stripe", "capture", "sess_1")
	key2 := OperationKey("stripe", "capture", "sess_1")
	key3 := OperationKey("stripe", "capture", "sess_2")
	key4 := OperationKey("stripe", "refund", "sess_1")
	key5 := OperationKey("paypal", "capture", "sess_1")

	if key1 != key2 {
		t.Error("Same inputs must derive the same key")
	}
	if key1 == key3 {
		t.Error("Different session must derive a different key")
	}
	if key1 == key4 {
		t.Error("Different operation must derive a different key")
	}
	if key1 == key5 {
		t.Error("Different provider must derive a different key")
	}

	if !strings.HasPrefix(key1, "op:") {
		t.Errorf("Expected op: prefix, got %s", key1)
	}
	if len(key1) != len("op:")+32 {
		t.Errorf("Expected 32 hex chars after prefix, got %d", len(key1)-len("op:"))
	}
}

func TestOperationKey_NoParts(t *testing.T) {
	key1 := OperationKey("stripe", "sweep")
	key2 := OperationKey("stripe", "sweep")
	if key1 != key2 {
		t.Error("Same inputs must derive the same key")
	}
}
