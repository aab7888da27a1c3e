package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, func() error {
		calls++
		return nil
	})

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestRetry_TransientRetried(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, func() error {
		calls++
		if calls < 3 {
			return &TransientError{Provider: "stripe", Op: "capture", Err: errors.New("timeout")}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetry_TransientExhausted(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 2, func() error {
		calls++
		return &TransientError{Provider: "stripe", Op: "capture", Err: errors.New("timeout")}
	})

	if !IsTransient(err) {
		t.Errorf("Expected transient error after exhaustion, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

func TestRetry_PermanentNotRetried(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, func() error {
		calls++
		return &PermanentError{Provider: "stripe", Op: "capture", Code: "http_402", Err: errors.New("card declined")}
	})

	if !IsPermanent(err) {
		t.Errorf("Expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call for permanent error, got %d", calls)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, 5, func() error {
			calls++
			if calls == 1 {
				cancel()
			}
			return &TransientError{Provider: "stripe", Op: "capture", Err: errors.New("timeout")}
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Retry did not observe context cancellation")
	}

	if calls != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", calls)
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{500, true},
		{502, true},
		{503, true},
		{429, true},
		{400, false},
		{402, false},
		{404, false},
	}

	for _, tt := range tests {
		err := ClassifyHTTPStatus("stripe", "capture", tt.status, errors.New("boom"))
		if IsTransient(err) != tt.transient {
			t.Errorf("Status %d: expected transient=%v", tt.status, tt.transient)
		}
	}

	// Permanent errors carry the HTTP status as the code
	err := ClassifyHTTPStatus("stripe", "capture", 402, errors.New("declined"))
	var pe *PermanentError
	if !errors.As(err, &pe) {
		t.Fatal("Expected PermanentError")
	}
	if pe.Code != "http_402" {
		t.Errorf("Expected code http_402, got %s", pe.Code)
	}
}
