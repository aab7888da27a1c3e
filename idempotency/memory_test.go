package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemory_ClaimOnce(t *testing.T) {
	store := NewMemory()
	defer store.Close()

	ctx := context.Background()

	claimed, err := store.ClaimOnce(ctx, "webhook:stripe:evt_1", time.Hour)
	if err != nil {
		t.Fatalf("ClaimOnce failed: %v", err)
	}
	if !claimed {
		t.Fatal("First claim should win")
	}

	claimed, err = store.ClaimOnce(ctx, "webhook:stripe:evt_1", time.Hour)
	if err != nil {
		t.Fatalf("ClaimOnce failed: %v", err)
	}
	if claimed {
		t.Error("Second claim of same key should lose")
	}

	claimed, _ = store.ClaimOnce(ctx, "webhook:stripe:evt_2", time.Hour)
	if !claimed {
		t.Error("Claim of different key should win")
	}
}

func TestMemory_ClaimExpires(t *testing.T) {
	store := NewMemory()
	defer store.Close()

	ctx := context.Background()

	if claimed, _ := store.ClaimOnce(ctx, "k", 30*time.Millisecond); !claimed {
		t.Fatal("First claim should win")
	}

	time.Sleep(50 * time.Millisecond)

	if claimed, _ := store.ClaimOnce(ctx, "k", time.Hour); !claimed {
		t.Error("Claim after expiry should win")
	}
}

func TestMemory_ConcurrentClaims(t *testing.T) {
	store := NewMemory()
	defer store.Close()

	const goroutines = 50

	var wg sync.WaitGroup
	wins := make(chan bool, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.ClaimOnce(context.Background(), "contested", time.Hour)
			if err != nil {
				t.Errorf("ClaimOnce failed: %v", err)
				return
			}
			if claimed {
				wins <- true
			}
		}()
	}

	wg.Wait()
	close(wins)

	winners := 0
	for range wins {
		winners++
	}

	if winners != 1 {
		t.Errorf("Expected exactly 1 winner, got %d", winners)
	}
}
