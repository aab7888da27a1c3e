package billing

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/paymux/paymux/infra/config"
)

func testInvoiceStores(t *testing.T) map[string]InvoiceStore {
	t.Helper()

	db, err := config.OpenSQLite(filepath.Join(t.TempDir(), "billing.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sqlite, err := NewSQLiteInvoiceStore(db)
	if err != nil {
		t.Fatalf("failed to create sqlite invoice store: %v", err)
	}

	return map[string]InvoiceStore{
		"memory": NewMemoryInvoiceStore(),
		"sqlite": sqlite,
	}
}

func testSubscriptionStores(t *testing.T) map[string]SubscriptionStore {
	t.Helper()

	db, err := config.OpenSQLite(filepath.Join(t.TempDir(), "billing.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sqlite, err := NewSQLiteSubscriptionStore(db)
	if err != nil {
		t.Fatalf("failed to create sqlite subscription store: %v", err)
	}

	return map[string]SubscriptionStore{
		"memory": NewMemorySubscriptionStore(),
		"sqlite": sqlite,
	}
}

func testInvoice(id, sessionID string) *Invoice {
	now := time.Now().UTC().Truncate(time.Second)
	return &Invoice{
		ID:                id,
		Number:            NewInvoiceNumber(now),
		UserID:            "user_1",
		Amount:            29.99,
		Currency:          "EUR",
		Status:            InvoiceInvoiced,
		Provider:          "stripe",
		ProviderSessionID: sessionID,
		InvoicedAt:        now,
	}
}

func TestInvoiceStoreCreateAndGet(t *testing.T) {
	for name, store := range testInvoiceStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			inv := testInvoice("inv_1", "sess_1")

			if err := store.Create(ctx, inv); err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			got, err := store.GetByID(ctx, "inv_1")
			if err != nil {
				t.Fatalf("GetByID failed: %v", err)
			}
			if got.Number != inv.Number || got.Status != InvoiceInvoiced || got.Amount != 29.99 {
				t.Errorf("unexpected invoice: %+v", got)
			}

			bySession, err := store.GetBySessionID(ctx, "sess_1")
			if err != nil {
				t.Fatalf("GetBySessionID failed: %v", err)
			}
			if bySession.ID != "inv_1" {
				t.Errorf("expected inv_1, got %s", bySession.ID)
			}

			if _, err := store.GetByID(ctx, "missing"); err != ErrNotFound {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
			if _, err := store.GetBySessionID(ctx, "missing"); err != ErrNotFound {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestInvoiceStoreDuplicateSession(t *testing.T) {
	for name, store := range testInvoiceStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Create(ctx, testInvoice("inv_1", "sess_1")); err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			if err := store.Create(ctx, testInvoice("inv_2", "sess_1")); err == nil {
				t.Error("expected error creating second invoice for same session")
			}
		})
	}
}

func TestInvoiceStoreMarkPaid(t *testing.T) {
	for name, store := range testInvoiceStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Create(ctx, testInvoice("inv_1", "sess_1")); err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			paidAt := time.Now().UTC().Truncate(time.Second)
			updated, err := store.MarkPaid(ctx, "inv_1", "pi_123", "card", paidAt)
			if err != nil {
				t.Fatalf("MarkPaid failed: %v", err)
			}
			if !updated {
				t.Fatal("expected first MarkPaid to succeed")
			}

			// second application of the same transition is a no-op
			updated, err = store.MarkPaid(ctx, "inv_1", "pi_456", "card", paidAt)
			if err != nil {
				t.Fatalf("second MarkPaid failed: %v", err)
			}
			if updated {
				t.Error("expected second MarkPaid to be rejected")
			}

			got, err := store.GetByID(ctx, "inv_1")
			if err != nil {
				t.Fatalf("GetByID failed: %v", err)
			}
			if got.Status != InvoicePaid {
				t.Errorf("expected status paid, got %s", got.Status)
			}
			if got.PaymentRef != "pi_123" {
				t.Errorf("payment ref overwritten by losing transition: %s", got.PaymentRef)
			}
			if got.PaidAt == nil {
				t.Error("expected paid_at to be set")
			}
		})
	}
}

func TestInvoiceStoreTerminalStates(t *testing.T) {
	for name, store := range testInvoiceStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Create(ctx, testInvoice("inv_1", "sess_1")); err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			updated, err := store.MarkCancelled(ctx, "inv_1")
			if err != nil || !updated {
				t.Fatalf("MarkCancelled = (%v, %v), want (true, nil)", updated, err)
			}

			if updated, _ := store.MarkPaid(ctx, "inv_1", "pi_1", "card", time.Now()); updated {
				t.Error("cancelled invoice must not become paid")
			}
			if updated, _ := store.MarkExpired(ctx, "inv_1"); updated {
				t.Error("cancelled invoice must not become expired")
			}
		})
	}
}

func TestInvoiceStoreExpireOverdue(t *testing.T) {
	for name, store := range testInvoiceStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)
			past := now.Add(-time.Hour)
			future := now.Add(time.Hour)

			overdue := testInvoice("inv_overdue", "sess_a")
			overdue.ExpiresAt = &past
			current := testInvoice("inv_current", "sess_b")
			current.ExpiresAt = &future
			open := testInvoice("inv_open", "sess_c")

			for _, inv := range []*Invoice{overdue, current, open} {
				if err := store.Create(ctx, inv); err != nil {
					t.Fatalf("Create failed: %v", err)
				}
			}

			paidOverdue := testInvoice("inv_paid", "sess_d")
			paidOverdue.ExpiresAt = &past
			if err := store.Create(ctx, paidOverdue); err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			if _, err := store.MarkPaid(ctx, "inv_paid", "pi_1", "card", now); err != nil {
				t.Fatalf("MarkPaid failed: %v", err)
			}

			expired, err := store.ExpireOverdue(ctx, now)
			if err != nil {
				t.Fatalf("ExpireOverdue failed: %v", err)
			}
			if len(expired) != 1 || expired[0] != "inv_overdue" {
				t.Errorf("expected only inv_overdue expired, got %v", expired)
			}

			got, _ := store.GetByID(ctx, "inv_overdue")
			if got.Status != InvoiceExpired {
				t.Errorf("expected expired status, got %s", got.Status)
			}
			got, _ = store.GetByID(ctx, "inv_paid")
			if got.Status != InvoicePaid {
				t.Errorf("paid invoice must not be expired by the sweep, got %s", got.Status)
			}
		})
	}
}

func testSubscription(id string) *Subscription {
	return &Subscription{
		ID:        id,
		UserID:    "user_1",
		PlanID:    "pro-monthly",
		Status:    SubscriptionInactive,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestSubscriptionStoreActivate(t *testing.T) {
	for name, store := range testSubscriptionStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Create(ctx, testSubscription("sub_1")); err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			started := time.Now().UTC().Truncate(time.Second)
			expires := started.Add(30 * 24 * time.Hour)

			updated, err := store.Activate(ctx, "sub_1", "stripe", "stripe_sub_1", started, expires)
			if err != nil || !updated {
				t.Fatalf("Activate = (%v, %v), want (true, nil)", updated, err)
			}

			// redelivered activation is rejected by the status guard
			updated, err = store.Activate(ctx, "sub_1", "stripe", "stripe_sub_1", started, expires)
			if err != nil {
				t.Fatalf("second Activate failed: %v", err)
			}
			if updated {
				t.Error("expected second Activate to be rejected")
			}

			got, err := store.GetByProviderSubscriptionID(ctx, "stripe_sub_1")
			if err != nil {
				t.Fatalf("GetByProviderSubscriptionID failed: %v", err)
			}
			if got.ID != "sub_1" || got.Status != SubscriptionActive {
				t.Errorf("unexpected subscription: %+v", got)
			}
			if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) {
				t.Errorf("unexpected expiry: %v", got.ExpiresAt)
			}
		})
	}
}

func TestSubscriptionStoreCancelKeepsExpiry(t *testing.T) {
	for name, store := range testSubscriptionStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Create(ctx, testSubscription("sub_1")); err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			started := time.Now().UTC().Truncate(time.Second)
			expires := started.Add(30 * 24 * time.Hour)
			if _, err := store.Activate(ctx, "sub_1", "stripe", "stripe_sub_1", started, expires); err != nil {
				t.Fatalf("Activate failed: %v", err)
			}

			cancelledAt := started.Add(time.Hour)
			updated, err := store.Cancel(ctx, "sub_1", cancelledAt)
			if err != nil || !updated {
				t.Fatalf("Cancel = (%v, %v), want (true, nil)", updated, err)
			}

			got, _ := store.GetByID(ctx, "sub_1")
			if got.Status != SubscriptionCancelled {
				t.Errorf("expected cancelled, got %s", got.Status)
			}
			if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) {
				t.Errorf("cancel must keep the paid period's expiry, got %v", got.ExpiresAt)
			}
			if got.CancelledAt == nil || !got.CancelledAt.Equal(cancelledAt) {
				t.Errorf("unexpected cancelled_at: %v", got.CancelledAt)
			}

			// cancelled is terminal
			if updated, _ := store.Activate(ctx, "sub_1", "stripe", "stripe_sub_1", started, expires); updated {
				t.Error("cancelled subscription must not be reactivated")
			}
			if updated, _ := store.ExtendExpiry(ctx, "sub_1", expires.Add(time.Hour)); updated {
				t.Error("cancelled subscription must not be extended")
			}
		})
	}
}

func TestSubscriptionStoreFailureCount(t *testing.T) {
	for name, store := range testSubscriptionStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Create(ctx, testSubscription("sub_1")); err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			for i := 0; i < 3; i++ {
				if err := store.IncrementFailureCount(ctx, "sub_1"); err != nil {
					t.Fatalf("IncrementFailureCount failed: %v", err)
				}
			}

			got, _ := store.GetByID(ctx, "sub_1")
			if got.FailureCount != 3 {
				t.Errorf("expected failure count 3, got %d", got.FailureCount)
			}

			if err := store.IncrementFailureCount(ctx, "missing"); err != ErrNotFound {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestSubscriptionStoreExpireOverdue(t *testing.T) {
	for name, store := range testSubscriptionStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)
			past := now.Add(-time.Hour)

			if err := store.Create(ctx, testSubscription("sub_active")); err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			if _, err := store.Activate(ctx, "sub_active", "stripe", "stripe_sub_a", past.Add(-time.Hour), past); err != nil {
				t.Fatalf("Activate failed: %v", err)
			}

			pending := testSubscription("sub_pending")
			pending.ExpiresAt = &past
			if err := store.Create(ctx, pending); err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			if err := store.Create(ctx, testSubscription("sub_fresh")); err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			expired, err := store.ExpireOverdue(ctx, now)
			if err != nil {
				t.Fatalf("ExpireOverdue failed: %v", err)
			}
			if len(expired) != 2 {
				t.Fatalf("expected 2 expired subscriptions, got %d", len(expired))
			}
			for _, sub := range expired {
				if sub.Status != SubscriptionExpired {
					t.Errorf("returned subscription %s not expired: %s", sub.ID, sub.Status)
				}
			}

			got, _ := store.GetByID(ctx, "sub_fresh")
			if got.Status != SubscriptionInactive {
				t.Errorf("subscription without expiry must not be swept, got %s", got.Status)
			}
		})
	}
}
