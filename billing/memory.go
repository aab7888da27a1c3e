package billing

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryInvoiceStore implements InvoiceStore with a mutex-guarded map, for
// development and tests.
type MemoryInvoiceStore struct {
	mu        sync.Mutex
	invoices  map[string]*Invoice
	bySession map[string]string // provider_session_id -> invoice id
}

// NewMemoryInvoiceStore creates an empty in-memory invoice store
func NewMemoryInvoiceStore() *MemoryInvoiceStore {
	return &MemoryInvoiceStore{
		invoices:  make(map[string]*Invoice),
		bySession: make(map[string]string),
	}
}

func (s *MemoryInvoiceStore) Create(_ context.Context, inv *Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invoices[inv.ID]; exists {
		return fmt.Errorf("invoice %s already exists", inv.ID)
	}
	if inv.ProviderSessionID != "" {
		if _, exists := s.bySession[inv.ProviderSessionID]; exists {
			return fmt.Errorf("invoice for session %s already exists", inv.ProviderSessionID)
		}
	}

	cp := *inv
	s.invoices[inv.ID] = &cp
	if inv.ProviderSessionID != "" {
		s.bySession[inv.ProviderSessionID] = inv.ID
	}
	return nil
}

func (s *MemoryInvoiceStore) GetByID(_ context.Context, id string) (*Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (s *MemoryInvoiceStore) GetBySessionID(_ context.Context, providerSessionID string) (*Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.bySession[providerSessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.invoices[id]
	return &cp, nil
}

func (s *MemoryInvoiceStore) MarkPaid(_ context.Context, id, paymentRef, paymentMethod string, paidAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok {
		return false, ErrNotFound
	}
	if inv.Status != InvoiceInvoiced {
		return false, nil
	}

	inv.Status = InvoicePaid
	inv.PaymentRef = paymentRef
	inv.PaymentMethod = paymentMethod
	inv.PaidAt = &paidAt
	return true, nil
}

func (s *MemoryInvoiceStore) MarkExpired(_ context.Context, id string) (bool, error) {
	return s.transition(id, InvoiceExpired)
}

func (s *MemoryInvoiceStore) MarkCancelled(_ context.Context, id string) (bool, error) {
	return s.transition(id, InvoiceCancelled)
}

func (s *MemoryInvoiceStore) transition(id string, to InvoiceStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok {
		return false, ErrNotFound
	}
	if !inv.Status.CanTransition(to) {
		return false, nil
	}

	inv.Status = to
	return true, nil
}

func (s *MemoryInvoiceStore) ExpireOverdue(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, inv := range s.invoices {
		if inv.Status == InvoiceInvoiced && inv.ExpiresAt != nil && inv.ExpiresAt.Before(now) {
			inv.Status = InvoiceExpired
			expired = append(expired, id)
		}
	}
	return expired, nil
}

// MemorySubscriptionStore implements SubscriptionStore with a mutex-guarded
// map, for development and tests.
type MemorySubscriptionStore struct {
	mu            sync.Mutex
	subscriptions map[string]*Subscription
	byProviderSub map[string]string // provider_subscription_id -> id
}

// NewMemorySubscriptionStore creates an empty in-memory subscription store
func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{
		subscriptions: make(map[string]*Subscription),
		byProviderSub: make(map[string]string),
	}
}

func (s *MemorySubscriptionStore) Create(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID]; exists {
		return fmt.Errorf("subscription %s already exists", sub.ID)
	}
	if sub.ProviderSubscriptionID != "" {
		if _, exists := s.byProviderSub[sub.ProviderSubscriptionID]; exists {
			return fmt.Errorf("subscription for provider id %s already exists", sub.ProviderSubscriptionID)
		}
	}

	now := time.Now().UTC()
	cp := *sub
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	s.subscriptions[sub.ID] = &cp
	if sub.ProviderSubscriptionID != "" {
		s.byProviderSub[sub.ProviderSubscriptionID] = sub.ID
	}
	return nil
}

func (s *MemorySubscriptionStore) GetByID(_ context.Context, id string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *MemorySubscriptionStore) GetByProviderSubscriptionID(_ context.Context, providerSubscriptionID string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byProviderSub[providerSubscriptionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.subscriptions[id]
	return &cp, nil
}

func (s *MemorySubscriptionStore) Activate(_ context.Context, id, provider, providerSubscriptionID string, startedAt, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return false, ErrNotFound
	}
	if sub.Status != SubscriptionInactive {
		return false, nil
	}

	sub.Status = SubscriptionActive
	sub.Provider = provider
	sub.ProviderSubscriptionID = providerSubscriptionID
	sub.StartedAt = &startedAt
	sub.ExpiresAt = &expiresAt
	sub.UpdatedAt = time.Now().UTC()
	if providerSubscriptionID != "" {
		s.byProviderSub[providerSubscriptionID] = id
	}
	return true, nil
}

func (s *MemorySubscriptionStore) ExtendExpiry(_ context.Context, id string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return false, ErrNotFound
	}
	if sub.Status != SubscriptionActive {
		return false, nil
	}

	sub.ExpiresAt = &expiresAt
	sub.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemorySubscriptionStore) Cancel(_ context.Context, id string, cancelledAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return false, ErrNotFound
	}
	if sub.Status != SubscriptionActive {
		return false, nil
	}

	sub.Status = SubscriptionCancelled
	sub.CancelledAt = &cancelledAt
	sub.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemorySubscriptionStore) IncrementFailureCount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return ErrNotFound
	}

	sub.FailureCount++
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemorySubscriptionStore) ExpireOverdue(_ context.Context, now time.Time) ([]Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []Subscription
	for _, sub := range s.subscriptions {
		if sub.Status != SubscriptionInactive && sub.Status != SubscriptionActive {
			continue
		}
		if sub.ExpiresAt == nil || !sub.ExpiresAt.Before(now) {
			continue
		}

		sub.Status = SubscriptionExpired
		sub.UpdatedAt = time.Now().UTC()
		expired = append(expired, *sub)
	}
	return expired, nil
}
