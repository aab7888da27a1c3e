package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/paymux/paymux/idempotency"
	"github.com/paymux/paymux/infra/logger"
	"github.com/paymux/paymux/infra/metrics"
	"github.com/paymux/paymux/infra/opensearch"
)

// Service is the outbound façade in front of provider adapters. It resolves
// an adapter for each call, retries transient failures, guards capture and
// refund with operation claims, and records activity and metrics.
type Service struct {
	adapters     AdapterSource
	claims       idempotency.Store
	metrics      *metrics.Metrics
	activity     *opensearch.Logger
	operationTTL time.Duration
	maxAttempts  int
}

// ServiceConfig carries the tunables for a Service
type ServiceConfig struct {
	OperationTTL time.Duration
	MaxAttempts  int
}

// NewService creates a provider service. activity may be nil when OpenSearch
// logging is disabled.
func NewService(adapters AdapterSource, claims idempotency.Store, m *metrics.Metrics, activity *opensearch.Logger, cfg ServiceConfig) *Service {
	if cfg.OperationTTL <= 0 {
		cfg.OperationTTL = idempotency.DefaultOperationTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	return &Service{
		adapters:     adapters,
		claims:       claims,
		metrics:      m,
		activity:     activity,
		operationTTL: cfg.OperationTTL,
		maxAttempts:  cfg.MaxAttempts,
	}
}

// CreateCheckout opens a checkout session with the named provider
func (s *Service) CreateCheckout(ctx context.Context, providerName string, request CheckoutRequest) (*CheckoutSession, error) {
	adapter, err := s.adapters.AdapterFor(providerName)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var session *CheckoutSession
	err = Retry(ctx, s.maxAttempts, func() error {
		var callErr error
		session, callErr = adapter.CreateCheckout(ctx, request)
		return callErr
	})

	entry := opensearch.ActivityLog{
		Provider:  providerName,
		Kind:      opensearch.KindOutbound,
		Operation: "create_checkout",
		Amount:    request.Amount,
		Currency:  request.Currency,
	}
	if session != nil {
		entry.SessionID = session.SessionID
	}
	s.record(entry, start, err)

	if err != nil {
		return nil, err
	}
	return session, nil
}

// Capture finalizes a payment. For explicit-capture providers the call is
// guarded by an operation claim; a second capture of the same session fails
// with ErrDuplicateOperation instead of reaching the provider. Auto-capture
// providers answer with a status query, which needs no claim.
func (s *Service) Capture(ctx context.Context, providerName, sessionID string) (*CaptureResult, error) {
	adapter, err := s.adapters.AdapterFor(providerName)
	if err != nil {
		return nil, err
	}

	if !adapter.Capabilities().AutoCapture {
		key := idempotency.OperationKey(providerName, "capture", sessionID)
		claimed, claimErr := s.claims.ClaimOnce(ctx, key, s.operationTTL)
		if claimErr != nil {
			return nil, fmt.Errorf("capture claim: %w", claimErr)
		}
		if !claimed {
			return nil, ErrDuplicateOperation
		}
	}

	start := time.Now()
	var result *CaptureResult
	err = Retry(ctx, s.maxAttempts, func() error {
		var callErr error
		result, callErr = adapter.Capture(ctx, sessionID)
		return callErr
	})

	entry := opensearch.ActivityLog{
		Provider:  providerName,
		Kind:      opensearch.KindOutbound,
		Operation: "capture",
		SessionID: sessionID,
	}
	if result != nil {
		entry.PaymentRef = result.PaymentRef
		entry.Status = string(result.Status)
	}
	s.record(entry, start, err)

	if err != nil {
		return nil, err
	}
	return result, nil
}

// CreateSubscription starts a recurring subscription with the named provider
func (s *Service) CreateSubscription(ctx context.Context, providerName string, request SubscriptionRequest) (*SubscriptionSession, error) {
	adapter, err := s.adapters.AdapterFor(providerName)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var session *SubscriptionSession
	err = Retry(ctx, s.maxAttempts, func() error {
		var callErr error
		session, callErr = adapter.CreateSubscription(ctx, request)
		return callErr
	})

	s.record(opensearch.ActivityLog{
		Provider:  providerName,
		Kind:      opensearch.KindOutbound,
		Operation: "create_subscription",
	}, start, err)

	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetSubscriptionStatus queries the provider-side subscription status
func (s *Service) GetSubscriptionStatus(ctx context.Context, providerName, providerSubscriptionID string) (SubscriptionStatus, error) {
	adapter, err := s.adapters.AdapterFor(providerName)
	if err != nil {
		return SubscriptionUnknown, err
	}

	start := time.Now()
	var status SubscriptionStatus
	err = Retry(ctx, s.maxAttempts, func() error {
		var callErr error
		status, callErr = adapter.GetSubscriptionStatus(ctx, providerSubscriptionID)
		return callErr
	})

	s.record(opensearch.ActivityLog{
		Provider:  providerName,
		Kind:      opensearch.KindOutbound,
		Operation: "get_subscription_status",
		Status:    string(status),
	}, start, err)

	if err != nil {
		return SubscriptionUnknown, err
	}
	return status, nil
}

// Refund issues a refund, guarded by an operation claim so an internal
// retry of the same logical refund cannot double-submit.
func (s *Service) Refund(ctx context.Context, providerName string, request RefundRequest) (*RefundResult, error) {
	adapter, err := s.adapters.AdapterFor(providerName)
	if err != nil {
		return nil, err
	}

	key := idempotency.OperationKey(providerName, "refund", request.PaymentRef, fmt.Sprintf("%.2f", request.Amount))
	claimed, claimErr := s.claims.ClaimOnce(ctx, key, s.operationTTL)
	if claimErr != nil {
		return nil, fmt.Errorf("refund claim: %w", claimErr)
	}
	if !claimed {
		return nil, ErrDuplicateOperation
	}

	start := time.Now()
	var result *RefundResult
	err = Retry(ctx, s.maxAttempts, func() error {
		var callErr error
		result, callErr = adapter.RefundPayment(ctx, request)
		return callErr
	})

	entry := opensearch.ActivityLog{
		Provider:   providerName,
		Kind:       opensearch.KindOutbound,
		Operation:  "refund",
		PaymentRef: request.PaymentRef,
		Amount:     request.Amount,
		Currency:   request.Currency,
	}
	if result != nil {
		entry.Status = result.Status
	}
	s.record(entry, start, err)

	if err != nil {
		return nil, err
	}
	return result, nil
}

// record finishes an activity entry and ships metrics plus the audit log.
// The OpenSearch write happens off the request path.
func (s *Service) record(entry opensearch.ActivityLog, start time.Time, err error) {
	duration := time.Since(start)
	entry.Timestamp = start
	entry.DurationMs = duration.Milliseconds()

	status := "success"
	if err != nil {
		status = "error"
		entry.Error = opensearch.ErrorInfo{Message: err.Error()}
		if entry.Status == "" {
			entry.Status = "error"
		}

		logger.Error("Provider call failed", err, logger.LogContext{
			Provider: entry.Provider,
			Fields:   map[string]any{"operation": entry.Operation},
		})
	}

	if s.metrics != nil {
		s.metrics.RecordProviderCall(entry.Provider, entry.Operation, status)
		s.metrics.RecordProviderCallDuration(entry.Provider, entry.Operation, duration)
	}

	if s.activity != nil {
		go func() {
			logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.activity.LogActivity(logCtx, entry)
		}()
	}

}
