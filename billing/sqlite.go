package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/paymux/paymux/infra/config"
)

// SQLiteInvoiceStore implements InvoiceStore on the shared application
// database. Status transitions are single UPDATE statements guarded on the
// current status, so concurrent writers cannot double-apply one.
type SQLiteInvoiceStore struct {
	db *sql.DB
}

// NewSQLiteInvoiceStore creates the store and its schema
func NewSQLiteInvoiceStore(db *sql.DB) (*SQLiteInvoiceStore, error) {
	s := &SQLiteInvoiceStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize invoice schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteInvoiceStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		plan_id TEXT,
		subscription_id TEXT,
		amount REAL NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_method TEXT,
		payment_ref TEXT,
		provider TEXT,
		provider_session_id TEXT UNIQUE,
		invoiced_at TIMESTAMP NOT NULL,
		paid_at TIMESTAMP,
		expires_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status);
	CREATE INDEX IF NOT EXISTS idx_invoices_user ON invoices(user_id);
	`

	_, err := s.db.Exec(query)
	return err
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *SQLiteInvoiceStore) Create(ctx context.Context, inv *Invoice) error {
	return config.RetryBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (id, number, user_id, plan_id, subscription_id, amount, currency,
			status, payment_method, payment_ref, provider, provider_session_id,
			invoiced_at, paid_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inv.ID, inv.Number, inv.UserID, nullString(inv.PlanID), nullString(inv.SubscriptionID),
			inv.Amount, inv.Currency, string(inv.Status), nullString(inv.PaymentMethod),
			nullString(inv.PaymentRef), nullString(inv.Provider), nullString(inv.ProviderSessionID),
			inv.InvoicedAt, nullTime(inv.PaidAt), nullTime(inv.ExpiresAt))
		if err != nil {
			return fmt.Errorf("failed to insert invoice: %w", err)
		}
		return nil
	}, 3)
}

func (s *SQLiteInvoiceStore) scanInvoice(row *sql.Row) (*Invoice, error) {
	var inv Invoice
	var planID, subscriptionID, paymentMethod, paymentRef, provider, sessionID sql.NullString
	var status string
	var paidAt, expiresAt sql.NullTime

	err := row.Scan(&inv.ID, &inv.Number, &inv.UserID, &planID, &subscriptionID,
		&inv.Amount, &inv.Currency, &status, &paymentMethod, &paymentRef,
		&provider, &sessionID, &inv.InvoicedAt, &paidAt, &expiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan invoice: %w", err)
	}

	inv.PlanID = planID.String
	inv.SubscriptionID = subscriptionID.String
	inv.Status = InvoiceStatus(status)
	inv.PaymentMethod = paymentMethod.String
	inv.PaymentRef = paymentRef.String
	inv.Provider = provider.String
	inv.ProviderSessionID = sessionID.String
	if paidAt.Valid {
		inv.PaidAt = &paidAt.Time
	}
	if expiresAt.Valid {
		inv.ExpiresAt = &expiresAt.Time
	}
	return &inv, nil
}

const invoiceColumns = `id, number, user_id, plan_id, subscription_id, amount, currency,
	status, payment_method, payment_ref, provider, provider_session_id,
	invoiced_at, paid_at, expires_at`

func (s *SQLiteInvoiceStore) GetByID(ctx context.Context, id string) (*Invoice, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	return s.scanInvoice(row)
}

func (s *SQLiteInvoiceStore) GetBySessionID(ctx context.Context, providerSessionID string) (*Invoice, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE provider_session_id = ?`, providerSessionID)
	return s.scanInvoice(row)
}

func (s *SQLiteInvoiceStore) MarkPaid(ctx context.Context, id, paymentRef, paymentMethod string, paidAt time.Time) (bool, error) {
	var updated bool
	err := config.RetryBusy(func() error {
		result, err := s.db.ExecContext(ctx, `
		UPDATE invoices
		SET status = ?, payment_ref = ?, payment_method = ?, paid_at = ?
		WHERE id = ? AND status = ?`,
			string(InvoicePaid), paymentRef, paymentMethod, paidAt, id, string(InvoiceInvoiced))
		if err != nil {
			return fmt.Errorf("failed to mark invoice paid: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		updated = n == 1
		return nil
	}, 3)
	return updated, err
}

func (s *SQLiteInvoiceStore) MarkExpired(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, InvoiceExpired)
}

func (s *SQLiteInvoiceStore) MarkCancelled(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, InvoiceCancelled)
}

func (s *SQLiteInvoiceStore) transition(ctx context.Context, id string, to InvoiceStatus) (bool, error) {
	var updated bool
	err := config.RetryBusy(func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE invoices SET status = ? WHERE id = ? AND status = ?`,
			string(to), id, string(InvoiceInvoiced))
		if err != nil {
			return fmt.Errorf("failed to transition invoice: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		updated = n == 1
		return nil
	}, 3)
	return updated, err
}

func (s *SQLiteInvoiceStore) ExpireOverdue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM invoices WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?`,
		string(InvoiceInvoiced), now)
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue invoices: %w", err)
	}
	defer rows.Close()

	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		candidates = append(candidates, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var expired []string
	for _, id := range candidates {
		ok, err := s.MarkExpired(ctx, id)
		if err != nil {
			return expired, err
		}
		if ok {
			expired = append(expired, id)
		}
	}
	return expired, nil
}

// SQLiteSubscriptionStore implements SubscriptionStore on the shared
// application database
type SQLiteSubscriptionStore struct {
	db *sql.DB
}

// NewSQLiteSubscriptionStore creates the store and its schema
func NewSQLiteSubscriptionStore(db *sql.DB) (*SQLiteSubscriptionStore, error) {
	s := &SQLiteSubscriptionStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize subscription schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteSubscriptionStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		status TEXT NOT NULL,
		provider TEXT,
		provider_subscription_id TEXT UNIQUE,
		started_at TIMESTAMP,
		expires_at TIMESTAMP,
		cancelled_at TIMESTAMP,
		failure_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_subscriptions_status ON subscriptions(status);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(user_id, plan_id);
	`

	_, err := s.db.Exec(query)
	return err
}

const subscriptionColumns = `id, user_id, plan_id, status, provider, provider_subscription_id,
	started_at, expires_at, cancelled_at, failure_count, created_at, updated_at`

func (s *SQLiteSubscriptionStore) Create(ctx context.Context, sub *Subscription) error {
	now := time.Now().UTC()
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	return config.RetryBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, user_id, plan_id, status, provider, provider_subscription_id,
			started_at, expires_at, cancelled_at, failure_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sub.ID, sub.UserID, sub.PlanID, string(sub.Status), nullString(sub.Provider),
			nullString(sub.ProviderSubscriptionID), nullTime(sub.StartedAt), nullTime(sub.ExpiresAt),
			nullTime(sub.CancelledAt), sub.FailureCount, createdAt, now)
		if err != nil {
			return fmt.Errorf("failed to insert subscription: %w", err)
		}
		return nil
	}, 3)
}

func (s *SQLiteSubscriptionStore) scanSubscription(row *sql.Row) (*Subscription, error) {
	var sub Subscription
	var provider, providerSubID sql.NullString
	var status string
	var startedAt, expiresAt, cancelledAt sql.NullTime

	err := row.Scan(&sub.ID, &sub.UserID, &sub.PlanID, &status, &provider, &providerSubID,
		&startedAt, &expiresAt, &cancelledAt, &sub.FailureCount, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}

	sub.Status = SubscriptionStatus(status)
	sub.Provider = provider.String
	sub.ProviderSubscriptionID = providerSubID.String
	if startedAt.Valid {
		sub.StartedAt = &startedAt.Time
	}
	if expiresAt.Valid {
		sub.ExpiresAt = &expiresAt.Time
	}
	if cancelledAt.Valid {
		sub.CancelledAt = &cancelledAt.Time
	}
	return &sub, nil
}

func (s *SQLiteSubscriptionStore) GetByID(ctx context.Context, id string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	return s.scanSubscription(row)
}

func (s *SQLiteSubscriptionStore) GetByProviderSubscriptionID(ctx context.Context, providerSubscriptionID string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE provider_subscription_id = ?`, providerSubscriptionID)
	return s.scanSubscription(row)
}

func (s *SQLiteSubscriptionStore) Activate(ctx context.Context, id, provider, providerSubscriptionID string, startedAt, expiresAt time.Time) (bool, error) {
	var updated bool
	err := config.RetryBusy(func() error {
		result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = ?, provider = ?, provider_subscription_id = ?, started_at = ?, expires_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
			string(SubscriptionActive), provider, nullString(providerSubscriptionID),
			startedAt, expiresAt, time.Now().UTC(), id, string(SubscriptionInactive))
		if err != nil {
			return fmt.Errorf("failed to activate subscription: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		updated = n == 1
		return nil
	}, 3)
	return updated, err
}

func (s *SQLiteSubscriptionStore) ExtendExpiry(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	var updated bool
	err := config.RetryBusy(func() error {
		result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET expires_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
			expiresAt, time.Now().UTC(), id, string(SubscriptionActive))
		if err != nil {
			return fmt.Errorf("failed to extend subscription: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		updated = n == 1
		return nil
	}, 3)
	return updated, err
}

func (s *SQLiteSubscriptionStore) Cancel(ctx context.Context, id string, cancelledAt time.Time) (bool, error) {
	var updated bool
	err := config.RetryBusy(func() error {
		result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET status = ?, cancelled_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
			string(SubscriptionCancelled), cancelledAt, time.Now().UTC(), id, string(SubscriptionActive))
		if err != nil {
			return fmt.Errorf("failed to cancel subscription: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		updated = n == 1
		return nil
	}, 3)
	return updated, err
}

func (s *SQLiteSubscriptionStore) IncrementFailureCount(ctx context.Context, id string) error {
	return config.RetryBusy(func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE subscriptions SET failure_count = failure_count + 1, updated_at = ? WHERE id = ?`,
			time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to increment failure count: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	}, 3)
}

func (s *SQLiteSubscriptionStore) ExpireOverdue(ctx context.Context, now time.Time) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM subscriptions
		 WHERE status IN (?, ?) AND expires_at IS NOT NULL AND expires_at < ?`,
		string(SubscriptionInactive), string(SubscriptionActive), now)
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue subscriptions: %w", err)
	}
	defer rows.Close()

	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		candidates = append(candidates, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var expired []Subscription
	for _, id := range candidates {
		var updated bool
		err := config.RetryBusy(func() error {
			result, err := s.db.ExecContext(ctx, `
			UPDATE subscriptions SET status = ?, updated_at = ?
			WHERE id = ? AND status IN (?, ?)`,
				string(SubscriptionExpired), time.Now().UTC(), id,
				string(SubscriptionInactive), string(SubscriptionActive))
			if err != nil {
				return fmt.Errorf("failed to expire subscription: %w", err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return err
			}
			updated = n == 1
			return nil
		}, 3)
		if err != nil {
			return expired, err
		}
		if updated {
			sub, err := s.GetByID(ctx, id)
			if err != nil {
				return expired, err
			}
			expired = append(expired, *sub)
		}
	}
	return expired, nil
}
