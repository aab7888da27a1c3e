package webhook

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/paymux/paymux/infra/config"
)

// DeliveryStatus is the terminal outcome of one inbound delivery
type DeliveryStatus string

const (
	// DeliveryDispatched means the event was published and every handler
	// accepted it
	DeliveryDispatched DeliveryStatus = "dispatched"
	// DeliveryDeduped means an earlier delivery of the same event already
	// holds the claim
	DeliveryDeduped DeliveryStatus = "deduped"
	// DeliverySkipped means the event type carries no local side effect
	DeliverySkipped DeliveryStatus = "skipped"
	// DeliveryRejected means the signature check failed
	DeliveryRejected DeliveryStatus = "rejected"
	// DeliveryFailed means dispatch ran but a handler rejected the event
	DeliveryFailed DeliveryStatus = "failed"
)

// Delivery is the audit record of one inbound webhook delivery. Every
// delivery gets its own row; redeliveries of the same provider event show up
// as separate deduped rows.
type Delivery struct {
	ID              string         `json:"id"`
	Provider        string         `json:"provider"`
	ProviderEventID string         `json:"providerEventId,omitempty"`
	EventType       string         `json:"eventType,omitempty"`
	SessionID       string         `json:"sessionId,omitempty"`
	PaymentRef      string         `json:"paymentRef,omitempty"`
	Status          DeliveryStatus `json:"status"`
	SignatureValid  bool           `json:"signatureValid"`
	Error           string         `json:"error,omitempty"`
	RawPayload      string         `json:"-"`
	ReceivedAt      time.Time      `json:"receivedAt"`
}

// DeliveryStore persists webhook delivery audit records
type DeliveryStore interface {
	Record(ctx context.Context, d *Delivery) error
	GetByID(ctx context.Context, id string) (*Delivery, error)

	// ListByProvider returns the most recent deliveries for a provider,
	// newest first
	ListByProvider(ctx context.Context, provider string, limit int) ([]Delivery, error)
}

// MemoryDeliveryStore keeps delivery records in memory, for development and
// tests
type MemoryDeliveryStore struct {
	mu         sync.Mutex
	deliveries map[string]*Delivery
	order      []string
}

func NewMemoryDeliveryStore() *MemoryDeliveryStore {
	return &MemoryDeliveryStore{deliveries: make(map[string]*Delivery)}
}

func (s *MemoryDeliveryStore) Record(_ context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.deliveries[d.ID]; exists {
		return fmt.Errorf("delivery %s already recorded", d.ID)
	}
	cp := *d
	s.deliveries[d.ID] = &cp
	s.order = append(s.order, d.ID)
	return nil
}

func (s *MemoryDeliveryStore) GetByID(_ context.Context, id string) (*Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[id]
	if !ok {
		return nil, fmt.Errorf("delivery %s not found", id)
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryDeliveryStore) ListByProvider(_ context.Context, provider string, limit int) ([]Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Delivery
	for i := len(s.order) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		d := s.deliveries[s.order[i]]
		if d.Provider == provider {
			out = append(out, *d)
		}
	}
	return out, nil
}

// SQLiteDeliveryStore persists delivery records in the shared application
// database
type SQLiteDeliveryStore struct {
	db *sql.DB
}

// NewSQLiteDeliveryStore creates the store and its schema
func NewSQLiteDeliveryStore(db *sql.DB) (*SQLiteDeliveryStore, error) {
	s := &SQLiteDeliveryStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize delivery schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteDeliveryStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT,
		event_type TEXT,
		session_id TEXT,
		payment_ref TEXT,
		status TEXT NOT NULL,
		signature_valid BOOLEAN NOT NULL DEFAULT 0,
		error TEXT,
		raw_payload TEXT,
		received_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deliveries_provider_event
		ON webhook_deliveries(provider, provider_event_id);
	CREATE INDEX IF NOT EXISTS idx_deliveries_received
		ON webhook_deliveries(received_at);
	`

	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteDeliveryStore) Record(ctx context.Context, d *Delivery) error {
	return config.RetryBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, provider, provider_event_id, event_type, session_id,
			payment_ref, status, signature_valid, error, raw_payload, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.Provider, d.ProviderEventID, d.EventType, d.SessionID,
			d.PaymentRef, string(d.Status), d.SignatureValid, d.Error, d.RawPayload, d.ReceivedAt)
		if err != nil {
			return fmt.Errorf("failed to record delivery: %w", err)
		}
		return nil
	}, 3)
}

const deliveryColumns = `id, provider, provider_event_id, event_type, session_id,
	payment_ref, status, signature_valid, error, raw_payload, received_at`

func (s *SQLiteDeliveryStore) GetByID(ctx context.Context, id string) (*Delivery, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = ?`, id)

	var d Delivery
	var status string
	err := row.Scan(&d.ID, &d.Provider, &d.ProviderEventID, &d.EventType, &d.SessionID,
		&d.PaymentRef, &status, &d.SignatureValid, &d.Error, &d.RawPayload, &d.ReceivedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("delivery %s not found", id)
		}
		return nil, fmt.Errorf("failed to scan delivery: %w", err)
	}
	d.Status = DeliveryStatus(status)
	return &d, nil
}

func (s *SQLiteDeliveryStore) ListByProvider(ctx context.Context, provider string, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries
		 WHERE provider = ? ORDER BY received_at DESC, id DESC LIMIT ?`, provider, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		var status string
		if err := rows.Scan(&d.ID, &d.Provider, &d.ProviderEventID, &d.EventType, &d.SessionID,
			&d.PaymentRef, &status, &d.SignatureValid, &d.Error, &d.RawPayload, &d.ReceivedAt); err != nil {
			return nil, err
		}
		d.Status = DeliveryStatus(status)
		out = append(out, d)
	}
	return out, rows.Err()
}
