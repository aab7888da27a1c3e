// Package idempotency provides the atomic "claim once" primitive that makes
// at-least-once webhook delivery and internally retried provider calls safe.
// A claim is first-caller-wins and is never released on downstream failure;
// recovery relies on entity-level idempotent reprocessing, not reclaiming.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// KeyPrefix namespaces every claim in the shared keyed store.
const KeyPrefix = "idempotency:"

// Default claim lifetimes. The webhook TTL must exceed every provider's
// documented webhook-retry window (Stripe retries for up to three days);
// duplicates arriving after expiry are an accepted, documented risk.
const (
	DefaultWebhookTTL   = 72 * time.Hour
	DefaultOperationTTL = 24 * time.Hour
)

// Store is an atomic set-if-absent keyed store with TTL.
type Store interface {
	// ClaimOnce atomically claims key for ttl. It returns true for the
	// first caller and false for every subsequent caller until the claim
	// expires. Atomicity across concurrent callers is the correctness
	// boundary of the whole reconciliation path.
	ClaimOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// EventKey derives the inbound dedup key for a webhook delivery.
func EventKey(provider, dedupID string) string {
	return "webhook:" + provider + ":" + dedupID
}

// OperationKey derives the outbound claim key for a non-idempotent provider
// call. Same inputs always produce the same key, so an internal retry of the
// same logical operation collides with the original claim.
func OperationKey(provider, operation string, parts ...string) string {
	data := provider + ":" + operation
	if len(parts) > 0 {
		data += ":" + strings.Join(parts, ":")
	}
	sum := sha256.Sum256([]byte(data))
	return "op:" + hex.EncodeToString(sum[:])[:32]
}
