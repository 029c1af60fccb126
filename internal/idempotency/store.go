// Package idempotency stores bulk results keyed by a client supplied token so a
// replayed request returns the original outcome without re-executing it.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// State marks whether the original request has finished.
type State string

const (
	StatePending   State = "PENDING"
	StateCompleted State = "COMPLETED"
	// StateAborted marks a request that failed after committing part of its
	// work. It is never re-executed under the same key.
	StateAborted State = "ABORTED"
)

// Record is what the store keeps per key.
type Record struct {
	Fingerprint string          `json:"fingerprint"`
	State       State           `json:"state"`
	Response    json.RawMessage `json:"response,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Store is a shared key-value store for idempotency records. PutIfAbsent must
// be a single atomic conditional insert.
type Store interface {
	Get(ctx context.Context, key string) (*Record, bool, error)
	PutIfAbsent(ctx context.Context, key string, record Record, ttl time.Duration) (bool, error)
	Put(ctx context.Context, key string, record Record, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Fingerprint hashes the parts identifying a logical request.
func Fingerprint(parts ...any) (string, error) {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, part := range parts {
		if err := enc.Encode(part); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
