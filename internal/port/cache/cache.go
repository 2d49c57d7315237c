// Package cache defines the port interface for caching.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// EntityCandidateKey is the cache key for the entity candidate snapshot.
// Entities are not owner-scoped, so one key covers them all.
const EntityCandidateKey = "candidates.entities"

// CandidateKey is the cache key for the candidate embedding snapshot of one
// owner scope. An empty owner id means the global scope. Keys are dotted,
// not colon-separated, so they stay valid in a NATS KV bucket.
func CandidateKey(ownerID string) string {
	if ownerID == "" {
		return "candidates.all"
	}
	return "candidates.owner." + ownerID
}
