// Package natskv implements the cache port on a NATS JetStream KV bucket.
// Peer instances share the bucket, so a snapshot built by one instance
// serves the others until an invalidation lands.
package natskv

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Cache is a KV-bucket-backed cache. Entry lifetime is governed by the
// bucket TTL; per-call TTLs are ignored. Keys must stay within the NATS KV
// character set (no colons), which cache.CandidateKey guarantees.
type Cache struct {
	kv jetstream.KeyValue
}

// New wraps a JetStream KV bucket as a cache.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

// Get reads a key from the bucket. A missing key is not an error.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	entry, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

// Set writes a key to the bucket.
func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := c.kv.Put(ctx, key, value)
	return err
}

// Delete removes a key from the bucket. Deleting a missing key is a no-op.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}
