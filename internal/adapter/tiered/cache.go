// Package tiered layers the in-process snapshot cache over a shared remote
// one. Candidate snapshots are expensive to rebuild, so an instance that
// misses locally first asks its peers' shared bucket before going back to
// the store.
package tiered

import (
	"context"
	"log/slog"
	"time"

	"github.com/Strob0t/MemMesh/internal/port/cache"
)

// Cache reads through L1 (local) to L2 (shared), backfilling L1 on an L2
// hit. Writes and deletes land on both levels. L2 failures degrade to a
// miss instead of failing the read; the caller rebuilds from the store.
type Cache struct {
	l1          cache.Cache
	l2          cache.Cache
	backfillTTL time.Duration
}

// New creates a tiered cache. backfillTTL bounds how long an entry copied
// from L2 lives in L1.
func New(l1, l2 cache.Cache, backfillTTL time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, backfillTTL: backfillTTL}
}

// Get checks L1, then L2, backfilling L1 when only L2 holds the key.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil {
		slog.Warn("l2 cache read failed", "key", key, "error", err)
		return nil, false, nil
	}
	if !found {
		return nil, false, nil
	}
	_ = c.l1.Set(ctx, key, val, c.backfillTTL)
	return val, true, nil
}

// Set writes to both levels. The L2 write is best effort.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		slog.Warn("l2 cache write failed", "key", key, "error", err)
	}
	return nil
}

// Delete removes the key from both levels. Invalidation must reach L2 even
// when the local delete fails, so both deletes always run.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err1 := c.l1.Delete(ctx, key)
	err2 := c.l2.Delete(ctx, key)
	if err1 != nil {
		return err1
	}
	return err2
}
