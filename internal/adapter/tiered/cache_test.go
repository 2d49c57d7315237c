package tiered_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/MemMesh/internal/adapter/tiered"
)

// memCache is a map-backed cache level; failing makes every call error.
type memCache struct {
	data    map[string][]byte
	failing bool
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

var errLevelDown = errors.New("level down")

func (m *memCache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	if m.failing {
		return nil, false, errLevelDown
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if m.failing {
		return errLevelDown
	}
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	if m.failing {
		return errLevelDown
	}
	delete(m.data, key)
	return nil
}

func TestGetPrefersL1(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)

	l1.data["candidates.all"] = []byte("local")
	l2.data["candidates.all"] = []byte("shared")

	val, found, err := c.Get(context.Background(), "candidates.all")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if string(val) != "local" {
		t.Fatalf("val = %s, want the L1 copy", val)
	}
}

func TestGetBackfillsFromL2(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)

	l2.data["candidates.owner.agent-1"] = []byte("snapshot")

	val, found, err := c.Get(context.Background(), "candidates.owner.agent-1")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if string(val) != "snapshot" {
		t.Fatalf("val = %s", val)
	}
	if string(l1.data["candidates.owner.agent-1"]) != "snapshot" {
		t.Fatal("L1 not backfilled after L2 hit")
	}
}

func TestGetDegradesWhenL2Down(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	l2.failing = true
	c := tiered.New(l1, l2, 5*time.Minute)

	_, found, err := c.Get(context.Background(), "candidates.all")
	if err != nil {
		t.Fatalf("broken L2 surfaced an error: %v", err)
	}
	if found {
		t.Fatal("broken L2 reported a hit")
	}
}

func TestSetWritesBothLevels(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)

	if err := c.Set(context.Background(), "candidates.all", []byte("snapshot"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok := l1.data["candidates.all"]; !ok {
		t.Fatal("missing in L1")
	}
	if _, ok := l2.data["candidates.all"]; !ok {
		t.Fatal("missing in L2")
	}
}

func TestDeleteReachesL2DespiteL1Failure(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)

	l1.data["candidates.all"] = []byte("x")
	l2.data["candidates.all"] = []byte("x")
	l1.failing = true

	err := c.Delete(context.Background(), "candidates.all")
	if !errors.Is(err, errLevelDown) {
		t.Fatalf("err = %v, want the L1 failure reported", err)
	}
	if _, ok := l2.data["candidates.all"]; ok {
		t.Fatal("invalidation did not reach L2")
	}
}
