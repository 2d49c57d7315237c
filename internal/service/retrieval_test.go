package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/MemMesh/internal/domain"
	"github.com/Strob0t/MemMesh/internal/domain/entity"
	"github.com/Strob0t/MemMesh/internal/domain/memory"
	"github.com/Strob0t/MemMesh/internal/index"
)

func seedMemory(t *testing.T, store *fakeStore, id, ownerID string, emb []float32, attrs map[string]any) {
	t.Helper()
	rec := memory.Record{
		ID:         id,
		OwnerID:    ownerID,
		Type:       "note",
		Status:     memory.StatusActive,
		Content:    "content of " + id,
		Attributes: attrs,
		Embedding:  emb,
	}
	if err := store.CreateMemory(context.Background(), &rec, nil, nil); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestSearchRanksAndThresholds(t *testing.T) {
	store := newFakeStore()
	seedMemory(t, store, "a", "", []float32{1, 0, 0, 0}, nil)
	seedMemory(t, store, "b", "", []float32{0.8, 0.6, 0, 0}, nil)
	seedMemory(t, store, "c", "", []float32{0.6, 0.8, 0, 0}, nil)
	svc := NewRetrievalService(store, newFakeCache(), nil, testEngine(), nil, time.Minute)

	results, err := svc.Search(context.Background(), SearchRequest{QueryVector: []float32{1, 0, 0, 0}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (c scores 0.6, below the 0.7 default)", len(results))
	}
	if results[0].ID != "a" || results[1].ID != "b" {
		t.Errorf("order = %s, %s; want a, b", results[0].ID, results[1].ID)
	}
	if results[0].Memory == nil || results[0].Memory.Content != "content of a" {
		t.Errorf("result not hydrated: %+v", results[0])
	}
}

func TestSearchValidation(t *testing.T) {
	svc := NewRetrievalService(newFakeStore(), nil, nil, testEngine(), nil, time.Minute)

	if _, err := svc.Search(context.Background(), SearchRequest{}); err == nil {
		t.Fatal("empty query vector accepted")
	}
	_, err := svc.Search(context.Background(), SearchRequest{QueryVector: []float32{1, 0}})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestSearchAdaptiveThreshold(t *testing.T) {
	store := newFakeStore()
	seedMemory(t, store, "far", "", []float32{0.5, 0.8660254, 0, 0}, nil)
	engine := testEngine()
	engine.AdaptiveStep = 0.1
	svc := NewRetrievalService(store, newFakeCache(), nil, engine, nil, time.Minute)
	ctx := context.Background()
	query := []float32{1, 0, 0, 0}

	results, err := svc.Search(ctx, SearchRequest{QueryVector: query})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("strict search found %d results, want 0", len(results))
	}

	results, err = svc.Search(ctx, SearchRequest{
		QueryVector:       query,
		AdaptiveThreshold: true,
		MinResults:        1,
	})
	if err != nil {
		t.Fatalf("adaptive search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "far" {
		t.Fatalf("adaptive results = %+v, want the 0.5-scoring memory", results)
	}
}

func TestSearchAdaptiveStopsAtFloor(t *testing.T) {
	store := newFakeStore()
	seedMemory(t, store, "below-floor", "", []float32{0.1, 0.99498743, 0, 0}, nil)
	svc := NewRetrievalService(store, newFakeCache(), nil, testEngine(), nil, time.Minute)

	results, err := svc.Search(context.Background(), SearchRequest{
		QueryVector:       []float32{1, 0, 0, 0},
		AdaptiveThreshold: true,
		MinResults:        1,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("results = %+v; 0.1 scores below the 0.3 floor", results)
	}
}

func TestSearchPredicateFilter(t *testing.T) {
	store := newFakeStore()
	seedMemory(t, store, "go-note", "", []float32{1, 0, 0, 0}, map[string]any{"lang": "go"})
	seedMemory(t, store, "rust-note", "", []float32{1, 0, 0, 0}, map[string]any{"lang": "rust"})
	svc := NewRetrievalService(store, newFakeCache(), nil, testEngine(), nil, time.Minute)

	results, err := svc.Search(context.Background(), SearchRequest{
		QueryVector: []float32{1, 0, 0, 0},
		Filter:      map[string]any{"lang": map[string]any{"_eq": "go"}},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "go-note" {
		t.Fatalf("results = %+v, want only go-note", results)
	}

	_, err = svc.Search(context.Background(), SearchRequest{
		QueryVector: []float32{1, 0, 0, 0},
		Filter:      map[string]any{"lang": map[string]any{"_like": "go"}},
	})
	if err == nil {
		t.Fatal("unknown operator accepted")
	}
}

func TestSearchOwnerScope(t *testing.T) {
	store := newFakeStore()
	seedMemory(t, store, "mine", "agent-1", []float32{1, 0, 0, 0}, nil)
	seedMemory(t, store, "theirs", "agent-2", []float32{1, 0, 0, 0}, nil)
	svc := NewRetrievalService(store, newFakeCache(), nil, testEngine(), nil, time.Minute)

	results, err := svc.Search(context.Background(), SearchRequest{
		QueryVector: []float32{1, 0, 0, 0},
		OwnerID:     "agent-1",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "mine" {
		t.Fatalf("results = %+v, want only agent-1's memory", results)
	}
}

func TestSearchTemporalFilter(t *testing.T) {
	store := newFakeStore()
	seedMemory(t, store, "old", "", []float32{1, 0, 0, 0}, nil)
	seedMemory(t, store, "new", "", []float32{1, 0, 0, 0}, nil)
	store.memories["old"].CreatedAt = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := NewRetrievalService(store, newFakeCache(), nil, testEngine(), nil, time.Minute)

	results, err := svc.Search(context.Background(), SearchRequest{
		QueryVector:    []float32{1, 0, 0, 0},
		TemporalFilter: &TemporalFilter{After: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "new" {
		t.Fatalf("results = %+v, want only the recent memory", results)
	}
}

func TestSearchEntityFilter(t *testing.T) {
	store := newFakeStore()
	seedMemory(t, store, "linked", "", []float32{1, 0, 0, 0}, nil)
	seedMemory(t, store, "unlinked", "", []float32{1, 0, 0, 0}, nil)
	ent := entity.Entity{ID: "ent-1", Name: "postgres"}
	if _, err := store.UpsertEntity(context.Background(), &ent); err != nil {
		t.Fatalf("seed entity: %v", err)
	}
	link := entity.Link{ID: "l-1", EntityID: "ent-1", MemoryID: "linked", Relationship: "mentions", Confidence: 1}
	if err := store.LinkEntity(context.Background(), &link); err != nil {
		t.Fatalf("seed link: %v", err)
	}
	svc := NewRetrievalService(store, newFakeCache(), nil, testEngine(), nil, time.Minute)

	results, err := svc.Search(context.Background(), SearchRequest{
		QueryVector:  []float32{1, 0, 0, 0},
		EntityFilter: &EntityFilter{EntityID: "ent-1"},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "linked" {
		t.Fatalf("results = %+v, want only the linked memory", results)
	}
}

func TestSearchIncludesEntities(t *testing.T) {
	store := newFakeStore()
	seedMemory(t, store, "rec", "", []float32{0.8, 0.6, 0, 0}, nil)
	ent := entity.Entity{ID: "ent-1", Name: "postgres", Embedding: []float32{1, 0, 0, 0}}
	if _, err := store.UpsertEntity(context.Background(), &ent); err != nil {
		t.Fatalf("seed entity: %v", err)
	}
	svc := NewRetrievalService(store, newFakeCache(), nil, testEngine(), nil, time.Minute)

	results, err := svc.Search(context.Background(), SearchRequest{
		QueryVector:     []float32{1, 0, 0, 0},
		IncludeEntities: true,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want memory plus entity", len(results))
	}
	if results[0].Kind != index.KindEntity || results[0].Entity == nil || results[0].Entity.Name != "postgres" {
		t.Errorf("best result = %+v, want the entity at score 1.0", results[0])
	}
}

func TestSearchCollapsesChunkHits(t *testing.T) {
	store := newFakeStore()
	rec := memory.Record{ID: "m1", Type: "note", Status: memory.StatusActive, Content: "long"}
	chunks := []memory.Chunk{
		{ID: "c0", MemoryID: "m1", Index: 0, Content: "first", Embedding: []float32{0.8, 0.6, 0, 0}},
		{ID: "c1", MemoryID: "m1", Index: 1, Content: "second", Embedding: []float32{1, 0, 0, 0}},
	}
	if err := store.CreateMemory(context.Background(), &rec, chunks, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := NewRetrievalService(store, newFakeCache(), nil, testEngine(), nil, time.Minute)

	results, err := svc.Search(context.Background(), SearchRequest{QueryVector: []float32{1, 0, 0, 0}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want both chunk hits collapsed to one", len(results))
	}
	r := results[0]
	if r.Kind != index.KindChunk || r.ID != "c1" || r.Score < 0.999 {
		t.Fatalf("kept hit = %+v, want the best-scoring chunk c1", r)
	}
	if r.Chunk == nil || r.Chunk.MemoryID != "m1" {
		t.Errorf("chunk not hydrated: %+v", r)
	}
}

func TestSearchSnapshotCacheAndInvalidation(t *testing.T) {
	store := newFakeStore()
	seedMemory(t, store, "a", "", []float32{1, 0, 0, 0}, nil)
	c := newFakeCache()
	q := newFakeQueue()
	svc := NewRetrievalService(store, c, q, testEngine(), nil, time.Minute)
	ctx := context.Background()

	cancel, err := svc.StartSubscribers(ctx)
	if err != nil {
		t.Fatalf("start subscribers: %v", err)
	}
	defer cancel()

	req := SearchRequest{QueryVector: []float32{1, 0, 0, 0}}
	for i := 0; i < 3; i++ {
		if _, err := svc.Search(ctx, req); err != nil {
			t.Fatalf("search %d: %v", i, err)
		}
	}
	if store.listCandidateCalls != 1 {
		t.Fatalf("store hit %d times, want 1 (snapshot cached)", store.listCandidateCalls)
	}

	// A peer instance stored a memory; its event must drop the snapshot.
	if err := q.Publish(ctx, "memory.stored", []byte(`{"memory_id":"b","origin":"peer"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := svc.Search(ctx, req); err != nil {
		t.Fatalf("search after invalidation: %v", err)
	}
	if store.listCandidateCalls != 2 {
		t.Fatalf("store hit %d times after invalidation, want 2", store.listCandidateCalls)
	}
}

func TestSearchIgnoresOwnInstanceEvents(t *testing.T) {
	store := newFakeStore()
	seedMemory(t, store, "a", "", []float32{1, 0, 0, 0}, nil)
	c := newFakeCache()
	q := newFakeQueue()
	svc := NewRetrievalService(store, c, q, testEngine(), nil, time.Minute)
	ctx := context.Background()

	cancel, err := svc.StartSubscribers(ctx)
	if err != nil {
		t.Fatalf("start subscribers: %v", err)
	}
	defer cancel()

	req := SearchRequest{QueryVector: []float32{1, 0, 0, 0}}
	if _, err := svc.Search(ctx, req); err != nil {
		t.Fatalf("search: %v", err)
	}
	if store.listCandidateCalls != 1 {
		t.Fatalf("store hit %d times, want 1", store.listCandidateCalls)
	}

	// A write from this process already invalidated directly; its echoed
	// event must not drop the snapshot a second time.
	own := []byte(`{"memory_id":"b","origin":"` + instanceOrigin + `"}`)
	if err := q.Publish(ctx, "memory.stored", own); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := svc.Search(ctx, req); err != nil {
		t.Fatalf("search after own event: %v", err)
	}
	if store.listCandidateCalls != 1 {
		t.Fatalf("store hit %d times after own event, want the snapshot kept", store.listCandidateCalls)
	}
}

func TestSearchDirectStoragePath(t *testing.T) {
	store := newFakeStore()
	seedMemory(t, store, "a", "", []float32{1, 0, 0, 0}, nil)
	seedMemory(t, store, "b", "", []float32{0.8, 0.6, 0, 0}, nil)
	svc := NewRetrievalService(store, nil, nil, testEngine(), nil, 0)

	results, err := svc.Search(context.Background(), SearchRequest{QueryVector: []float32{1, 0, 0, 0}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 || results[0].ID != "a" || results[1].ID != "b" {
		t.Fatalf("results = %+v, want a then b", results)
	}
	if store.listCandidateCalls != 0 {
		t.Errorf("candidate listing used %d times, want storage-native path", store.listCandidateCalls)
	}
}

func TestSearchDirectWidensPastChunkCollapse(t *testing.T) {
	store := newFakeStore()
	rec := memory.Record{ID: "m1", Type: "note", Status: memory.StatusActive, Content: "long"}
	chunks := []memory.Chunk{
		{ID: "c0", MemoryID: "m1", Index: 0, Content: "p0", Embedding: []float32{1, 0, 0, 0}},
		{ID: "c1", MemoryID: "m1", Index: 1, Content: "p1", Embedding: []float32{1, 0, 0, 0}},
		{ID: "c2", MemoryID: "m1", Index: 2, Content: "p2", Embedding: []float32{1, 0, 0, 0}},
		{ID: "c3", MemoryID: "m1", Index: 3, Content: "p3", Embedding: []float32{1, 0, 0, 0}},
	}
	if err := store.CreateMemory(context.Background(), &rec, chunks, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	seedMemory(t, store, "b", "", []float32{0.8, 0.6, 0, 0}, nil)
	svc := NewRetrievalService(store, nil, nil, testEngine(), nil, 0)

	// With limit 2 the initial overfetch of 4 returns only m1's chunks, which
	// collapse to a single result; the scan must widen to reach b.
	results, err := svc.Search(context.Background(), SearchRequest{
		QueryVector: []float32{1, 0, 0, 0},
		Limit:       2,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Chunk == nil || results[0].Chunk.MemoryID != "m1" {
		t.Errorf("best result = %+v, want a chunk of m1", results[0])
	}
	if results[1].ID != "b" {
		t.Errorf("second result = %+v, want b", results[1])
	}
}
