package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/MemMesh/internal/config"
	"github.com/Strob0t/MemMesh/internal/domain"
	"github.com/Strob0t/MemMesh/internal/domain/entity"
	"github.com/Strob0t/MemMesh/internal/domain/memory"
	"github.com/Strob0t/MemMesh/internal/index"
	"github.com/Strob0t/MemMesh/internal/port/database"
	"github.com/Strob0t/MemMesh/internal/port/messagequeue"
)

func testEngine() config.Engine {
	return config.Engine{
		Dimension:        4,
		DefaultLimit:     5,
		DefaultThreshold: 0.7,
		AdaptiveStep:     0.05,
		AdaptiveFloor:    0.3,
		MaxTokens:        200,
		OverlapTokens:    20,
		MaxTraverseDepth: 10,
	}
}

// fakeStore is an in-memory database.Store for service tests.
type fakeStore struct {
	mu                 sync.Mutex
	memories           map[string]*memory.Record
	chunks             map[string][]memory.Chunk
	edges              []memory.Edge
	entities           map[string]*entity.Entity
	links              []entity.Link
	listCandidateCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		memories: make(map[string]*memory.Record),
		chunks:   make(map[string][]memory.Chunk),
		entities: make(map[string]*entity.Entity),
	}
}

func (f *fakeStore) CreateMemory(_ context.Context, rec *memory.Record, chunks []memory.Chunk, edges []memory.Edge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	cp := *rec
	f.memories[rec.ID] = &cp
	for i := range chunks {
		chunks[i].CreatedAt = now
	}
	f.chunks[rec.ID] = append([]memory.Chunk(nil), chunks...)
	f.edges = append(f.edges, edges...)
	return nil
}

func (f *fakeStore) GetMemory(_ context.Context, id string) (*memory.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.memories[id]
	if !ok {
		return nil, fmt.Errorf("get memory %s: %w", id, domain.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) ListMemories(_ context.Context, q database.MemoryQuery) ([]memory.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []memory.Record
	for _, rec := range f.memories {
		if q.OwnerID != "" && rec.OwnerID != q.OwnerID {
			continue
		}
		if q.Type != "" && rec.Type != q.Type {
			continue
		}
		if !q.ExpiredBefore.IsZero() && (rec.ExpiresAt.IsZero() || !rec.ExpiresAt.Before(q.ExpiredBefore)) {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f *fakeStore) UpdateMemory(_ context.Context, rec *memory.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.memories[rec.ID]; !ok {
		return fmt.Errorf("update memory %s: %w", rec.ID, domain.ErrNotFound)
	}
	rec.UpdatedAt = time.Now().UTC()
	cp := *rec
	f.memories[rec.ID] = &cp
	return nil
}

func (f *fakeStore) DeleteMemory(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.memories[id]; !ok {
		return fmt.Errorf("delete memory %s: %w", id, domain.ErrNotFound)
	}
	gone := map[string]bool{id: true}
	for _, c := range f.chunks[id] {
		gone[c.ID] = true
	}
	delete(f.memories, id)
	delete(f.chunks, id)

	kept := f.edges[:0]
	for _, e := range f.edges {
		if !gone[e.SourceID] && !gone[e.TargetID] {
			kept = append(kept, e)
		}
	}
	f.edges = kept

	keptLinks := f.links[:0]
	for _, l := range f.links {
		if l.MemoryID != id {
			keptLinks = append(keptLinks, l)
		}
	}
	f.links = keptLinks
	return nil
}

func (f *fakeStore) ListChunks(_ context.Context, memoryID string) ([]memory.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]memory.Chunk(nil), f.chunks[memoryID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (f *fakeStore) CreateEdge(_ context.Context, e *memory.Edge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.edges {
		if existing.SourceID == e.SourceID && existing.TargetID == e.TargetID &&
			existing.Relationship == e.Relationship {
			return fmt.Errorf("edge exists: %w", domain.ErrConflict)
		}
	}
	f.edges = append(f.edges, *e)
	return nil
}

func (f *fakeStore) DeleteEdges(_ context.Context, sourceID, targetID, relationship string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	kept := f.edges[:0]
	for _, e := range f.edges {
		if e.SourceID == sourceID && e.TargetID == targetID &&
			(relationship == "" || e.Relationship == relationship) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	f.edges = kept
	return removed, nil
}

func (f *fakeStore) ListEdgesTouching(_ context.Context, ids []string) ([]memory.Edge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []memory.Edge
	for _, e := range f.edges {
		if want[e.SourceID] || want[e.TargetID] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertEntity(_ context.Context, e *entity.Entity) (*entity.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	for _, existing := range f.entities {
		if existing.Name == e.Name {
			existing.Type = e.Type
			existing.Attributes = e.Attributes
			if len(e.Embedding) > 0 {
				existing.Embedding = e.Embedding
			}
			existing.UpdatedAt = now
			cp := *existing
			return &cp, nil
		}
	}
	e.CreatedAt, e.UpdatedAt = now, now
	cp := *e
	f.entities[e.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeStore) GetEntity(_ context.Context, id string) (*entity.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[id]
	if !ok {
		return nil, fmt.Errorf("get entity %s: %w", id, domain.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (f *fakeStore) LinkEntity(_ context.Context, l *entity.Link) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entities[l.EntityID]; !ok {
		return fmt.Errorf("link entity %s: %w", l.EntityID, domain.ErrNotFound)
	}
	for _, existing := range f.links {
		if existing.EntityID == l.EntityID && existing.MemoryID == l.MemoryID &&
			existing.Relationship == l.Relationship {
			return fmt.Errorf("entity link exists: %w", domain.ErrConflict)
		}
	}
	l.CreatedAt = time.Now().UTC()
	f.links = append(f.links, *l)
	return nil
}

func (f *fakeStore) ListEntityLinks(_ context.Context, memoryID string) ([]entity.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entity.Link
	for _, l := range f.links {
		if l.MemoryID == memoryID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) ListEntityLinksByEntity(_ context.Context, entityID string) ([]entity.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entity.Link
	for _, l := range f.links {
		if l.EntityID == entityID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) SearchEmbeddings(_ context.Context, q database.SearchQuery) ([]database.SearchHit, error) {
	f.mu.Lock()
	cands := f.candidatesLocked(database.CandidateScope{OwnerID: q.OwnerID, Kinds: q.Kinds})
	f.mu.Unlock()
	matches := index.Scan(index.Query{Embedding: q.Embedding, Threshold: q.Threshold, Limit: q.Limit}, cands)
	hits := make([]database.SearchHit, 0, len(matches))
	for _, m := range matches {
		h := database.SearchHit{Kind: m.Kind, ID: m.ID, Score: m.Score}
		switch doc := m.Doc.(type) {
		case *memory.Record:
			h.Memory = doc
		case *memory.Chunk:
			h.Chunk = doc
		case *entity.Entity:
			h.Entity = doc
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func (f *fakeStore) ListCandidates(_ context.Context, scope database.CandidateScope) ([]index.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCandidateCalls++
	return f.candidatesLocked(scope), nil
}

func (f *fakeStore) candidatesLocked(scope database.CandidateScope) []index.Candidate {
	kinds := scope.Kinds
	if len(kinds) == 0 {
		kinds = []index.Kind{index.KindRecord, index.KindChunk, index.KindEntity}
	}
	has := func(k index.Kind) bool {
		for _, kind := range kinds {
			if kind == k {
				return true
			}
		}
		return false
	}

	var out []index.Candidate
	if has(index.KindRecord) {
		for _, rec := range f.memories {
			if len(rec.Embedding) == 0 || rec.Status != memory.StatusActive {
				continue
			}
			if scope.OwnerID != "" && rec.OwnerID != scope.OwnerID {
				continue
			}
			cp := *rec
			out = append(out, index.Candidate{
				Kind: index.KindRecord, ID: cp.ID, Embedding: cp.Embedding, Attrs: cp.Attributes, Doc: &cp,
			})
		}
	}
	if has(index.KindChunk) {
		for memoryID, chunks := range f.chunks {
			rec, ok := f.memories[memoryID]
			if !ok || rec.Status != memory.StatusActive {
				continue
			}
			if scope.OwnerID != "" && rec.OwnerID != scope.OwnerID {
				continue
			}
			for _, c := range chunks {
				if len(c.Embedding) == 0 {
					continue
				}
				cp := c
				out = append(out, index.Candidate{
					Kind: index.KindChunk, ID: cp.ID, Embedding: cp.Embedding, Attrs: cp.Attributes, Doc: &cp,
				})
			}
		}
	}
	if has(index.KindEntity) {
		for _, e := range f.entities {
			if len(e.Embedding) == 0 {
				continue
			}
			cp := *e
			out = append(out, index.Candidate{
				Kind: index.KindEntity, ID: cp.ID, Embedding: cp.Embedding, Attrs: cp.Attributes, Doc: &cp,
			})
		}
	}
	return out
}

// fakeCache is a map-backed cache.Cache that records deletes.
type fakeCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	deleted []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	c.deleted = append(c.deleted, key)
	return nil
}

func (c *fakeCache) deletedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deleted...)
}

// fakeQueue dispatches published messages to subscribed handlers in-process.
type fakeQueue struct {
	mu        sync.Mutex
	published map[string][][]byte
	handlers  map[string][]messagequeue.Handler
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		published: make(map[string][][]byte),
		handlers:  make(map[string][]messagequeue.Handler),
	}
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	q.published[subject] = append(q.published[subject], data)
	handlers := append([]messagequeue.Handler(nil), q.handlers[subject]...)
	q.mu.Unlock()
	for _, h := range handlers {
		if err := h(subject, data); err != nil {
			return err
		}
	}
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = append(q.handlers[subject], handler)
	return func() {}, nil
}

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) publishedOn(subject string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([][]byte(nil), q.published[subject]...)
}
