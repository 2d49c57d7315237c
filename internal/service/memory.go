package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/MemMesh/internal/adapter/otel"
	"github.com/Strob0t/MemMesh/internal/config"
	"github.com/Strob0t/MemMesh/internal/domain"
	"github.com/Strob0t/MemMesh/internal/domain/chunk"
	"github.com/Strob0t/MemMesh/internal/domain/entity"
	"github.com/Strob0t/MemMesh/internal/domain/memory"
	"github.com/Strob0t/MemMesh/internal/domain/vector"
	"github.com/Strob0t/MemMesh/internal/port/cache"
	"github.com/Strob0t/MemMesh/internal/port/database"
	"github.com/Strob0t/MemMesh/internal/port/messagequeue"
)

// RememberResult is everything one Remember call persisted.
type RememberResult struct {
	Record memory.Record  `json:"record"`
	Chunks []memory.Chunk `json:"chunks,omitempty"`
	Edges  []memory.Edge  `json:"edges,omitempty"`
}

// UpdateRequest carries the successor state for an existing memory.
type UpdateRequest struct {
	Content     string         `json:"content"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	Embedding   []float32      `json:"embedding,omitempty"`
	VersionEdge bool           `json:"version_edge"`
}

// instanceOrigin tags lifecycle events published by this process so its own
// subscribers can skip them; local writes invalidate their snapshots directly.
var instanceOrigin = uuid.NewString()

// MemoryService owns the write path: storing, updating, forgetting, and
// linking memories. Every mutation lands in one store transaction, then
// invalidates candidate snapshots and publishes a lifecycle event.
type MemoryService struct {
	db      database.Store
	cache   cache.Cache
	queue   messagequeue.Queue
	schemas *SchemaRegistry
	engine  config.Engine
	metrics *otel.Metrics
	tok     chunk.Tokenizer
}

// NewMemoryService creates a MemoryService. queue and metrics may be nil;
// tok nil selects the whitespace tokenizer.
func NewMemoryService(db database.Store, c cache.Cache, queue messagequeue.Queue,
	schemas *SchemaRegistry, engine config.Engine, metrics *otel.Metrics, tok chunk.Tokenizer,
) *MemoryService {
	if tok == nil {
		tok = chunk.Whitespace{}
	}
	return &MemoryService{
		db:      db,
		cache:   c,
		queue:   queue,
		schemas: schemas,
		engine:  engine,
		metrics: metrics,
		tok:     tok,
	}
}

// Remember validates and persists a new memory. Content longer than the
// type's chunking window is split into overlapping chunks joined by a
// follows_up edge chain; the record is never visible without its chunks.
func (s *MemoryService) Remember(ctx context.Context, req memory.CreateRequest) (*RememberResult, error) {
	ctx, span := otel.StartRememberSpan(ctx, req.Type)
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	ts, err := s.schemas.Resolve(req.Type)
	if err != nil {
		return nil, err
	}
	if err := ts.CheckAttributes(req.Attributes); err != nil {
		return nil, err
	}

	emb, err := s.prepareEmbedding(req.Embedding)
	if err != nil {
		return nil, err
	}

	rec := memory.Record{
		ID:         uuid.NewString(),
		OwnerID:    req.OwnerID,
		Type:       req.Type,
		Status:     memory.StatusActive,
		Content:    req.Content,
		Attributes: req.Attributes,
		Embedding:  emb,
		ExpiresAt:  req.ExpiresAt,
	}

	chunks, edges, err := s.splitIntoChunks(&rec, ts.MaxTokens, ts.OverlapTokens)
	if err != nil {
		return nil, err
	}

	if err := s.db.CreateMemory(ctx, &rec, chunks, edges); err != nil {
		return nil, fmt.Errorf("remember: %w", err)
	}

	if s.metrics != nil {
		s.metrics.MemoriesStored.Add(ctx, 1)
	}
	s.invalidate(ctx, rec.OwnerID)
	s.publish(ctx, messagequeue.SubjectMemoryStored, rec.ID, rec.OwnerID)

	slog.Info("memory stored", "id", rec.ID, "type", rec.Type, "chunks", len(chunks))
	return &RememberResult{Record: rec, Chunks: chunks, Edges: edges}, nil
}

// Update stores a successor version of an existing memory and, when
// requested, links it back with a version_of edge.
func (s *MemoryService) Update(ctx context.Context, id string, req UpdateRequest) (*RememberResult, error) {
	old, err := s.db.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Content == "" {
		return nil, fmt.Errorf("content is required")
	}
	ts, err := s.schemas.Resolve(old.Type)
	if err != nil {
		return nil, err
	}
	attrs := req.Attributes
	if attrs == nil {
		attrs = old.Attributes
	}
	if err := ts.CheckAttributes(attrs); err != nil {
		return nil, err
	}
	emb, err := s.prepareEmbedding(req.Embedding)
	if err != nil {
		return nil, err
	}

	rec := memory.Record{
		ID:         uuid.NewString(),
		OwnerID:    old.OwnerID,
		Type:       old.Type,
		Status:     memory.StatusActive,
		Content:    req.Content,
		Attributes: attrs,
		Embedding:  emb,
		ExpiresAt:  old.ExpiresAt,
	}

	chunks, edges, err := s.splitIntoChunks(&rec, ts.MaxTokens, ts.OverlapTokens)
	if err != nil {
		return nil, err
	}
	if req.VersionEdge {
		edges = append(edges, memory.Edge{
			ID:           uuid.NewString(),
			SourceID:     rec.ID,
			TargetID:     old.ID,
			Relationship: memory.RelVersionOf,
			Weight:       1.0,
		})
	}

	if err := s.db.CreateMemory(ctx, &rec, chunks, edges); err != nil {
		return nil, fmt.Errorf("update memory %s: %w", id, err)
	}

	if s.metrics != nil {
		s.metrics.MemoriesStored.Add(ctx, 1)
	}
	s.invalidate(ctx, rec.OwnerID)
	s.publish(ctx, messagequeue.SubjectMemoryStored, rec.ID, rec.OwnerID)

	slog.Info("memory updated", "id", id, "successor", rec.ID, "version_edge", req.VersionEdge)
	return &RememberResult{Record: rec, Chunks: chunks, Edges: edges}, nil
}

// Forget removes a memory with its chunks, touching edges, and entity links.
func (s *MemoryService) Forget(ctx context.Context, id string) error {
	rec, err := s.db.GetMemory(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.DeleteMemory(ctx, id); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.MemoriesForgotten.Add(ctx, 1)
	}
	s.invalidate(ctx, rec.OwnerID)
	s.publish(ctx, messagequeue.SubjectMemoryForgotten, id, rec.OwnerID)

	slog.Info("memory forgotten", "id", id)
	return nil
}

// SweepExpired forgets every record whose expiry has passed, running the
// full forget cascade per record so edges, links, snapshots, and peers all
// observe the removal. Returns the number of records forgotten.
func (s *MemoryService) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.db.ListMemories(ctx, database.MemoryQuery{ExpiredBefore: time.Now().UTC()})
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}
	swept := 0
	for _, rec := range expired {
		if err := s.Forget(ctx, rec.ID); err != nil {
			return swept, fmt.Errorf("sweep memory %s: %w", rec.ID, err)
		}
		swept++
	}
	if swept > 0 {
		slog.Info("expired memories swept", "count", swept)
	}
	return swept, nil
}

// Get returns one memory record.
func (s *MemoryService) Get(ctx context.Context, id string) (*memory.Record, error) {
	return s.db.GetMemory(ctx, id)
}

// List returns memories matching the query.
func (s *MemoryService) List(ctx context.Context, q database.MemoryQuery) ([]memory.Record, error) {
	return s.db.ListMemories(ctx, q)
}

// Chunks returns the chunks of a memory in index order.
func (s *MemoryService) Chunks(ctx context.Context, memoryID string) ([]memory.Chunk, error) {
	return s.db.ListChunks(ctx, memoryID)
}

// Link creates a typed weighted edge between two memories (or chunks).
func (s *MemoryService) Link(ctx context.Context, req memory.LinkRequest) (*memory.Edge, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	e := memory.Edge{
		ID:           uuid.NewString(),
		SourceID:     req.SourceID,
		TargetID:     req.TargetID,
		Relationship: req.Relationship,
		Weight:       req.Weight,
		Attributes:   req.Attributes,
	}
	if err := s.db.CreateEdge(ctx, &e); err != nil {
		return nil, err
	}
	s.publish(ctx, messagequeue.SubjectMemoryLinked, req.SourceID, "")
	return &e, nil
}

// Unlink removes edges between two memories. An empty relationship removes
// every edge between them. Removing nothing yields ErrNotFound.
func (s *MemoryService) Unlink(ctx context.Context, sourceID, targetID, relationship string) (int64, error) {
	n, err := s.db.DeleteEdges(ctx, sourceID, targetID, relationship)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("unlink %s -> %s: %w", sourceID, targetID, domain.ErrNotFound)
	}
	return n, nil
}

// UpsertEntity creates or updates a named entity by name.
func (s *MemoryService) UpsertEntity(ctx context.Context, e entity.Entity) (*entity.Entity, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	emb, err := s.prepareEmbedding(e.Embedding)
	if err != nil {
		return nil, err
	}
	e.Embedding = emb
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	stored, err := s.db.UpsertEntity(ctx, &e)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.Delete(ctx, cache.EntityCandidateKey)
	}
	return stored, nil
}

// LinkEntity joins an entity to a memory with a relationship and confidence.
func (s *MemoryService) LinkEntity(ctx context.Context, l entity.Link) (*entity.Link, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if err := s.db.LinkEntity(ctx, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// prepareEmbedding checks the dimension and unit-normalizes a non-empty
// embedding. Raw vectors are never stored.
func (s *MemoryService) prepareEmbedding(emb []float32) ([]float32, error) {
	if len(emb) == 0 {
		return nil, nil
	}
	if err := vector.CheckDimension(emb, s.engine.Dimension); err != nil {
		return nil, err
	}
	return vector.Normalize(emb)
}

// splitIntoChunks breaks the record content into overlapping chunks with a
// follows_up edge chain. Content fitting one window produces no chunks.
func (s *MemoryService) splitIntoChunks(rec *memory.Record, maxTokens, overlapTokens int) ([]memory.Chunk, []memory.Edge, error) {
	splitter, err := chunk.NewSplitter(maxTokens, overlapTokens, s.tok)
	if err != nil {
		return nil, nil, err
	}
	pieces := splitter.Split(rec.Content)
	if len(pieces) <= 1 {
		return nil, nil, nil
	}

	total := len(pieces)
	chunks := make([]memory.Chunk, 0, total)
	for _, p := range pieces {
		chunks = append(chunks, memory.Chunk{
			ID:       uuid.NewString(),
			MemoryID: rec.ID,
			Index:    p.Index,
			Content:  p.Content,
			Attributes: map[string]any{
				"chunk_index":  p.Index,
				"total_chunks": total,
			},
		})
	}

	edges := make([]memory.Edge, 0, total-1)
	for i := 0; i < total-1; i++ {
		edges = append(edges, memory.Edge{
			ID:           uuid.NewString(),
			SourceID:     chunks[i].ID,
			TargetID:     chunks[i+1].ID,
			Relationship: memory.RelFollowsUp,
			Weight:       1.0,
			Attributes: map[string]any{
				"chunk_index":  i,
				"next_index":   i + 1,
				"total_chunks": total,
			},
		})
	}
	return chunks, edges, nil
}

// invalidate drops the candidate snapshots a write affects.
func (s *MemoryService) invalidate(ctx context.Context, ownerID string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, cache.CandidateKey(""))
	if ownerID != "" {
		_ = s.cache.Delete(ctx, cache.CandidateKey(ownerID))
	}
}

// publish emits a lifecycle event. Event delivery is best effort; the write
// already committed.
func (s *MemoryService) publish(ctx context.Context, subject, memoryID, ownerID string) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(messagequeue.Event{MemoryID: memoryID, OwnerID: ownerID, Origin: instanceOrigin})
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		slog.Error("publish lifecycle event failed", "subject", subject, "error", err)
	}
}
