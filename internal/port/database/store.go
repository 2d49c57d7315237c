// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/Strob0t/MemMesh/internal/domain/entity"
	"github.com/Strob0t/MemMesh/internal/domain/memory"
	"github.com/Strob0t/MemMesh/internal/index"
)

// MemoryQuery bounds a listing of memory records. A non-zero ExpiredBefore
// keeps only records whose expiry passed before that instant.
type MemoryQuery struct {
	OwnerID       string
	Type          string
	Statuses      []memory.Status
	ExpiredBefore time.Time
	Limit         int
}

// SearchQuery is a similarity search over stored embeddings. Threshold is
// the minimum similarity kept; Limit caps the hit count.
type SearchQuery struct {
	Embedding []float32
	Threshold float64
	Limit     int
	OwnerID   string
	Types     []string
	Kinds     []index.Kind
}

// SearchHit is one scored search result with its document hydrated. Exactly
// one of Memory, Chunk, or Entity is set, matching Kind.
type SearchHit struct {
	Kind   index.Kind
	ID     string
	Score  float64
	Memory *memory.Record
	Chunk  *memory.Chunk
	Entity *entity.Entity
}

// CandidateScope bounds which embeddings a candidate listing covers.
type CandidateScope struct {
	OwnerID string
	Kinds   []index.Kind
}

// Store is the port interface for database operations.
type Store interface {
	// Memories. CreateMemory persists the record with its chunks and chunk
	// chain edges in one transaction.
	CreateMemory(ctx context.Context, rec *memory.Record, chunks []memory.Chunk, edges []memory.Edge) error
	GetMemory(ctx context.Context, id string) (*memory.Record, error)
	ListMemories(ctx context.Context, q MemoryQuery) ([]memory.Record, error)
	UpdateMemory(ctx context.Context, rec *memory.Record) error
	// DeleteMemory removes the record, its chunks, every edge touching the
	// record or its chunks, and its entity links, in one transaction.
	DeleteMemory(ctx context.Context, id string) error
	ListChunks(ctx context.Context, memoryID string) ([]memory.Chunk, error)

	// Edges
	CreateEdge(ctx context.Context, e *memory.Edge) error
	// DeleteEdges removes edges matching source and target; an empty
	// relationship matches all relationship types. Returns the count removed.
	DeleteEdges(ctx context.Context, sourceID, targetID, relationship string) (int64, error)
	// ListEdgesTouching returns every edge whose source or target is one of
	// the given ids.
	ListEdgesTouching(ctx context.Context, ids []string) ([]memory.Edge, error)

	// Entities
	UpsertEntity(ctx context.Context, e *entity.Entity) (*entity.Entity, error)
	GetEntity(ctx context.Context, id string) (*entity.Entity, error)
	LinkEntity(ctx context.Context, l *entity.Link) error
	ListEntityLinks(ctx context.Context, memoryID string) ([]entity.Link, error)
	ListEntityLinksByEntity(ctx context.Context, entityID string) ([]entity.Link, error)

	// Similarity. SearchEmbeddings is the storage-native scoring path;
	// ListCandidates feeds the in-process scan fallback.
	SearchEmbeddings(ctx context.Context, q SearchQuery) ([]SearchHit, error)
	ListCandidates(ctx context.Context, scope CandidateScope) ([]index.Candidate, error)
}
