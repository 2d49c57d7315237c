package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/Strob0t/MemMesh/internal/domain/entity"
	"github.com/Strob0t/MemMesh/internal/domain/memory"
	"github.com/Strob0t/MemMesh/internal/index"
	"github.com/Strob0t/MemMesh/internal/port/database"
)

// SearchEmbeddings scores stored embeddings against the query vector using
// the pgvector `<#>` operator. Per-kind results are merged and ordered by
// score descending, id ascending.
func (s *Store) SearchEmbeddings(ctx context.Context, q database.SearchQuery) ([]database.SearchHit, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	kinds := q.Kinds
	if len(kinds) == 0 {
		kinds = []index.Kind{index.KindRecord, index.KindChunk, index.KindEntity}
	}

	var hits []database.SearchHit
	if slices.Contains(kinds, index.KindRecord) {
		recordHits, err := s.searchRecords(ctx, q)
		if err != nil {
			return nil, err
		}
		hits = append(hits, recordHits...)
	}
	if slices.Contains(kinds, index.KindChunk) {
		chunkHits, err := s.searchChunks(ctx, q)
		if err != nil {
			return nil, err
		}
		hits = append(hits, chunkHits...)
	}
	if slices.Contains(kinds, index.KindEntity) {
		entityHits, err := s.searchEntities(ctx, q)
		if err != nil {
			return nil, err
		}
		hits = append(hits, entityHits...)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func (s *Store) searchRecords(ctx context.Context, q database.SearchQuery) ([]database.SearchHit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, COALESCE(owner_id, ''), type, status, content, attributes, created_at, updated_at, expires_at,
		        -(embedding <#> $1::vector) AS score
		 FROM memories
		 WHERE embedding IS NOT NULL AND status = 'active'
		   AND ($2 = '' OR owner_id = $2)
		   AND (cardinality($3::text[]) = 0 OR type = ANY($3))
		   AND -(embedding <#> $1::vector) >= $4
		 ORDER BY score DESC, id ASC
		 LIMIT $5`,
		vecLiteral(q.Embedding), q.OwnerID, typesArray(q.Types), q.Threshold, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var hits []database.SearchHit
	for rows.Next() {
		var rec memory.Record
		var status string
		var attrs []byte
		var expiresAt *time.Time
		var score float64
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.Type, &status, &rec.Content, &attrs,
			&rec.CreatedAt, &rec.UpdatedAt, &expiresAt, &score); err != nil {
			return nil, fmt.Errorf("scan memory hit: %w", err)
		}
		rec.Status = memory.Status(status)
		if expiresAt != nil {
			rec.ExpiresAt = *expiresAt
		}
		if len(attrs) > 0 {
			_ = json.Unmarshal(attrs, &rec.Attributes)
		}
		hits = append(hits, database.SearchHit{
			Kind: index.KindRecord, ID: rec.ID, Score: score, Memory: &rec,
		})
	}
	return hits, rows.Err()
}

func (s *Store) searchChunks(ctx context.Context, q database.SearchQuery) ([]database.SearchHit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.memory_id, c.chunk_index, c.content, c.attributes, c.created_at,
		        -(c.embedding <#> $1::vector) AS score
		 FROM memory_chunks c
		 JOIN memories m ON m.id = c.memory_id
		 WHERE c.embedding IS NOT NULL AND m.status = 'active'
		   AND ($2 = '' OR m.owner_id = $2)
		   AND (cardinality($3::text[]) = 0 OR m.type = ANY($3))
		   AND -(c.embedding <#> $1::vector) >= $4
		 ORDER BY score DESC, c.id ASC
		 LIMIT $5`,
		vecLiteral(q.Embedding), q.OwnerID, typesArray(q.Types), q.Threshold, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var hits []database.SearchHit
	for rows.Next() {
		var c memory.Chunk
		var attrs []byte
		var score float64
		if err := rows.Scan(&c.ID, &c.MemoryID, &c.Index, &c.Content, &attrs, &c.CreatedAt, &score); err != nil {
			return nil, fmt.Errorf("scan chunk hit: %w", err)
		}
		if len(attrs) > 0 {
			_ = json.Unmarshal(attrs, &c.Attributes)
		}
		hits = append(hits, database.SearchHit{
			Kind: index.KindChunk, ID: c.ID, Score: score, Chunk: &c,
		})
	}
	return hits, rows.Err()
}

func (s *Store) searchEntities(ctx context.Context, q database.SearchQuery) ([]database.SearchHit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, type, attributes, created_at, updated_at,
		        -(embedding <#> $1::vector) AS score
		 FROM entities
		 WHERE embedding IS NOT NULL
		   AND -(embedding <#> $1::vector) >= $2
		 ORDER BY score DESC, id ASC
		 LIMIT $3`,
		vecLiteral(q.Embedding), q.Threshold, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
	}
	defer rows.Close()

	var hits []database.SearchHit
	for rows.Next() {
		var e entity.Entity
		var attrs []byte
		var score float64
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &attrs, &e.CreatedAt, &e.UpdatedAt, &score); err != nil {
			return nil, fmt.Errorf("scan entity hit: %w", err)
		}
		if len(attrs) > 0 {
			_ = json.Unmarshal(attrs, &e.Attributes)
		}
		hits = append(hits, database.SearchHit{
			Kind: index.KindEntity, ID: e.ID, Score: score, Entity: &e,
		})
	}
	return hits, rows.Err()
}

// ListCandidates returns every scorable embedding in scope, with its owning
// document, for the in-process scan fallback.
func (s *Store) ListCandidates(ctx context.Context, scope database.CandidateScope) ([]index.Candidate, error) {
	kinds := scope.Kinds
	if len(kinds) == 0 {
		kinds = []index.Kind{index.KindRecord, index.KindChunk, index.KindEntity}
	}

	var candidates []index.Candidate
	if slices.Contains(kinds, index.KindRecord) {
		rows, err := s.pool.Query(ctx,
			`SELECT id, COALESCE(owner_id, ''), type, status, content, attributes, embedding::text, created_at, updated_at
			 FROM memories
			 WHERE embedding IS NOT NULL AND status = 'active' AND ($1 = '' OR owner_id = $1)`,
			scope.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("list memory candidates: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var rec memory.Record
			var status, vec string
			var attrs []byte
			if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.Type, &status, &rec.Content, &attrs,
				&vec, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
				return nil, fmt.Errorf("scan memory candidate: %w", err)
			}
			rec.Status = memory.Status(status)
			if len(attrs) > 0 {
				_ = json.Unmarshal(attrs, &rec.Attributes)
			}
			emb, err := parseVecLiteral(vec)
			if err != nil {
				return nil, fmt.Errorf("memory %s: %w", rec.ID, err)
			}
			rec.Embedding = emb
			candidates = append(candidates, index.Candidate{
				Kind: index.KindRecord, ID: rec.ID, Embedding: emb, Attrs: rec.Attributes, Doc: &rec,
			})
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	if slices.Contains(kinds, index.KindChunk) {
		rows, err := s.pool.Query(ctx,
			`SELECT c.id, c.memory_id, c.chunk_index, c.content, c.attributes, c.embedding::text, c.created_at
			 FROM memory_chunks c
			 JOIN memories m ON m.id = c.memory_id
			 WHERE c.embedding IS NOT NULL AND m.status = 'active' AND ($1 = '' OR m.owner_id = $1)`,
			scope.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("list chunk candidates: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var c memory.Chunk
			var vec string
			var attrs []byte
			if err := rows.Scan(&c.ID, &c.MemoryID, &c.Index, &c.Content, &attrs, &vec, &c.CreatedAt); err != nil {
				return nil, fmt.Errorf("scan chunk candidate: %w", err)
			}
			if len(attrs) > 0 {
				_ = json.Unmarshal(attrs, &c.Attributes)
			}
			emb, err := parseVecLiteral(vec)
			if err != nil {
				return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
			}
			c.Embedding = emb
			candidates = append(candidates, index.Candidate{
				Kind: index.KindChunk, ID: c.ID, Embedding: emb, Attrs: c.Attributes, Doc: &c,
			})
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	if slices.Contains(kinds, index.KindEntity) {
		rows, err := s.pool.Query(ctx,
			`SELECT id, name, type, attributes, embedding::text, created_at, updated_at
			 FROM entities WHERE embedding IS NOT NULL`)
		if err != nil {
			return nil, fmt.Errorf("list entity candidates: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var e entity.Entity
			var vec string
			var attrs []byte
			if err := rows.Scan(&e.ID, &e.Name, &e.Type, &attrs, &vec, &e.CreatedAt, &e.UpdatedAt); err != nil {
				return nil, fmt.Errorf("scan entity candidate: %w", err)
			}
			if len(attrs) > 0 {
				_ = json.Unmarshal(attrs, &e.Attributes)
			}
			emb, err := parseVecLiteral(vec)
			if err != nil {
				return nil, fmt.Errorf("entity %s: %w", e.ID, err)
			}
			e.Embedding = emb
			candidates = append(candidates, index.Candidate{
				Kind: index.KindEntity, ID: e.ID, Embedding: emb, Attrs: e.Attributes, Doc: &e,
			})
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	return candidates, nil
}
