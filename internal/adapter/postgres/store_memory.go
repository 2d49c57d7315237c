package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/MemMesh/internal/domain/memory"
	"github.com/Strob0t/MemMesh/internal/port/database"
)

// CreateMemory inserts a record together with its chunks and chunk chain
// edges in one transaction. IDs are assigned by the caller so edges can
// reference chunks before anything is committed.
func (s *Store) CreateMemory(ctx context.Context, rec *memory.Record, chunks []memory.Chunk, edges []memory.Edge) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	attrs, err := marshalAttrs(rec.Attributes)
	if err != nil {
		return fmt.Errorf("marshal memory attributes: %w", err)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO memories (id, owner_id, type, status, content, attributes, embedding, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::vector, $8)
		 RETURNING created_at, updated_at`,
		rec.ID, nullIfEmpty(rec.OwnerID), rec.Type, string(rec.Status), rec.Content,
		attrs, vecLiteral(rec.Embedding), nullTime(rec.ExpiresAt),
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}

	for i := range chunks {
		c := &chunks[i]
		cAttrs, err := marshalAttrs(c.Attributes)
		if err != nil {
			return fmt.Errorf("marshal chunk %d attributes: %w", i, err)
		}
		err = tx.QueryRow(ctx,
			`INSERT INTO memory_chunks (id, memory_id, chunk_index, content, attributes, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6::vector)
			 RETURNING created_at`,
			c.ID, c.MemoryID, c.Index, c.Content, cAttrs, vecLiteral(c.Embedding),
		).Scan(&c.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}

	for i := range edges {
		if err := insertEdge(ctx, tx, &edges[i]); err != nil {
			return fmt.Errorf("insert chain edge %d: %w", i, err)
		}
	}

	return tx.Commit(ctx)
}

// GetMemory returns a record by id, without its embedding.
func (s *Store) GetMemory(ctx context.Context, id string) (*memory.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, COALESCE(owner_id, ''), type, status, content, attributes, created_at, updated_at, expires_at
		 FROM memories WHERE id = $1`, id)

	rec, err := scanMemory(row)
	if err != nil {
		return nil, notFoundWrap(err, "get memory %s", id)
	}
	return rec, nil
}

// ListMemories returns records matching the query, newest first.
func (s *Store) ListMemories(ctx context.Context, q database.MemoryQuery) ([]memory.Record, error) {
	statuses := make([]string, 0, len(q.Statuses))
	for _, st := range q.Statuses {
		statuses = append(statuses, string(st))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, COALESCE(owner_id, ''), type, status, content, attributes, created_at, updated_at, expires_at
		 FROM memories
		 WHERE ($1 = '' OR owner_id = $1)
		   AND ($2 = '' OR type = $2)
		   AND (cardinality($3::text[]) = 0 OR status = ANY($3))
		   AND ($4::timestamptz IS NULL OR (expires_at IS NOT NULL AND expires_at < $4))
		 ORDER BY created_at DESC, id ASC
		 LIMIT $5`,
		q.OwnerID, q.Type, statuses, nullTime(q.ExpiredBefore), limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var result []memory.Record
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		result = append(result, *rec)
	}
	return result, rows.Err()
}

// UpdateMemory replaces the mutable fields of a record and bumps updated_at.
func (s *Store) UpdateMemory(ctx context.Context, rec *memory.Record) error {
	attrs, err := marshalAttrs(rec.Attributes)
	if err != nil {
		return fmt.Errorf("marshal memory attributes: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE memories SET content = $2, status = $3, attributes = $4,
		 embedding = COALESCE($5::vector, embedding), expires_at = $6, updated_at = now()
		 WHERE id = $1`,
		rec.ID, rec.Content, string(rec.Status), attrs, vecLiteral(rec.Embedding), nullTime(rec.ExpiresAt))
	return execExpectOne(tag, err, "update memory %s", rec.ID)
}

// DeleteMemory removes a record, its chunks, every edge touching the record
// or its chunks, and its entity links, in one transaction.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	// Edge endpoints are not foreign keys (chunk ids live in the same id
	// space), so the edge cascade is explicit.
	_, err = tx.Exec(ctx,
		`DELETE FROM memory_edges
		 WHERE source_id = $1 OR target_id = $1
		    OR source_id IN (SELECT id FROM memory_chunks WHERE memory_id = $1)
		    OR target_id IN (SELECT id FROM memory_chunks WHERE memory_id = $1)`, id)
	if err != nil {
		return fmt.Errorf("delete edges for memory %s: %w", id, err)
	}

	// Chunks and entity links cascade via their foreign keys.
	tag, err := tx.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err := execExpectOne(tag, err, "delete memory %s", id); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListChunks returns the chunks of a record in index order.
func (s *Store) ListChunks(ctx context.Context, memoryID string) ([]memory.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, memory_id, chunk_index, content, attributes, created_at
		 FROM memory_chunks WHERE memory_id = $1 ORDER BY chunk_index ASC`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []memory.Chunk
	for rows.Next() {
		var c memory.Chunk
		var attrs []byte
		if err := rows.Scan(&c.ID, &c.MemoryID, &c.Index, &c.Content, &attrs, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if len(attrs) > 0 {
			_ = json.Unmarshal(attrs, &c.Attributes)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func scanMemory(row scannable) (*memory.Record, error) {
	var rec memory.Record
	var status string
	var attrs []byte
	var expiresAt *time.Time
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.Type, &status, &rec.Content, &attrs,
		&rec.CreatedAt, &rec.UpdatedAt, &expiresAt)
	if err != nil {
		return nil, err
	}
	rec.Status = memory.Status(status)
	if expiresAt != nil {
		rec.ExpiresAt = *expiresAt
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshal memory attributes: %w", err)
		}
	}
	return &rec, nil
}

func marshalAttrs(attrs map[string]any) (json.RawMessage, error) {
	if attrs == nil {
		return json.RawMessage(`{}`), nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// typesArray normalizes a nil type filter to an empty text array.
func typesArray(types []string) []string {
	if types == nil {
		return []string{}
	}
	return types
}
