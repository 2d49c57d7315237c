package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Strob0t/MemMesh/internal/domain"
	"github.com/Strob0t/MemMesh/internal/domain/entity"
)

// UpsertEntity inserts an entity or, when the name already exists, updates
// its type, attributes, and embedding in place. Returns the stored row.
func (s *Store) UpsertEntity(ctx context.Context, e *entity.Entity) (*entity.Entity, error) {
	attrs, err := marshalAttrs(e.Attributes)
	if err != nil {
		return nil, fmt.Errorf("marshal entity attributes: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO entities (id, name, type, attributes, embedding)
		 VALUES ($1, $2, $3, $4, $5::vector)
		 ON CONFLICT (name) DO UPDATE SET
		   type = EXCLUDED.type,
		   attributes = EXCLUDED.attributes,
		   embedding = COALESCE(EXCLUDED.embedding, entities.embedding),
		   updated_at = now()
		 RETURNING id, name, type, attributes, created_at, updated_at`,
		e.ID, e.Name, e.Type, attrs, vecLiteral(e.Embedding))

	stored, err := scanEntity(row)
	if err != nil {
		return nil, fmt.Errorf("upsert entity %s: %w", e.Name, err)
	}
	return stored, nil
}

// GetEntity returns an entity by id, without its embedding.
func (s *Store) GetEntity(ctx context.Context, id string) (*entity.Entity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, type, attributes, created_at, updated_at
		 FROM entities WHERE id = $1`, id)

	e, err := scanEntity(row)
	if err != nil {
		return nil, notFoundWrap(err, "get entity %s", id)
	}
	return e, nil
}

// LinkEntity joins an entity to a memory. A duplicate
// (entity, memory, relationship) yields ErrConflict.
func (s *Store) LinkEntity(ctx context.Context, l *entity.Link) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO entity_memory_links (id, entity_id, memory_id, relationship, confidence)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		l.ID, l.EntityID, l.MemoryID, l.Relationship, l.Confidence,
	).Scan(&l.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return fmt.Errorf("link entity %s to memory %s: %w", l.EntityID, l.MemoryID, domain.ErrConflict)
			case "23503":
				return fmt.Errorf("link entity %s to memory %s: %w", l.EntityID, l.MemoryID, domain.ErrNotFound)
			}
		}
		return fmt.Errorf("link entity: %w", err)
	}
	return nil
}

// ListEntityLinks returns all entity links for a memory.
func (s *Store) ListEntityLinks(ctx context.Context, memoryID string) ([]entity.Link, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, entity_id, memory_id, relationship, confidence, created_at
		 FROM entity_memory_links WHERE memory_id = $1 ORDER BY created_at ASC`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("list entity links: %w", err)
	}
	defer rows.Close()

	var links []entity.Link
	for rows.Next() {
		var l entity.Link
		if err := rows.Scan(&l.ID, &l.EntityID, &l.MemoryID, &l.Relationship, &l.Confidence, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entity link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// ListEntityLinksByEntity returns all links from one entity to memories.
func (s *Store) ListEntityLinksByEntity(ctx context.Context, entityID string) ([]entity.Link, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, entity_id, memory_id, relationship, confidence, created_at
		 FROM entity_memory_links WHERE entity_id = $1 ORDER BY created_at ASC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list entity links by entity: %w", err)
	}
	defer rows.Close()

	var links []entity.Link
	for rows.Next() {
		var l entity.Link
		if err := rows.Scan(&l.ID, &l.EntityID, &l.MemoryID, &l.Relationship, &l.Confidence, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entity link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func scanEntity(row scannable) (*entity.Entity, error) {
	var e entity.Entity
	var attrs []byte
	err := row.Scan(&e.ID, &e.Name, &e.Type, &attrs, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshal entity attributes: %w", err)
		}
	}
	return &e, nil
}
