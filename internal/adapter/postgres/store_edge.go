package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Strob0t/MemMesh/internal/domain"
	"github.com/Strob0t/MemMesh/internal/domain/memory"
)

// execer abstracts pool and transaction for edge inserts.
type execer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertEdge(ctx context.Context, db execer, e *memory.Edge) error {
	attrs, err := marshalAttrs(e.Attributes)
	if err != nil {
		return fmt.Errorf("marshal edge attributes: %w", err)
	}
	return db.QueryRow(ctx,
		`INSERT INTO memory_edges (id, source_id, target_id, relationship, weight, attributes)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		e.ID, e.SourceID, e.TargetID, e.Relationship, e.Weight, attrs,
	).Scan(&e.ID)
}

// CreateEdge inserts one edge. A duplicate (source, target, relationship)
// yields ErrConflict.
func (s *Store) CreateEdge(ctx context.Context, e *memory.Edge) error {
	if err := insertEdge(ctx, s.pool, e); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("edge %s -[%s]-> %s: %w", e.SourceID, e.Relationship, e.TargetID, domain.ErrConflict)
		}
		return fmt.Errorf("create edge: %w", err)
	}
	return nil
}

// DeleteEdges removes edges between source and target. An empty relationship
// matches every relationship type. Returns the number removed.
func (s *Store) DeleteEdges(ctx context.Context, sourceID, targetID, relationship string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM memory_edges
		 WHERE source_id = $1 AND target_id = $2 AND ($3 = '' OR relationship = $3)`,
		sourceID, targetID, relationship)
	if err != nil {
		return 0, fmt.Errorf("delete edges %s -> %s: %w", sourceID, targetID, err)
	}
	return tag.RowsAffected(), nil
}

// ListEdgesTouching returns every edge whose source or target is in ids.
func (s *Store) ListEdgesTouching(ctx context.Context, ids []string) ([]memory.Edge, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_id, target_id, relationship, weight, attributes
		 FROM memory_edges
		 WHERE source_id = ANY($1) OR target_id = ANY($1)
		 ORDER BY id ASC`, ids)
	if err != nil {
		return nil, fmt.Errorf("list edges touching: %w", err)
	}
	defer rows.Close()

	var edges []memory.Edge
	for rows.Next() {
		var e memory.Edge
		var attrs []byte
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Relationship, &e.Weight, &attrs); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		if len(attrs) > 0 {
			_ = json.Unmarshal(attrs, &e.Attributes)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
