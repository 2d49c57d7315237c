package service

import (
	"context"

	"github.com/Strob0t/MemMesh/internal/adapter/otel"
	"github.com/Strob0t/MemMesh/internal/config"
	"github.com/Strob0t/MemMesh/internal/domain/memory"
	"github.com/Strob0t/MemMesh/internal/port/database"
)

// GraphService traverses the relationship graph between memories.
type GraphService struct {
	db     database.Store
	engine config.Engine
}

// NewGraphService creates a GraphService.
func NewGraphService(db database.Store, engine config.Engine) *GraphService {
	return &GraphService{db: db, engine: engine}
}

// Connected walks the edge graph outward from seedID in both directions,
// breadth first, and returns each reachable edge annotated with the depth at
// which the walk first crossed it. An empty relationship follows every edge
// type. maxDepth below 1 yields no edges; depths are capped by the engine's
// traversal limit. A seed with no edges yields an empty result, whether or
// not the seed exists.
func (s *GraphService) Connected(ctx context.Context, seedID, relationship string, maxDepth int) ([]memory.ConnectedEdge, error) {
	ctx, span := otel.StartTraversalSpan(ctx, seedID, maxDepth)
	defer span.End()

	if maxDepth < 1 {
		return nil, nil
	}
	if maxDepth > s.engine.MaxTraverseDepth {
		maxDepth = s.engine.MaxTraverseDepth
	}

	visited := make(map[string]bool)  // edge ids crossed
	expanded := make(map[string]bool) // node ids already used as a frontier
	frontier := []string{seedID}
	expanded[seedID] = true

	var connected []memory.ConnectedEdge
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		edges, err := s.db.ListEdgesTouching(ctx, frontier)
		if err != nil {
			return nil, err
		}

		var next []string
		for _, e := range edges {
			if relationship != "" && e.Relationship != relationship {
				continue
			}
			if visited[e.ID] {
				continue
			}
			visited[e.ID] = true
			connected = append(connected, memory.ConnectedEdge{Edge: e, Depth: depth})

			for _, node := range []string{e.SourceID, e.TargetID} {
				if !expanded[node] {
					expanded[node] = true
					next = append(next, node)
				}
			}
		}
		frontier = next
	}
	return connected, nil
}
