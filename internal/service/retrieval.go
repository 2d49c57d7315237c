package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/MemMesh/internal/adapter/otel"
	"github.com/Strob0t/MemMesh/internal/config"
	"github.com/Strob0t/MemMesh/internal/domain/entity"
	"github.com/Strob0t/MemMesh/internal/domain/filter"
	"github.com/Strob0t/MemMesh/internal/domain/memory"
	"github.com/Strob0t/MemMesh/internal/domain/vector"
	"github.com/Strob0t/MemMesh/internal/index"
	"github.com/Strob0t/MemMesh/internal/port/cache"
	"github.com/Strob0t/MemMesh/internal/port/database"
	"github.com/Strob0t/MemMesh/internal/port/messagequeue"
)

// TemporalFilter keeps only memories created inside a time window. A zero
// bound is open.
type TemporalFilter struct {
	After  time.Time `json:"after,omitzero"`
	Before time.Time `json:"before,omitzero"`
}

// EntityFilter keeps only memories linked to one entity.
type EntityFilter struct {
	EntityID string `json:"entity_id"`
}

// SearchRequest is one recall query. Zero Threshold and Limit take the
// engine defaults.
type SearchRequest struct {
	QueryVector       []float32       `json:"query_vector"`
	Threshold         float64         `json:"threshold,omitempty"`
	Limit             int             `json:"limit,omitempty"`
	OwnerID           string          `json:"owner_id,omitempty"`
	Filter            map[string]any  `json:"filter,omitempty"`
	TemporalFilter    *TemporalFilter `json:"temporal_filter,omitempty"`
	EntityFilter      *EntityFilter   `json:"entity_filter,omitempty"`
	IncludeEntities   bool            `json:"include_entities,omitempty"`
	AdaptiveThreshold bool            `json:"adaptive_threshold,omitempty"`
	MinResults        int             `json:"min_results,omitempty"`
}

// SearchResult is one recall hit. Exactly one of Memory, Chunk, or Entity is
// set, matching Kind.
type SearchResult struct {
	Kind   index.Kind     `json:"kind"`
	ID     string         `json:"id"`
	Score  float64        `json:"score"`
	Memory *memory.Record `json:"memory,omitempty"`
	Chunk  *memory.Chunk  `json:"chunk,omitempty"`
	Entity *entity.Entity `json:"entity,omitempty"`
}

// candidateSnapshot is the cache representation of one scorable embedding.
// Embeddings are serialized here explicitly because the domain types keep
// them out of their JSON forms.
type candidateSnapshot struct {
	Kind      index.Kind     `json:"kind"`
	ID        string         `json:"id"`
	Embedding []float32      `json:"embedding"`
	Memory    *memory.Record `json:"memory,omitempty"`
	Chunk     *memory.Chunk  `json:"chunk,omitempty"`
	Entity    *entity.Entity `json:"entity,omitempty"`
}

// RetrievalService owns the read path: similarity recall over cached
// candidate snapshots with predicate, temporal, and entity filtering.
type RetrievalService struct {
	db          database.Store
	cache       cache.Cache
	queue       messagequeue.Queue
	engine      config.Engine
	metrics     *otel.Metrics
	snapshotTTL time.Duration
}

// NewRetrievalService creates a RetrievalService. cache, queue, and metrics
// may be nil; a nil cache loads candidates from the store on every search.
func NewRetrievalService(db database.Store, c cache.Cache, queue messagequeue.Queue,
	engine config.Engine, metrics *otel.Metrics, snapshotTTL time.Duration,
) *RetrievalService {
	return &RetrievalService{
		db:          db,
		cache:       c,
		queue:       queue,
		engine:      engine,
		metrics:     metrics,
		snapshotTTL: snapshotTTL,
	}
}

// Search runs one recall query. Results are ordered by score descending,
// id ascending; chunk hits of one memory collapse to the best-scoring one.
func (s *RetrievalService) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	ctx, span := otel.StartRecallSpan(ctx, req.OwnerID, req.Limit)
	defer span.End()
	start := time.Now()

	if s.metrics != nil {
		s.metrics.RecallRequests.Add(ctx, 1)
		defer func() {
			s.metrics.RecallDuration.Record(ctx, time.Since(start).Seconds())
		}()
	}

	if len(req.QueryVector) == 0 {
		return nil, errors.New("query vector is required")
	}
	if err := vector.CheckDimension(req.QueryVector, s.engine.Dimension); err != nil {
		return nil, err
	}
	qv, err := vector.Normalize(req.QueryVector)
	if err != nil {
		return nil, err
	}

	threshold := req.Threshold
	if threshold <= 0 {
		threshold = s.engine.DefaultThreshold
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.engine.DefaultLimit
	}

	var pred *filter.Predicate
	if len(req.Filter) > 0 {
		pred, err = filter.Compile(req.Filter)
		if err != nil {
			return nil, err
		}
	}

	// Plain similarity queries without a snapshot cache go straight to the
	// storage-native scoring path.
	if s.cache == nil && pred == nil && req.TemporalFilter == nil &&
		req.EntityFilter == nil && !req.AdaptiveThreshold {
		return s.searchDirect(ctx, qv, threshold, limit, req)
	}

	var (
		cands       []index.Candidate
		entityCands []index.Candidate
		allowed     map[string]bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cands, err = s.loadCandidates(gctx, cache.CandidateKey(req.OwnerID),
			database.CandidateScope{OwnerID: req.OwnerID, Kinds: []index.Kind{index.KindRecord, index.KindChunk}})
		return err
	})
	if req.IncludeEntities {
		g.Go(func() error {
			var err error
			entityCands, err = s.loadCandidates(gctx, cache.EntityCandidateKey,
				database.CandidateScope{Kinds: []index.Kind{index.KindEntity}})
			return err
		})
	}
	if req.EntityFilter != nil && req.EntityFilter.EntityID != "" {
		g.Go(func() error {
			links, err := s.db.ListEntityLinksByEntity(gctx, req.EntityFilter.EntityID)
			if err != nil {
				return err
			}
			allowed = make(map[string]bool, len(links))
			for _, l := range links {
				allowed[l.MemoryID] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}

	cands = s.narrow(cands, allowed, req.TemporalFilter)

	scanFloor := threshold
	if req.AdaptiveThreshold && s.engine.AdaptiveFloor < scanFloor {
		scanFloor = s.engine.AdaptiveFloor
	}
	scored := index.Scan(index.Query{
		Embedding: qv,
		Threshold: scanFloor,
		Limit:     len(cands),
		Pred:      pred,
	}, cands)

	matches := cutAt(scored, threshold)
	if req.AdaptiveThreshold {
		minResults := req.MinResults
		if minResults <= 0 {
			minResults = 1
		}
		th := threshold
		for len(matches) < minResults && th > s.engine.AdaptiveFloor {
			th -= s.engine.AdaptiveStep
			if th < s.engine.AdaptiveFloor {
				th = s.engine.AdaptiveFloor
			}
			matches = cutAt(scored, th)
			if s.metrics != nil {
				s.metrics.RecallAdaptive.Add(ctx, 1)
			}
		}
		if th != threshold {
			slog.Debug("adaptive threshold relaxed", "from", threshold, "to", th, "results", len(matches))
		}
	}

	results := dedupeByMemory(matches)

	if req.IncludeEntities {
		entityMatches := index.Scan(index.Query{
			Embedding: qv,
			Threshold: threshold,
			Limit:     limit,
		}, entityCands)
		for _, m := range entityMatches {
			results = append(results, toResult(m))
		}
		sortResults(results)
	}

	if len(results) > limit {
		results = results[:limit]
	}
	if s.metrics != nil {
		s.metrics.RecallResults.Record(ctx, int64(len(results)))
	}
	return results, nil
}

// searchDirect scores embeddings in storage and hydrates results from the
// returned hits. Chunk hits still collapse onto their parent memory; when the
// collapse eats the overfetch the scan widens until the limit fills or the
// store runs out of hits.
func (s *RetrievalService) searchDirect(ctx context.Context, qv []float32, threshold float64, limit int, req SearchRequest) ([]SearchResult, error) {
	kinds := []index.Kind{index.KindRecord, index.KindChunk}
	if req.IncludeEntities {
		kinds = append(kinds, index.KindEntity)
	}
	for fetch := limit * 2; ; fetch *= 2 {
		hits, err := s.db.SearchEmbeddings(ctx, database.SearchQuery{
			Embedding: qv,
			Threshold: threshold,
			Limit:     fetch,
			OwnerID:   req.OwnerID,
			Kinds:     kinds,
		})
		if err != nil {
			return nil, err
		}

		seen := make(map[string]bool, len(hits))
		results := make([]SearchResult, 0, limit)
		for _, h := range hits {
			key := h.ID
			if h.Chunk != nil {
				key = h.Chunk.MemoryID
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			results = append(results, SearchResult{
				Kind: h.Kind, ID: h.ID, Score: h.Score,
				Memory: h.Memory, Chunk: h.Chunk, Entity: h.Entity,
			})
			if len(results) == limit {
				break
			}
		}
		if len(results) < limit && len(hits) == fetch {
			continue
		}
		if s.metrics != nil {
			s.metrics.RecallResults.Record(ctx, int64(len(results)))
		}
		return results, nil
	}
}

// StartSubscribers wires lifecycle events to snapshot invalidation so peers'
// writes drop this instance's cached candidates. The returned function
// cancels the subscriptions.
func (s *RetrievalService) StartSubscribers(ctx context.Context) (func(), error) {
	if s.queue == nil || s.cache == nil {
		return func() {}, nil
	}
	cancels := make([]func(), 0, 2)
	for _, subject := range []string{messagequeue.SubjectMemoryStored, messagequeue.SubjectMemoryForgotten} {
		cancel, err := s.queue.Subscribe(ctx, subject, func(subject string, data []byte) error {
			var ev messagequeue.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				return fmt.Errorf("decode %s event: %w", subject, err)
			}
			// This process already invalidated on its own write.
			if ev.Origin == instanceOrigin {
				return nil
			}
			_ = s.cache.Delete(ctx, cache.CandidateKey(""))
			if ev.OwnerID != "" {
				_ = s.cache.Delete(ctx, cache.CandidateKey(ev.OwnerID))
			}
			slog.Debug("candidate snapshot invalidated", "subject", subject, "memory_id", ev.MemoryID)
			return nil
		})
		if err != nil {
			for _, c := range cancels {
				c()
			}
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		cancels = append(cancels, cancel)
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}, nil
}

// loadCandidates returns the candidate set for one cache key, reading the
// snapshot from cache when present and rebuilding it from the store when not.
func (s *RetrievalService) loadCandidates(ctx context.Context, key string, scope database.CandidateScope) ([]index.Candidate, error) {
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var snaps []candidateSnapshot
			if err := json.Unmarshal(data, &snaps); err == nil {
				return fromSnapshots(snaps), nil
			}
			_ = s.cache.Delete(ctx, key)
		}
	}

	cands, err := s.db.ListCandidates(ctx, scope)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(toSnapshots(cands)); err == nil {
			_ = s.cache.Set(ctx, key, data, s.snapshotTTL)
		}
	}
	return cands, nil
}

// narrow applies the entity and temporal filters to record and chunk
// candidates. Chunks follow their parent memory for the entity filter and
// their own creation time for the temporal one.
func (s *RetrievalService) narrow(cands []index.Candidate, allowed map[string]bool, tf *TemporalFilter) []index.Candidate {
	if allowed == nil && tf == nil {
		return cands
	}
	kept := cands[:0]
	for _, c := range cands {
		memoryID := c.ID
		createdAt := time.Time{}
		switch doc := c.Doc.(type) {
		case *memory.Record:
			createdAt = doc.CreatedAt
		case *memory.Chunk:
			memoryID = doc.MemoryID
			createdAt = doc.CreatedAt
		}
		if allowed != nil && !allowed[memoryID] {
			continue
		}
		if tf != nil {
			if !tf.After.IsZero() && createdAt.Before(tf.After) {
				continue
			}
			if !tf.Before.IsZero() && !createdAt.Before(tf.Before) {
				continue
			}
		}
		kept = append(kept, c)
	}
	return kept
}

// cutAt keeps the leading matches scoring at or above th. matches must be
// ordered by score descending.
func cutAt(matches []index.Match, th float64) []index.Match {
	for i, m := range matches {
		if m.Score < th {
			return matches[:i]
		}
	}
	return matches
}

// dedupeByMemory collapses chunk hits onto their parent memory, keeping the
// first (best scoring) hit per memory. matches must be ordered best first.
func dedupeByMemory(matches []index.Match) []SearchResult {
	seen := make(map[string]bool, len(matches))
	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		memoryID := m.ID
		if c, ok := m.Doc.(*memory.Chunk); ok {
			memoryID = c.MemoryID
		}
		if seen[memoryID] {
			continue
		}
		seen[memoryID] = true
		results = append(results, toResult(m))
	}
	return results
}

func toResult(m index.Match) SearchResult {
	r := SearchResult{Kind: m.Kind, ID: m.ID, Score: m.Score}
	switch doc := m.Doc.(type) {
	case *memory.Record:
		r.Memory = doc
	case *memory.Chunk:
		r.Chunk = doc
	case *entity.Entity:
		r.Entity = doc
	}
	return r
}

func sortResults(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

func toSnapshots(cands []index.Candidate) []candidateSnapshot {
	snaps := make([]candidateSnapshot, 0, len(cands))
	for _, c := range cands {
		snap := candidateSnapshot{Kind: c.Kind, ID: c.ID, Embedding: c.Embedding}
		switch doc := c.Doc.(type) {
		case *memory.Record:
			snap.Memory = doc
		case *memory.Chunk:
			snap.Chunk = doc
		case *entity.Entity:
			snap.Entity = doc
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

func fromSnapshots(snaps []candidateSnapshot) []index.Candidate {
	cands := make([]index.Candidate, 0, len(snaps))
	for _, snap := range snaps {
		c := index.Candidate{Kind: snap.Kind, ID: snap.ID, Embedding: snap.Embedding}
		switch {
		case snap.Memory != nil:
			snap.Memory.Embedding = snap.Embedding
			c.Attrs = snap.Memory.Attributes
			c.Doc = snap.Memory
		case snap.Chunk != nil:
			snap.Chunk.Embedding = snap.Embedding
			c.Attrs = snap.Chunk.Attributes
			c.Doc = snap.Chunk
		case snap.Entity != nil:
			snap.Entity.Embedding = snap.Embedding
			c.Attrs = snap.Entity.Attributes
			c.Doc = snap.Entity
		}
		cands = append(cands, c)
	}
	return cands
}
