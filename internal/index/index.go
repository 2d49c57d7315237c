// Package index provides an exact in-process similarity scan over candidate
// embeddings. It is the fallback scoring path; the postgres adapter offers
// the same contract through pgvector when available.
package index

import (
	"sort"

	"github.com/Strob0t/MemMesh/internal/domain/filter"
	"github.com/Strob0t/MemMesh/internal/domain/vector"
)

// Kind tags what a candidate embedding belongs to.
type Kind string

const (
	KindRecord Kind = "record"
	KindChunk  Kind = "chunk"
	KindEntity Kind = "entity"
)

// Candidate is one scorable embedding. Attrs is the attribute map predicates
// evaluate against; Doc carries the owning document so callers can hydrate
// matches without a second lookup.
type Candidate struct {
	Kind      Kind
	ID        string
	Embedding []float32
	Attrs     map[string]any
	Doc       any
}

// Match is one scored result. Score is cosine similarity of unit vectors,
// computed as the negated `<#>` inner product.
type Match struct {
	Kind  Kind
	ID    string
	Score float64
	Doc   any
}

// Query bounds a scan. A Threshold keeps only matches with Score >= it;
// Limit caps the result count, with Limit <= 0 yielding no matches. A non-nil
// Pred restricts the scan to candidates whose attributes match.
type Query struct {
	Embedding []float32
	Threshold float64
	Limit     int
	Pred      *filter.Predicate
}

// Scan scores every candidate against the query embedding and returns
// matches ordered by score descending, then id ascending for equal scores.
// Candidates without an embedding or with a mismatched dimension are skipped.
func Scan(q Query, candidates []Candidate) []Match {
	if q.Limit <= 0 {
		return nil
	}
	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Embedding) == 0 || len(c.Embedding) != len(q.Embedding) {
			continue
		}
		if q.Pred != nil && !q.Pred.Matches(c.Attrs) {
			continue
		}
		score := -vector.NegDot(q.Embedding, c.Embedding)
		if score < q.Threshold {
			continue
		}
		matches = append(matches, Match{Kind: c.Kind, ID: c.ID, Score: score, Doc: c.Doc})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches
}
