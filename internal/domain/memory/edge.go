package memory

import "errors"

// Relationship types used by the engine itself. Relationship is free-form;
// callers may use their own vocabulary.
const (
	RelFollowsUp = "follows_up"
	RelRelatedTo = "related_to"
	RelVersionOf = "version_of"
)

// Edge is a typed, weighted directed relation between two records (or two
// chunks of one record, for the follows_up chain).
type Edge struct {
	ID           string         `json:"id"`
	SourceID     string         `json:"source_id"`
	TargetID     string         `json:"target_id"`
	Relationship string         `json:"relationship"`
	Weight       float64        `json:"weight"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

// ConnectedEdge is an Edge annotated with the depth at which a graph
// traversal first reached it.
type ConnectedEdge struct {
	Edge
	Depth int `json:"depth"`
}

// LinkRequest is the input for creating an edge.
type LinkRequest struct {
	SourceID     string         `json:"source_id"`
	TargetID     string         `json:"target_id"`
	Relationship string         `json:"relationship"`
	Weight       float64        `json:"weight"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

// Validate checks that a LinkRequest has all required fields.
// A zero weight is replaced with the default 1.0.
func (r *LinkRequest) Validate() error {
	if r.SourceID == "" || r.TargetID == "" {
		return errors.New("source_id and target_id are required")
	}
	if r.Relationship == "" {
		return errors.New("relationship is required")
	}
	if r.Weight == 0 {
		r.Weight = 1.0
	}
	if r.Weight < 0 || r.Weight > 1 {
		return errors.New("weight must be between 0 and 1")
	}
	return nil
}
