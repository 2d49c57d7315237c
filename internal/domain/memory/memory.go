// Package memory provides the domain model for agent memories: records with
// optional unit-normalized embeddings, ordered content chunks, and typed
// weighted edges between records.
package memory

import (
	"errors"
	"slices"
	"time"
)

// Status is the lifecycle state of a record.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDeleted  Status = "deleted"
)

// ValidStatuses lists all valid record statuses.
var ValidStatuses = []Status{StatusActive, StatusArchived, StatusDeleted}

// Record is the primary stored unit of content. Embedding is nil or
// unit-normalized (norm 1 ± 1e-6); the write path enforces this before
// persistence.
type Record struct {
	ID         string         `json:"id"`
	OwnerID    string         `json:"owner_id,omitempty"`
	Type       string         `json:"type"`
	Status     Status         `json:"status"`
	Content    string         `json:"content"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Embedding  []float32      `json:"-"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	ExpiresAt  time.Time      `json:"expires_at,omitzero"`
}

// Chunk is an ordered sub-piece of a Record's content. Indices for a record
// form a contiguous sequence starting at 0; a record exclusively owns its
// chunks.
type Chunk struct {
	ID         string         `json:"id"`
	MemoryID   string         `json:"memory_id"`
	Index      int            `json:"chunk_index"`
	Content    string         `json:"content"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Embedding  []float32      `json:"-"`
	CreatedAt  time.Time      `json:"created_at"`
}

// CreateRequest is the input for storing a new memory.
type CreateRequest struct {
	OwnerID    string         `json:"owner_id,omitempty"`
	Type       string         `json:"type"`
	Content    string         `json:"content"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Embedding  []float32      `json:"embedding,omitempty"`
	ExpiresAt  time.Time      `json:"expires_at,omitzero"`
}

// Validate checks that a CreateRequest has all required fields.
func (r *CreateRequest) Validate() error {
	if r.Type == "" {
		return errors.New("type is required")
	}
	if r.Content == "" {
		return errors.New("content is required")
	}
	return nil
}

// ValidStatus reports whether s is a known record status.
func ValidStatus(s Status) bool {
	return slices.Contains(ValidStatuses, s)
}
