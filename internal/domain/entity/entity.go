// Package entity provides the domain model for named concepts linked to
// memories, used for entity-centric search.
package entity

import (
	"errors"
	"time"
)

// Entity is a named concept or object distinct from a memory record, with
// its own optional unit-normalized embedding.
type Entity struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Type       string         `json:"type,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Embedding  []float32      `json:"-"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Link joins an Entity to a memory record with a relationship label and a
// confidence score. (EntityID, MemoryID, Relationship) is unique.
type Link struct {
	ID           string    `json:"id"`
	EntityID     string    `json:"entity_id"`
	MemoryID     string    `json:"memory_id"`
	Relationship string    `json:"relationship"`
	Confidence   float64   `json:"confidence"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks that a Link is well-formed.
func (l *Link) Validate() error {
	if l.EntityID == "" || l.MemoryID == "" {
		return errors.New("entity_id and memory_id are required")
	}
	if l.Relationship == "" {
		return errors.New("relationship is required")
	}
	if l.Confidence < 0 || l.Confidence > 1 {
		return errors.New("confidence must be between 0 and 1")
	}
	return nil
}

// Validate checks that an Entity is well-formed.
func (e *Entity) Validate() error {
	if e.Name == "" {
		return errors.New("name is required")
	}
	return nil
}
