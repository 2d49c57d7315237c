package service

import (
	"fmt"
	"sync"

	"github.com/Strob0t/MemMesh/internal/config"
	"github.com/Strob0t/MemMesh/internal/domain"
	"github.com/Strob0t/MemMesh/internal/domain/schema"
)

// SchemaRegistry holds per-type structural schemas and chunking windows.
// The write path resolves every record type through the registry; storing a
// type nobody registered is a caller error.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]schema.TypeSchema
}

// NewSchemaRegistry creates an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]schema.TypeSchema)}
}

// Register validates and stores a type schema, replacing any previous one.
func (r *SchemaRegistry) Register(s schema.TypeSchema) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("schema for type %q: %w", s.Type, err)
	}
	r.mu.Lock()
	r.schemas[s.Type] = s
	r.mu.Unlock()
	return nil
}

// Resolve returns the schema for a record type, or ErrNotFound.
func (r *SchemaRegistry) Resolve(memType string) (schema.TypeSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[memType]
	if !ok {
		return schema.TypeSchema{}, fmt.Errorf("memory type %q not registered: %w", memType, domain.ErrNotFound)
	}
	return s, nil
}

// Types returns the registered type names.
func (r *SchemaRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	return types
}

// DefaultSchemas returns schemas for the built-in record types, sized by the
// engine's chunking defaults.
func DefaultSchemas(engine config.Engine) []schema.TypeSchema {
	base := func(t string) schema.TypeSchema {
		return schema.TypeSchema{
			Type:          t,
			MaxTokens:     engine.MaxTokens,
			OverlapTokens: engine.OverlapTokens,
		}
	}
	knowledge := base("knowledge")
	decision := base("decision")
	decision.Structural = map[string]schema.FieldKind{
		"rationale": schema.KindString,
	}
	reference := base("reference")
	reference.Structural = map[string]schema.FieldKind{
		"url": schema.KindString,
	}
	reference.Required = []string{"url"}
	return []schema.TypeSchema{
		knowledge,
		decision,
		reference,
		base("conversation"),
		base("observation"),
	}
}
