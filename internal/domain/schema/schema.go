// Package schema provides per-type structural schemas and chunking
// configuration consulted by the write path.
package schema

import (
	"errors"
	"fmt"

	"github.com/Strob0t/MemMesh/internal/domain"
)

// FieldKind names the expected JSON kind of a structured attribute.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindNumber FieldKind = "number"
	KindBool   FieldKind = "bool"
	KindArray  FieldKind = "array"
	KindObject FieldKind = "object"
	KindAny    FieldKind = "any"
)

// TypeSchema is registered per record type tag. Structural maps attribute
// names to their expected kinds; attributes not listed are accepted as-is.
type TypeSchema struct {
	Type          string               `json:"type"`
	MaxTokens     int                  `json:"max_tokens"`
	OverlapTokens int                  `json:"overlap_tokens"`
	Structural    map[string]FieldKind `json:"structural,omitempty"`
	Required      []string             `json:"required,omitempty"`
}

// Validate checks the schema, in particular that its chunking configuration
// can make progress.
func (s *TypeSchema) Validate() error {
	if s.Type == "" {
		return errors.New("type is required")
	}
	if s.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be >= 1: %w", domain.ErrInvalidChunkConfig)
	}
	if s.OverlapTokens < 0 {
		return fmt.Errorf("overlap_tokens must be >= 0: %w", domain.ErrInvalidChunkConfig)
	}
	if s.OverlapTokens >= s.MaxTokens {
		return fmt.Errorf("overlap_tokens %d >= max_tokens %d: %w",
			s.OverlapTokens, s.MaxTokens, domain.ErrInvalidChunkConfig)
	}
	return nil
}

// CheckAttributes validates an attribute map against the structural schema.
// Required fields must be present; listed fields must match their kind.
func (s *TypeSchema) CheckAttributes(attrs map[string]any) error {
	for _, name := range s.Required {
		if _, ok := attrs[name]; !ok {
			return fmt.Errorf("attribute %q is required for type %q", name, s.Type)
		}
	}
	for name, kind := range s.Structural {
		v, ok := attrs[name]
		if !ok || kind == KindAny {
			continue
		}
		if !matchesKind(v, kind) {
			return fmt.Errorf("attribute %q must be %s", name, kind)
		}
	}
	return nil
}

func matchesKind(v any, kind FieldKind) bool {
	switch kind {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindArray:
		_, ok := v.([]any)
		return ok
	case KindObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}
