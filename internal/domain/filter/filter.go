// Package filter compiles declarative attribute filters into predicates
// evaluated against record attribute maps. The filter language is a flat
// conjunction of per-field operator clauses:
//
//	{"priority": {"_gte": 3}, "tags": {"_contains": ["auth"]}}
package filter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Strob0t/MemMesh/internal/domain"
)

// Op is a comparison operator.
type Op string

const (
	OpEq       Op = "_eq"
	OpGt       Op = "_gt"
	OpGte      Op = "_gte"
	OpLt       Op = "_lt"
	OpLte      Op = "_lte"
	OpIsNull   Op = "_is_null"
	OpContains Op = "_contains"
)

var validOps = map[Op]bool{
	OpEq: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpIsNull: true, OpContains: true,
}

// Clause is one compiled comparison against a single attribute field.
type Clause struct {
	Field   string
	Op      Op
	Operand any
}

// Predicate is a compiled filter. All clauses must match (conjunction).
type Predicate struct {
	clauses []Clause
}

// Compile validates and compiles a filter specification. Each field maps to
// an operator object; a bare scalar value is shorthand for _eq, and a map
// holding any non-operator key is a bare value too, matched by equality or,
// when the field holds a nested map, sub-map containment. Unknown operators
// yield ErrInvalidFilter.
func Compile(spec map[string]any) (*Predicate, error) {
	p := &Predicate{}
	fields := make([]string, 0, len(spec))
	for f := range spec {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, field := range fields {
		cond := spec[field]
		ops, ok := cond.(map[string]any)
		if !ok {
			p.clauses = append(p.clauses, Clause{Field: field, Op: OpEq, Operand: cond})
			continue
		}
		if !isOperatorObject(ops) {
			p.clauses = append(p.clauses, Clause{Field: field, Op: OpContains, Operand: cond})
			continue
		}
		opNames := make([]string, 0, len(ops))
		for name := range ops {
			opNames = append(opNames, name)
		}
		sort.Strings(opNames)
		for _, name := range opNames {
			op := Op(name)
			if !validOps[op] {
				return nil, fmt.Errorf("field %q: unknown operator %q: %w",
					field, name, domain.ErrInvalidFilter)
			}
			operand := ops[name]
			if op == OpIsNull {
				if _, ok := operand.(bool); !ok {
					return nil, fmt.Errorf("field %q: _is_null wants a bool: %w",
						field, domain.ErrInvalidFilter)
				}
			}
			p.clauses = append(p.clauses, Clause{Field: field, Op: op, Operand: operand})
		}
	}
	return p, nil
}

// isOperatorObject reports whether a condition map is an operator object.
// Any key without the "_" prefix makes it a bare value instead.
func isOperatorObject(m map[string]any) bool {
	for k := range m {
		if !strings.HasPrefix(k, "_") {
			return false
		}
	}
	return true
}

// Clauses returns the compiled clauses, for adapters that translate the
// predicate into a storage-native query.
func (p *Predicate) Clauses() []Clause {
	return p.clauses
}

// Empty reports whether the predicate has no clauses and matches everything.
func (p *Predicate) Empty() bool {
	return p == nil || len(p.clauses) == 0
}

// Matches evaluates the predicate against an attribute map. A nil map is
// treated as empty: every field is absent.
func (p *Predicate) Matches(attrs map[string]any) bool {
	if p == nil {
		return true
	}
	for _, c := range p.clauses {
		v, present := lookup(attrs, c.Field)
		if !matchClause(c, v, present) {
			return false
		}
	}
	return true
}

func lookup(attrs map[string]any, field string) (any, bool) {
	if attrs == nil {
		return nil, false
	}
	v, ok := attrs[field]
	return v, ok
}

func matchClause(c Clause, v any, present bool) bool {
	switch c.Op {
	case OpIsNull:
		want := c.Operand.(bool)
		isNull := !present || v == nil
		return isNull == want
	case OpEq:
		if !present {
			return false
		}
		return valuesEqual(v, c.Operand)
	case OpGt, OpGte, OpLt, OpLte:
		if !present {
			return false
		}
		cmp, ok := compareValues(v, c.Operand)
		if !ok {
			return false
		}
		switch c.Op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpContains:
		if !present {
			return false
		}
		return contains(v, c.Operand)
	}
	return false
}

// valuesEqual compares two attribute values. Numbers compare by magnitude
// regardless of Go type; everything else compares structurally.
func valuesEqual(a, b any) bool {
	if na, ok := toFloat(a); ok {
		nb, ok := toFloat(b)
		return ok && na == nb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, x := range av {
			y, ok := bv[k]
			if !ok || !valuesEqual(x, y) {
				return false
			}
		}
		return true
	}
	return false
}

// compareValues orders two values when they are mutually comparable: numbers
// by magnitude, strings lexically, with RFC 3339 timestamps compared on the
// UTC timeline.
func compareValues(a, b any) (int, bool) {
	if na, ok := toFloat(a); ok {
		nb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case na < nb:
			return -1, true
		case na > nb:
			return 1, true
		default:
			return 0, true
		}
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if !okA || !okB {
		return 0, false
	}
	if ta, err := time.Parse(time.RFC3339, sa); err == nil {
		if tb, err := time.Parse(time.RFC3339, sb); err == nil {
			ua, ub := ta.UTC(), tb.UTC()
			switch {
			case ua.Before(ub):
				return -1, true
			case ua.After(ub):
				return 1, true
			default:
				return 0, true
			}
		}
	}
	switch {
	case sa < sb:
		return -1, true
	case sa > sb:
		return 1, true
	default:
		return 0, true
	}
}

// contains implements recursive structural containment. A string contains
// another via substring; an array contains a needle array when every needle
// element is contained in some haystack element; an object contains a needle
// object when every needle key is present and contained.
func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		n, ok := needle.(string)
		return ok && strings.Contains(h, n)
	case []any:
		switch n := needle.(type) {
		case []any:
			for _, ne := range n {
				if !anyElementContains(h, ne) {
					return false
				}
			}
			return true
		default:
			return anyElementContains(h, needle)
		}
	case map[string]any:
		n, ok := needle.(map[string]any)
		if !ok {
			return false
		}
		for k, nv := range n {
			hv, ok := h[k]
			if !ok {
				return false
			}
			if !contains(hv, nv) && !valuesEqual(hv, nv) {
				return false
			}
		}
		return true
	default:
		return valuesEqual(haystack, needle)
	}
}

func anyElementContains(haystack []any, needle any) bool {
	for _, he := range haystack {
		if valuesEqual(he, needle) || contains(he, needle) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
