// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrDegenerateVector indicates a zero vector that cannot be normalized.
var ErrDegenerateVector = errors.New("degenerate vector: zero norm")

// ErrDimensionMismatch indicates a vector whose length differs from the
// configured embedding dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ErrInvalidFilter indicates an unknown or malformed predicate operator.
// Raised at compile time, before any storage access.
var ErrInvalidFilter = errors.New("invalid filter")

// ErrInvalidChunkConfig indicates a chunking configuration that cannot
// make progress (overlap >= max tokens, or non-positive max).
var ErrInvalidChunkConfig = errors.New("invalid chunk config")
