// Package vector provides embedding normalization and similarity scoring.
// Stored embeddings are unit-normalized so the inner product equals cosine
// similarity; scoring goes through the negated inner product for numerical
// parity with the pgvector `<#>` operator.
package vector

import (
	"fmt"
	"math"

	"github.com/Strob0t/MemMesh/internal/domain"
)

// Epsilon is the tolerance used to decide whether a vector is unit-normalized.
const Epsilon = 1e-6

// Inspection is the diagnostic result of Inspect.
type Inspection struct {
	Norm         float64 `json:"norm"`
	IsNormalized bool    `json:"is_normalized"`
}

// Norm returns the L2 norm of v, accumulated in float64.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns v scaled to unit L2 norm. The input is not modified.
// A zero vector cannot be normalized and yields ErrDegenerateVector.
func Normalize(v []float32) ([]float32, error) {
	n := Norm(v)
	if n == 0 {
		return nil, domain.ErrDegenerateVector
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out, nil
}

// Inspect reports the norm of v and whether it is within Epsilon of 1.
func Inspect(v []float32) Inspection {
	n := Norm(v)
	return Inspection{
		Norm:         n,
		IsNormalized: math.Abs(1-n) < Epsilon,
	}
}

// CheckDimension verifies that v has the configured embedding dimension.
func CheckDimension(v []float32, want int) error {
	if len(v) != want {
		return fmt.Errorf("got %d, want %d: %w", len(v), want, domain.ErrDimensionMismatch)
	}
	return nil
}

// NegDot returns the negated inner product of a and b, matching what
// pgvector's `<#>` operator yields. Similarity is -NegDot.
func NegDot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return -sum
}

// Similarity returns the cosine similarity of two unit vectors.
func Similarity(a, b []float32) float64 {
	return -NegDot(a, b)
}
