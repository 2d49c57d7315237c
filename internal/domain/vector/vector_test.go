package vector

import (
	"errors"
	"math"
	"testing"

	"github.com/Strob0t/MemMesh/internal/domain"
)

func TestNormalize(t *testing.T) {
	got, err := Normalize([]float32{3, 4})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := []float32{0.6, 0.8}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("Normalize()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if insp := Inspect(got); !insp.IsNormalized {
		t.Errorf("Inspect(normalized).IsNormalized = false, norm %v", insp.Norm)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	once, err := Normalize([]float32{1, 2, 2})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	twice, err := Normalize(once)
	if err != nil {
		t.Fatalf("Normalize(normalized) error = %v", err)
	}
	for i := range once {
		if math.Abs(float64(once[i]-twice[i])) > 1e-6 {
			t.Errorf("element %d changed on re-normalization: %v vs %v", i, once[i], twice[i])
		}
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	if _, err := Normalize([]float32{0, 0, 0}); !errors.Is(err, domain.ErrDegenerateVector) {
		t.Errorf("Normalize(zero) error = %v, want ErrDegenerateVector", err)
	}
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	in := []float32{2, 0}
	if _, err := Normalize(in); err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if in[0] != 2 {
		t.Errorf("input mutated: %v", in)
	}
}

func TestInspect(t *testing.T) {
	tests := []struct {
		name string
		v    []float32
		norm float64
		ok   bool
	}{
		{"unit", []float32{1, 0, 0}, 1, true},
		{"near unit", []float32{1 + 1e-8, 0}, 1, true},
		{"not unit", []float32{3, 4}, 5, false},
		{"zero", []float32{0, 0}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			insp := Inspect(tt.v)
			if math.Abs(insp.Norm-tt.norm) > 1e-6 {
				t.Errorf("Norm = %v, want %v", insp.Norm, tt.norm)
			}
			if insp.IsNormalized != tt.ok {
				t.Errorf("IsNormalized = %v, want %v", insp.IsNormalized, tt.ok)
			}
		})
	}
}

func TestCheckDimension(t *testing.T) {
	if err := CheckDimension([]float32{1, 2, 3}, 3); err != nil {
		t.Errorf("CheckDimension(3, 3) = %v, want nil", err)
	}
	if err := CheckDimension([]float32{1, 2}, 3); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("CheckDimension(2, 3) = %v, want ErrDimensionMismatch", err)
	}
}

func TestNegDot(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{1, 0}
	if got := NegDot(a, b); got != -1 {
		t.Errorf("NegDot(identical units) = %v, want -1", got)
	}
	c := []float32{0, 1}
	if got := NegDot(a, c); got != 0 {
		t.Errorf("NegDot(orthogonal) = %v, want 0", got)
	}
	if got := Similarity(a, b); got != 1 {
		t.Errorf("Similarity(identical units) = %v, want 1", got)
	}
}
