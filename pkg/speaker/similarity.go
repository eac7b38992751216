package speaker

import (
	"math"

	"gonum.org/v1/gonum/blas/blas32"
)

// Cosine computes the cosine similarity between two embeddings: the dot
// product divided by the product of the Euclidean norms. Accumulation happens
// in float64 (blas32.DDot) so that long vectors do not lose precision.
//
// By definition the similarity is 0.0 when either vector has zero norm or
// when the dimensions differ — degenerate comparisons never match and never
// produce an error.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	va := blas32.Vector{N: len(a), Inc: 1, Data: a}
	vb := blas32.Vector{N: len(b), Inc: 1, Data: b}

	normA := math.Sqrt(blas32.DDot(va, va))
	normB := math.Sqrt(blas32.DDot(vb, vb))
	if normA == 0 || normB == 0 {
		return 0
	}

	return blas32.DDot(va, vb) / (normA * normB)
}
