// Package similarity holds the vector metric used for capability matching.
package similarity

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrEmptyVector    = errors.New("similarity: empty vector")
	ErrLengthMismatch = errors.New("similarity: vector length mismatch")
)

// Cosine returns the cosine similarity of a and b in [-1, 1].
// A zero-norm vector is orthogonal to everything and yields 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, ErrEmptyVector
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return max(-1, min(1, sim)), nil
}
