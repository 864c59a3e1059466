package biometric

import "math"

// Distance returns the Euclidean distance between a and b. Vectors of
// different length are never compared.
func Distance(a, b Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, &MalformedEmbeddingError{Expected: len(a), Actual: len(b)}
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Accepts reports whether distance d is strictly below threshold.
func Accepts(d, threshold float64) bool {
	return d < threshold
}
