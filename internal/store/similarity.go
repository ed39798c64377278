package store

import (
	"math"

	"github.com/m-mizutani/goerr/v2"
)

// CosineSimilarity scores two vectors in [-1, 1]. Zero-magnitude vectors
// score 0 rather than erroring so a single bad chunk cannot poison a scan.
func CosineSimilarity(a, b []float32) (float32, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, goerr.New("vectors cannot be empty")
	}
	if len(a) != len(b) {
		return 0, goerr.New("vectors must have the same dimension",
			goerr.V("len_a", len(a)), goerr.V("len_b", len(b)))
	}

	var dot, magA, magB float32
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (float32(math.Sqrt(float64(magA))) * float32(math.Sqrt(float64(magB)))), nil
}
