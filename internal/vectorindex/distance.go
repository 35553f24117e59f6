package vectorindex

import "math"

// CosineSimilarity computes the cosine similarity between two vectors. It
// returns 0 when either vector has zero magnitude or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Distance is the cosine distance 1 - cos(a, b). It is exactly 1.0 when
// either vector has zero magnitude.
func Distance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
