package vector

import "math"

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i] * b[i])
	}
	return dot
}

// SquaredL2 returns the squared euclidean distance between a and b.
func SquaredL2(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return sum
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v * v)
	}
	return math.Sqrt(sum)
}

// Normalize scales x in place to unit length and returns it. A zero vector is left as is.
func Normalize(x []float32) []float32 {
	n := L2Norm(x)
	if n == 0 {
		return x
	}
	inv := float32(1 / n)
	for i := range x {
		x[i] *= inv
	}
	return x
}

// DistanceToSimilarity maps an L2 distance to (0, 1]; identical vectors score 1.
func DistanceToSimilarity(d float64) float64 {
	if d < 0 {
		d = 0
	}
	return 1 / (1 + d)
}
