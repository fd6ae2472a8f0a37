// Package cluster groups embedding vectors: manifold reduction, k-means and
// silhouette-based selection of the cluster count.
package cluster

import "math"

// Normalize returns unit-length copies of vectors. Zero vectors are copied
// unchanged.
func Normalize(vectors [][]float64) [][]float64 {
	out := make([][]float64, len(vectors))
	for i, v := range vectors {
		var norm float64
		for _, x := range v {
			norm += x * x
		}
		norm = math.Sqrt(norm)
		row := make([]float64, len(v))
		for j, x := range v {
			if norm > 0 {
				row[j] = x / norm
			} else {
				row[j] = x
			}
		}
		out[i] = row
	}
	return out
}

// CosineDistance is 1 - cosine similarity. Zero or mismatched vectors are
// at distance 1.
func CosineDistance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 1
	}
	d := 1 - dot/(math.Sqrt(magA)*math.Sqrt(magB))
	if d < 0 {
		return 0
	}
	return d
}

// Euclidean returns the L2 distance between a and b.
func Euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		if i >= len(b) {
			break
		}
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func allFinite(rows [][]float64) bool {
	for _, r := range rows {
		for _, x := range r {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return false
			}
		}
	}
	return true
}
