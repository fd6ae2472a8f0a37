package cluster

import (
	"math"
	"math/rand/v2"
)

// KMeans partitions points into k clusters with k-means++ seeding and
// Lloyd iterations. Results are deterministic for a given seed. Every
// point receives a label in [0, k).
func KMeans(points [][]float64, k int, seed uint64, maxIter int) []int {
	n := len(points)
	labels := make([]int, n)
	if n == 0 {
		return labels
	}
	if k >= n {
		for i := range labels {
			labels[i] = i
		}
		return labels
	}
	if k <= 1 {
		return labels
	}
	if maxIter <= 0 {
		maxIter = 100
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	centers := seedCenters(points, k, rng)

	for i := range labels {
		labels[i] = -1
	}
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			best := nearest(p, centers)
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}
		recomputeCenters(points, labels, centers)
	}
	return labels
}

// seedCenters picks k initial centers using D^2 weighting.
func seedCenters(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	centers := make([][]float64, 0, k)
	chosen := make([]bool, n)

	first := rng.IntN(n)
	centers = append(centers, clone(points[first]))
	chosen[first] = true

	dist := make([]float64, n)
	for len(centers) < k {
		var total float64
		for i, p := range points {
			d := Euclidean(p, centers[0])
			for _, c := range centers[1:] {
				if e := Euclidean(p, c); e < d {
					d = e
				}
			}
			dist[i] = d * d
			total += dist[i]
		}

		next := -1
		if total > 0 {
			target := rng.Float64() * total
			for i, d := range dist {
				target -= d
				if target <= 0 && !chosen[i] {
					next = i
					break
				}
			}
		}
		if next < 0 {
			// All remaining points coincide with a center.
			for i := range points {
				if !chosen[i] {
					next = i
					break
				}
			}
		}
		chosen[next] = true
		centers = append(centers, clone(points[next]))
	}
	return centers
}

func nearest(p []float64, centers [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, center := range centers {
		if d := Euclidean(p, center); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func recomputeCenters(points [][]float64, labels []int, centers [][]float64) {
	dim := len(points[0])
	counts := make([]int, len(centers))
	sums := make([][]float64, len(centers))
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, p := range points {
		c := labels[i]
		counts[c]++
		for j := 0; j < dim && j < len(p); j++ {
			sums[c][j] += p[j]
		}
	}

	for c := range centers {
		if counts[c] > 0 {
			for j := range sums[c] {
				sums[c][j] /= float64(counts[c])
			}
			centers[c] = sums[c]
			continue
		}
		// Empty cluster: steal the point farthest from its own center.
		far, farDist := -1, -1.0
		for i, p := range points {
			if counts[labels[i]] <= 1 {
				continue
			}
			if d := Euclidean(p, centers[labels[i]]); d > farDist {
				far, farDist = i, d
			}
		}
		if far >= 0 {
			counts[labels[far]]--
			labels[far] = c
			counts[c] = 1
			centers[c] = clone(points[far])
		}
	}
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
