package cluster

// Silhouette returns the mean silhouette coefficient of a labelling using
// euclidean distance. ok is false when the score is undefined: fewer than
// two clusters, or as many clusters as points.
func Silhouette(points [][]float64, labels []int) (score float64, ok bool) {
	n := len(points)
	if n == 0 || len(labels) != n {
		return 0, false
	}

	sizes := make(map[int]int)
	for _, l := range labels {
		sizes[l]++
	}
	if len(sizes) < 2 || len(sizes) >= n {
		return 0, false
	}

	var total float64
	for i := 0; i < n; i++ {
		if sizes[labels[i]] == 1 {
			continue // singleton clusters score 0
		}
		sums := make(map[int]float64, len(sizes))
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			sums[labels[j]] += Euclidean(points[i], points[j])
		}

		a := sums[labels[i]] / float64(sizes[labels[i]]-1)
		b := -1.0
		for l, s := range sums {
			if l == labels[i] {
				continue
			}
			mean := s / float64(sizes[l])
			if b < 0 || mean < b {
				b = mean
			}
		}

		denom := a
		if b > denom {
			denom = b
		}
		if denom > 0 {
			total += (b - a) / denom
		}
	}
	return total / float64(n), true
}
