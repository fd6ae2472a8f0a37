package cluster

import "log/slog"

// Selector chooses how many clusters to form under one parent and returns
// the winning partition.
type Selector struct {
	Reducer *Reducer
	Seed    uint64
	MaxIter int
	log     *slog.Logger
}

func NewSelector(reducer *Reducer, log *slog.Logger) *Selector {
	if log == nil {
		log = slog.Default()
	}
	if reducer == nil {
		reducer = NewReducer(log)
	}
	return &Selector{
		Reducer: reducer,
		Seed:    42,
		MaxIter: 100,
		log:     log,
	}
}

// PossibleClusters is floor(n / divisor), with divisor floored at 1.
func PossibleClusters(n, divisor int) int {
	if divisor < 1 {
		divisor = 1
	}
	return n / divisor
}

// Labels assigns a cluster label to each vector.
//
// Below two possible clusters everything stays together. At exactly two
// the split is fitted directly. Otherwise every k in [2, possible-1] is
// fitted and the best silhouette wins.
func (s *Selector) Labels(vectors [][]float64, divisor int) []int {
	n := len(vectors)
	possible := PossibleClusters(n, divisor)
	if possible < 2 {
		return make([]int, n)
	}

	points := s.Reducer.Reduce(vectors)
	if possible == 2 {
		return KMeans(points, 2, s.Seed, s.MaxIter)
	}

	upper := possible - 1
	if upper > n-1 {
		upper = n - 1
	}
	bestK, bestScore := 2, -2.0
	for k := 2; k <= upper; k++ {
		labels := KMeans(points, k, s.Seed, s.MaxIter)
		score, ok := Silhouette(points, labels)
		if !ok {
			continue
		}
		if score > bestScore {
			bestK, bestScore = k, score
		}
	}

	s.log.Debug("cluster count selected",
		"points", n,
		"divisor", divisor,
		"possible", possible,
		"k", bestK,
		"silhouette", bestScore,
	)
	return KMeans(points, bestK, s.Seed, s.MaxIter)
}
