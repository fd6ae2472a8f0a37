package cluster

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrTooFewPoints = errors.New("too few points for neighbourhood size")
	ErrNoReduction  = errors.New("input dimension not above target dimension")
	ErrEigen        = errors.New("eigendecomposition failed")
)

// ReduceConfig sets the neighbourhood size and output dimension.
type ReduceConfig struct {
	Neighbors int
	Dims      int
}

// Reducer projects embeddings onto a lower-dimensional manifold. It never
// fails: the primary config is tried, then the fallback, then the input is
// returned as-is.
type Reducer struct {
	Primary  ReduceConfig
	Fallback ReduceConfig
	log      *slog.Logger
}

func NewReducer(log *slog.Logger) *Reducer {
	if log == nil {
		log = slog.Default()
	}
	return &Reducer{
		Primary:  ReduceConfig{Neighbors: 15, Dims: 20},
		Fallback: ReduceConfig{Neighbors: 5, Dims: 5},
		log:      log,
	}
}

// Reduce returns reduced vectors, or the input when both configs fail.
func (r *Reducer) Reduce(vectors [][]float64) [][]float64 {
	out, err := Spectral(vectors, r.Primary)
	if err == nil {
		return out
	}
	r.log.Debug("reduction failed, retrying with fallback config",
		"points", len(vectors),
		"neighbors", r.Primary.Neighbors,
		"dims", r.Primary.Dims,
		"error", err,
	)
	out, err = Spectral(vectors, r.Fallback)
	if err == nil {
		return out
	}
	r.log.Debug("fallback reduction failed, using raw embeddings",
		"points", len(vectors),
		"error", err,
	)
	return vectors
}

// Spectral computes a Laplacian eigenmap of the cosine k-nearest-neighbour
// graph (fuzzy-union symmetrized, locally scaled heat kernel).
func Spectral(vectors [][]float64, cfg ReduceConfig) ([][]float64, error) {
	n := len(vectors)
	if cfg.Neighbors < 1 || cfg.Dims < 1 {
		return nil, fmt.Errorf("invalid config neighbors=%d dims=%d", cfg.Neighbors, cfg.Dims)
	}
	if n <= cfg.Neighbors || n <= cfg.Dims+1 {
		return nil, fmt.Errorf("%w: n=%d neighbors=%d dims=%d", ErrTooFewPoints, n, cfg.Neighbors, cfg.Dims)
	}
	if len(vectors[0]) <= cfg.Dims {
		return nil, fmt.Errorf("%w: %d <= %d", ErrNoReduction, len(vectors[0]), cfg.Dims)
	}

	w := knnGraph(vectors, cfg.Neighbors)

	degree := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			degree[i] += w[i][j]
		}
		if degree[i] <= 0 {
			return nil, fmt.Errorf("isolated point %d", i)
		}
	}

	// Normalized Laplacian: I - D^-1/2 W D^-1/2.
	lap := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := -w[i][j] / math.Sqrt(degree[i]*degree[j])
			if i == j {
				v += 1
			}
			lap.SetSym(i, j, v)
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(lap, true); !ok {
		return nil, ErrEigen
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Eigenvalues come back ascending; column 0 is the trivial solution.
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, cfg.Dims)
		scale := 1 / math.Sqrt(degree[i])
		for j := 0; j < cfg.Dims; j++ {
			row[j] = vecs.At(i, j+1) * scale
		}
		out[i] = row
	}
	if !allFinite(out) {
		return nil, fmt.Errorf("%w: non-finite coordinates", ErrEigen)
	}
	return out, nil
}

// knnGraph returns a dense symmetric affinity matrix.
func knnGraph(vectors [][]float64, k int) [][]float64 {
	n := len(vectors)
	type neighbour struct {
		idx  int
		dist float64
	}

	w := make([][]float64, n)
	for i := range w {
		w[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		nbrs := make([]neighbour, 0, n-1)
		for j := 0; j < n; j++ {
			if i != j {
				nbrs = append(nbrs, neighbour{idx: j, dist: CosineDistance(vectors[i], vectors[j])})
			}
		}
		sort.SliceStable(nbrs, func(a, b int) bool { return nbrs[a].dist < nbrs[b].dist })
		nbrs = nbrs[:k]

		rho := nbrs[0].dist
		sigma := nbrs[k-1].dist - rho
		if sigma < 1e-10 {
			sigma = 1e-10
		}
		for _, nb := range nbrs {
			d := nb.dist - rho
			if d < 0 {
				d = 0
			}
			w[i][nb.idx] = math.Exp(-d / sigma)
		}
	}

	// Fuzzy union: a + b - a*b.
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := w[i][j], w[j][i]
			v := a + b - a*b
			w[i][j], w[j][i] = v, v
		}
	}
	return w
}
