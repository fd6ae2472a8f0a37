package topictree_test

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/dgallion1/topictree/internal/cluster"
	"github.com/dgallion1/topictree/internal/topictree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// halvingSelector splits any group that can hold two clusters by parity.
type halvingSelector struct{}

func (halvingSelector) Labels(vectors [][]float64, divisor int) []int {
	labels := make([]int, len(vectors))
	if cluster.PossibleClusters(len(vectors), divisor) < 2 {
		return labels
	}
	for i := range labels {
		labels[i] = i % 2
	}
	return labels
}

func makeDocs(n int) ([]topictree.Document, [][]float64) {
	rng := rand.New(rand.NewPCG(uint64(n), 11))
	docs := make([]topictree.Document, n)
	vecs := make([][]float64, n)
	for i := range docs {
		docs[i] = topictree.Document{ID: i, Text: fmt.Sprintf("paragraph %d", i)}
		vecs[i] = []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
	}
	return docs, vecs
}

func assertPartitions(t *testing.T, tree *topictree.Tree) {
	t.Helper()
	tree.Walk(func(n, _ *topictree.Node) bool {
		if len(n.Children) == 0 {
			return true
		}
		var union []int
		for _, c := range n.Children {
			require.NotEmpty(t, c.DocumentIDs, "empty child at %s", c.Level)
			union = append(union, c.DocumentIDs...)
		}
		got := append([]int(nil), union...)
		want := append([]int(nil), n.DocumentIDs...)
		sort.Ints(got)
		sort.Ints(want)
		assert.Equal(t, want, got, "children of %s node do not partition it", n.Level)
		return true
	})
}

func TestBuild_CoverageAndPartition(t *testing.T) {
	docs, vecs := makeDocs(64)
	b := topictree.NewBuilder(halvingSelector{}, nil)
	tree, arena := b.Build(docs, vecs, topictree.LevelCourse, topictree.Options{CreateLearningUnits: true, CreateTriples: true})

	require.Len(t, tree.Roots, 1)
	root := tree.Roots[0]
	assert.Equal(t, topictree.LevelCourse, root.Level)
	assert.Len(t, root.DocumentIDs, 64)
	for i, id := range root.DocumentIDs {
		assert.Equal(t, i, id)
	}
	assertPartitions(t, tree)
	assert.Equal(t, tree.Count(), arena.Len(), "one record per node")
}

func TestBuild_RecordSlots(t *testing.T) {
	docs, vecs := makeDocs(12)
	tree, arena := topictree.NewBuilder(halvingSelector{}, nil).
		Build(docs, vecs, topictree.LevelCourse, topictree.Options{CreateLearningUnits: true})

	seen := make(map[int]bool)
	tree.Walk(func(n, _ *topictree.Node) bool {
		rec := arena.At(n.TitleSlot)
		require.NotNil(t, rec)
		assert.Same(t, n, rec.Node)
		assert.Len(t, rec.Docs, len(n.DocumentIDs))
		assert.False(t, seen[n.TitleSlot], "slot reused")
		seen[n.TitleSlot] = true

		wantBlooms := n.Level == topictree.LevelLearningObjective || n.Level == topictree.LevelLearningUnit
		assert.Equal(t, wantBlooms, rec.Blooms, "blooms flag for %s", n.Level)
		return true
	})
}

func TestBuild_LeafTerminationWithoutUnits(t *testing.T) {
	docs, vecs := makeDocs(40)
	tree, _ := topictree.NewBuilder(halvingSelector{}, nil).
		Build(docs, vecs, topictree.LevelCourse, topictree.Options{CreateLearningUnits: false, CreateTriples: true})

	counts := tree.CountByLevel()
	assert.Zero(t, counts[topictree.LevelLearningUnit])
	assert.Zero(t, counts[topictree.LevelTriple])
	assert.NotZero(t, counts[topictree.LevelLearningObjective])
}

func TestBuild_LeafTerminationWithoutTriples(t *testing.T) {
	docs, vecs := makeDocs(40)
	tree, _ := topictree.NewBuilder(halvingSelector{}, nil).
		Build(docs, vecs, topictree.LevelCourse, topictree.Options{CreateLearningUnits: true})

	counts := tree.CountByLevel()
	assert.NotZero(t, counts[topictree.LevelLearningUnit])
	assert.Zero(t, counts[topictree.LevelTriple])
	tree.Walk(func(n, _ *topictree.Node) bool {
		if n.Level == topictree.LevelLearningUnit {
			assert.Empty(t, n.Children)
		}
		return true
	})
}

func TestBuild_SingleDocument(t *testing.T) {
	docs, vecs := makeDocs(1)
	tree, _ := topictree.NewBuilder(halvingSelector{}, nil).
		Build(docs, vecs, topictree.LevelCourse, topictree.Options{CreateLearningUnits: true})

	depth := 0
	n := tree.Roots[0]
	for len(n.Children) > 0 {
		require.Len(t, n.Children, 1)
		n = n.Children[0]
		assert.Equal(t, []int{0}, n.DocumentIDs)
		depth++
	}
	assert.Equal(t, topictree.LevelLearningUnit, n.Level)
	assert.Equal(t, 4, depth)
}

func TestBuild_EmptyInput(t *testing.T) {
	tree, arena := topictree.NewBuilder(halvingSelector{}, nil).
		Build(nil, nil, topictree.LevelCourse, topictree.Options{})
	require.Len(t, tree.Roots, 1)
	assert.Empty(t, tree.Roots[0].DocumentIDs)
	assert.Empty(t, tree.Roots[0].Children)
	assert.Equal(t, 1, arena.Len())
}

func TestBuild_StartLevel(t *testing.T) {
	docs, vecs := makeDocs(9)
	tree, _ := topictree.NewBuilder(halvingSelector{}, nil).
		Build(docs, vecs, topictree.LevelSubCompetency, topictree.Options{})

	assert.Equal(t, topictree.LevelSubCompetency, tree.Roots[0].Level)
	for _, c := range tree.Roots[0].Children {
		assert.Equal(t, topictree.LevelLearningObjective, c.Level)
	}
}

func TestBuild_Separators(t *testing.T) {
	docs, vecs := makeDocs(2)
	tree, _ := topictree.NewBuilder(halvingSelector{}, nil).
		Build(docs, vecs, topictree.LevelLearningObjective, topictree.Options{CreateLearningUnits: true})

	root := tree.Roots[0]
	assert.Equal(t, "paragraph 0\nparagraph 1", root.Text)
	require.Len(t, root.Children, 2)
	assert.Equal(t, "paragraph 0", root.Children[0].Text)
}

func TestBuild_ParagraphSeparatorBelowObjectives(t *testing.T) {
	docs, vecs := makeDocs(3)
	b := topictree.NewBuilder(halvingSelector{}, nil)
	b.SetDivisor(topictree.LevelLearningUnit, 10)
	tree, _ := b.Build(docs, vecs, topictree.LevelLearningObjective, topictree.Options{CreateLearningUnits: true})

	require.Len(t, tree.Roots[0].Children, 1)
	assert.Equal(t, "paragraph 0<p>paragraph 1<p>paragraph 2", tree.Roots[0].Children[0].Text)
}

func TestBuild_RealSelectorCoverage(t *testing.T) {
	docs, vecs := makeDocs(50)
	sel := cluster.NewSelector(nil, nil)
	tree, _ := topictree.NewBuilder(sel, nil).
		Build(docs, cluster.Normalize(vecs), topictree.LevelCourse, topictree.Options{CreateLearningUnits: true})

	assert.Len(t, tree.Roots[0].DocumentIDs, 50)
	assertPartitions(t, tree)
}
