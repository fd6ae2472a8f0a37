package topictree

import (
	"log/slog"
	"strings"
)

// Selector assigns a cluster label to every vector. divisor is the target
// number of documents per cluster at the level being formed.
type Selector interface {
	Labels(vectors [][]float64, divisor int) []int
}

// Options gate recursion below learning_objective and learning_unit.
type Options struct {
	CreateLearningUnits bool
	CreateTriples       bool
}

// Builder clusters documents level by level into a Tree.
type Builder struct {
	selector Selector
	specs    [numLevels]LevelSpec
	log      *slog.Logger
}

func NewBuilder(selector Selector, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		selector: selector,
		specs:    DefaultSpecs(),
		log:      log,
	}
}

// SetDivisor overrides the group size used when forming nodes at level l.
func (b *Builder) SetDivisor(l Level, divisor int) {
	if l.Valid() && divisor > 0 {
		b.specs[l].Divisor = divisor
	}
}

// Build creates a single root at start covering every document and splits
// it recursively. Document ids are positions in docs and vectors[i] is the
// embedding of docs[i].
func (b *Builder) Build(docs []Document, vectors [][]float64, start Level, opts Options) (*Tree, *Arena) {
	if !start.Valid() {
		start = LevelCourse
	}
	arena := &Arena{}

	ids := make([]int, len(docs))
	texts := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = i
		texts[i] = d.Text
	}

	root := b.newNode(arena, start, ids, texts)
	b.expand(arena, root, docs, vectors, opts)

	b.log.Debug("tree built",
		"documents", len(docs),
		"records", arena.Len(),
		"start_level", start.String(),
	)
	return &Tree{Roots: []*Node{root}}, arena
}

func (b *Builder) newNode(arena *Arena, level Level, ids []int, texts []string) *Node {
	spec := b.specs[level]
	n := &Node{
		Level:       level,
		DocumentIDs: ids,
		Text:        strings.Join(texts, spec.Separator),
	}
	n.TitleSlot = arena.Append(Record{
		Node:   n,
		Docs:   texts,
		Blooms: spec.Blooms,
	})
	return n
}

// isLeaf reports whether recursion stops at level l under opts.
func (b *Builder) isLeaf(l Level, opts Options) bool {
	switch {
	case !b.specs[l].HasChild:
		return true
	case l == LevelLearningObjective:
		return !opts.CreateLearningUnits
	case l == LevelLearningUnit:
		return !opts.CreateTriples
	}
	return false
}

func (b *Builder) expand(arena *Arena, parent *Node, docs []Document, vectors [][]float64, opts Options) {
	if b.isLeaf(parent.Level, opts) || len(parent.DocumentIDs) == 0 {
		return
	}
	childLevel := b.specs[parent.Level].Child

	vecs := make([][]float64, 0, len(parent.DocumentIDs))
	for _, id := range parent.DocumentIDs {
		if id >= 0 && id < len(vectors) {
			vecs = append(vecs, vectors[id])
		}
	}

	var labels []int
	if len(vecs) == len(parent.DocumentIDs) {
		labels = b.selector.Labels(vecs, b.specs[childLevel].Divisor)
	}
	if len(labels) != len(parent.DocumentIDs) {
		// Missing vectors: keep every document in one child.
		labels = make([]int, len(parent.DocumentIDs))
	}

	// Groups are emitted in order of first appearance.
	groupOf := make(map[int]int)
	var groups [][]int
	for i, id := range parent.DocumentIDs {
		g, ok := groupOf[labels[i]]
		if !ok {
			g = len(groups)
			groupOf[labels[i]] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], id)
	}

	for _, ids := range groups {
		texts := make([]string, len(ids))
		for i, id := range ids {
			texts[i] = docs[id].Text
		}
		child := b.newNode(arena, childLevel, ids, texts)
		parent.Children = append(parent.Children, child)
		b.expand(arena, child, docs, vectors, opts)
	}
}
