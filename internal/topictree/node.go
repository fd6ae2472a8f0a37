package topictree

// TitleState tracks how far a node's title has progressed.
type TitleState int

const (
	TitleUnassigned TitleState = iota
	TitleProvisional
	TitleFinal
)

// Document is one source paragraph. ID is its position in the input list.
type Document struct {
	ID   int
	Text string
}

// Triple is a subject/predicate/object fact attached to a triple-level node.
type Triple struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// Node is one group of documents in the hierarchy. A node owns its
// children; DocumentIDs is the union of the children's ids.
type Node struct {
	Level       Level      `json:"level"`
	Title       string     `json:"title"`
	DocumentIDs []int      `json:"document_ids"`
	Text        string     `json:"text"`
	Triples     []Triple   `json:"triples,omitempty"`
	Children    []*Node    `json:"children,omitempty"`
	TitleSlot   int        `json:"-"`
	TitleState  TitleState `json:"-"`
}

// Tree is the engine output: the list of root nodes.
type Tree struct {
	Roots []*Node `json:"roots"`
}

// Walk visits every node in pre-order. parent is nil for roots.
// Returning false from fn skips the node's children.
func (t *Tree) Walk(fn func(n, parent *Node) bool) {
	if t == nil {
		return
	}
	for _, r := range t.Roots {
		walk(r, nil, fn)
	}
}

func walk(n, parent *Node, fn func(n, parent *Node) bool) {
	if !fn(n, parent) {
		return
	}
	for _, c := range n.Children {
		walk(c, n, fn)
	}
}

// Count returns the number of nodes in the tree.
func (t *Tree) Count() int {
	count := 0
	t.Walk(func(*Node, *Node) bool {
		count++
		return true
	})
	return count
}

// CountByLevel returns node counts keyed by level.
func (t *Tree) CountByLevel() map[Level]int {
	counts := make(map[Level]int)
	t.Walk(func(n, _ *Node) bool {
		counts[n.Level]++
		return true
	})
	return counts
}
