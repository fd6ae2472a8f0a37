package titles

import (
	"strconv"

	"github.com/dgallion1/topictree/internal/topictree"
)

// Consolidate removes duplicate titles inside every sub-competency (or,
// when the tree starts below sub-competency, across the roots):
//
//  1. sibling learning objectives with the same title are merged,
//  2. sibling learning units with the same title are merged,
//  3. remaining learning-unit duplicates anywhere in the scope get a
//     " Part-N" suffix in pre-order, the first keeping its bare title.
//
// Every node ends up TitleFinal. Running it twice changes nothing.
func Consolidate(tree *topictree.Tree) {
	if tree == nil {
		return
	}
	if len(tree.Roots) > 0 && tree.Roots[0].Level > topictree.LevelSubCompetency {
		tree.Roots = consolidateScope(tree.Roots)
	} else {
		tree.Walk(func(n, _ *topictree.Node) bool {
			if n.Level != topictree.LevelSubCompetency {
				return n.Level < topictree.LevelSubCompetency
			}
			n.Children = consolidateScope(n.Children)
			return false
		})
	}
	tree.Walk(func(n, _ *topictree.Node) bool {
		n.TitleState = topictree.TitleFinal
		return true
	})
}

// consolidateScope runs the three passes over one scope and returns the
// surviving top-level nodes.
func consolidateScope(nodes []*topictree.Node) []*topictree.Node {
	nodes = mergeSiblings(nodes, topictree.LevelLearningObjective)
	nodes = mergeSiblings(nodes, topictree.LevelLearningUnit)
	for _, n := range nodes {
		if n.Level == topictree.LevelLearningObjective {
			n.Children = mergeSiblings(n.Children, topictree.LevelLearningUnit)
		}
	}
	disambiguateUnits(nodes)
	return nodes
}

// mergeSiblings folds every node at level whose title matches an earlier
// sibling into that sibling. Order of the survivors is preserved.
func mergeSiblings(nodes []*topictree.Node, level topictree.Level) []*topictree.Node {
	first := make(map[string]*topictree.Node)
	out := nodes[:0]
	for _, n := range nodes {
		if n.Level != level {
			out = append(out, n)
			continue
		}
		keep, dup := first[n.Title]
		if !dup {
			first[n.Title] = n
			out = append(out, n)
			continue
		}
		merge(keep, n)
	}
	clear(nodes[len(out):])
	return out
}

func merge(into, from *topictree.Node) {
	into.DocumentIDs = append(into.DocumentIDs, from.DocumentIDs...)
	switch {
	case into.Text == "":
		into.Text = from.Text
	case from.Text != "":
		into.Text += topictree.SeparatorFor(into.Level) + from.Text
	}
	into.Children = append(into.Children, from.Children...)
	into.Triples = append(into.Triples, from.Triples...)
}

func disambiguateUnits(scope []*topictree.Node) {
	taken := make(map[string]bool)
	next := make(map[string]int)
	sub := &topictree.Tree{Roots: scope}
	sub.Walk(func(n, _ *topictree.Node) bool {
		if n.Level != topictree.LevelLearningUnit {
			return n.Level < topictree.LevelLearningUnit
		}
		base := n.Title
		if taken[base] {
			k := max(next[base], 2)
			for taken[partTitle(base, k)] {
				k++
			}
			n.Title = partTitle(base, k)
			next[base] = k + 1
		}
		taken[n.Title] = true
		return false
	})
}

func partTitle(base string, k int) string {
	return base + " Part-" + strconv.Itoa(k)
}
