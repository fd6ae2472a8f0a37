// Package titles picks a title for every node from its ranked candidates
// and then cleans up duplicate titles inside each sub-competency.
package titles

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/dgallion1/topictree/internal/topictree"
)

// DefaultThreshold is the minimum normalized edit distance a child title
// must have from its parent's title.
const DefaultThreshold = 0.35

// fallbackWords is how many leading words of node text form a title when
// no candidates were generated.
const fallbackWords = 8

// DistanceRatio is the character-level Levenshtein distance between a and
// b divided by the longer length in runes. Case counts. It is 0 for two
// empty strings.
func DistanceRatio(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 0
	}
	return float64(levenshtein.ComputeDistance(a, b)) / float64(longest)
}

// Assign sets a provisional title on every unassigned node, top-down.
// Roots take their top candidate. Other nodes take the first candidate
// whose DistanceRatio to the parent title exceeds threshold, or failing
// that the candidate farthest from it. Nodes already carrying a title
// state are left alone.
func Assign(tree *topictree.Tree, arena *topictree.Arena, threshold float64) {
	tree.Walk(func(n, parent *topictree.Node) bool {
		if n.TitleState != topictree.TitleUnassigned {
			return true
		}
		cands := arena.Candidates(n.TitleSlot)
		switch {
		case len(cands) == 0:
			n.Title = fallbackTitle(n.Text)
		case parent == nil:
			n.Title = cands[0]
		default:
			n.Title = pick(cands, parent.Title, threshold)
		}
		n.TitleState = topictree.TitleProvisional
		return true
	})
}

func pick(cands []string, parentTitle string, threshold float64) string {
	best, bestRatio := cands[0], -1.0
	for _, c := range cands {
		r := DistanceRatio(c, parentTitle)
		if r > threshold {
			return c
		}
		if r > bestRatio {
			best, bestRatio = c, r
		}
	}
	return best
}

func fallbackTitle(text string) string {
	text = strings.ReplaceAll(text, "<p>", " ")
	words := strings.Fields(text)
	if len(words) > fallbackWords {
		words = words[:fallbackWords]
	}
	return strings.Join(words, " ")
}
