package extract

import (
	"regexp"
	"strings"

	"github.com/dgallion1/topictree/internal/topictree"
)

var injectionPattern = regexp.MustCompile(
	`(?i)(ignore\s+(previous|all|above)|system\s*prompt|you\s+are\s+now|` +
		`act\s+as\s+|pretend\s+|forget\s+(everything|all)|override|` +
		`new\s+instructions)`,
)

const (
	maxSubject   = 120
	maxPredicate = 60
	maxObject    = 200
)

// ValidateTriple trims t in place and reports whether it is usable: every
// field present, within length limits, and free of prompt-injection text.
func ValidateTriple(t *topictree.Triple) bool {
	if t == nil {
		return false
	}
	t.Subject = strings.TrimSpace(t.Subject)
	t.Predicate = strings.TrimSpace(t.Predicate)
	t.Object = strings.TrimSpace(t.Object)

	fields := []struct {
		v   string
		max int
	}{
		{t.Subject, maxSubject},
		{t.Predicate, maxPredicate},
		{t.Object, maxObject},
	}
	for _, f := range fields {
		if f.v == "" || len(f.v) > f.max {
			return false
		}
		if injectionPattern.MatchString(f.v) {
			return false
		}
	}
	return true
}
