// Package topictree holds the curriculum hierarchy produced by the engine:
// levels, nodes, the title-record arena and the recursive tree builder.
package topictree

import (
	"fmt"
	"strings"
)

// Level is a rank in the curriculum hierarchy.
type Level int

const (
	LevelCourse Level = iota
	LevelCompetency
	LevelSubCompetency
	LevelLearningObjective
	LevelLearningUnit
	LevelTriple
)

const numLevels = int(LevelTriple) + 1

var levelNames = [numLevels]string{
	"course",
	"competency",
	"sub_competency",
	"learning_objective",
	"learning_unit",
	"triple",
}

func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// Valid reports whether l is one of the six known levels.
func (l Level) Valid() bool {
	return l >= LevelCourse && l <= LevelTriple
}

// ParseLevel accepts the snake_case level names used on the wire.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range levelNames {
		if name == s {
			return Level(i), nil
		}
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid level %d", int(l))
	}
	return []byte(levelNames[l]), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// LevelSpec configures how nodes of one level are formed.
type LevelSpec struct {
	Child     Level  // level of this node's children; ignored for leaves
	HasChild  bool   // false only for the bottom level
	Divisor   int    // target documents per node when splitting the parent
	Separator string // joins member document text
	Blooms    bool   // titles use the instructional (verb-phrase) style
}

const (
	paragraphSeparator = "<p>"
	genericSeparator   = "\n"
)

// DefaultSpecs is the per-level configuration table.
func DefaultSpecs() [numLevels]LevelSpec {
	return [numLevels]LevelSpec{
		LevelCourse:            {Child: LevelCompetency, HasChild: true, Divisor: 1, Separator: genericSeparator},
		LevelCompetency:        {Child: LevelSubCompetency, HasChild: true, Divisor: 20, Separator: genericSeparator},
		LevelSubCompetency:     {Child: LevelLearningObjective, HasChild: true, Divisor: 10, Separator: genericSeparator},
		LevelLearningObjective: {Child: LevelLearningUnit, HasChild: true, Divisor: 3, Separator: genericSeparator, Blooms: true},
		LevelLearningUnit:      {Child: LevelTriple, HasChild: true, Divisor: 1, Separator: paragraphSeparator, Blooms: true},
		LevelTriple:            {Divisor: 1, Separator: paragraphSeparator},
	}
}

// SeparatorFor returns the text separator used for nodes at level l.
func SeparatorFor(l Level) string {
	if !l.Valid() {
		return genericSeparator
	}
	return DefaultSpecs()[l].Separator
}
