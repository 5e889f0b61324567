package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Level is an ordinal CEFR proficiency class. Its integer value is the index
// into every ProbabilityDistribution produced by a prediction source, so the
// ordering A1 < A2 < B1 < B2 < C is significant for tie-breaking.
type Level int

// The five classes the trained models emit. C1 and C2 share the top class.
const (
	LevelA1 Level = iota
	LevelA2
	LevelB1
	LevelB2
	LevelC
)

// NumLevels is the number of classes every distribution must cover.
const NumLevels = 5

var levelNames = [NumLevels]string{"A1", "A2", "B1", "B2", "C"}

// String returns the CEFR name of the level, or "Level(n)" for values outside
// the known scale.
func (l Level) String() string {
	if l.Valid() {
		return levelNames[l]
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// Valid reports whether l is one of the five known classes.
func (l Level) Valid() bool { return l >= 0 && l < NumLevels }

// InRange reports whether l indexes a distribution with n classes.
func (l Level) InRange(n int) bool { return l >= 0 && int(l) < n }

// ParseLevel converts a label as emitted by a model back into a Level.
// Accepted forms are the CEFR names (A1, A2, B1, B2, C, C1, C2), a bare class
// index ("3"), and the transformer convention "LABEL_3". Matching is case
// insensitive.
func ParseLevel(s string) (Level, error) {
	raw := strings.ToUpper(strings.TrimSpace(s))
	switch raw {
	case "A1":
		return LevelA1, nil
	case "A2":
		return LevelA2, nil
	case "B1":
		return LevelB1, nil
	case "B2":
		return LevelB2, nil
	case "C", "C1", "C2":
		return LevelC, nil
	}

	idx := strings.TrimPrefix(raw, "LABEL_")
	n, err := strconv.Atoi(idx)
	if err != nil {
		return 0, fmt.Errorf("unknown level label %q", s)
	}
	l := Level(n)
	if !l.Valid() {
		return 0, fmt.Errorf("level index %d out of range [0,%d)", n, NumLevels)
	}
	return l, nil
}
