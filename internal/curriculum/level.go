package curriculum

import (
	"fmt"
	"strings"
)

// Level is a CEFR proficiency level.
type Level string

const (
	A1 Level = "A1"
	A2 Level = "A2"
	B1 Level = "B1"
	B2 Level = "B2"
	C1 Level = "C1"
)

// Levels lists every supported level from lowest to highest.
var Levels = []Level{A1, A2, B1, B2, C1}

// DefaultLevel is the placement for a learner with no stored state.
const DefaultLevel = A1

// ParseLevel parses a level name case-insensitively.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if l.Valid() {
		return l, nil
	}
	return "", fmt.Errorf("unknown CEFR level %q (want one of A1, A2, B1, B2, C1)", s)
}

// Valid reports whether l is one of the five supported levels.
func (l Level) Valid() bool {
	for _, v := range Levels {
		if v == l {
			return true
		}
	}
	return false
}

// Rank returns the zero-based position of l in Levels, or -1.
func (l Level) Rank() int {
	for i, v := range Levels {
		if v == l {
			return i
		}
	}
	return -1
}

func (l Level) String() string { return string(l) }
