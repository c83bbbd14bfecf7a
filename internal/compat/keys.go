// Package compat maps progression state onto the flat legacy session
// keys older clients read and write:
//
//	phase{P}_step{S}_task{T}_score
//	phase{P}_step{S}_total_score
//	phase{P}_step{S}_passed
//	remedial_step{S}_level{L}_task{T}_score
//	remedial_step{S}_level{L}_total_score
//	remedial_step{S}_level{L}_passed
//
// Task numbers are 1-based positions within the step.
package compat

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/abhisek/cefrquest/internal/curriculum"
)

// Field is the kind of value a key holds.
type Field string

const (
	FieldTaskScore  Field = "score"
	FieldTotalScore Field = "total_score"
	FieldPassed     Field = "passed"
)

// Key is a parsed legacy key.
type Key struct {
	Node  curriculum.Node
	Task  int // 1-based; zero for step-level fields
	Field Field
}

func (k Key) stepPart() string {
	if k.Node.Track == curriculum.TrackRemedial {
		return fmt.Sprintf("remedial_step%d_level%s", k.Node.Step, k.Node.Level)
	}
	return fmt.Sprintf("phase%d_step%d", k.Node.Phase, k.Node.Step)
}

func (k Key) String() string {
	if k.Field == FieldTaskScore {
		return fmt.Sprintf("%s_task%d_score", k.stepPart(), k.Task)
	}
	return k.stepPart() + "_" + string(k.Field)
}

// TaskKey is the key for the score of task number task at node.
func TaskKey(n curriculum.Node, task int) Key {
	return Key{Node: n, Task: task, Field: FieldTaskScore}
}

// TotalKey is the key for the step total at node.
func TotalKey(n curriculum.Node) Key {
	return Key{Node: n, Field: FieldTotalScore}
}

// PassedKey is the key for the pass flag at node.
func PassedKey(n curriculum.Node) Key {
	return Key{Node: n, Field: FieldPassed}
}

var (
	mainKeyRe     = regexp.MustCompile(`^phase(\d+)_step(\d+)_(?:task(\d+)_score|total_score|passed)$`)
	remedialKeyRe = regexp.MustCompile(`^remedial_step(\d+)_level([A-C][12])_(?:task(\d+)_score|total_score|passed)$`)
)

// ParseKey parses a legacy key.
func ParseKey(s string) (Key, error) {
	var (
		k Key
		m []string
	)
	if m = mainKeyRe.FindStringSubmatch(s); m != nil {
		p, _ := strconv.Atoi(m[1])
		st, _ := strconv.Atoi(m[2])
		k.Node = curriculum.Main(p, st)
	} else if m = remedialKeyRe.FindStringSubmatch(s); m != nil {
		st, _ := strconv.Atoi(m[1])
		level, err := curriculum.ParseLevel(m[2])
		if err != nil {
			return Key{}, fmt.Errorf("legacy key %q: %w", s, err)
		}
		k.Node = curriculum.Remedial(level, st)
	} else {
		return Key{}, fmt.Errorf("unrecognized legacy key %q", s)
	}

	switch {
	case m[3] != "":
		k.Task, _ = strconv.Atoi(m[3])
		k.Field = FieldTaskScore
	case strings.HasSuffix(s, "_passed"):
		k.Field = FieldPassed
	default:
		k.Field = FieldTotalScore
	}
	if k.Node.Step < 1 || (k.Node.Track == curriculum.TrackMain && k.Node.Phase < 1) ||
		(k.Field == FieldTaskScore && k.Task < 1) {
		return Key{}, fmt.Errorf("legacy key %q: numbers are 1-based", s)
	}
	return k, nil
}
