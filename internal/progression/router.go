// Package progression decides where a learner goes after a step.
package progression

import (
	"errors"
	"fmt"

	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/learner"
)

// ErrTerminal is returned when routing from the complete node.
var ErrTerminal = errors.New("curriculum already complete")

// Decision is the routing outcome for one StepResult.
type Decision struct {
	From   curriculum.Node
	Next   curriculum.Node
	Passed bool

	// ClearRemedial names the level whose confirmed remedial results must
	// be dropped before Next is entered. Empty when nothing is cleared.
	ClearRemedial curriculum.Level
}

// Router is a pure function over the curriculum graph: the same node and
// result always produce the same Decision.
type Router struct {
	cur *curriculum.Curriculum
}

// NewRouter creates a router for c.
func NewRouter(c *curriculum.Curriculum) *Router {
	return &Router{cur: c}
}

// Route returns the next node after res was decided at from.
//
//   - main, passed: next step, crossing phases, then complete
//   - main, failed: step 1 of the remedial track for res.Level
//   - remedial, failed: step 1 of the same track, clearing its results
//   - remedial, passed: next remedial step, or complete after the last
func (r *Router) Route(from curriculum.Node, res learner.StepResult) (Decision, error) {
	if from.IsTerminal() {
		return Decision{}, ErrTerminal
	}
	if res.NodeKey != from.Key() {
		return Decision{}, fmt.Errorf("route: result for %s decided at %s", res.NodeKey, from.Key())
	}
	if _, err := r.cur.Step(from); err != nil {
		return Decision{}, fmt.Errorf("route: %w", err)
	}

	d := Decision{From: from, Passed: res.Passed}
	switch from.Track {
	case curriculum.TrackMain:
		if res.Passed {
			d.Next = r.cur.NextMain(from)
			return d, nil
		}
		if !res.Level.Valid() {
			return Decision{}, fmt.Errorf("route: invalid level %q", res.Level)
		}
		if _, ok := r.cur.Track(res.Level); !ok {
			return Decision{}, fmt.Errorf("route: no remedial track for %s", res.Level)
		}
		d.Next = curriculum.Remedial(res.Level, 1)

	case curriculum.TrackRemedial:
		if !res.Passed {
			d.Next = curriculum.Remedial(from.Level, 1)
			d.ClearRemedial = from.Level
			return d, nil
		}
		if next, ok := r.cur.NextRemedial(from); ok {
			d.Next = next
		} else {
			d.Next = curriculum.Complete()
		}
	}
	return d, nil
}
