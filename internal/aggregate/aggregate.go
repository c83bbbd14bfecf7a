// Package aggregate folds a step's attempts into a StepResult and decides
// pass or fail.
package aggregate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/learner"
)

// ErrIncomplete means a required task has no attempt in the visit.
var ErrIncomplete = errors.New("step incomplete")

// Input is everything a step decision depends on.
type Input struct {
	Step     *curriculum.StepDefinition
	Node     curriculum.Node
	Level    curriculum.Level
	VisitID  string
	Attempts []learner.Attempt

	// DecidedAt is stamped on the result unchanged, keeping recomputation
	// over the same input identical.
	DecidedAt time.Time
}

// Select keeps the attempts that belong to step and visit, one per task.
// When a task appears more than once the latest timestamp wins, ties
// broken by attempt id. The result follows the step's task order.
func Select(step *curriculum.StepDefinition, visitID string, attempts []learner.Attempt) []learner.Attempt {
	byTask := make(map[string]learner.Attempt)
	for _, a := range attempts {
		if a.StepID != step.ID || a.VisitID != visitID {
			continue
		}
		if _, ok := step.Task(a.TaskID); !ok {
			continue
		}
		if cur, ok := byTask[a.TaskID]; ok && !newer(a, cur) {
			continue
		}
		byTask[a.TaskID] = a
	}

	out := make([]learner.Attempt, 0, len(byTask))
	for i := range step.Tasks {
		if a, ok := byTask[step.Tasks[i].ID]; ok {
			out = append(out, a)
		}
	}
	return out
}

func newer(a, b learner.Attempt) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.AttemptID > b.AttemptID
}

// Missing lists required tasks without an attempt, in step order.
func Missing(step *curriculum.StepDefinition, selected []learner.Attempt) []string {
	have := make(map[string]bool, len(selected))
	for _, a := range selected {
		have[a.TaskID] = true
	}
	var out []string
	for _, t := range step.RequiredTasks() {
		if !have[t.ID] {
			out = append(out, t.ID)
		}
	}
	return out
}

// Complete reports whether every required task has an attempt.
func Complete(step *curriculum.StepDefinition, visitID string, attempts []learner.Attempt) bool {
	return len(Missing(step, Select(step, visitID, attempts))) == 0
}

// Compute builds the StepResult. The total covers required tasks only;
// bonus scores are reported separately and never affect Passed.
func Compute(in Input) (learner.StepResult, error) {
	selected := Select(in.Step, in.VisitID, in.Attempts)
	if missing := Missing(in.Step, selected); len(missing) > 0 {
		return learner.StepResult{}, fmt.Errorf("%w: %s needs %s", ErrIncomplete, in.Step.ID, strings.Join(missing, ", "))
	}

	res := learner.StepResult{
		StepID:        in.Step.ID,
		NodeKey:       in.Node.Key(),
		Level:         in.Level,
		VisitID:       in.VisitID,
		Attempts:      selected,
		MaxScore:      in.Step.RequiredMax(),
		BonusMaxScore: in.Step.BonusMax(),
		Threshold:     in.Step.ThresholdFor(in.Level),
		DecidedAt:     in.DecidedAt,
	}
	for _, a := range selected {
		task, _ := in.Step.Task(a.TaskID)
		score := min(max(a.RawScore, 0), task.MaxScore)
		if task.Bonus {
			res.BonusScore += score
		} else {
			res.TotalScore += score
		}
	}
	res.Passed = res.TotalScore >= res.Threshold
	return res, nil
}
