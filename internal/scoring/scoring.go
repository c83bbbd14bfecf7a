// Package scoring turns a task submission into a raw score. A remote
// grader is authoritative when reachable; the local rubric scorer is the
// deterministic fallback.
package scoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/learner"
)

// MaxAnswerLen bounds a single answer. Longer input is treated as an
// invalid submission.
const MaxAnswerLen = 4000

// Submission is what the learner handed in for one task.
type Submission struct {
	TaskID string

	// Answers maps item id to the learner's answer. Missing or blank
	// entries are unanswered.
	Answers map[string]string

	// Level is the learner's CEFR level, passed to the grader as the
	// rubric level.
	Level curriculum.Level

	// Partial marks a draft submitted by a time limit.
	Partial bool
	Elapsed time.Duration
}

// Answered reports whether any item has a non-blank answer.
func (s Submission) Answered() bool {
	for _, a := range s.Answers {
		if strings.TrimSpace(a) != "" {
			return true
		}
	}
	return false
}

func (s Submission) answer(itemID string) string {
	return strings.TrimSpace(s.Answers[itemID])
}

// ScoreResult is the outcome of scoring one submission.
// 0 <= RawScore <= MaxScore always holds.
type ScoreResult struct {
	RawScore int
	MaxScore int
	Items    []learner.ItemScore
	ScoredBy learner.ScoredBy

	// Invalid is set when the submission was rejected and scored zero.
	Invalid bool
	Reason  string
}

// Scorer scores one task submission.
type Scorer interface {
	Score(ctx context.Context, task *curriculum.TaskDefinition, sub Submission) (ScoreResult, error)
}

// BatchEntry pairs a task with its submission for batched grading.
type BatchEntry struct {
	Task       *curriculum.TaskDefinition
	Submission Submission
}

// BatchScorer scores several tasks with one grader round trip.
type BatchScorer interface {
	Scorer
	ScoreBatch(ctx context.Context, entries []BatchEntry) ([]ScoreResult, error)
}

// Validate checks a submission against its task.
func Validate(task *curriculum.TaskDefinition, sub Submission) error {
	if sub.TaskID != "" && sub.TaskID != task.ID {
		return &ErrInvalidSubmission{TaskID: task.ID, Reason: fmt.Sprintf("submission for task %q", sub.TaskID)}
	}
	for id, a := range sub.Answers {
		if _, ok := task.Item(id); !ok {
			return &ErrInvalidSubmission{TaskID: task.ID, Reason: fmt.Sprintf("unknown item %q", id)}
		}
		if len(a) > MaxAnswerLen {
			return &ErrInvalidSubmission{TaskID: task.ID, Reason: fmt.Sprintf("answer for %q exceeds %d bytes", id, MaxAnswerLen)}
		}
	}
	return nil
}

// zeroResult scores every item of task as zero.
func zeroResult(task *curriculum.TaskDefinition, by learner.ScoredBy) ScoreResult {
	res := ScoreResult{MaxScore: task.MaxScore, ScoredBy: by}
	for _, it := range task.Items {
		res.Items = append(res.Items, learner.ItemScore{ItemID: it.ID, Max: it.Points})
	}
	return res
}

// clamp enforces 0 <= RawScore <= MaxScore after summing item scores.
func (r *ScoreResult) clamp() {
	sum := 0
	for _, it := range r.Items {
		sum += it.Score
	}
	r.RawScore = min(max(sum, 0), r.MaxScore)
}
