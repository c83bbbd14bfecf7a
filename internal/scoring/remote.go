package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/learner"
	"github.com/abhisek/cefrquest/internal/llm"
	"github.com/abhisek/cefrquest/internal/metrics"
)

// RemoteScorer delegates to a Grader. Every grader failure is reported
// as *ErrScorerUnavailable.
type RemoteScorer struct {
	grader  Grader
	metrics *metrics.Metrics
}

// NewRemoteScorer wraps grader. m may be nil.
func NewRemoteScorer(grader Grader, m *metrics.Metrics) *RemoteScorer {
	return &RemoteScorer{grader: grader, metrics: m}
}

func (r *RemoteScorer) Score(ctx context.Context, task *curriculum.TaskDefinition, sub Submission) (ScoreResult, error) {
	results, err := r.ScoreBatch(ctx, []BatchEntry{{Task: task, Submission: sub}})
	if err != nil {
		return ScoreResult{}, err
	}
	return results[0], nil
}

// slot locates one request item within the batch.
type slot struct {
	entry, item int
}

// ScoreBatch grades every answered item of every entry in one request.
// Unanswered items score zero without being sent.
func (r *RemoteScorer) ScoreBatch(ctx context.Context, entries []BatchEntry) ([]ScoreResult, error) {
	var (
		req     GradeRequest
		slots   []slot
		taskIDs []string
	)
	results := make([]ScoreResult, len(entries))
	for i, e := range entries {
		if err := Validate(e.Task, e.Submission); err != nil {
			return nil, err
		}
		results[i] = zeroResult(e.Task, learner.ScoredByRemote)
		taskIDs = append(taskIDs, e.Task.ID)

		level := e.Submission.Level
		if level == "" {
			level = curriculum.DefaultLevel
		}
		for j := range e.Task.Items {
			it := &e.Task.Items[j]
			answer := e.Submission.answer(it.ID)
			if answer == "" {
				results[i].Items[j].Feedback = "unanswered"
				continue
			}
			req.Items = append(req.Items, GradeItem{
				Prompt:           it.Prompt,
				UserAnswer:       answer,
				ExpectedAnswer:   it.Answer,
				ExpectedConcepts: it.Concepts,
				RubricLevel:      string(level),
			})
			slots = append(slots, slot{entry: i, item: j})
		}
	}
	if len(req.Items) == 0 {
		return results, nil
	}

	purpose := llm.PurposeGrading
	if len(entries) > 1 {
		purpose = llm.PurposeBatchGrading
	}
	ctx = llm.WithPurpose(ctx, purpose)
	ctx = llm.WithTask(ctx, strings.Join(taskIDs, ","))

	start := time.Now()
	resp, err := r.grader.Grade(ctx, req)
	r.metrics.ObserveGrader(r.grader.Name(), time.Since(start).Seconds())
	if err != nil {
		return nil, r.unavailable(err)
	}
	if !resp.Success {
		return nil, r.unavailable(errors.New("grader reported failure"))
	}
	if len(resp.Results) != len(req.Items) {
		return nil, r.unavailable(fmt.Errorf("got %d results for %d items", len(resp.Results), len(req.Items)))
	}

	for k, s := range slots {
		got := resp.Results[k]
		if got.Score != 0 && got.Score != 1 {
			return nil, r.unavailable(fmt.Errorf("result %d: score %d out of range", k, got.Score))
		}
		item := &results[s.entry].Items[s.item]
		item.Score = got.Score * item.Max
		item.Feedback = got.Feedback
	}
	for i := range results {
		results[i].clamp()
	}
	return results, nil
}

func (r *RemoteScorer) unavailable(err error) error {
	var u *ErrScorerUnavailable
	if errors.As(err, &u) {
		return err
	}
	return &ErrScorerUnavailable{Backend: r.grader.Name(), Err: err}
}
