package scoring

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/learner"
	"github.com/abhisek/cefrquest/internal/metrics"
)

// Policy picks the scorer for a task and falls back to local rules when
// the remote grader is unavailable. Scoring degrades; it never fails
// progression.
type Policy struct {
	remote  BatchScorer
	local   *LocalScorer
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewPolicy creates a policy. remote may be nil for offline play.
func NewPolicy(remote BatchScorer, log *zap.Logger, m *metrics.Metrics) *Policy {
	if log == nil {
		log = zap.NewNop()
	}
	return &Policy{remote: remote, local: NewLocalScorer(), log: log, metrics: m}
}

// Score scores one submission. The only errors returned are context
// errors; everything else degrades to a local or zero score.
func (p *Policy) Score(ctx context.Context, task *curriculum.TaskDefinition, sub Submission) (ScoreResult, error) {
	if res, done := p.precheck(task, sub); done {
		return res, nil
	}
	if !p.useRemote(task) {
		return p.scoreLocal(ctx, task, sub)
	}

	res, err := p.remote.Score(ctx, task, sub)
	if err == nil {
		p.metrics.RecordScore(string(learner.ScoredByRemote))
		return res, nil
	}
	if err := p.recoverable(ctx, err, task.ID); err != nil {
		return ScoreResult{}, err
	}
	return p.scoreLocal(ctx, task, sub)
}

// ScoreBatch scores entries in order, sending every remote-graded entry
// in a single grader request. On fallback every remote entry is scored
// locally.
func (p *Policy) ScoreBatch(ctx context.Context, entries []BatchEntry) ([]ScoreResult, error) {
	results := make([]ScoreResult, len(entries))
	var (
		batch []BatchEntry
		index []int
	)
	for i, e := range entries {
		if res, done := p.precheck(e.Task, e.Submission); done {
			results[i] = res
			continue
		}
		if p.useRemote(e.Task) {
			batch = append(batch, e)
			index = append(index, i)
			continue
		}
		res, err := p.scoreLocal(ctx, e.Task, e.Submission)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}
	if len(batch) == 0 {
		return results, nil
	}

	remote, err := p.remote.ScoreBatch(ctx, batch)
	if err == nil {
		for k, i := range index {
			results[i] = remote[k]
			p.metrics.RecordScore(string(learner.ScoredByRemote))
		}
		return results, nil
	}
	if err := p.recoverable(ctx, err, ""); err != nil {
		return nil, err
	}
	for _, i := range index {
		res, err := p.scoreLocal(ctx, entries[i].Task, entries[i].Submission)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}
	return results, nil
}

// precheck resolves submissions that need no scorer: invalid ones and
// empty drafts.
func (p *Policy) precheck(task *curriculum.TaskDefinition, sub Submission) (ScoreResult, bool) {
	if err := Validate(task, sub); err != nil {
		var inv *ErrInvalidSubmission
		errors.As(err, &inv)
		p.metrics.RecordInvalid()
		p.log.Info("invalid submission scored zero",
			zap.String("task_id", task.ID), zap.String("reason", inv.Reason))
		res := zeroResult(task, learner.ScoredByLocal)
		res.Invalid = true
		res.Reason = inv.Reason
		return res, true
	}
	if !sub.Answered() {
		p.metrics.RecordScore(string(learner.ScoredByLocal))
		return zeroResult(task, learner.ScoredByLocal), true
	}
	return ScoreResult{}, false
}

func (p *Policy) useRemote(task *curriculum.TaskDefinition) bool {
	return p.remote != nil && task.Grading == curriculum.GradingRemote
}

// recoverable returns nil when err can be recovered by local scoring.
func (p *Policy) recoverable(ctx context.Context, err error, taskID string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var unavail *ErrScorerUnavailable
	if !errors.As(err, &unavail) {
		return err
	}
	p.metrics.RecordFallback("unavailable")
	p.log.Warn("remote scorer unavailable, falling back to local rules",
		zap.String("task_id", taskID), zap.String("backend", unavail.Backend), zap.Error(unavail.Err))
	return nil
}

func (p *Policy) scoreLocal(ctx context.Context, task *curriculum.TaskDefinition, sub Submission) (ScoreResult, error) {
	res, err := p.local.Score(ctx, task, sub)
	if err != nil {
		return ScoreResult{}, err
	}
	p.metrics.RecordScore(string(learner.ScoredByLocal))
	return res, nil
}
