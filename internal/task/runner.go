// Package task drives a single task from presentation to a finalized,
// immutable attempt.
package task

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/learner"
	"github.com/abhisek/cefrquest/internal/scoring"
)

// State is the lifecycle position of a task.
type State int

const (
	Idle State = iota
	Presenting
	Submitted
	Scored
	Finalized
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Presenting:
		return "presenting"
	case Submitted:
		return "submitted"
	case Scored:
		return "scored"
	case Finalized:
		return "finalized"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrNotPresenting    = errors.New("task is not being presented")
	ErrAlreadySubmitted = errors.New("task already submitted")
	ErrAbandoned        = errors.New("task abandoned")
	ErrUnknownItem      = errors.New("unknown item")
)

// Token identifies one task within one step visit. Timer callbacks carry
// it so stale callbacks can be recognized and ignored.
type Token struct {
	NodeKey string
	VisitID string
	TaskID  string
}

func (t Token) String() string {
	return t.NodeKey + "#" + t.VisitID + "#" + t.TaskID
}

// Scorer is satisfied by *scoring.Policy.
type Scorer interface {
	Score(ctx context.Context, task *curriculum.TaskDefinition, sub scoring.Submission) (scoring.ScoreResult, error)
}

// Recorder persists a finalized attempt.
type Recorder interface {
	Record(ctx context.Context, a learner.Attempt) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, a learner.Attempt) error

func (f RecorderFunc) Record(ctx context.Context, a learner.Attempt) error { return f(ctx, a) }

// Config wires a Runner.
type Config struct {
	Task      *curriculum.TaskDefinition
	Token     Token
	LearnerID string
	StepID    string
	Level     curriculum.Level

	Scorer   Scorer
	Recorder Recorder
	Clock    Clock
	Log      *zap.Logger

	// OnTimeout is called from the timer goroutine when the task's time
	// limit elapses. The owner decides whether the token is still
	// current and, if so, calls Expire.
	OnTimeout func(Token)
}

// Runner is the state machine for one task in one visit.
type Runner struct {
	mu  sync.Mutex
	cfg Config

	state   State
	draft   map[string]string
	started time.Time
	timer   Timer

	// gen changes on Present and Abandon so an in-flight score can tell
	// whether its result is still wanted.
	gen     int
	done    chan struct{}
	attempt *learner.Attempt
	err     error
}

// NewRunner creates an idle runner.
func NewRunner(cfg Config) *Runner {
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Runner{cfg: cfg}
}

func (r *Runner) Token() Token { return r.cfg.Token }

func (r *Runner) Task() *curriculum.TaskDefinition { return r.cfg.Task }

// State returns the current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Present shows the task, discarding any previous draft and restarting
// the time limit.
func (r *Runner) Present() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Idle && r.state != Presenting {
		return fmt.Errorf("present %s: %w", r.cfg.Task.ID, ErrAlreadySubmitted)
	}
	r.stopTimer()
	r.gen++
	r.state = Presenting
	r.draft = make(map[string]string)
	r.started = r.cfg.Clock.Now()
	r.err = nil

	if limit := r.cfg.Task.TimeLimit; limit > 0 && r.cfg.OnTimeout != nil {
		token := r.cfg.Token
		r.timer = r.cfg.Clock.AfterFunc(limit, func() { r.cfg.OnTimeout(token) })
	}
	return nil
}

// SetAnswer records the draft answer for one item.
func (r *Runner) SetAnswer(itemID, answer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Presenting {
		return ErrNotPresenting
	}
	if _, ok := r.cfg.Task.Item(itemID); !ok {
		return fmt.Errorf("%w %q", ErrUnknownItem, itemID)
	}
	r.draft[itemID] = answer
	return nil
}

// Draft returns a copy of the current answers.
func (r *Runner) Draft() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.draft)
}

// Remaining is the time left before auto-submit, or zero when the task
// is untimed or no longer presenting.
func (r *Runner) Remaining() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	limit := r.cfg.Task.TimeLimit
	if limit <= 0 || r.state != Presenting {
		return 0
	}
	return max(limit-r.cfg.Clock.Now().Sub(r.started), 0)
}

// Submit scores the draft and finalizes exactly one attempt. Calling it
// again, concurrently or later, returns the same attempt.
func (r *Runner) Submit(ctx context.Context) (learner.Attempt, error) {
	return r.submit(ctx, false)
}

// Expire auto-submits the current draft as a partial attempt.
func (r *Runner) Expire(ctx context.Context) (learner.Attempt, error) {
	return r.submit(ctx, true)
}

func (r *Runner) submit(ctx context.Context, partial bool) (learner.Attempt, error) {
	r.mu.Lock()
	switch r.state {
	case Idle:
		r.mu.Unlock()
		return learner.Attempt{}, ErrNotPresenting
	case Finalized:
		defer r.mu.Unlock()
		return *r.attempt, nil
	case Scored:
		defer r.mu.Unlock()
		return r.finalize(ctx)
	case Submitted:
		done := r.done
		r.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return learner.Attempt{}, ctx.Err()
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.outcome()
	}

	r.state = Submitted
	r.stopTimer()
	done := make(chan struct{})
	r.done = done
	gen := r.gen
	sub := scoring.Submission{
		TaskID:  r.cfg.Task.ID,
		Answers: maps.Clone(r.draft),
		Level:   r.cfg.Level,
		Partial: partial,
		Elapsed: r.cfg.Clock.Now().Sub(r.started),
	}
	r.mu.Unlock()

	res, err := r.cfg.Scorer.Score(ctx, r.cfg.Task, sub)

	r.mu.Lock()
	defer r.mu.Unlock()
	defer close(done)

	if r.gen != gen {
		r.cfg.Log.Debug("dropping score for abandoned task", zap.String("token", r.cfg.Token.String()))
		return learner.Attempt{}, ErrAbandoned
	}
	if err != nil {
		r.state = Presenting
		r.err = fmt.Errorf("score %s: %w", r.cfg.Task.ID, err)
		return learner.Attempt{}, r.err
	}

	r.attempt = &learner.Attempt{
		AttemptID: uuid.NewString(),
		LearnerID: r.cfg.LearnerID,
		TaskID:    r.cfg.Task.ID,
		StepID:    r.cfg.StepID,
		NodeKey:   r.cfg.Token.NodeKey,
		VisitID:   r.cfg.Token.VisitID,
		Answers:   sub.Answers,
		Partial:   partial,
		Bonus:     r.cfg.Task.Bonus,
		RawScore:  res.RawScore,
		MaxScore:  res.MaxScore,
		ScoredBy:  res.ScoredBy,
		Invalid:   res.Invalid,
		Items:     res.Items,
		Duration:  sub.Elapsed,
		Timestamp: r.cfg.Clock.Now().UTC(),
	}
	r.state = Scored
	return r.finalize(ctx)
}

// finalize records the scored attempt. A failed write leaves the runner
// in Scored so the next Submit retries with the same attempt id.
func (r *Runner) finalize(ctx context.Context) (learner.Attempt, error) {
	if err := r.cfg.Recorder.Record(ctx, *r.attempt); err != nil {
		r.err = fmt.Errorf("record attempt: %w", err)
		return learner.Attempt{}, r.err
	}
	r.state = Finalized
	r.err = nil
	return *r.attempt, nil
}

// outcome reports what happened to a submission another caller started.
func (r *Runner) outcome() (learner.Attempt, error) {
	switch {
	case r.state == Finalized:
		return *r.attempt, nil
	case r.err != nil:
		return learner.Attempt{}, r.err
	}
	return learner.Attempt{}, ErrAbandoned
}

// Abandon discards the draft. An in-flight score is not cancelled; its
// result is dropped. It reports false when the task was already
// finalized.
func (r *Runner) Abandon() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Finalized {
		return false
	}
	r.stopTimer()
	r.gen++
	r.state = Idle
	r.draft = nil
	return true
}

func (r *Runner) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
