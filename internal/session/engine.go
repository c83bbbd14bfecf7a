// Package session wires scoring, aggregation, routing and storage into
// the Engine that moves one learner through the curriculum.
package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abhisek/cefrquest/internal/aggregate"
	"github.com/abhisek/cefrquest/internal/compat"
	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/gateway"
	"github.com/abhisek/cefrquest/internal/learner"
	"github.com/abhisek/cefrquest/internal/logging"
	"github.com/abhisek/cefrquest/internal/metrics"
	"github.com/abhisek/cefrquest/internal/progression"
	"github.com/abhisek/cefrquest/internal/scoring"
	"github.com/abhisek/cefrquest/internal/store"
	"github.com/abhisek/cefrquest/internal/task"
)

var (
	ErrStepIncomplete = errors.New("step incomplete")
	ErrNotLoaded      = errors.New("engine not loaded")
	ErrNoTask         = errors.New("task not started")
	ErrNoLegacy       = errors.New("legacy keys not configured")
)

// Scorer is satisfied by *scoring.Policy.
type Scorer interface {
	Score(ctx context.Context, t *curriculum.TaskDefinition, sub scoring.Submission) (scoring.ScoreResult, error)
	ScoreBatch(ctx context.Context, entries []scoring.BatchEntry) ([]scoring.ScoreResult, error)
}

// Options wires an Engine. Curriculum, LearnerID, State and Scorer are
// required.
type Options struct {
	Curriculum *curriculum.Curriculum
	LearnerID  string
	State      store.StateRepo
	Scorer     Scorer

	// Router defaults to a non-strict guarded router over Curriculum.
	Router progression.Decider

	// Legacy, when set, mirrors confirmed results to the flat key
	// namespace.
	Legacy *compat.Legacy

	Clock   task.Clock
	Log     *zap.Logger
	Metrics *metrics.Metrics

	// Notify is called after a step is confirmed so an outbox
	// dispatcher can deliver without waiting for its next poll.
	Notify func()

	// OnEvent receives timer-driven outcomes. It runs on the timer's
	// goroutine.
	OnEvent func(Event)
}

// EventKind tags an Event.
type EventKind int

const (
	EventTaskExpired EventKind = iota + 1
	EventStepExpired
)

// Event reports something the engine did on its own because a time limit
// elapsed.
type Event struct {
	Kind    EventKind
	Token   task.Token
	Attempt learner.Attempt // EventTaskExpired
	Outcome *Outcome        // EventStepExpired
	Err     error
}

// Outcome is a routed step.
type Outcome struct {
	Result   learner.StepResult
	Decision progression.Decision
}

// TaskStatus describes one task of the current step.
type TaskStatus struct {
	Task    *curriculum.TaskDefinition
	State   task.State
	Attempt *learner.Attempt
}

type prescored struct {
	answers map[string]string
	result  scoring.ScoreResult
}

// Engine is the progression state machine for one learner.
//
// Lock order: stepMu before mu. Runner methods are never called while
// holding mu because a finalizing runner calls back into the engine.
type Engine struct {
	opts Options
	log  *zap.Logger

	stepMu sync.Mutex

	mu         sync.Mutex
	st         *learner.State
	runners    map[string]*task.Runner
	prescored  map[string]prescored
	stepTimer  task.Timer
	timedVisit string
	stepDue    time.Time
}

// New validates opts and returns an engine. Call Load before use.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Curriculum == nil:
		return nil, errors.New("session: curriculum is required")
	case opts.LearnerID == "":
		return nil, errors.New("session: learner id is required")
	case opts.State == nil:
		return nil, errors.New("session: state repo is required")
	case opts.Scorer == nil:
		return nil, errors.New("session: scorer is required")
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = task.RealClock{}
	}
	if opts.Router == nil {
		opts.Router = progression.NewGuard(progression.NewRouter(opts.Curriculum), false, opts.Log, opts.Metrics)
	}
	return &Engine{
		opts:      opts,
		log:       opts.Log.Named("session").With(logging.Learner(opts.LearnerID)),
		runners:   make(map[string]*task.Runner),
		prescored: make(map[string]prescored),
	}, nil
}

// Curriculum returns the graph the engine runs over.
func (e *Engine) Curriculum() *curriculum.Curriculum { return e.opts.Curriculum }

// Load rebuilds the learner from the store. The node comes from the
// confirmed tier, or the initial node for a new learner. Pending attempts
// of the confirmed visit are replayed; older ones are discarded.
func (e *Engine) Load(ctx context.Context) error {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()

	id := e.opts.LearnerID
	rec, err := e.opts.State.LoadLearner(ctx, id)
	if err != nil {
		return fmt.Errorf("load learner: %w", err)
	}
	st := learner.NewState(id)
	if rec == nil {
		if err := e.opts.State.SaveLearner(ctx, recordOf(st)); err != nil {
			return fmt.Errorf("save new learner: %w", err)
		}
	} else {
		st.Node, st.Level, st.Visit, st.VisitID = rec.Node, rec.Level, rec.Visit, rec.VisitID
		st.UpdatedAt = rec.UpdatedAt
	}
	if !st.Node.IsTerminal() {
		if _, err := e.opts.Curriculum.Step(st.Node); err != nil {
			return fmt.Errorf("stored position: %w", err)
		}
	}

	dropped, err := e.opts.State.DiscardStalePending(ctx, id, st.VisitID)
	if err != nil {
		return err
	}
	if dropped > 0 {
		e.log.Info("discarded stale pending attempts", zap.Int("count", dropped))
	}
	pending, err := e.opts.State.PendingAttempts(ctx, id, st.VisitID)
	if err != nil {
		return err
	}
	for _, a := range pending {
		st.Pending[a.TaskID] = a
	}
	if st.Confirmed, err = e.opts.State.StepResults(ctx, id); err != nil {
		return err
	}

	e.mu.Lock()
	e.st = st
	stale := e.resetVisitLocked()
	e.mu.Unlock()
	abandonAll(stale)

	e.log.Info("learner loaded",
		logging.Node(st.Node.Key()),
		logging.Visit(st.VisitID),
		zap.String("level", st.Level.String()),
		zap.Int("pending", len(st.Pending)),
		zap.Int("confirmed", len(st.Confirmed)))
	return nil
}

// Snapshot returns a copy of the learner state.
func (e *Engine) Snapshot() (learner.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st == nil {
		return learner.State{}, ErrNotLoaded
	}
	cp := *e.st
	cp.Pending = maps.Clone(e.st.Pending)
	cp.Confirmed = append([]learner.StepResult(nil), e.st.Confirmed...)
	return cp, nil
}

// Step returns the definition of the current step.
func (e *Engine) Step() (*curriculum.StepDefinition, curriculum.Node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stepLocked()
}

func (e *Engine) stepLocked() (*curriculum.StepDefinition, curriculum.Node, error) {
	if e.st == nil {
		return nil, curriculum.Node{}, ErrNotLoaded
	}
	node := e.st.Node
	if node.IsTerminal() {
		return nil, node, progression.ErrTerminal
	}
	s, err := e.opts.Curriculum.Step(node)
	return s, node, err
}

// StepRemaining is the time left before the current step is submitted
// on the learner's behalf. It is zero while the step timer is not running.
func (e *Engine) StepRemaining() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stepDue.IsZero() {
		return 0
	}
	return max(e.stepDue.Sub(e.opts.Clock.Now()), 0)
}

// Tasks reports every task of the current step in authored order.
func (e *Engine) Tasks() ([]TaskStatus, error) {
	e.mu.Lock()
	step, _, err := e.stepLocked()
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	runners := maps.Clone(e.runners)
	pending := maps.Clone(e.st.Pending)
	e.mu.Unlock()

	out := make([]TaskStatus, len(step.Tasks))
	for i := range step.Tasks {
		t := &step.Tasks[i]
		out[i] = TaskStatus{Task: t, State: task.Idle}
		if r, ok := runners[t.ID]; ok {
			out[i].State = r.State()
		}
		if a, ok := pending[t.ID]; ok {
			out[i].Attempt = &a
			if out[i].State == task.Idle {
				out[i].State = task.Finalized
			}
		}
	}
	return out, nil
}

// BeginTask presents a task of the current step. Beginning a task that
// already has a runner in this visit replaces it: an unfinished draft is
// discarded, and a new submission will replace the pending attempt.
func (e *Engine) BeginTask(taskID string) (*task.Runner, error) {
	e.mu.Lock()
	r, prev, err := e.beginLocked(taskID, true)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if prev != nil {
		prev.Abandon()
	}
	if err := r.Present(); err != nil {
		return nil, err
	}
	return r, nil
}

func (e *Engine) beginLocked(taskID string, armStep bool) (*task.Runner, *task.Runner, error) {
	step, node, err := e.stepLocked()
	if err != nil {
		return nil, nil, err
	}
	def, ok := step.Task(taskID)
	if !ok {
		return nil, nil, fmt.Errorf("%w %q in %s", curriculum.ErrUnknownTask, taskID, step.ID)
	}

	token := task.Token{NodeKey: node.Key(), VisitID: e.st.VisitID, TaskID: taskID}
	r := task.NewRunner(task.Config{
		Task:      def,
		Token:     token,
		LearnerID: e.opts.LearnerID,
		StepID:    step.ID,
		Level:     e.st.Level,
		Scorer:    &runnerScorer{e: e, token: token},
		Recorder:  task.RecorderFunc(e.record),
		Clock:     e.opts.Clock,
		Log:       e.log.With(logging.Task(taskID)),
		OnTimeout: e.onTaskTimeout,
	})
	prev := e.runners[taskID]
	e.runners[taskID] = r
	if armStep {
		e.armStepTimerLocked(step, node)
	}
	return r, prev, nil
}

// Runner returns the current runner for taskID.
func (e *Engine) Runner(taskID string) (*task.Runner, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runners[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTask, taskID)
	}
	return r, nil
}

// SetAnswer updates the draft of a begun task.
func (e *Engine) SetAnswer(taskID, itemID, answer string) error {
	r, err := e.Runner(taskID)
	if err != nil {
		return err
	}
	return r.SetAnswer(itemID, answer)
}

// SubmitTask scores and records a begun task.
func (e *Engine) SubmitTask(ctx context.Context, taskID string) (learner.Attempt, error) {
	r, err := e.Runner(taskID)
	if err != nil {
		return learner.Attempt{}, err
	}
	return r.Submit(ctx)
}

// AbandonTask leaves a task. Its draft is discarded; an attempt already
// recorded for it in this visit stays pending.
func (e *Engine) AbandonTask(taskID string) {
	e.mu.Lock()
	r, ok := e.runners[taskID]
	delete(e.runners, taskID)
	e.mu.Unlock()
	if ok {
		r.Abandon()
	}
}

// record is the runners' Recorder: it writes the attempt to the pending
// tier. Attempts from a visit that is no longer current are dropped.
func (e *Engine) record(ctx context.Context, a learner.Attempt) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st == nil || a.VisitID != e.st.VisitID || a.NodeKey != e.st.Node.Key() {
		e.log.Debug("dropping attempt from old visit", logging.Task(a.TaskID), logging.Visit(a.VisitID))
		return nil
	}
	if err := e.opts.State.PutPending(ctx, a); err != nil {
		return err
	}
	e.st.Pending[a.TaskID] = a
	return nil
}

// ScoreStep submits every task still being presented in one batch
// grader request.
func (e *Engine) ScoreStep(ctx context.Context) error {
	e.mu.Lock()
	if _, _, err := e.stepLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	level := e.st.Level
	runners := e.orderedRunnersLocked()
	e.mu.Unlock()
	return e.scoreBatch(ctx, level, runners)
}

func (e *Engine) scoreBatch(ctx context.Context, level curriculum.Level, runners []*task.Runner) error {
	var (
		entries []scoring.BatchEntry
		open    []*task.Runner
	)
	for _, r := range runners {
		if r.State() != task.Presenting {
			continue
		}
		entries = append(entries, scoring.BatchEntry{
			Task:       r.Task(),
			Submission: scoring.Submission{TaskID: r.Task().ID, Answers: r.Draft(), Level: level},
		})
		open = append(open, r)
	}
	if len(entries) == 0 {
		return nil
	}

	results, err := e.opts.Scorer.ScoreBatch(ctx, entries)
	if err != nil {
		return fmt.Errorf("score step: %w", err)
	}
	e.mu.Lock()
	for i, r := range open {
		e.prescored[r.Token().String()] = prescored{answers: entries[i].Submission.Answers, result: results[i]}
	}
	e.mu.Unlock()

	for _, r := range open {
		if _, err := r.Submit(ctx); err != nil && !errors.Is(err, task.ErrAbandoned) {
			return err
		}
	}
	return nil
}

// SubmitStep aggregates the current visit's attempts, routes the result
// and confirms it. Batch-graded steps first submit their open tasks
// together. Routing never waits on the results backend.
func (e *Engine) SubmitStep(ctx context.Context) (*Outcome, error) {
	return e.completeStep(ctx, "", false)
}

func (e *Engine) completeStep(ctx context.Context, visitID string, expire bool) (*Outcome, error) {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()

	e.mu.Lock()
	step, node, err := e.stepLocked()
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if visitID != "" && visitID != e.st.VisitID {
		e.mu.Unlock()
		return nil, errStale
	}
	level := e.st.Level
	runners := e.orderedRunnersLocked()
	e.mu.Unlock()

	switch {
	case expire:
		e.expireStep(ctx, step, runners)
	case step.BatchGrading:
		if err := e.scoreBatch(ctx, level, runners); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	in := aggregate.Input{
		Step:      step,
		Node:      node,
		Level:     e.st.Level,
		VisitID:   e.st.VisitID,
		Attempts:  e.st.PendingAttempts(),
		DecidedAt: e.opts.Clock.Now().UTC(),
	}
	e.mu.Unlock()

	res, err := aggregate.Compute(in)
	if err != nil {
		if errors.Is(err, aggregate.ErrIncomplete) {
			return nil, fmt.Errorf("%w: %w", ErrStepIncomplete, err)
		}
		return nil, err
	}
	return e.confirm(ctx, node, res)
}

// expireStep auto-submits open tasks, waits for submissions already being
// scored, and records an empty attempt for every required task that is
// still without one, so the step can be decided.
func (e *Engine) expireStep(ctx context.Context, step *curriculum.StepDefinition, runners []*task.Runner) {
	for _, r := range runners {
		var err error
		switch r.State() {
		case task.Presenting:
			_, err = r.Expire(ctx)
		case task.Submitted, task.Scored:
			_, err = r.Submit(ctx)
		}
		if err != nil {
			e.log.Warn("expire task", logging.Task(r.Task().ID), zap.Error(err))
		}
	}

	for _, t := range step.RequiredTasks() {
		e.mu.Lock()
		_, done := e.st.Pending[t.ID]
		cur := e.runners[t.ID]
		e.mu.Unlock()
		if done {
			continue
		}
		if cur != nil {
			switch cur.State() {
			case task.Submitted, task.Scored, task.Finalized:
				// Its attempt belongs to the learner; never overwrite it.
				continue
			}
		}

		e.mu.Lock()
		r, prev, err := e.beginLocked(t.ID, false)
		e.mu.Unlock()
		if prev != nil {
			prev.Abandon()
		}
		if err == nil {
			err = r.Present()
		}
		if err == nil {
			_, err = r.Expire(ctx)
		}
		if err != nil {
			e.log.Warn("record empty attempt", logging.Task(t.ID), zap.Error(err))
		}
	}
}

// confirm routes res and commits the decision. Callers hold stepMu.
func (e *Engine) confirm(ctx context.Context, node curriculum.Node, res learner.StepResult) (*Outcome, error) {
	d, err := e.opts.Router.Route(node, res)
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", node.Key(), err)
	}

	e.mu.Lock()
	next := store.LearnerRecord{
		LearnerID: e.opts.LearnerID,
		Node:      d.Next,
		Level:     e.st.Level,
		Visit:     e.st.Visit + 1,
		VisitID:   uuid.NewString(),
	}
	e.mu.Unlock()

	msgs, err := gateway.ConfirmationMessages(e.opts.LearnerID, res)
	if err != nil {
		return nil, err
	}
	if err := e.opts.State.ConfirmStep(ctx, store.Confirmation{
		Result:        res,
		Next:          next,
		ClearRemedial: d.ClearRemedial,
		Outbox:        msgs,
	}); err != nil {
		return nil, err
	}

	e.mu.Lock()
	st := e.st
	st.Confirmed = append(st.Confirmed, res)
	if d.ClearRemedial != "" {
		st.Confirmed = dropRemedial(st.Confirmed, d.ClearRemedial)
	}
	st.Node, st.Visit, st.VisitID = next.Node, next.Visit, next.VisitID
	st.Pending = make(map[string]learner.Attempt)
	stale := e.resetVisitLocked()
	e.mu.Unlock()
	abandonAll(stale)

	e.mirror(ctx, res, d)
	e.opts.Metrics.RecordStep(string(node.Track), res.Passed)
	e.log.Info("step routed",
		zap.String("step", res.StepID),
		zap.String("from", node.Key()),
		zap.String("next", d.Next.Key()),
		zap.Int("total", res.TotalScore),
		zap.Int("threshold", res.Threshold),
		zap.Bool("passed", res.Passed))
	if e.opts.Notify != nil {
		e.opts.Notify()
	}
	return &Outcome{Result: res, Decision: d}, nil
}

func (e *Engine) mirror(ctx context.Context, res learner.StepResult, d progression.Decision) {
	if e.opts.Legacy == nil {
		return
	}
	var err error
	if d.ClearRemedial != "" {
		err = e.opts.Legacy.ClearLevel(ctx, d.ClearRemedial)
	} else {
		err = e.opts.Legacy.Mirror(ctx, res)
	}
	if err != nil {
		e.log.Warn("legacy mirror failed", zap.String("step", res.StepID), zap.Error(err))
	}
}

// SetLevel changes the learner's CEFR level and starts a new visit of the
// current node.
func (e *Engine) SetLevel(ctx context.Context, level curriculum.Level) error {
	if !level.Valid() {
		return fmt.Errorf("invalid level %q", level)
	}
	e.stepMu.Lock()
	defer e.stepMu.Unlock()

	e.mu.Lock()
	if e.st == nil {
		e.mu.Unlock()
		return ErrNotLoaded
	}
	rec := recordOf(e.st)
	rec.Level = level
	rec.Visit++
	rec.VisitID = uuid.NewString()
	e.mu.Unlock()

	if err := e.opts.State.SaveLearner(ctx, rec); err != nil {
		return err
	}
	if _, err := e.opts.State.DiscardStalePending(ctx, e.opts.LearnerID, rec.VisitID); err != nil {
		return err
	}

	e.mu.Lock()
	e.st.Level, e.st.Visit, e.st.VisitID = level, rec.Visit, rec.VisitID
	e.st.Pending = make(map[string]learner.Attempt)
	stale := e.resetVisitLocked()
	e.mu.Unlock()
	abandonAll(stale)

	e.log.Info("level changed", zap.String("level", level.String()), logging.Visit(rec.VisitID))
	return nil
}

// Reset removes every trace of the learner, legacy keys included, and
// starts over at the initial node.
func (e *Engine) Reset(ctx context.Context) error {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()

	if err := e.opts.State.ResetLearner(ctx, e.opts.LearnerID); err != nil {
		return err
	}
	if e.opts.Legacy != nil {
		if err := e.opts.Legacy.Clear(ctx); err != nil {
			return err
		}
	}
	st := learner.NewState(e.opts.LearnerID)
	if err := e.opts.State.SaveLearner(ctx, recordOf(st)); err != nil {
		return err
	}

	e.mu.Lock()
	e.st = st
	stale := e.resetVisitLocked()
	e.mu.Unlock()
	abandonAll(stale)

	e.log.Info("learner reset")
	return nil
}

// ImportLegacy replays step results rebuilt from legacy keys through the
// router, starting at the current node. Each legacy step is used at most
// once. Pass/fail is recomputed at the learner's current level. It
// returns how many steps were confirmed.
func (e *Engine) ImportLegacy(ctx context.Context) (int, error) {
	if e.opts.Legacy == nil {
		return 0, ErrNoLegacy
	}
	e.stepMu.Lock()
	defer e.stepMu.Unlock()

	results, err := e.opts.Legacy.Import(ctx, e.opts.LearnerID, "")
	if err != nil {
		return 0, err
	}
	used := make([]bool, len(results))

	n := 0
	for {
		e.mu.Lock()
		step, node, err := e.stepLocked()
		level, visitID := curriculum.Level(""), ""
		if e.st != nil {
			level, visitID = e.st.Level, e.st.VisitID
		}
		e.mu.Unlock()
		if errors.Is(err, progression.ErrTerminal) {
			return n, nil
		}
		if err != nil {
			return n, err
		}

		idx := -1
		for i, r := range results {
			if !used[i] && r.NodeKey == node.Key() {
				idx = i
				break
			}
		}
		if idx < 0 {
			return n, nil
		}
		used[idx] = true

		attempts := make([]learner.Attempt, len(results[idx].Attempts))
		for i, a := range results[idx].Attempts {
			a.VisitID = visitID
			attempts[i] = a
		}
		res, err := aggregate.Compute(aggregate.Input{
			Step:      step,
			Node:      node,
			Level:     level,
			VisitID:   visitID,
			Attempts:  attempts,
			DecidedAt: e.opts.Clock.Now().UTC(),
		})
		if err != nil {
			return n, err
		}
		if _, err := e.confirm(ctx, node, res); err != nil {
			return n, err
		}
		n++
	}
}

// Close stops timers and abandons open tasks.
func (e *Engine) Close() {
	e.mu.Lock()
	stale := e.resetVisitLocked()
	e.mu.Unlock()
	abandonAll(stale)
}

var errStale = errors.New("stale timer")

func (e *Engine) onTaskTimeout(token task.Token) {
	e.mu.Lock()
	r, ok := e.runners[token.TaskID]
	current := ok && e.st != nil && r.Token() == token && token.VisitID == e.st.VisitID
	e.mu.Unlock()
	if !current {
		e.stale(token, "task")
		return
	}

	a, err := r.Expire(context.Background())
	if errors.Is(err, task.ErrAbandoned) || errors.Is(err, task.ErrNotPresenting) {
		e.stale(token, "task")
		return
	}
	e.emit(Event{Kind: EventTaskExpired, Token: token, Attempt: a, Err: err})
}

func (e *Engine) onStepTimeout(token task.Token) {
	out, err := e.completeStep(context.Background(), token.VisitID, true)
	if errors.Is(err, errStale) || errors.Is(err, progression.ErrTerminal) {
		e.stale(token, "step")
		return
	}
	e.emit(Event{Kind: EventStepExpired, Token: token, Outcome: out, Err: err})
}

func (e *Engine) stale(token task.Token, kind string) {
	e.opts.Metrics.RecordStaleTimer()
	e.log.Debug("ignoring stale timer", zap.String("kind", kind), zap.String("token", token.String()))
}

func (e *Engine) emit(ev Event) {
	if ev.Err != nil {
		e.log.Warn("timed submission failed", zap.String("token", ev.Token.String()), zap.Error(ev.Err))
	}
	if e.opts.OnEvent != nil {
		e.opts.OnEvent(ev)
	}
}

func (e *Engine) armStepTimerLocked(step *curriculum.StepDefinition, node curriculum.Node) {
	if step.TimeLimit <= 0 || e.timedVisit == e.st.VisitID {
		return
	}
	token := task.Token{NodeKey: node.Key(), VisitID: e.st.VisitID}
	e.timedVisit = e.st.VisitID
	e.stepDue = e.opts.Clock.Now().Add(step.TimeLimit)
	e.stepTimer = e.opts.Clock.AfterFunc(step.TimeLimit, func() { e.onStepTimeout(token) })
}

// resetVisitLocked stops the step timer and detaches every runner. The
// caller abandons the returned runners after releasing mu.
func (e *Engine) resetVisitLocked() []*task.Runner {
	if e.stepTimer != nil {
		e.stepTimer.Stop()
		e.stepTimer = nil
	}
	e.timedVisit = ""
	e.stepDue = time.Time{}
	out := make([]*task.Runner, 0, len(e.runners))
	for _, r := range e.runners {
		out = append(out, r)
	}
	e.runners = make(map[string]*task.Runner)
	clear(e.prescored)
	return out
}

// orderedRunnersLocked returns current runners in step task order.
func (e *Engine) orderedRunnersLocked() []*task.Runner {
	step, _, err := e.stepLocked()
	if err != nil {
		return nil
	}
	var out []*task.Runner
	for i := range step.Tasks {
		if r, ok := e.runners[step.Tasks[i].ID]; ok {
			out = append(out, r)
		}
	}
	return out
}

func abandonAll(runners []*task.Runner) {
	for _, r := range runners {
		r.Abandon()
	}
}

func dropRemedial(results []learner.StepResult, level curriculum.Level) []learner.StepResult {
	out := results[:0]
	for _, r := range results {
		n, err := r.Node()
		if err == nil && n.Track == curriculum.TrackRemedial && n.Level == level {
			continue
		}
		out = append(out, r)
	}
	return out
}

func recordOf(st *learner.State) store.LearnerRecord {
	return store.LearnerRecord{
		LearnerID: st.LearnerID,
		Node:      st.Node,
		Level:     st.Level,
		Visit:     st.Visit,
		VisitID:   st.VisitID,
	}
}

// runnerScorer serves a batch result computed for its token, falling back
// to the engine's scorer when none exists or the answers changed since.
type runnerScorer struct {
	e     *Engine
	token task.Token
}

func (s *runnerScorer) Score(ctx context.Context, t *curriculum.TaskDefinition, sub scoring.Submission) (scoring.ScoreResult, error) {
	key := s.token.String()
	s.e.mu.Lock()
	p, ok := s.e.prescored[key]
	delete(s.e.prescored, key)
	s.e.mu.Unlock()
	if ok && maps.Equal(p.answers, sub.Answers) {
		return p.result, nil
	}
	return s.e.opts.Scorer.Score(ctx, t, sub)
}
