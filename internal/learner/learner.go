// Package learner defines the learner-facing records produced by the
// progression engine: attempts, step results and the per-learner state.
package learner

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/cefrquest/internal/curriculum"
)

// ScoredBy records which scorer produced an attempt's score.
type ScoredBy string

const (
	ScoredByRemote ScoredBy = "remote"
	ScoredByLocal  ScoredBy = "local"
)

// ItemScore is the outcome for one item of a task.
type ItemScore struct {
	ItemID   string `json:"item_id"`
	Score    int    `json:"score"`
	Max      int    `json:"max"`
	Feedback string `json:"feedback,omitempty"`
}

// Attempt is the immutable record of one finalized task. At most one
// exists per (learner, task, visit).
type Attempt struct {
	AttemptID string            `json:"attempt_id"`
	LearnerID string            `json:"learner_id"`
	TaskID    string            `json:"task_id"`
	StepID    string            `json:"step_id"`
	NodeKey   string            `json:"node_key"`
	VisitID   string            `json:"visit_id"`
	Answers   map[string]string `json:"answers"`
	Partial   bool              `json:"partial,omitempty"`
	Bonus     bool              `json:"bonus,omitempty"`
	RawScore  int               `json:"raw_score"`
	MaxScore  int               `json:"max_score"`
	ScoredBy  ScoredBy          `json:"scored_by"`
	Invalid   bool              `json:"invalid,omitempty"`
	Items     []ItemScore       `json:"items,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// StepResult is the derived outcome of a step visit.
type StepResult struct {
	StepID        string           `json:"step_id"`
	NodeKey       string           `json:"node_key"`
	Level         curriculum.Level `json:"level"`
	VisitID       string           `json:"visit_id"`
	Attempts      []Attempt        `json:"attempts"`
	TotalScore    int              `json:"total_score"`
	MaxScore      int              `json:"max_score"`
	BonusScore    int              `json:"bonus_score"`
	BonusMaxScore int              `json:"bonus_max_score"`
	Threshold     int              `json:"threshold"`
	Passed        bool             `json:"passed"`
	DecidedAt     time.Time        `json:"decided_at"`
}

// Node parses the result's node key.
func (r StepResult) Node() (curriculum.Node, error) {
	return curriculum.ParseNodeKey(r.NodeKey)
}

// Scores maps task id to raw score for every attempt in the result.
func (r StepResult) Scores() map[string]int {
	out := make(map[string]int, len(r.Attempts))
	for _, a := range r.Attempts {
		out[a.TaskID] = a.RawScore
	}
	return out
}

// State is everything the engine knows about one learner. Pending holds
// unconfirmed attempts for the current visit keyed by task id; Confirmed
// holds routed step results in decision order.
type State struct {
	LearnerID string
	Node      curriculum.Node
	Level     curriculum.Level
	Visit     int64
	VisitID   string
	Pending   map[string]Attempt
	Confirmed []StepResult
	UpdatedAt time.Time
}

// NewState returns the initial state for a learner with nothing stored.
func NewState(learnerID string) *State {
	s := &State{
		LearnerID: learnerID,
		Node:      curriculum.Initial(),
		Level:     curriculum.DefaultLevel,
		Pending:   make(map[string]Attempt),
	}
	s.NewVisit()
	return s
}

// NewVisit starts a fresh visit of the current node. Attempts from the
// previous visit no longer count toward the step.
func (s *State) NewVisit() {
	s.Visit++
	s.VisitID = uuid.NewString()
	s.Pending = make(map[string]Attempt)
}

// PendingAttempts returns the pending attempts sorted by task id.
func (s *State) PendingAttempts() []Attempt {
	out := make([]Attempt, 0, len(s.Pending))
	for _, a := range s.Pending {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// LastResult returns the most recent confirmed result for nodeKey.
func (s *State) LastResult(nodeKey string) (StepResult, bool) {
	for i := len(s.Confirmed) - 1; i >= 0; i-- {
		if s.Confirmed[i].NodeKey == nodeKey {
			return s.Confirmed[i], true
		}
	}
	return StepResult{}, false
}
