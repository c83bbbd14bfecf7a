package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/learner"
	"github.com/abhisek/cefrquest/internal/store"
)

// stepEnvelope is what a step outbox entry stores: the request plus the
// local decision it is cross-checked against.
type stepEnvelope struct {
	Request    StepPayload `json:"request"`
	Passed     bool        `json:"passed"`
	TotalScore int         `json:"total_score"`
	Threshold  int         `json:"threshold"`
}

// AttemptKey is the idempotency key of an attempt message.
func AttemptKey(attemptID string) string {
	return "attempt/" + attemptID
}

// StepKey is the idempotency key of a step message. One step visit is
// submitted at most once.
func StepKey(learnerID, stepID, visitID string) string {
	return fmt.Sprintf("step/%s/%s/%s", learnerID, stepID, visitID)
}

// AttemptMessage builds the outbox message logging a.
func AttemptMessage(level curriculum.Level, a learner.Attempt) (store.OutboxMessage, error) {
	p := AttemptPayload{
		Level:     level.String(),
		Task:      a.TaskID,
		Step:      a.StepID,
		Score:     a.RawScore,
		MaxScore:  a.MaxScore,
		Completed: !a.Partial,
	}
	if a.Duration > 0 {
		secs := int64(a.Duration.Seconds())
		p.TimeTaken = &secs
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return store.OutboxMessage{}, fmt.Errorf("marshal attempt %s: %w", a.AttemptID, err)
	}
	return store.OutboxMessage{
		LearnerID:      a.LearnerID,
		Kind:           store.OutboxAttempt,
		IdempotencyKey: AttemptKey(a.AttemptID),
		Payload:        raw,
	}, nil
}

// StepMessage builds the outbox message submitting res.
func StepMessage(learnerID string, res learner.StepResult) (store.OutboxMessage, error) {
	env := stepEnvelope{
		Request: StepPayload{
			Step:   res.StepID,
			Level:  res.Level.String(),
			Scores: res.Scores(),
		},
		Passed:     res.Passed,
		TotalScore: res.TotalScore,
		Threshold:  res.Threshold,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return store.OutboxMessage{}, fmt.Errorf("marshal step %s: %w", res.StepID, err)
	}
	return store.OutboxMessage{
		LearnerID:      learnerID,
		Kind:           store.OutboxStep,
		IdempotencyKey: StepKey(learnerID, res.StepID, res.VisitID),
		Payload:        raw,
	}, nil
}

// ConfirmationMessages returns the messages to enqueue when res is routed:
// one per attempt, then the step submission.
func ConfirmationMessages(learnerID string, res learner.StepResult) ([]store.OutboxMessage, error) {
	out := make([]store.OutboxMessage, 0, len(res.Attempts)+1)
	for _, a := range res.Attempts {
		m, err := AttemptMessage(res.Level, a)
		if err != nil {
			return nil, err
		}
		m.LearnerID = learnerID
		out = append(out, m)
	}
	m, err := StepMessage(learnerID, res)
	if err != nil {
		return nil, err
	}
	return append(out, m), nil
}
