package scoring

import "fmt"

// ErrScorerUnavailable means the remote grader could not produce a usable
// result: transport failure, non-2xx, malformed body, success=false or a
// result count mismatch. The Policy recovers from it locally.
type ErrScorerUnavailable struct {
	Backend string
	Err     error
}

func (e *ErrScorerUnavailable) Error() string {
	return fmt.Sprintf("scorer %s unavailable: %v", e.Backend, e.Err)
}

func (e *ErrScorerUnavailable) Unwrap() error { return e.Err }

// ErrInvalidSubmission describes a submission that cannot be scored.
// It is recorded on the ScoreResult and never surfaced to the learner.
type ErrInvalidSubmission struct {
	TaskID string
	Reason string
}

func (e *ErrInvalidSubmission) Error() string {
	return fmt.Sprintf("invalid submission for %s: %s", e.TaskID, e.Reason)
}
