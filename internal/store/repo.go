package store

import (
	"context"
	"time"

	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/learner"
)

// QueryOpts configures event queries with filtering and pagination.
type QueryOpts struct {
	Limit  int       // max results (0 = unlimited)
	After  int64     // sequence > After
	Before int64     // sequence < Before
	From   time.Time // timestamp >= From
	To     time.Time // timestamp <= To
}

// LearnerRecord is the confirmed progression pointer.
type LearnerRecord struct {
	LearnerID string
	Node      curriculum.Node
	Level     curriculum.Level
	Visit     int64
	VisitID   string
	UpdatedAt time.Time
}

// Confirmation is everything written atomically when a step is routed.
type Confirmation struct {
	Result learner.StepResult

	// Next is the learner pointer after routing.
	Next LearnerRecord

	// ClearRemedial, when set, drops every confirmed remedial result for
	// that level, including Result.
	ClearRemedial curriculum.Level

	// Outbox entries enqueued in the same transaction.
	Outbox []OutboxMessage
}

// StateRepo persists the two-tier learner state.
type StateRepo interface {
	// LoadLearner returns nil, nil when nothing is stored.
	LoadLearner(ctx context.Context, learnerID string) (*LearnerRecord, error)
	SaveLearner(ctx context.Context, rec LearnerRecord) error

	// PutPending upserts the attempt keyed by (learner, visit, task).
	PutPending(ctx context.Context, a learner.Attempt) error
	PendingAttempts(ctx context.Context, learnerID, visitID string) ([]learner.Attempt, error)

	// DiscardStalePending deletes pending attempts whose visit differs
	// from keepVisitID and returns how many were removed.
	DiscardStalePending(ctx context.Context, learnerID, keepVisitID string) (int, error)
	DiscardPendingTask(ctx context.Context, learnerID, visitID, taskID string) error

	// ConfirmStep records a routed result, moves the learner pointer,
	// clears pending attempts and enqueues outbox messages atomically.
	ConfirmStep(ctx context.Context, c Confirmation) error

	StepResults(ctx context.Context, learnerID string) ([]learner.StepResult, error)
	ClearRemedialResults(ctx context.Context, learnerID string, level curriculum.Level) (int, error)

	// ResetLearner removes every trace of the learner except the event log.
	ResetLearner(ctx context.Context, learnerID string) error
}

// GradingEventData captures one remote grading call.
type GradingEventData struct {
	Backend      string
	Model        string
	Purpose      string
	TaskID       string
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	Success      bool
	ErrorMessage string
	RequestBody  string
	ResponseBody string
}

// GradingEvent is a recorded GradingEventData.
type GradingEvent struct {
	Sequence  int64
	Timestamp time.Time
	GradingEventData
}

// EventRepo is the append-only grading event log.
type EventRepo interface {
	AppendGradingEvent(ctx context.Context, data GradingEventData) error

	// QueryGradingEvents returns events newest first.
	QueryGradingEvents(ctx context.Context, opts QueryOpts) ([]GradingEvent, error)

	// GetGradingEvent returns nil, nil when seq does not exist.
	GetGradingEvent(ctx context.Context, seq int64) (*GradingEvent, error)
}

// Outbox message kinds.
const (
	OutboxAttempt = "attempt"
	OutboxStep    = "step"
)

// OutboxMessage is a backend write to deliver eventually.
type OutboxMessage struct {
	LearnerID      string
	Kind           string
	IdempotencyKey string
	Payload        []byte
}

// OutboxEntry is a stored OutboxMessage with its delivery bookkeeping.
type OutboxEntry struct {
	ID int64
	OutboxMessage
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DeliveredAt   time.Time
}

// OutboxRepo is a durable queue of backend writes.
type OutboxRepo interface {
	// Enqueue ignores messages whose idempotency key is already queued.
	Enqueue(ctx context.Context, msgs ...OutboxMessage) error

	// Due returns undelivered entries whose retry time has passed, oldest
	// first.
	Due(ctx context.Context, now time.Time, limit int) ([]OutboxEntry, error)

	MarkDelivered(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, errMsg string, next time.Time) error

	// Undelivered counts entries still waiting.
	Undelivered(ctx context.Context) (int, error)
}

// KV is a flat string namespace for legacy session keys.
type KV interface {
	// Get reports ok=false for a missing key.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error

	// Keys lists keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
