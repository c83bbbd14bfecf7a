package llm

import "context"

type contextKey string

const (
	purposeKey contextKey = "llm_purpose"
	taskKey    contextKey = "llm_task"
)

// Purpose labels recorded with grading events.
const (
	PurposeGrading      = "grading"
	PurposeBatchGrading = "batch-grading"
)

// WithPurpose attaches a purpose label for event logging.
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return context.WithValue(ctx, purposeKey, purpose)
}

// PurposeFrom returns the purpose label, or "unknown".
func PurposeFrom(ctx context.Context) string {
	if v, ok := ctx.Value(purposeKey).(string); ok {
		return v
	}
	return "unknown"
}

// WithTask attaches the id of the task being graded.
func WithTask(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskKey, taskID)
}

// TaskFrom returns the task id attached by WithTask.
func TaskFrom(ctx context.Context) string {
	v, _ := ctx.Value(taskKey).(string)
	return v
}
