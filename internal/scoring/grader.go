package scoring

import (
	"context"

	"github.com/abhisek/cefrquest/internal/llm"
)

// GradeItem is one answer sent to the external grader.
type GradeItem struct {
	Prompt           string   `json:"prompt"`
	UserAnswer       string   `json:"userAnswer"`
	ExpectedAnswer   string   `json:"expectedAnswer,omitempty"`
	ExpectedConcepts []string `json:"expectedConcepts,omitempty"`
	RubricLevel      string   `json:"rubricLevel"`
}

// GradeRequest is a batched grading call.
type GradeRequest struct {
	Items []GradeItem `json:"items"`
}

// GradeResult is the grader's verdict on one item.
type GradeResult struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback,omitempty"`
}

// GradeResponse is the grader reply. Results line up with the request
// items by index.
type GradeResponse struct {
	Success    bool          `json:"success"`
	Results    []GradeResult `json:"results"`
	TotalScore *int          `json:"total_score,omitempty"`
}

// Grader is the external free-text grading service.
type Grader interface {
	Grade(ctx context.Context, req GradeRequest) (*GradeResponse, error)

	// Name identifies the backend in logs and grading events.
	Name() string
}

var resultItemSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"score":    map[string]any{"type": "integer", "enum": []any{0, 1}},
		"feedback": map[string]any{"type": "string"},
	},
	"required": []any{"score"},
}

// GradeResponseSchema validates HTTP grader replies.
var GradeResponseSchema = &llm.Schema{
	Name:        "grade-response",
	Description: "Batched grading reply",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"success":     map[string]any{"type": "boolean"},
			"results":     map[string]any{"type": "array", "items": resultItemSchema},
			"total_score": map[string]any{"type": "integer", "minimum": 0},
		},
		"required": []any{"success", "results"},
	},
}

// gradeResultsSchema is the structured output requested from a model.
var gradeResultsSchema = &llm.Schema{
	Name:        "grade-results",
	Description: "One score (0 or 1) and a short feedback line per answer, in order",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"results": map[string]any{"type": "array", "items": resultItemSchema},
		},
		"required": []any{"results"},
	},
}
