package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/abhisek/cefrquest/internal/llm"
)

// LLMGraderConfig holds model parameters for grading.
type LLMGraderConfig struct {
	MaxTokens int
}

// DefaultLLMGraderConfig returns sensible defaults.
func DefaultLLMGraderConfig() LLMGraderConfig {
	return LLMGraderConfig{MaxTokens: 1024}
}

// LLMGrader grades answers with a hosted model instead of a grading
// service.
type LLMGrader struct {
	provider llm.Provider
	cfg      LLMGraderConfig
}

// NewLLMGrader creates a model-backed grader.
func NewLLMGrader(provider llm.Provider, cfg LLMGraderConfig) *LLMGrader {
	return &LLMGrader{provider: provider, cfg: cfg}
}

func (g *LLMGrader) Name() string { return "llm:" + g.provider.Name() }

type llmGradeOutput struct {
	Results []GradeResult `json:"results"`
}

func (g *LLMGrader) Grade(ctx context.Context, req GradeRequest) (*GradeResponse, error) {
	prompt, err := buildGradeMessage(req)
	if err != nil {
		return nil, fmt.Errorf("build grading prompt: %w", err)
	}

	resp, err := g.provider.Generate(ctx, llm.Request{
		Instructions: gradeSystemPrompt,
		Prompt:       prompt,
		Schema:       gradeResultsSchema,
		MaxTokens:    g.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM grading failed: %w", err)
	}

	var out llmGradeOutput
	if err := json.Unmarshal(resp.Content, &out); err != nil {
		return nil, fmt.Errorf("parse grading response: %w", err)
	}
	return &GradeResponse{Success: true, Results: out.Results}, nil
}

const gradeSystemPrompt = `You grade short English answers written by language learners.

Instructions:
- Grade each numbered answer independently and return results in the same order.
- Score 1 when the answer is acceptable for the stated CEFR level, otherwise 0.
- When expected concepts are listed, an acceptable answer mentions enough of them in the learner's own words.
- Do not penalize minor spelling mistakes below B2.
- Keep feedback to one short sentence addressed to the learner.`

var gradeUserTemplate = template.Must(template.New("grade").Parse(`{{range $i, $it := .Items}}Answer {{$i}} (level {{$it.RubricLevel}})
Prompt: {{$it.Prompt}}
{{if $it.ExpectedAnswer}}Expected answer: {{$it.ExpectedAnswer}}
{{end}}{{if $it.ExpectedConcepts}}Expected concepts: {{range $j, $c := $it.ExpectedConcepts}}{{if $j}}, {{end}}{{$c}}{{end}}
{{end}}Learner's answer: {{$it.UserAnswer}}

{{end}}`))

func buildGradeMessage(req GradeRequest) (string, error) {
	var buf bytes.Buffer
	if err := gradeUserTemplate.Execute(&buf, req); err != nil {
		return "", err
	}
	return buf.String(), nil
}
