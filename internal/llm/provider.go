// Package llm talks to hosted language models that grade free-text
// answers. Providers return structured JSON validated against a schema.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Provider generates a structured completion.
type Provider interface {
	// Generate sends req and returns the model output. When req.Schema is
	// set the provider uses its native structured-output mode and the
	// returned Content has already been validated against the schema.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Name is the provider family: anthropic, openai, gemini or mock.
	Name() string

	// ModelID is the concrete model the provider targets.
	ModelID() string
}

// Request is one grading call: fixed instructions plus the rendered
// answers to grade.
type Request struct {
	Instructions string
	Prompt       string
	Schema       *Schema
	MaxTokens    int
}

// Schema is a named JSON Schema the response must satisfy. Name doubles
// as the cache key for the compiled schema, so it must be unique per
// definition.
type Schema struct {
	Name        string
	Description string
	Definition  map[string]any
}

// Response is the model output.
type Response struct {
	Content json.RawMessage
	Usage   Usage
	Model   string
}

// Usage tracks token consumption for one request.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// modelAliases maps the short names accepted in configuration to dated
// model IDs. Unknown names pass through so full IDs work too.
var modelAliases = map[string]string{
	"claude-haiku":  "claude-haiku-4-5-20251001",
	"claude-sonnet": "claude-sonnet-4-20250514",
	"gpt-mini":      "gpt-4.1-mini",
	"gemini-flash":  "gemini-2.5-flash",
	"gemini-pro":    "gemini-2.5-pro",
}

func resolveModel(name string) string {
	if id, ok := modelAliases[name]; ok {
		return id
	}
	return name
}

// completion is a vendor reply before validation.
type completion struct {
	text      string
	model     string
	truncated bool
	usage     Usage
}

// vendor makes one structured call against a hosted API.
type vendor interface {
	complete(ctx context.Context, model string, req Request) (completion, error)

	// status extracts the HTTP status carried by a vendor error, or 0.
	status(err error) int
}

// HostedProvider grades through a vendor API. Error mapping, truncation
// and schema validation are shared by every vendor.
type HostedProvider struct {
	name  string
	model string
	api   vendor
}

func (p *HostedProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	c, err := p.api.complete(ctx, p.model, req)
	if err != nil {
		if p.api.status(err) == http.StatusTooManyRequests {
			return nil, &ErrRateLimit{Err: err}
		}
		return nil, &ErrProviderUnavailable{Err: err}
	}

	content := json.RawMessage(c.text)
	if c.truncated {
		return nil, &ErrMaxTokensExceeded{Content: content}
	}
	if len(content) == 0 {
		return nil, &ErrInvalidResponse{Err: fmt.Errorf("no text in %s response", p.name)}
	}
	if err := ValidateJSON(req.Schema, content); err != nil {
		return nil, err
	}

	model := c.model
	if model == "" {
		model = p.model
	}
	return &Response{Content: content, Usage: c.usage, Model: model}, nil
}

func (p *HostedProvider) Name() string    { return p.name }
func (p *HostedProvider) ModelID() string { return p.model }

// statusAs returns the status of the first error in err's chain of type T.
func statusAs[T error](err error, code func(T) int) int {
	var target T
	if errors.As(err, &target) {
		return code(target)
	}
	return 0
}
