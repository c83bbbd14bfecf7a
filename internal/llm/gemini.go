package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

type geminiAPI struct {
	models *genai.Models
}

// NewGeminiProvider grades through the Gemini API. The grading schema is
// passed through as JSON Schema rather than converted to genai.Schema.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*HostedProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &HostedProvider{
		name:  "gemini",
		model: resolveModel(cfg.Model),
		api:   geminiAPI{models: client.Models},
	}, nil
}

func (g geminiAPI) complete(ctx context.Context, model string, req Request) (completion, error) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.Instructions != "" {
		config.SystemInstruction = genai.NewContentFromText(req.Instructions, genai.RoleUser)
	}
	if req.Schema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseJsonSchema = req.Schema.Definition
	}

	result, err := g.models.GenerateContent(ctx, model, genai.Text(req.Prompt), config)
	if err != nil {
		return completion{}, err
	}

	c := completion{text: result.Text(), model: result.ModelVersion}
	if len(result.Candidates) > 0 {
		c.truncated = result.Candidates[0].FinishReason == genai.FinishReasonMaxTokens
	}
	if u := result.UsageMetadata; u != nil {
		c.usage = Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return c, nil
}

// status reads genai.APIError, which the SDK returns by value.
func (geminiAPI) status(err error) int {
	return statusAs(err, func(e genai.APIError) int { return e.Code })
}
