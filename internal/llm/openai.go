package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

type openaiAPI struct {
	client *openai.Client
}

// NewOpenAIProvider grades through Chat Completions. BaseURL points it at
// any OpenAI-compatible gateway.
func NewOpenAIProvider(cfg OpenAIConfig) (*HostedProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai API key is required")
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &HostedProvider{
		name:  "openai",
		model: resolveModel(cfg.Model),
		api:   openaiAPI{client: openai.NewClientWithConfig(config)},
	}, nil
}

func (o openaiAPI) complete(ctx context.Context, model string, req Request) (completion, error) {
	chat := openai.ChatCompletionRequest{
		Model:               model,
		MaxCompletionTokens: req.MaxTokens,
	}
	if req.Instructions != "" {
		chat.Messages = append(chat.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.Instructions,
		})
	}
	chat.Messages = append(chat.Messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})
	if req.Schema != nil {
		def, err := json.Marshal(req.Schema.Definition)
		if err != nil {
			return completion{}, fmt.Errorf("marshal schema %s: %w", req.Schema.Name, err)
		}
		chat.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Schema.Name,
				Schema: json.RawMessage(def),
				Strict: true,
			},
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, chat)
	if err != nil {
		return completion{}, err
	}

	c := completion{
		model: resp.Model,
		usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) > 0 {
		c.text = resp.Choices[0].Message.Content
		c.truncated = resp.Choices[0].FinishReason == openai.FinishReasonLength
	}
	return c, nil
}

func (openaiAPI) status(err error) int {
	if code := statusAs(err, func(e *openai.APIError) int { return e.HTTPStatusCode }); code != 0 {
		return code
	}
	return statusAs(err, func(e *openai.RequestError) int { return e.HTTPStatusCode })
}
