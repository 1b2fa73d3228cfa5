package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ignite/promo-digest/internal/domain"
)

// AnthropicExtractor calls the Anthropic Messages API directly via the
// anthropic-sdk-go client, requesting a JSON-shaped reply matching
// domain.ExtractionResult.
type AnthropicExtractor struct {
	client anthropic.Client
	model  string
}

// NewAnthropicExtractor builds an extractor using the given API key and
// model identifier (e.g. "claude-3-5-sonnet-20241022").
func NewAnthropicExtractor(apiKey, model string) *AnthropicExtractor {
	return &AnthropicExtractor{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (a *AnthropicExtractor) Extract(ctx context.Context, subject, from, body string) (domain.ExtractionResult, error) {
	userPrompt := fmt.Sprintf("Subject: %s\nFrom: %s\n\nBody:\n%s\n\nRespond with a single JSON object matching the extraction schema, nothing else.", subject, from, body)

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("llm: anthropic call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	var result domain.ExtractionResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("llm: parse extraction json: %w", err)
	}
	return result, nil
}
