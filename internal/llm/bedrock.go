package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/ignite/promo-digest/internal/domain"
)

// bedrockMessage is the single-turn message shape extraction calls need.
type bedrockMessage struct {
	Role    string               `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// BedrockExtractor calls the same extraction model through AWS Bedrock,
// for operators who route all model traffic through their AWS account
// instead of Anthropic's API directly.
type BedrockExtractor struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockExtractor loads the default AWS config for region and wraps a
// bedrockruntime client around the given model ID.
func NewBedrockExtractor(ctx context.Context, region, modelID string) (*BedrockExtractor, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("llm: load AWS config: %w", err)
	}
	return &BedrockExtractor{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

func (b *BedrockExtractor) Extract(ctx context.Context, subject, from, body string) (domain.ExtractionResult, error) {
	userPrompt := fmt.Sprintf("Subject: %s\nFrom: %s\n\nBody:\n%s\n\nRespond with a single JSON object matching the extraction schema, nothing else.", subject, from, body)

	req := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        2048,
		System:           systemPrompt,
		Messages: []bedrockMessage{
			{Role: "user", Content: []bedrockContentBlock{{Type: "text", Text: userPrompt}}},
		},
	}
	reqBody, err := json.Marshal(req)
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("llm: marshal bedrock request: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        reqBody,
	})
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("llm: bedrock invoke: %w", err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("llm: parse bedrock response: %w", err)
	}
	var text string
	for _, c := range resp.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}

	var result domain.ExtractionResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("llm: parse extraction json: %w", err)
	}
	return result, nil
}
