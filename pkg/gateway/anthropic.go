package gateway

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
)

// AnthropicBackend implements Backend using the Anthropic API.
type AnthropicBackend struct {
	client    anthropic.Client
	maxTokens int64
}

// NewAnthropicBackend creates an Anthropic backend. Credentials come from
// the environment (ANTHROPIC_API_KEY).
func NewAnthropicBackend(maxTokens int64) *AnthropicBackend {
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return &AnthropicBackend{
		client:    anthropic.NewClient(),
		maxTokens: maxTokens,
	}
}

// Complete sends a prompt to the given Claude model and returns the
// response text.
func (c *AnthropicBackend) Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Type: "text", Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in response")
}
