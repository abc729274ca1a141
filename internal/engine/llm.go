package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/orchestra-core/orchestra/pkg/models"
)

// LLMConnector sends the task payload as a prompt to the Anthropic Messages
// API and returns the generated text. API transport errors are connector
// errors; a response that stops for a refusal is a business failure.
type LLMConnector struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// LLMConfig contains configuration for the LLM connector.
type LLMConfig struct {
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
	// Model is the Claude model to use.
	Model anthropic.Model
	// MaxTokens caps the generated output; defaults to 4096.
	MaxTokens int64
}

// NewLLMConnector creates an Anthropic-backed connector.
func NewLLMConnector(cfg LLMConfig) (*LLMConnector, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &LLMConnector{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Invoke implements Connector.
func (c *LLMConnector) Invoke(ctx context.Context, task *models.Task) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(task.Payload)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("messages API: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	if resp.StopReason == "refusal" {
		return text, &BusinessError{Detail: "model refused the request"}
	}

	return text, nil
}

// Verify LLMConnector implements Connector at compile time.
var _ Connector = (*LLMConnector)(nil)
