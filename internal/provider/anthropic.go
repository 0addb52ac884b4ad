package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicConfig holds configuration for the Anthropic backend.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// AnthropicService implements Service with Claude models.
type AnthropicService struct {
	chatModel model.ToolCallingChatModel
}

// NewAnthropic creates an Anthropic-backed completion service.
func NewAnthropic(ctx context.Context, cfg *AnthropicConfig) (*AnthropicService, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	modelID := cfg.Model
	if modelID == "" {
		modelID = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	claudeCfg := &claude.Config{
		APIKey:    apiKey,
		Model:     modelID,
		MaxTokens: maxTokens,
	}
	if cfg.BaseURL != "" {
		claudeCfg.BaseURL = &cfg.BaseURL
	}

	chatModel, err := claude.NewChatModel(ctx, claudeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Claude model: %w", err)
	}

	return &AnthropicService{chatModel: chatModel}, nil
}

// Complete generates one completion.
func (s *AnthropicService) Complete(ctx context.Context, req *Request) (*Response, error) {
	return generate(ctx, s.chatModel, req)
}
