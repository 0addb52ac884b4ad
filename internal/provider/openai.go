package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIConfig holds configuration for the OpenAI backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIService implements Service with OpenAI models.
type OpenAIService struct {
	chatModel model.ToolCallingChatModel
}

// NewOpenAI creates an OpenAI-backed completion service.
func NewOpenAI(ctx context.Context, cfg *OpenAIConfig) (*OpenAIService, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	modelID := cfg.Model
	if modelID == "" {
		modelID = defaultOpenAIModel
	}

	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  apiKey,
		BaseURL: cfg.BaseURL,
		Model:   modelID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
	}

	return &OpenAIService{chatModel: chatModel}, nil
}

// Complete generates one completion.
func (s *OpenAIService) Complete(ctx context.Context, req *Request) (*Response, error) {
	return generate(ctx, s.chatModel, req)
}

// generate runs a non-streaming completion against an Eino chat model,
// binding tools when the request carries any.
func generate(ctx context.Context, chatModel model.ToolCallingChatModel, req *Request) (*Response, error) {
	cm := chatModel
	if len(req.Tools) > 0 {
		bound, err := chatModel.WithTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("binding tools: %w", err)
		}
		cm = bound
	}

	var opts []model.Option
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature > 0 {
		opts = append(opts, model.WithTemperature(req.Temperature))
	}

	msg, err := cm.Generate(ctx, req.Messages, opts...)
	if err != nil {
		return nil, err
	}
	return fromEinoMessage(msg), nil
}

func fromEinoMessage(msg *schema.Message) *Response {
	return &Response{
		Text:      msg.Content,
		ToolCalls: msg.ToolCalls,
	}
}
