// Package provider abstracts the completion service behind the Eino
// framework. The rest of the system treats it as an opaque operation:
// messages in, text and optional tool calls out.
package provider

import (
	"context"
	"encoding/json"

	"github.com/cloudwego/eino/schema"
)

// Service is the completion service consumed by the session
// controller, the supervisor, and the tool loop middleware.
type Service interface {
	// Complete generates one completion for the request.
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Request is one completion call.
type Request struct {
	Messages    []*schema.Message  `json:"messages"`
	Tools       []*schema.ToolInfo `json:"tools,omitempty"`
	MaxTokens   int                `json:"maxTokens,omitempty"`
	Temperature float32            `json:"temperature,omitempty"`
}

// Response is the completion result. InvokedTools lists the
// capabilities resolved on the caller's behalf during the call; raw
// provider backends leave it empty.
type Response struct {
	Text         string            `json:"text"`
	ToolCalls    []schema.ToolCall `json:"toolCalls,omitempty"`
	InvokedTools []string          `json:"invokedTools,omitempty"`
}

// ToolInfo describes a tool offered to the model, parameters given as
// a JSON Schema.
type ToolInfo struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToEinoTool converts a ToolInfo to the Eino representation.
func ToEinoTool(t ToolInfo) *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        t.Name,
		Desc:        t.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(parseJSONSchemaToParams(t.Parameters)),
	}
}

// parseJSONSchemaToParams converts a JSON Schema to Eino ParameterInfo.
func parseJSONSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var jsonSchema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}

	if err := json.Unmarshal(schemaJSON, &jsonSchema); err != nil {
		return nil
	}

	requiredSet := make(map[string]bool)
	for _, r := range jsonSchema.Required {
		requiredSet[r] = true
	}

	params := make(map[string]*schema.ParameterInfo)
	for name, prop := range jsonSchema.Properties {
		paramType := schema.String
		switch prop.Type {
		case "integer":
			paramType = schema.Integer
		case "number":
			paramType = schema.Number
		case "boolean":
			paramType = schema.Boolean
		case "array":
			paramType = schema.Array
		case "object":
			paramType = schema.Object
		}

		params[name] = &schema.ParameterInfo{
			Type:     paramType,
			Desc:     prop.Description,
			Required: requiredSet[name],
		}
	}

	return params
}
