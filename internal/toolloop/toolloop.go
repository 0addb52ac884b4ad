// Package toolloop wraps a completion service so that tool calls are
// resolved transparently against the capability registry. Callers see
// a plain completion API; the middleware loops until the model returns
// text without tool calls, within a bounded number of hops.
package toolloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/agentd-ai/agentd/internal/capability"
	"github.com/agentd-ai/agentd/internal/logging"
	"github.com/agentd-ai/agentd/internal/provider"
)

// MaxToolLoops bounds the number of tool-resolution hops per
// completion call.
const MaxToolLoops = 5

// ErrUnknownTool reports a tool call naming no registered capability.
var ErrUnknownTool = errors.New("unknown tool")

// ErrLoopBudgetExceeded reports a completion that kept requesting
// tools past the loop bound.
var ErrLoopBudgetExceeded = errors.New("tool-call loop exceeded budget")

// Invoker is the slice of the capability registry the middleware
// needs.
type Invoker interface {
	Has(name string) bool
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
	Tools() []capability.Tool
}

// Service decorates a provider.Service with tool resolution.
type Service struct {
	next     provider.Service
	invoker  Invoker
	maxLoops int
}

// Wrap builds the middleware. A maxLoops of zero means MaxToolLoops.
func Wrap(next provider.Service, invoker Invoker, maxLoops int) *Service {
	if maxLoops <= 0 {
		maxLoops = MaxToolLoops
	}
	return &Service{next: next, invoker: invoker, maxLoops: maxLoops}
}

// ToolInfos returns every registered capability in the form the
// completion request wants.
func (s *Service) ToolInfos() []*schema.ToolInfo {
	tools := s.invoker.Tools()
	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		infos = append(infos, provider.ToEinoTool(provider.ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		}))
	}
	return infos
}

// Complete runs the completion, consuming every tool call the model
// returns before handing the final text back to the caller. The
// conversation grows with assistant tool-call and tool-result messages
// between hops; the caller's request is not mutated.
func (s *Service) Complete(ctx context.Context, req *Request) (*provider.Response, error) {
	messages := append([]*schema.Message(nil), req.Messages...)
	var invoked []string

	for loop := 0; ; loop++ {
		if loop >= s.maxLoops {
			return nil, fmt.Errorf("%w: %d loops", ErrLoopBudgetExceeded, s.maxLoops)
		}

		resp, err := s.next.Complete(ctx, &provider.Request{
			Messages:    messages,
			Tools:       req.Tools,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		})
		if err != nil {
			return nil, err
		}

		if len(resp.ToolCalls) == 0 {
			resp.InvokedTools = append(resp.InvokedTools, invoked...)
			return resp, nil
		}

		messages = append(messages, &schema.Message{
			Role:      schema.Assistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			name := call.Function.Name
			if !s.invoker.Has(name) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
			}

			var args map[string]any
			if call.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
					return nil, fmt.Errorf("parsing arguments for %s: %w", name, err)
				}
			}

			invoked = append(invoked, name)
			output, err := s.invoker.Invoke(ctx, name, args)
			if err != nil {
				// The model sees the failure and can adjust; the
				// loop itself keeps going.
				output = fmt.Sprintf("Error: %v", err)
				logging.Warn().Str("tool", name).Err(err).Msg("tool invocation failed")
			}

			messages = append(messages, &schema.Message{
				Role:       schema.Tool,
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}
}

// Request mirrors provider.Request; it exists so callers of the
// middleware read naturally.
type Request = provider.Request
