// Package supervisor decides whether a multi-turn task is done. It
// asks the completion service to judge completion against the actual
// current document state, not just the conversation transcript: a
// model may claim success without having performed the corresponding
// write.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/agentd-ai/agentd/internal/provider"
	"github.com/agentd-ai/agentd/internal/section"
)

// verdictTool is the structured-output tool the supervisor forces the
// model to call.
const verdictTool = "report_done"

const instructions = "You are a supervisor agent, your job is to use the tool to determine if a task has " +
	"been completed. For a task to be completed it must be reflected in the document itself, " +
	"not just in the conversation. " +
	"When editing existing documents make sure the edit was applied properly based on the user's intent " +
	"(including appending instead of only replacing). " +
	"Be pedantic about formatting and ensure only intended text makes it into the document."

var verdictSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"task": {
			"type": "string",
			"description": "Detailed and specific description of the task the user is trying to achieve, including success criteria."
		},
		"next_steps": {
			"type": "string",
			"description": "Pending steps or doubts that still need to be answered to complete the task. Remove items as they get completed."
		},
		"is_complete": {
			"type": "boolean",
			"description": "Whether the task is complete. Only true if you are very sure of the answer by now."
		}
	},
	"required": ["task", "next_steps", "is_complete"]
}`)

// Verdict is the supervisor's structured judgment.
type Verdict struct {
	Task       string `json:"task"`
	NextSteps  string `json:"next_steps"`
	IsComplete bool   `json:"is_complete"`
}

// String renders the verdict the way it is fed back into the next
// continuation prompt.
func (v *Verdict) String() string {
	return fmt.Sprintf("task: %s\nnext_steps: %s\nis_complete: %t\n", v.Task, v.NextSteps, v.IsComplete)
}

// Supervisor performs the one-shot completion check.
type Supervisor struct {
	svc provider.Service
}

// New creates a supervisor on top of a completion service.
func New(svc provider.Service) *Supervisor {
	return &Supervisor{svc: svc}
}

// CheckDone judges whether the last user request has been completed,
// given the current document snapshot and the conversation so far.
// No retries happen here; errors propagate to the session controller,
// which owns turn-level retry policy.
func (s *Supervisor) CheckDone(ctx context.Context, snapshot string, history []*schema.Message) (*Verdict, error) {
	content := fmt.Sprintf(
		"Has the last user request been completed?\n"+
			"The current document as displayed to the user is:\n%s\n"+
			"The current document with sections for editing is:\n%s\n",
		section.Unwrap(snapshot), snapshot,
	)

	messages := []*schema.Message{
		schema.SystemMessage(instructions),
	}
	messages = append(messages, history...)
	messages = append(messages, schema.UserMessage(content))

	resp, err := s.svc.Complete(ctx, &provider.Request{
		Messages: messages,
		Tools: []*schema.ToolInfo{provider.ToEinoTool(provider.ToolInfo{
			Name:        verdictTool,
			Description: "Report whether the task has been completed.",
			Parameters:  verdictSchema,
		})},
	})
	if err != nil {
		return nil, err
	}

	return parseVerdict(resp)
}

// parseVerdict extracts the verdict from the response: preferably from
// the forced tool call, otherwise from verdict-shaped JSON in the
// response text.
func parseVerdict(resp *provider.Response) (*Verdict, error) {
	for _, call := range resp.ToolCalls {
		if call.Function.Name != verdictTool {
			continue
		}
		var v Verdict
		if err := json.Unmarshal([]byte(call.Function.Arguments), &v); err != nil {
			return nil, fmt.Errorf("parsing verdict arguments: %w", err)
		}
		return &v, nil
	}

	var v Verdict
	if err := json.Unmarshal([]byte(resp.Text), &v); err == nil && v.Task != "" {
		return &v, nil
	}

	return nil, fmt.Errorf("completion response carried no verdict")
}
