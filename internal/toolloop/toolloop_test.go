package toolloop

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentd-ai/agentd/internal/capability"
	"github.com/agentd-ai/agentd/internal/provider"
)

type fakeInvoker struct {
	tools   map[string]string // name -> canned output
	invoked []string
	err     error
}

func (f *fakeInvoker) Has(name string) bool {
	_, ok := f.tools[name]
	return ok
}

func (f *fakeInvoker) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	f.invoked = append(f.invoked, name)
	if f.err != nil {
		return "", f.err
	}
	return f.tools[name], nil
}

func (f *fakeInvoker) Tools() []capability.Tool {
	var tools []capability.Tool
	for name := range f.tools {
		tools = append(tools, capability.Tool{Name: name})
	}
	return tools
}

// scriptedService returns canned responses in order and records each
// request's messages.
type scriptedService struct {
	responses []*provider.Response
	requests  [][]*schema.Message
}

func (s *scriptedService) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	s.requests = append(s.requests, req.Messages)
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func toolCall(id, name, args string) schema.ToolCall {
	return schema.ToolCall{
		ID:       id,
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}
}

func TestCompletePassthroughWithoutToolCalls(t *testing.T) {
	svc := &scriptedService{responses: []*provider.Response{{Text: "plain answer"}}}
	invoker := &fakeInvoker{tools: map[string]string{}}
	s := Wrap(svc, invoker, 0)

	resp, err := s.Complete(context.Background(), &Request{
		Messages: []*schema.Message{schema.UserMessage("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "plain answer", resp.Text)
	assert.Empty(t, invoker.invoked)
	assert.Empty(t, resp.InvokedTools)
}

func TestCompleteResolvesToolCalls(t *testing.T) {
	svc := &scriptedService{responses: []*provider.Response{
		{ToolCalls: []schema.ToolCall{toolCall("t1", "read-doc", `{"document_id":"doc1"}`)}},
		{Text: "the doc says hello"},
	}}
	invoker := &fakeInvoker{tools: map[string]string{"read-doc": "hello"}}
	s := Wrap(svc, invoker, 0)

	resp, err := s.Complete(context.Background(), &Request{
		Messages: []*schema.Message{schema.UserMessage("read the doc")},
	})
	require.NoError(t, err)
	assert.Equal(t, "the doc says hello", resp.Text)
	assert.Equal(t, []string{"read-doc"}, invoker.invoked)
	assert.Equal(t, []string{"read-doc"}, resp.InvokedTools)

	// Second request carries the assistant tool call and the tool
	// result.
	second := svc.requests[1]
	require.Len(t, second, 3)
	assert.Equal(t, schema.Assistant, second[1].Role)
	assert.Equal(t, schema.Tool, second[2].Role)
	assert.Equal(t, "hello", second[2].Content)
	assert.Equal(t, "t1", second[2].ToolCallID)
}

func TestCompleteUnknownTool(t *testing.T) {
	svc := &scriptedService{responses: []*provider.Response{
		{ToolCalls: []schema.ToolCall{toolCall("t1", "nonexistent", "{}")}},
	}}
	s := Wrap(svc, &fakeInvoker{tools: map[string]string{}}, 0)

	_, err := s.Complete(context.Background(), &Request{
		Messages: []*schema.Message{schema.UserMessage("go")},
	})
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestCompleteLoopBudget(t *testing.T) {
	// The model asks for the same tool forever.
	svc := &scriptedService{responses: []*provider.Response{
		{ToolCalls: []schema.ToolCall{toolCall("t1", "echo", "{}")}},
		{ToolCalls: []schema.ToolCall{toolCall("t2", "echo", "{}")}},
	}}
	invoker := &fakeInvoker{tools: map[string]string{"echo": "ok"}}
	s := Wrap(svc, invoker, 2)

	_, err := s.Complete(context.Background(), &Request{
		Messages: []*schema.Message{schema.UserMessage("go")},
	})
	assert.ErrorIs(t, err, ErrLoopBudgetExceeded)
	assert.Len(t, invoker.invoked, 2)
}

func TestCompleteToolFailureFeedsErrorBack(t *testing.T) {
	svc := &scriptedService{responses: []*provider.Response{
		{ToolCalls: []schema.ToolCall{toolCall("t1", "read-doc", "{}")}},
		{Text: "could not read it"},
	}}
	invoker := &fakeInvoker{
		tools: map[string]string{"read-doc": ""},
		err:   errors.New("connection refused"),
	}
	s := Wrap(svc, invoker, 0)

	resp, err := s.Complete(context.Background(), &Request{
		Messages: []*schema.Message{schema.UserMessage("read")},
	})
	require.NoError(t, err)
	assert.Equal(t, "could not read it", resp.Text)

	second := svc.requests[1]
	assert.Contains(t, second[2].Content, "Error: connection refused")
}

func TestToolInfos(t *testing.T) {
	invoker := &fakeInvoker{tools: map[string]string{"read-doc": "", "rewrite-document": ""}}
	s := Wrap(&scriptedService{}, invoker, 0)

	infos := s.ToolInfos()
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	assert.ElementsMatch(t, []string{"read-doc", "rewrite-document"}, names)
}
