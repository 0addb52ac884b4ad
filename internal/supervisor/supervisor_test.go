package supervisor

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentd-ai/agentd/internal/provider"
)

type fakeService struct {
	resp *provider.Response
	req  *provider.Request
}

func (f *fakeService) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	f.req = req
	return f.resp, nil
}

func TestCheckDoneParsesToolCallVerdict(t *testing.T) {
	svc := &fakeService{resp: &provider.Response{
		ToolCalls: []schema.ToolCall{{
			ID: "t1",
			Function: schema.FunctionCall{
				Name:      "report_done",
				Arguments: `{"task":"update the intro","next_steps":"","is_complete":true}`,
			},
		}},
	}}
	s := New(svc)

	verdict, err := s.CheckDone(context.Background(), "###SECTION:section1###\nhello\n###ENDSECTION###\n", nil)
	require.NoError(t, err)
	assert.True(t, verdict.IsComplete)
	assert.Equal(t, "update the intro", verdict.Task)
}

func TestCheckDoneParsesVerdictFromText(t *testing.T) {
	svc := &fakeService{resp: &provider.Response{
		Text: `{"task":"write a poem","next_steps":"add a second stanza","is_complete":false}`,
	}}
	s := New(svc)

	verdict, err := s.CheckDone(context.Background(), "", nil)
	require.NoError(t, err)
	assert.False(t, verdict.IsComplete)
	assert.Equal(t, "add a second stanza", verdict.NextSteps)
}

func TestCheckDoneNoVerdict(t *testing.T) {
	svc := &fakeService{resp: &provider.Response{Text: "I think it's done?"}}
	s := New(svc)

	_, err := s.CheckDone(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestCheckDoneSendsBothDocumentForms(t *testing.T) {
	svc := &fakeService{resp: &provider.Response{
		Text: `{"task":"t","next_steps":"n","is_complete":true}`,
	}}
	s := New(svc)

	snapshot := "###SECTION:section1###\nhello\n###ENDSECTION###\n"
	_, err := s.CheckDone(context.Background(), snapshot, []*schema.Message{
		schema.UserMessage("earlier turn"),
	})
	require.NoError(t, err)

	require.NotEmpty(t, svc.req.Messages)
	last := svc.req.Messages[len(svc.req.Messages)-1]
	assert.Contains(t, last.Content, "Has the last user request been completed?")
	// Unwrapped form without markers, then the marked form.
	assert.Contains(t, last.Content, "hello")
	assert.Contains(t, last.Content, "###SECTION:section1###")

	// History travels with the check.
	assert.Equal(t, "earlier turn", svc.req.Messages[1].Content)

	// The verdict tool is offered.
	require.Len(t, svc.req.Tools, 1)
	assert.Equal(t, "report_done", svc.req.Tools[0].Name)
}

func TestVerdictString(t *testing.T) {
	v := &Verdict{Task: "t", NextSteps: "n", IsComplete: false}
	assert.Equal(t, "task: t\nnext_steps: n\nis_complete: false\n", v.String())
}
