package session

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentd-ai/agentd/internal/capability"
	"github.com/agentd-ai/agentd/internal/event"
	"github.com/agentd-ai/agentd/internal/provider"
	"github.com/agentd-ai/agentd/internal/supervisor"
)

// scriptedService replays canned responses and records every prompt
// it was asked to complete.
type scriptedService struct {
	prompts   []string
	responses []*provider.Response
}

func (s *scriptedService) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	last := req.Messages[len(req.Messages)-1]
	s.prompts = append(s.prompts, last.Content)
	if len(s.responses) > 0 {
		resp := s.responses[0]
		s.responses = s.responses[1:]
		return resp, nil
	}
	return &provider.Response{Text: "ok"}, nil
}

func (s *scriptedService) promptsContaining(substr string) int {
	n := 0
	for _, p := range s.prompts {
		if strings.Contains(p, substr) {
			n++
		}
	}
	return n
}

type fakeDocStore struct {
	content  string
	rewrites []string
}

func (f *fakeDocStore) ReadDoc(ctx context.Context, documentID string) (string, error) {
	return f.content, nil
}

func (f *fakeDocStore) RewriteDocument(ctx context.Context, documentID, finalText string) error {
	f.content = finalText
	f.rewrites = append(f.rewrites, finalText)
	return nil
}

type fakeCommentStore struct {
	comments []capability.Comment
	replies  map[string]string
	deleted  []string
}

func (f *fakeCommentStore) ReadComments(ctx context.Context, documentID string) ([]capability.Comment, error) {
	return f.comments, nil
}

func (f *fakeCommentStore) ReplyComment(ctx context.Context, documentID, commentID, reply string) error {
	if f.replies == nil {
		f.replies = make(map[string]string)
	}
	f.replies[commentID] = reply
	return nil
}

func (f *fakeCommentStore) DeleteReply(ctx context.Context, documentID, commentID, replyID string) error {
	f.deleted = append(f.deleted, commentID+"/"+replyID)
	return nil
}

type fakeChannelStore struct {
	posts []string
}

func (f *fakeChannelStore) Post(ctx context.Context, channelID, text string) error {
	f.posts = append(f.posts, text)
	return nil
}

// scriptedChecker replays canned verdicts; once exhausted it repeats
// the last one.
type scriptedChecker struct {
	verdicts []*supervisor.Verdict
}

func (f *scriptedChecker) CheckDone(ctx context.Context, snapshot string, history []*schema.Message) (*supervisor.Verdict, error) {
	v := f.verdicts[0]
	if len(f.verdicts) > 1 {
		f.verdicts = f.verdicts[1:]
	}
	return v, nil
}

func incomplete(next string) *supervisor.Verdict {
	return &supervisor.Verdict{Task: "task", NextSteps: next, IsComplete: false}
}

func complete() *supervisor.Verdict {
	return &supervisor.Verdict{Task: "task", IsComplete: true}
}

func newTestController(t *testing.T, svc *scriptedService, docs *fakeDocStore, comments *fakeCommentStore, channel *fakeChannelStore, check DoneChecker, opts Options) *Controller {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })
	return NewController(svc, docs, comments, channel, check, bus, opts)
}

func TestIterationBudgetBoundsContinuationPrompts(t *testing.T) {
	svc := &scriptedService{}
	check := &scriptedChecker{verdicts: []*supervisor.Verdict{incomplete("keep going")}}
	c := newTestController(t, svc, nil, nil, nil, check, Options{
		MaxIterations: 3,
		Output:        io.Discard,
	})

	c.interact(context.Background(), "do the thing")

	assert.Equal(t, 3, svc.promptsContaining("You're not quite done"))
	assert.Equal(t, 1, svc.promptsContaining("having difficulty"))
	// do-the-thing + 3 continuations + difficulty summary.
	assert.Len(t, svc.prompts, 5)
}

func TestCompleteVerdictEndsSequenceWithSummary(t *testing.T) {
	svc := &scriptedService{}
	check := &scriptedChecker{verdicts: []*supervisor.Verdict{complete()}}
	c := newTestController(t, svc, nil, nil, nil, check, Options{Output: io.Discard})

	c.interact(context.Background(), "do the thing")

	assert.Equal(t, 0, svc.promptsContaining("You're not quite done"))
	assert.Equal(t, 1, svc.promptsContaining("summarize your work"))
	assert.Len(t, svc.prompts, 2)
}

func TestCommentOriginRoundTrip(t *testing.T) {
	svc := &scriptedService{responses: []*provider.Response{
		{Text: "done"},
		{Text: "I updated the intro."},
	}}
	comments := &fakeCommentStore{}
	check := &scriptedChecker{verdicts: []*supervisor.Verdict{complete()}}
	c := newTestController(t, svc, &fakeDocStore{content: "hello"}, comments, nil, check, Options{
		DocumentID: "doc1",
		Output:     io.Discard,
	})

	prompt := c.adoptEvent(event.ResourceEvent{
		Kind:       event.CommentAdded,
		ResourceID: "doc1",
		OriginID:   "c42",
		Payload:    `{"id":"c42","content":"fix the intro"}`,
	})
	assert.Equal(t, OriginComment, c.state.InteractionOrigin)
	assert.Contains(t, prompt, "fix the intro")

	c.interact(context.Background(), prompt)

	reply, ok := comments.replies["c42"]
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(reply, capability.BotMarker))
	assert.Contains(t, reply, "Task Completed: I updated the intro.")

	assert.Equal(t, OriginCLI, c.state.InteractionOrigin)
	assert.Empty(t, c.state.OriginID)
}

func TestAbandonedCommentTurnRepliesWithoutCompletionTag(t *testing.T) {
	svc := &scriptedService{}
	comments := &fakeCommentStore{}
	check := &scriptedChecker{verdicts: []*supervisor.Verdict{incomplete("stuck")}}
	c := newTestController(t, svc, &fakeDocStore{content: "hello"}, comments, nil, check, Options{
		DocumentID:    "doc1",
		MaxIterations: 1,
		Output:        io.Discard,
	})

	prompt := c.adoptEvent(event.ResourceEvent{Kind: event.CommentAdded, OriginID: "c1", Payload: "{}"})
	c.interact(context.Background(), prompt)

	reply, ok := comments.replies["c1"]
	require.True(t, ok)
	assert.NotContains(t, reply, "Task Completed:")
	assert.Equal(t, OriginCLI, c.state.InteractionOrigin)
}

func TestChannelOriginPostsWithMarkerAndSlackLinks(t *testing.T) {
	svc := &scriptedService{responses: []*provider.Response{
		{Text: "done"},
		{Text: "See [the doc](https://example.com/d) for details."},
	}}
	channel := &fakeChannelStore{}
	check := &scriptedChecker{verdicts: []*supervisor.Verdict{complete()}}
	c := newTestController(t, svc, nil, nil, channel, check, Options{
		ChannelID: "C123",
		Output:    io.Discard,
	})

	prompt := c.adoptEvent(event.ResourceEvent{Kind: event.ChannelMessage, OriginID: "1.2", Payload: "hi agent"})
	assert.Equal(t, "New channel message: hi agent", prompt)

	c.interact(context.Background(), prompt)

	require.Len(t, channel.posts, 1)
	assert.True(t, strings.HasPrefix(channel.posts[0], capability.BotMarker))
	assert.Contains(t, channel.posts[0], "<https://example.com/d|the doc>")
}

func TestPatchBlockRewritesDocumentAndRefreshesSnapshot(t *testing.T) {
	svc := &scriptedService{responses: []*provider.Response{
		{Text: "Updating now.\n```section2\nX\n```"},
	}}
	docs := &fakeDocStore{content: "A\nB\nC\nD\nE"}
	check := &scriptedChecker{verdicts: []*supervisor.Verdict{complete()}}
	c := newTestController(t, svc, docs, &fakeCommentStore{}, nil, check, Options{
		DocumentID:   "doc1",
		MaxChunkSize: 2,
		Output:       io.Discard,
	})
	c.loadDocumentState(context.Background())

	c.interact(context.Background(), "replace C and D with X")

	require.Len(t, docs.rewrites, 1)
	assert.Equal(t, "A\nB\nX\nE", docs.rewrites[0])
	assert.Contains(t, c.state.DocumentSnapshot, "###SECTION:section1###")
	assert.Contains(t, c.state.DocumentSnapshot, "X")
}

func TestUnlabeledBlockReplacesWholeDocument(t *testing.T) {
	svc := &scriptedService{responses: []*provider.Response{
		{Text: "```\nbrand new body\n```"},
	}}
	docs := &fakeDocStore{content: "old body"}
	check := &scriptedChecker{verdicts: []*supervisor.Verdict{complete()}}
	c := newTestController(t, svc, docs, &fakeCommentStore{}, nil, check, Options{
		DocumentID: "doc1",
		Output:     io.Discard,
	})
	c.loadDocumentState(context.Background())

	c.interact(context.Background(), "rewrite everything")

	require.NotEmpty(t, docs.rewrites)
	assert.Equal(t, "brand new body", docs.rewrites[0])
}

func TestMalformedEditTriggersCorrectivePrompt(t *testing.T) {
	svc := &scriptedService{responses: []*provider.Response{
		{Text: "Here is the edit: ```section1\nunterminated"},
		{Text: "```section1\nfixed\n```"},
	}}
	docs := &fakeDocStore{content: "A"}
	check := &scriptedChecker{verdicts: []*supervisor.Verdict{complete()}}
	c := newTestController(t, svc, docs, &fakeCommentStore{}, nil, check, Options{
		DocumentID: "doc1",
		Output:     io.Discard,
	})
	c.loadDocumentState(context.Background())

	c.interact(context.Background(), "edit the doc")

	assert.Equal(t, 1, svc.promptsContaining("could not be applied"))
	require.NotEmpty(t, docs.rewrites)
	assert.Equal(t, "fixed", docs.rewrites[0])
}

func TestToolCallResponseGetsSyntheticContinue(t *testing.T) {
	svc := &scriptedService{responses: []*provider.Response{
		{Text: "", ToolCalls: []schema.ToolCall{{ID: "t1", Function: schema.FunctionCall{Name: "read-doc"}}}},
		{Text: "read it, all good"},
	}}
	check := &scriptedChecker{verdicts: []*supervisor.Verdict{complete()}}
	c := newTestController(t, svc, nil, nil, nil, check, Options{Output: io.Discard})

	c.interact(context.Background(), "check the doc")

	assert.Equal(t, 1, svc.promptsContaining("continue"))
}

func TestClearAcksDeletesOnlyStaleAcks(t *testing.T) {
	svc := &scriptedService{}
	comments := &fakeCommentStore{comments: []capability.Comment{
		{ID: "c1", Replies: []capability.Reply{{ID: "r1", Content: capability.AckReply}}},
		{ID: "c2", Replies: []capability.Reply{{ID: "r2", Content: "human reply"}}},
		{ID: "c3"},
	}}
	c := newTestController(t, svc, &fakeDocStore{}, comments, nil, &scriptedChecker{verdicts: []*supervisor.Verdict{complete()}}, Options{
		DocumentID: "doc1",
		Output:     io.Discard,
	})

	c.ClearAcks(context.Background())

	assert.Equal(t, []string{"c1/r1"}, comments.deleted)
}

func TestDocChangeEventRefreshesSnapshotAndKeepsCLIOrigin(t *testing.T) {
	svc := &scriptedService{}
	c := newTestController(t, svc, &fakeDocStore{}, nil, nil, &scriptedChecker{verdicts: []*supervisor.Verdict{complete()}}, Options{
		DocumentID: "doc1",
		Output:     io.Discard,
	})

	prompt := c.adoptEvent(event.ResourceEvent{
		Kind:       event.DocChanged,
		ResourceID: "doc1",
		Payload:    "fresh content",
	})

	assert.Equal(t, OriginCLI, c.state.InteractionOrigin)
	assert.Contains(t, prompt, "Doc changes detected for doc doc1")
	assert.Contains(t, c.state.DocumentSnapshot, "fresh content")
}

func TestNewDocumentURLSpawnsSession(t *testing.T) {
	var spawned []string
	svc := &scriptedService{responses: []*provider.Response{
		{
			Text:         "Created https://docs.google.com/document/d/abc123/edit for you.",
			InvokedTools: []string{capability.CapCreateDoc},
		},
	}}
	check := &scriptedChecker{verdicts: []*supervisor.Verdict{complete()}}
	c := newTestController(t, svc, nil, nil, nil, check, Options{
		Output:        io.Discard,
		OnNewDocument: func(id string) { spawned = append(spawned, id) },
	})

	c.interact(context.Background(), "make me a doc")

	assert.Equal(t, []string{"abc123"}, spawned)
}

func TestCitedDocumentURLWithoutCreationDoesNotSpawn(t *testing.T) {
	var spawned []string
	svc := &scriptedService{responses: []*provider.Response{
		{Text: "See https://docs.google.com/document/d/existing9/edit for the background."},
	}}
	check := &scriptedChecker{verdicts: []*supervisor.Verdict{complete()}}
	c := newTestController(t, svc, nil, nil, nil, check, Options{
		Output:        io.Discard,
		OnNewDocument: func(id string) { spawned = append(spawned, id) },
	})

	c.interact(context.Background(), "which doc has the background?")

	assert.Empty(t, spawned)
}

func TestExitCommandEndsSession(t *testing.T) {
	svc := &scriptedService{}
	bus := event.NewBus()
	defer bus.Close()
	c := NewController(svc, nil, nil, nil, &scriptedChecker{verdicts: []*supervisor.Verdict{complete()}}, bus, Options{
		Input:  strings.NewReader("exit\n"),
		Output: io.Discard,
	})

	err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, svc.prompts)
}

func TestPendingEventBeatsFreshInput(t *testing.T) {
	svc := &scriptedService{}
	bus := event.NewBus()
	defer bus.Close()
	c := NewController(svc, nil, nil, nil, &scriptedChecker{verdicts: []*supervisor.Verdict{complete()}}, bus, Options{
		ChannelID: "C123",
		Output:    io.Discard,
	})
	c.state.PendingEvent = &event.ResourceEvent{Kind: event.ChannelMessage, OriginID: "9.9", Payload: "queued"}

	lines := make(chan string, 1)
	lines <- "typed later"

	prompt, ok := c.awaitInput(context.Background(), lines, nil)
	require.True(t, ok)
	assert.Equal(t, "New channel message: queued", prompt)
	assert.Nil(t, c.state.PendingEvent)
	assert.Equal(t, OriginChannel, c.state.InteractionOrigin)
}
