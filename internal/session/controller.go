// Package session implements the turn state machine that drives one
// long-lived agent session. The controller owns the session's state,
// races operator input against watcher events, applies section
// patches from completion responses, and reports completion back to
// whichever channel started the turn.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/agentd-ai/agentd/internal/capability"
	"github.com/agentd-ai/agentd/internal/event"
	"github.com/agentd-ai/agentd/internal/logging"
	"github.com/agentd-ai/agentd/internal/provider"
	"github.com/agentd-ai/agentd/internal/section"
	"github.com/agentd-ai/agentd/internal/supervisor"
)

const (
	// DefaultMaxIterations bounds supervisor verdicts per turn
	// sequence before the controller gives up and reports difficulty.
	DefaultMaxIterations = 5
	// MaxRetries is the maximum number of retries for completion
	// calls.
	MaxRetries = 3
	// RetryInitialInterval is the initial interval for exponential
	// backoff.
	RetryInitialInterval = time.Second
	// RetryMaxInterval is the maximum interval for exponential
	// backoff.
	RetryMaxInterval = 30 * time.Second
	// RetryMaxElapsedTime is the maximum total time for retries.
	RetryMaxElapsedTime = 2 * time.Minute
)

// docURLPrefix marks a freshly created document in a completion
// response; the path segment after it is the new document id.
const docURLPrefix = "https://docs.google.com/document/d/"

// DocumentStore is the slice of the document capabilities the
// controller needs.
type DocumentStore interface {
	ReadDoc(ctx context.Context, documentID string) (string, error)
	RewriteDocument(ctx context.Context, documentID, finalText string) error
}

// CommentStore is the slice of the comment capabilities the
// controller needs.
type CommentStore interface {
	ReadComments(ctx context.Context, documentID string) ([]capability.Comment, error)
	ReplyComment(ctx context.Context, documentID, commentID, reply string) error
	DeleteReply(ctx context.Context, documentID, commentID, replyID string) error
}

// ChannelStore posts completion reports back to a chat channel.
type ChannelStore interface {
	Post(ctx context.Context, channelID, text string) error
}

// DoneChecker judges whether the current task is complete.
type DoneChecker interface {
	CheckDone(ctx context.Context, snapshot string, history []*schema.Message) (*supervisor.Verdict, error)
}

// Options configures a controller. Zero values take defaults.
type Options struct {
	// ConversationID is the durable conversation handle. Empty means
	// a fresh ULID.
	ConversationID string
	// DocumentID attaches the session to a document. Empty disables
	// document state, patches, and comment reporting.
	DocumentID string
	// ChannelID attaches the session to a chat channel.
	ChannelID string
	// Instructions is the system prompt for the session.
	Instructions string
	// Tools is offered to the completion service on every call.
	Tools []*schema.ToolInfo
	// MaxIterations bounds the supervisor loop.
	MaxIterations int
	// MaxChunkSize bounds section size when wrapping the document.
	MaxChunkSize int
	// Input is the operator input stream. Defaults to os.Stdin.
	Input io.Reader
	// Output receives operator-facing prompts and responses.
	// Defaults to os.Stdout.
	Output io.Writer
	// OnNewDocument is called when a completion response carries a
	// newly created document URL, with the new document id.
	OnNewDocument func(documentID string)
}

func (o Options) withDefaults() Options {
	if o.ConversationID == "" {
		o.ConversationID = ulid.Make().String()
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.MaxChunkSize <= 0 {
		o.MaxChunkSize = section.DefaultMaxChunkSize
	}
	if o.Input == nil {
		o.Input = os.Stdin
	}
	if o.Output == nil {
		o.Output = os.Stdout
	}
	return o
}

// Controller drives one session. It is not safe for concurrent use;
// turns are strictly sequential.
type Controller struct {
	log      zerolog.Logger
	svc      provider.Service
	docs     DocumentStore
	comments CommentStore
	channel  ChannelStore
	check    DoneChecker
	bus      *event.Bus
	opts     Options

	state   State
	history []*schema.Message
}

// NewController wires a controller from its collaborators. Stores not
// relevant to the session's attachment may be nil.
func NewController(svc provider.Service, docs DocumentStore, comments CommentStore, channel ChannelStore, check DoneChecker, bus *event.Bus, opts Options) *Controller {
	opts = opts.withDefaults()
	c := &Controller{
		log:      logging.For(fmt.Sprintf("session:%s", opts.ConversationID)),
		svc:      svc,
		docs:     docs,
		comments: comments,
		channel:  channel,
		check:    check,
		bus:      bus,
		opts:     opts,
		state:    State{ConversationID: opts.ConversationID, InteractionOrigin: OriginCLI},
	}
	if opts.Instructions != "" {
		c.history = append(c.history, schema.SystemMessage(opts.Instructions))
	}
	return c
}

// ConversationID returns the session's durable conversation handle.
func (c *Controller) ConversationID() string {
	return c.state.ConversationID
}

// newRetryBackoff creates an exponential backoff with jitter for
// completion retries.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = RetryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

// Run executes the session until the operator exits or ctx is
// cancelled. Cancelling ctx also stops the event subscription.
func (c *Controller) Run(ctx context.Context) error {
	events, err := c.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribing to session events: %w", err)
	}
	lines := readLines(ctx, c.opts.Input)

	if c.opts.DocumentID != "" {
		c.ClearAcks(ctx)
		c.loadDocumentState(ctx)
	}

	for {
		prompt, ok := c.awaitInput(ctx, lines, events)
		if !ok {
			c.log.Info().Msg("session shutting down")
			return nil
		}
		c.interact(ctx, prompt)
	}
}

// readLines pumps operator input lines into a channel. The channel
// closes on EOF.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// awaitInput blocks until the next prompt is available: a queued
// mid-turn event first, then whichever of operator input and watcher
// events resolves first. The second return is false when the session
// should end.
func (c *Controller) awaitInput(ctx context.Context, lines <-chan string, events <-chan event.ResourceEvent) (string, bool) {
	// An event that arrived mid-turn beats fresh operator input.
	if c.state.PendingEvent == nil {
		select {
		case ev, ok := <-events:
			if ok {
				c.state.PendingEvent = &ev
			}
		default:
		}
	}
	if ev := c.state.PendingEvent; ev != nil {
		c.state.PendingEvent = nil
		return c.adoptEvent(*ev), true
	}

	fmt.Fprint(c.opts.Output, "Enter your prompt (or 'exit' to quit): ")

	select {
	case <-ctx.Done():
		return "", false
	case line, ok := <-lines:
		if !ok {
			return "", false
		}
		if strings.EqualFold(strings.TrimSpace(line), "exit") {
			return "", false
		}
		c.state.InteractionOrigin = OriginCLI
		c.state.OriginID = ""
		return line, true
	case ev, ok := <-events:
		if !ok {
			return "", false
		}
		return c.adoptEvent(ev), true
	}
}

// adoptEvent records the event as the origin of a new turn sequence
// and builds the turn's prompt from its payload.
func (c *Controller) adoptEvent(ev event.ResourceEvent) string {
	c.state.IterationCount = 0

	switch ev.Kind {
	case event.CommentAdded:
		c.state.InteractionOrigin = OriginComment
		c.state.OriginID = ev.OriginID
		return fmt.Sprintf(
			"New comment detected in document %s: %s.\n"+
				"The current document as displayed to the user is:\n%s\n"+
				"The current document with sections for editing is:\n%s\n"+
				"First make a plan and perform any relevant function calls that may apply to your task, "+
				"then proceed to make the document edits.",
			ev.ResourceID, ev.Payload,
			section.Unwrap(c.state.DocumentSnapshot), c.state.DocumentSnapshot,
		)
	case event.ChannelMessage:
		c.state.InteractionOrigin = OriginChannel
		c.state.OriginID = ev.OriginID
		return fmt.Sprintf("New channel message: %s", ev.Payload)
	default: // event.DocChanged
		c.state.InteractionOrigin = OriginCLI
		c.state.OriginID = ""
		// The payload is the observed document body; the snapshot
		// tracks it so patches apply against what is actually there.
		c.state.DocumentSnapshot = section.Wrap(ev.Payload, c.opts.MaxChunkSize)
		return fmt.Sprintf("Doc changes detected for doc %s:\n%s", ev.ResourceID, ev.Payload)
	}
}

// interact runs one full turn sequence: the initial turn, then the
// verify/continue loop, then the completion report.
func (c *Controller) interact(ctx context.Context, prompt string) {
	defer func() {
		c.state.InteractionOrigin = OriginCLI
		c.state.OriginID = ""
	}()
	c.state.IterationCount = 0

	if _, err := c.runTurn(ctx, prompt); err != nil {
		c.log.Error().Err(err).Msg("turn failed")
		return
	}

	for {
		verdict, err := c.check.CheckDone(ctx, c.state.DocumentSnapshot, c.history)
		if err != nil {
			c.log.Error().Err(err).Msg("completion check failed")
			return
		}
		c.state.IterationCount++

		switch {
		case verdict.IsComplete:
			summary, err := c.runTurn(ctx, "Looks like you completed the task, please summarize your work.")
			if err != nil {
				c.log.Error().Err(err).Msg("summary turn failed")
				return
			}
			c.report(ctx, summary, true)
			return

		case c.state.IterationCount > c.opts.MaxIterations:
			c.log.Info().Int("iterations", c.state.IterationCount-1).Msg("iteration budget exhausted; abandoning task")
			summary, err := c.runTurn(ctx, "It sounds like you're having difficulty with this task")
			if err != nil {
				c.log.Error().Err(err).Msg("difficulty turn failed")
				return
			}
			c.report(ctx, summary, false)
			return

		default:
			c.log.Info().Msgf("iterations %d/%d", c.state.IterationCount, c.opts.MaxIterations)
			if _, err := c.runTurn(ctx, fmt.Sprintf("You're not quite done:\n%sPlease continue", verdict)); err != nil {
				c.log.Error().Err(err).Msg("continuation turn failed")
				return
			}
		}
	}
}

// runTurn sends one prompt to the completion service, follows any
// tool-bearing responses with synthetic continue turns, and applies
// patch blocks found in the final response text.
func (c *Controller) runTurn(ctx context.Context, prompt string) (string, error) {
	resp, err := c.exchange(ctx, prompt)
	if err != nil {
		return "", err
	}
	createdDoc := slices.Contains(resp.InvokedTools, capability.CapCreateDoc)
	// Tool-driven turns are free; only prompt/response iterations
	// consume the verification budget.
	for len(resp.ToolCalls) > 0 {
		resp, err = c.exchange(ctx, "continue")
		if err != nil {
			return "", err
		}
		createdDoc = createdDoc || slices.Contains(resp.InvokedTools, capability.CapCreateDoc)
	}

	fmt.Fprintf(c.opts.Output, "Assistant response:\n%s\n", resp.Text)
	// A cited URL alone is not a new document; only a create-doc call
	// in this turn makes one.
	if createdDoc {
		c.maybeSpawnDocument(resp.Text)
	}

	if applyErr := c.applyPatches(ctx, resp.Text); errors.Is(applyErr, section.ErrMalformedEdit) {
		c.log.Warn().Msg("edit response could not be parsed; requesting a resend")
		resp, err = c.exchange(ctx,
			"The previous edit could not be applied because no valid fenced block was found. "+
				"Resend the change as fenced blocks, one per section, with the section id on the opening fence.")
		if err != nil {
			return "", err
		}
		if applyErr = c.applyPatches(ctx, resp.Text); applyErr != nil {
			c.log.Warn().Err(applyErr).Msg("resent edit still malformed; dropping it")
		}
	}

	return resp.Text, nil
}

// exchange appends the prompt to the conversation, runs one
// completion with retries, and records the assistant response.
func (c *Controller) exchange(ctx context.Context, prompt string) (*provider.Response, error) {
	c.history = append(c.history, schema.UserMessage(prompt))

	retry := newRetryBackoff(ctx)
	for {
		resp, err := c.svc.Complete(ctx, &provider.Request{
			Messages: c.history,
			Tools:    c.opts.Tools,
		})
		if err == nil {
			c.history = append(c.history, schema.AssistantMessage(resp.Text, nil))
			return resp, nil
		}

		next := retry.NextBackOff()
		if next == backoff.Stop {
			return nil, err
		}
		c.log.Warn().Err(err).Dur("wait", next).Msg("completion failed; retrying")
		time.Sleep(next)
	}
}

// applyPatches extracts fenced patch blocks from the response text,
// applies them to the document snapshot, writes the result back, and
// refreshes the snapshot from the store. A write-back failure aborts
// only the patch application.
func (c *Controller) applyPatches(ctx context.Context, text string) error {
	if c.opts.DocumentID == "" {
		return nil
	}

	blocks := section.ExtractBlocks(text)
	if len(blocks) == 0 {
		if strings.Contains(text, "```") {
			return section.ErrMalformedEdit
		}
		return nil
	}

	updated, err := section.ApplyPatchSet(c.state.DocumentSnapshot, blocks)
	if err != nil {
		return err
	}

	final := section.Unwrap(updated)
	if err := c.docs.RewriteDocument(ctx, c.opts.DocumentID, final); err != nil {
		c.log.Error().Err(err).Msg("document write-back failed; dropping patch")
		return nil
	}
	c.loadDocumentState(ctx)
	return nil
}

// loadDocumentState re-reads the document and wraps it into the
// session snapshot.
func (c *Controller) loadDocumentState(ctx context.Context) {
	raw, err := c.docs.ReadDoc(ctx, c.opts.DocumentID)
	if err != nil {
		c.log.Error().Err(err).Msg("loading document state")
		return
	}
	if raw == "" {
		c.log.Warn().Msg("empty document retrieved; no sections created")
		c.state.DocumentSnapshot = ""
		return
	}
	c.state.DocumentSnapshot = section.Wrap(raw, c.opts.MaxChunkSize)
	c.log.Debug().Msg("document state loaded and sectioned")
}

// report delivers the completion summary to the origin of the turn
// sequence.
func (c *Controller) report(ctx context.Context, summary string, complete bool) {
	switch c.state.InteractionOrigin {
	case OriginComment:
		reply := summary
		if complete {
			reply = "Task Completed: " + summary
		}
		err := c.comments.ReplyComment(ctx, c.opts.DocumentID, c.state.OriginID,
			capability.BotMarker+"\n"+reply)
		if err != nil {
			c.log.Error().Err(err).Str("comment", c.state.OriginID).Msg("posting completion reply")
			return
		}
		c.log.Info().Str("comment", c.state.OriginID).Msg("posted completion reply")

	case OriginChannel:
		text := capability.BotMarker + "\n" + markdownToSlack(summary)
		if err := c.channel.Post(ctx, c.opts.ChannelID, text); err != nil {
			c.log.Error().Err(err).Msg("posting completion message")
			return
		}
		c.log.Info().Msg("posted completion message")

	default:
		c.log.Info().Str("summary", summary).Msg("task concluded")
	}
}

// ClearAcks deletes stale acknowledgment replies left on comment
// threads by a previous run, so their threads can trigger again.
func (c *Controller) ClearAcks(ctx context.Context) {
	comments, err := c.comments.ReadComments(ctx, c.opts.DocumentID)
	if err != nil {
		c.log.Error().Err(err).Msg("reading comments to clear acks")
		return
	}
	for _, comment := range comments {
		last, ok := comment.LastReply()
		if !ok || last.Content != capability.AckReply {
			continue
		}
		if err := c.comments.DeleteReply(ctx, c.opts.DocumentID, comment.ID, last.ID); err != nil {
			c.log.Error().Err(err).Str("comment", comment.ID).Msg("deleting stale ack")
			return
		}
		c.log.Debug().Str("comment", comment.ID).Msg("cleared ack")
	}
}

// maybeSpawnDocument notifies the spawn hook when the response text
// carries a freshly created document URL.
func (c *Controller) maybeSpawnDocument(text string) {
	if c.opts.OnNewDocument == nil {
		return
	}
	idx := strings.Index(text, docURLPrefix)
	if idx < 0 {
		return
	}
	rest := text[idx+len(docURLPrefix):]
	end := strings.IndexFunc(rest, func(r rune) bool {
		return r == '/' || r == ')' || r == '>' || r == '"' || r == ' ' || r == '\n' || r == '\t'
	})
	if end >= 0 {
		rest = rest[:end]
	}
	if rest == "" {
		return
	}
	c.log.Info().Str("document", rest).Msg("new document created; spawning session")
	c.opts.OnNewDocument(rest)
}
