package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentd-ai/agentd/internal/capability"
	"github.com/agentd-ai/agentd/internal/event"
	"github.com/agentd-ai/agentd/internal/logging"
)

// CommentReader lists and replies to comment threads.
type CommentReader interface {
	ReadComments(ctx context.Context, documentID string) ([]capability.Comment, error)
	ReplyComment(ctx context.Context, documentID, commentID, reply string) error
}

// CommentWatcher polls a document's comment threads. A comment
// triggers at most one CommentAdded event: resolved comments are
// skipped, and so are comments whose most recent reply is the agent's
// own (the bot marker), which keeps the agent from reacting to its own
// acknowledgment.
type CommentWatcher struct {
	log      zerolog.Logger
	comments CommentReader
	bus      *event.Bus
	docID    string
	cfg      Config

	// lastNotified advances to wall-clock now on emission, so other
	// comments in the same fetch batch wait for the next cycle.
	lastNotified time.Time
}

// NewCommentWatcher creates a watcher for one document's comments.
func NewCommentWatcher(comments CommentReader, bus *event.Bus, docID string, cfg Config) *CommentWatcher {
	return &CommentWatcher{
		log:      logging.For(fmt.Sprintf("comment-watcher:%s", docID)),
		comments: comments,
		bus:      bus,
		docID:    docID,
		cfg:      cfg.withDefaults(),
	}
}

// Run polls until ctx is cancelled.
func (w *CommentWatcher) Run(ctx context.Context) {
	runLoop(ctx, w.cfg.PollInterval, w.cycle)
}

func (w *CommentWatcher) cycle(ctx context.Context) {
	comments, err := w.comments.ReadComments(ctx, w.docID)
	if err != nil {
		w.log.Error().Err(err).Msg("read-comments failed")
		return
	}

	for _, comment := range comments {
		modified, ok := comment.ModifiedAt()
		if !ok {
			continue
		}
		if comment.Resolved {
			continue
		}
		if !modified.After(w.lastNotified) {
			continue
		}
		if reply, ok := comment.LastReply(); ok && strings.HasPrefix(reply.Content, capability.BotMarker) {
			continue
		}

		w.log.Info().Str("comment", comment.ID).Msg("new comment detected")

		// Acknowledge before emitting.
		if err := w.comments.ReplyComment(ctx, w.docID, comment.ID, capability.AckReply); err != nil {
			w.log.Error().Err(err).Str("comment", comment.ID).Msg("posting acknowledgment")
			continue
		}

		payload, _ := json.Marshal(comment)
		if err := w.bus.Publish(event.ResourceEvent{
			Kind:       event.CommentAdded,
			ResourceID: w.docID,
			OriginID:   comment.ID,
			Payload:    string(payload),
			ObservedAt: time.Now(),
		}); err != nil {
			w.log.Error().Err(err).Msg("publishing comment event")
			continue
		}

		w.lastNotified = time.Now()
	}
}
