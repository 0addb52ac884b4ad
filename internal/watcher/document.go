package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/agentd-ai/agentd/internal/event"
	"github.com/agentd-ai/agentd/internal/logging"
)

// DocReader is the slice of the document store the watcher needs.
type DocReader interface {
	ReadDoc(ctx context.Context, documentID string) (string, error)
}

// DocumentWatcher polls a document body and emits DocChanged when the
// representation differs from the last one seen and the debounce
// window has elapsed. Edits landing inside the window coalesce into
// the next notification.
type DocumentWatcher struct {
	log   zerolog.Logger
	docs  DocReader
	bus   *event.Bus
	docID string
	cfg   Config

	seeded       bool
	lastSeen     string
	lastNotified time.Time
}

// NewDocumentWatcher creates a watcher for one document.
func NewDocumentWatcher(docs DocReader, bus *event.Bus, docID string, cfg Config) *DocumentWatcher {
	return &DocumentWatcher{
		log:   logging.For(fmt.Sprintf("doc-watcher:%s", docID)),
		docs:  docs,
		bus:   bus,
		docID: docID,
		cfg:   cfg.withDefaults(),
	}
}

// Run polls until ctx is cancelled.
func (w *DocumentWatcher) Run(ctx context.Context) {
	runLoop(ctx, w.cfg.PollInterval, w.cycle)
}

func (w *DocumentWatcher) cycle(ctx context.Context) {
	content, err := w.docs.ReadDoc(ctx, w.docID)
	if err != nil {
		w.log.Error().Err(err).Msg("read-doc failed")
		return
	}

	if !w.seeded {
		w.seeded = true
		w.lastSeen = content
		return
	}
	if content == w.lastSeen {
		return
	}

	previous := w.lastSeen
	w.lastSeen = content

	if time.Since(w.lastNotified) <= w.cfg.DebounceWindow {
		w.log.Debug().Msg("change detected inside debounce window; coalescing")
		return
	}

	if w.log.GetLevel() <= zerolog.DebugLevel {
		dmp := diffmatchpatch.New()
		diffs := dmp.DiffMain(previous, content, false)
		w.log.Debug().Str("diff", dmp.DiffPrettyText(diffs)).Msg("document changed")
	}
	w.log.Info().Msg("detected change in document")

	if err := w.bus.Publish(event.ResourceEvent{
		Kind:       event.DocChanged,
		ResourceID: w.docID,
		Payload:    content,
		ObservedAt: time.Now(),
	}); err != nil {
		w.log.Error().Err(err).Msg("publishing doc change")
		return
	}
	w.lastNotified = time.Now()
}
