// Package watcher implements the polling loops that detect external
// changes (document edits, new comments, new channel messages) and
// emit normalized ResourceEvents. A watcher decides that something
// changed, never what to do about it.
//
// Failure semantics are uniform: any capability error aborts only the
// current cycle; the watcher logs, sleeps the poll interval, and tries
// again. Watchers stop when their context is cancelled between cycles.
package watcher

import (
	"context"
	"time"
)

// Defaults. Poll interval and debounce window are independent knobs
// with no fixed relationship; both come from configuration.
const (
	DefaultPollInterval   = 10 * time.Second
	DefaultDebounceWindow = 30 * time.Second
	DefaultHistoryLimit   = 10
)

// Config tunes a watcher's polling behavior.
type Config struct {
	// PollInterval is the fixed wait between poll cycles.
	PollInterval time.Duration
	// DebounceWindow is the minimum gap between two document-change
	// notifications. Only the document watcher uses it.
	DebounceWindow time.Duration
	// HistoryLimit is how many recent messages the channel watcher
	// fetches per cycle.
	HistoryLimit int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = DefaultDebounceWindow
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	return c
}

// runLoop drives cycles at a fixed interval until ctx is cancelled.
func runLoop(ctx context.Context, interval time.Duration, cycle func(context.Context)) {
	for {
		cycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
