package watcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentd-ai/agentd/internal/capability"
	"github.com/agentd-ai/agentd/internal/event"
	"github.com/agentd-ai/agentd/internal/logging"
)

// ChannelReader fetches channel history and reacts to messages.
type ChannelReader interface {
	History(ctx context.Context, channelID string, limit int) ([]capability.Message, error)
	React(ctx context.Context, channelID, timestamp, name string) error
}

// ChannelWatcher polls a chat channel for messages the agent has not
// handled yet. If the newest message carries the bot marker the whole
// cycle is skipped: the agent spoke last and there is nothing to do.
type ChannelWatcher struct {
	log       zerolog.Logger
	channel   ChannelReader
	bus       *event.Bus
	channelID string
	cfg       Config

	lastTS float64
}

// NewChannelWatcher creates a watcher for one channel.
func NewChannelWatcher(channel ChannelReader, bus *event.Bus, channelID string, cfg Config) *ChannelWatcher {
	return &ChannelWatcher{
		log:       logging.For(fmt.Sprintf("channel-watcher:%s", channelID)),
		channel:   channel,
		bus:       bus,
		channelID: channelID,
		cfg:       cfg.withDefaults(),
	}
}

// Run polls until ctx is cancelled.
func (w *ChannelWatcher) Run(ctx context.Context) {
	runLoop(ctx, w.cfg.PollInterval, w.cycle)
}

func (w *ChannelWatcher) cycle(ctx context.Context) {
	msgs, err := w.channel.History(ctx, w.channelID, w.cfg.HistoryLimit)
	if err != nil {
		w.log.Error().Err(err).Msg("channel history failed")
		return
	}
	if len(msgs) == 0 {
		return
	}

	// History is newest-first. Only a message that starts with the
	// marker is the agent's own; a human mentioning it mid-text is not.
	if strings.HasPrefix(strings.TrimSpace(msgs[0].Text), capability.BotMarker) {
		return
	}

	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if strings.HasPrefix(strings.TrimSpace(msg.Text), capability.BotMarker) {
			continue
		}
		ts, ok := msg.Timestamp()
		if !ok || ts <= w.lastTS {
			continue
		}

		w.log.Info().Str("ts", msg.TS).Msg("new channel message")

		if err := w.channel.React(ctx, w.channelID, msg.TS, "eyes"); err != nil {
			w.log.Warn().Err(err).Str("ts", msg.TS).Msg("adding reaction")
		}

		if err := w.bus.Publish(event.ResourceEvent{
			Kind:       event.ChannelMessage,
			ResourceID: w.channelID,
			OriginID:   msg.TS,
			Payload:    msg.Text,
			ObservedAt: time.Now(),
		}); err != nil {
			w.log.Error().Err(err).Msg("publishing channel event")
			continue
		}

		w.lastTS = ts
	}
}
