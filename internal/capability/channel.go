package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Wire names of the channel capabilities.
const (
	capChannelHistory = "slack_get_channel_history"
	capChannelPost    = "slack_post_message"
	capChannelReact   = "slack_add_reaction"
)

// Message is one chat channel message. TS is the channel's native
// timestamp string; it doubles as the message id for reactions.
type Message struct {
	Text string `json:"text"`
	TS   string `json:"ts"`
}

// Timestamp parses the message timestamp. A false return means the
// message carries no usable timestamp and should be skipped.
func (m Message) Timestamp() (float64, bool) {
	if m.TS == "" {
		return 0, false
	}
	ts, err := strconv.ParseFloat(m.TS, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// Channel is the typed facade over the chat channel capabilities.
type Channel struct {
	reg *Registry
}

// NewChannel returns a channel facade backed by the registry.
func NewChannel(reg *Registry) *Channel {
	return &Channel{reg: reg}
}

// History fetches the most recent messages, newest first.
func (c *Channel) History(ctx context.Context, channelID string, limit int) ([]Message, error) {
	out, err := c.reg.Invoke(ctx, capChannelHistory, map[string]any{
		"channel_id": channelID,
		"limit":      limit,
	})
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal([]byte(out), &envelope); err != nil {
		return nil, fmt.Errorf("parsing channel history: %w", err)
	}
	return envelope.Messages, nil
}

// Post sends a message to the channel.
func (c *Channel) Post(ctx context.Context, channelID, text string) error {
	_, err := c.reg.Invoke(ctx, capChannelPost, map[string]any{
		"channel_id": channelID,
		"text":       text,
	})
	return err
}

// React adds a reaction to the message with the given timestamp.
func (c *Channel) React(ctx context.Context, channelID, timestamp, reaction string) error {
	_, err := c.reg.Invoke(ctx, capChannelReact, map[string]any{
		"channel_id": channelID,
		"timestamp":  timestamp,
		"reaction":   reaction,
	})
	return err
}
