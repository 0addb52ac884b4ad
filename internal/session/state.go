package session

import "github.com/agentd-ai/agentd/internal/event"

// Origin identifies the channel that started the current turn
// sequence. It decides where the completion summary is delivered.
type Origin string

const (
	// OriginCLI means the local operator typed the prompt; the
	// summary is only logged and printed.
	OriginCLI Origin = "cli"
	// OriginComment means a document comment started the turn; the
	// summary is posted as a reply on that comment thread.
	OriginComment Origin = "comment"
	// OriginChannel means a chat message started the turn; the
	// summary is posted back to the channel.
	OriginChannel Origin = "channel"
)

// State is the single source of truth for one session. Only the
// controller writes it; watchers never see it.
type State struct {
	// ConversationID is the durable handle for this session's
	// conversation; it survives restarts via configuration.
	ConversationID string
	// DocumentSnapshot is the marked form of the attached document.
	// It is refreshed by re-reading the store after every write,
	// never mutated in place.
	DocumentSnapshot string
	// InteractionOrigin and OriginID route the completion report.
	// They reset to OriginCLI and empty exactly when a turn sequence
	// concludes, complete or abandoned.
	InteractionOrigin Origin
	OriginID          string
	// IterationCount counts supervisor verdicts consumed by the
	// current turn sequence.
	IterationCount int
	// PendingEvent holds an event that arrived mid-turn. It is
	// consumed, with priority over fresh operator input, the next
	// time the controller awaits input.
	PendingEvent *event.ResourceEvent
}
