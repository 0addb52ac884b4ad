// Package event delivers watcher notifications to the session
// controller over a watermill-backed pub/sub bus.
package event

import "time"

// Kind identifies the type of external change a watcher observed.
type Kind string

const (
	// DocChanged means the watched document body differs from the
	// last representation the watcher saw.
	DocChanged Kind = "doc.changed"
	// CommentAdded means a new, unresolved comment appeared on the
	// watched document.
	CommentAdded Kind = "comment.added"
	// ChannelMessage means a new message was posted to the watched
	// chat channel.
	ChannelMessage Kind = "channel.message"
)

// ResourceEvent is the normalized notification emitted by a watcher.
// Each watcher emits at most one event per distinct underlying change.
type ResourceEvent struct {
	Kind       Kind      `json:"kind"`
	ResourceID string    `json:"resourceId"`
	// OriginID addresses the triggering item within the resource:
	// a comment id for CommentAdded, a message timestamp for
	// ChannelMessage. Empty for DocChanged.
	OriginID   string    `json:"originId,omitempty"`
	Payload    string    `json:"payload"`
	ObservedAt time.Time `json:"observedAt"`
}
