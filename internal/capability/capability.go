// Package capability connects a session to its external resources.
//
// Every remote operation the agent performs (reading a document,
// replying to a comment, posting to a channel) is a named tool on an
// MCP server. A Registry maps capability names to the server that
// provides them and is built once at session start, then injected into
// the components that need it. Nothing in this package is process
// global.
package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// BotMarker prefixes every remote reply or message the agent authors.
// Watchers treat content starting with it as the agent's own prior
// output and never re-trigger on it.
const BotMarker = "[BOT COMMENT]:"

// AckReply is the fixed "seen" acknowledgment posted on a comment
// thread before its event is emitted.
const AckReply = BotMarker + "\n\U0001F440"

// ErrProviderUnavailable wraps any failed capability RPC. Watchers
// retry on the next poll cycle; the controller aborts only the current
// patch application.
var ErrProviderUnavailable = errors.New("capability provider unavailable")

// ErrUnknownCapability reports a capability name no connected server
// provides.
var ErrUnknownCapability = errors.New("unknown capability")

// Tool describes one capability as advertised by its server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// handle pairs a capability with the server session providing it.
type handle struct {
	server string
	tool   Tool
}

// Registry maps capability names to provider handles. It replaces the
// original design's process-wide tool cache: one registry per session,
// constructed from the session's own client.
type Registry struct {
	mu      sync.RWMutex
	client  *Client
	handles map[string]handle
}

// NewRegistry builds a registry from the tools currently advertised by
// the client's connected servers. When two servers advertise the same
// name, the first one wins; capability names are expected to be unique
// per session.
func NewRegistry(client *Client) *Registry {
	r := &Registry{
		client:  client,
		handles: make(map[string]handle),
	}
	for server, tools := range client.ToolsByServer() {
		for _, t := range tools {
			if _, ok := r.handles[t.Name]; ok {
				continue
			}
			r.handles[t.Name] = handle{server: server, tool: t}
		}
	}
	return r
}

// Has reports whether the named capability is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handles[name]
	return ok
}

// Tools returns every registered capability.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.handles))
	for _, h := range r.handles {
		tools = append(tools, h.tool)
	}
	return tools
}

// Invoke calls the named capability and returns the output field of
// its result envelope. Results are free-form JSON envelopes with at
// least an "output" field; plain text results pass through unchanged.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	h, ok := r.handles[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCapability, name)
	}

	raw, err := r.client.CallTool(ctx, h.server, h.tool.Name, args)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, name, err)
	}
	return extractOutput(raw), nil
}

// extractOutput unwraps {"output": ...} result envelopes. Anything
// else is returned verbatim.
func extractOutput(raw string) string {
	var envelope struct {
		Output *string `json:"output"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err == nil && envelope.Output != nil {
		return *envelope.Output
	}
	return raw
}
