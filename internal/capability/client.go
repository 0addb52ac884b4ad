package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentd-ai/agentd/internal/logging"
)

// TransportType selects how an MCP server is reached.
type TransportType string

const (
	TransportTypeStdio  TransportType = "stdio"
	TransportTypeRemote TransportType = "remote"
)

// ServerConfig defines one MCP server connection.
type ServerConfig struct {
	Enabled     bool              `json:"enabled"`
	Type        TransportType     `json:"type"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Timeout     int               `json:"timeout,omitempty"` // milliseconds
}

// Status represents a server's connection status.
type Status string

const (
	StatusConnected Status = "connected"
	StatusDisabled  Status = "disabled"
	StatusFailed    Status = "failed"
)

// ServerStatus is a point-in-time view of one server.
type ServerStatus struct {
	Name      string  `json:"name"`
	Status    Status  `json:"status"`
	ToolCount int     `json:"toolCount"`
	Error     *string `json:"error,omitempty"`
}

// Client manages the MCP server connections for one session, using the
// official MCP Go SDK.
type Client struct {
	mu        sync.RWMutex
	servers   map[string]*mcpServer
	sdkClient *sdkmcp.Client
}

type mcpServer struct {
	name    string
	config  *ServerConfig
	session *sdkmcp.ClientSession
	tools   []Tool
	status  Status
	err     string
}

// NewClient creates a new capability client.
func NewClient() *Client {
	return &Client{
		servers: make(map[string]*mcpServer),
		sdkClient: sdkmcp.NewClient(&sdkmcp.Implementation{
			Name:    "agentd",
			Version: "1.0.0",
		}, nil),
	}
}

// AddServer connects to an MCP server and records its tools.
func (c *Client) AddServer(ctx context.Context, name string, cfg *ServerConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.servers[name]; ok {
		return fmt.Errorf("server already exists: %s", name)
	}

	if !cfg.Enabled {
		c.servers[name] = &mcpServer{name: name, config: cfg, status: StatusDisabled}
		return nil
	}

	server, err := c.connectServer(ctx, name, cfg)
	if err != nil {
		c.servers[name] = &mcpServer{name: name, config: cfg, status: StatusFailed, err: err.Error()}
		return err
	}

	c.servers[name] = server
	logging.Info().Str("server", name).Int("tools", len(server.tools)).Msg("capability server connected")
	return nil
}

func (c *Client) connectServer(ctx context.Context, name string, cfg *ServerConfig) (*mcpServer, error) {
	timeout := time.Duration(cfg.Timeout) * time.Millisecond
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	server := &mcpServer{name: name, config: cfg}

	switch cfg.Type {
	case TransportTypeRemote:
		httpClient := httpClientWithHeaders(cfg.Headers)
		transports := []struct {
			name      string
			transport sdkmcp.Transport
		}{
			{name: "streamable", transport: &sdkmcp.StreamableClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient}},
			{name: "sse", transport: &sdkmcp.SSEClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient}},
		}

		var lastErr error
		for _, candidate := range transports {
			session, err := c.connectWithTransport(ctx, candidate.transport, timeout, server)
			if err != nil {
				lastErr = fmt.Errorf("%s transport: %w", candidate.name, err)
				continue
			}
			server.session = session
			server.status = StatusConnected
			return server, nil
		}
		return nil, lastErr

	case TransportTypeStdio:
		if len(cfg.Command) == 0 {
			return nil, fmt.Errorf("empty command")
		}

		connectCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
		cmd.Env = os.Environ()
		for k, v := range cfg.Environment {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}

		session, err := c.connectWithTransport(connectCtx, &sdkmcp.CommandTransport{Command: cmd}, timeout, server)
		if err != nil {
			return nil, err
		}
		server.session = session
		server.status = StatusConnected
		return server, nil

	default:
		return nil, fmt.Errorf("unknown transport type: %s", cfg.Type)
	}
}

func (c *Client) connectWithTransport(ctx context.Context, transport sdkmcp.Transport, timeout time.Duration, server *mcpServer) (*sdkmcp.ClientSession, error) {
	session, err := c.sdkClient.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	listCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := session.ListTools(listCtx, nil)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	server.tools = make([]Tool, len(result.Tools))
	for i, t := range result.Tools {
		schema, _ := json.Marshal(t.InputSchema)
		server.tools[i] = Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		}
	}
	return session, nil
}

func httpClientWithHeaders(headers map[string]string) *http.Client {
	client := &http.Client{}
	if len(headers) == 0 {
		return client
	}
	client.Transport = &headerRoundTripper{headers: headers, next: http.DefaultTransport}
	return client
}

type headerRoundTripper struct {
	headers map[string]string
	next    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range h.headers {
		cloned.Header.Set(k, v)
	}
	return h.next.RoundTrip(cloned)
}

// ToolsByServer returns the tools advertised by each connected server.
func (c *Client) ToolsByServer() map[string][]Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string][]Tool)
	for name, server := range c.servers {
		if server.status != StatusConnected {
			continue
		}
		out[name] = append([]Tool(nil), server.tools...)
	}
	return out
}

// CallTool invokes a tool on the named server and returns the joined
// text content of the result.
func (c *Client) CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (string, error) {
	c.mu.RLock()
	server, ok := c.servers[serverName]
	c.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("no server found: %s", serverName)
	}
	if server.session == nil {
		return "", fmt.Errorf("server not connected: %s", serverName)
	}

	result, err := server.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		return "", err
	}

	if result.IsError {
		for _, content := range result.Content {
			if text, ok := content.(*sdkmcp.TextContent); ok {
				return "", fmt.Errorf("tool error: %s", text.Text)
			}
		}
		return "", fmt.Errorf("tool execution failed")
	}

	output := ""
	for _, content := range result.Content {
		if text, ok := content.(*sdkmcp.TextContent); ok {
			output += text.Text
		}
	}
	return output, nil
}

// Status reports every configured server.
func (c *Client) Status() []ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(c.servers))
	for name, server := range c.servers {
		s := ServerStatus{
			Name:      name,
			Status:    server.status,
			ToolCount: len(server.tools),
		}
		if server.err != "" {
			errCopy := server.err
			s.Error = &errCopy
		}
		statuses = append(statuses, s)
	}
	return statuses
}

// Close shuts down every server session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, server := range c.servers {
		if server.session == nil {
			continue
		}
		if err := server.session.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		server.session = nil
		server.status = StatusFailed
	}
	return firstErr
}
