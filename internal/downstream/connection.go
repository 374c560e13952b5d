package downstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/logs"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
	"github.com/mcp-ambassador/ambassador-go/internal/validate"
)

const (
	// DefaultInvokeTimeout bounds one tool call.
	DefaultInvokeTimeout = 30 * time.Second
	// MaxResponseBody caps a downstream response.
	MaxResponseBody = 10 << 20
	// stopDrainTimeout is how long Stop waits before the transport is
	// force-closed.
	stopDrainTimeout = 5 * time.Second
)

// Config describes one downstream server connection.
type Config struct {
	McpID     string
	Name      string
	Transport string
	Stdio     *validate.StdioConfig
	HTTP      *validate.HTTPConfig
	// Credentials are injected at spawn: env vars for stdio, headers for
	// http/sse. Never logged.
	Credentials   map[string]string
	InvokeTimeout time.Duration
}

// ParseConfig converts a catalog row into a connection config.
func ParseConfig(entry *storage.McpCatalogEntry) (*Config, error) {
	cfg := &Config{
		McpID:         entry.McpID,
		Name:          entry.Name,
		Transport:     entry.TransportType,
		InvokeTimeout: DefaultInvokeTimeout,
	}
	switch entry.TransportType {
	case storage.TransportStdio:
		var stdio validate.StdioConfig
		if err := json.Unmarshal([]byte(entry.Config), &stdio); err != nil {
			return nil, fmt.Errorf("invalid stdio config for %s: %w", entry.Name, err)
		}
		if len(stdio.Command) == 0 {
			return nil, fmt.Errorf("mcp %s has no command", entry.Name)
		}
		cfg.Stdio = &stdio
	case storage.TransportHTTP, storage.TransportSSE:
		var httpCfg validate.HTTPConfig
		if err := json.Unmarshal([]byte(entry.Config), &httpCfg); err != nil {
			return nil, fmt.Errorf("invalid http config for %s: %w", entry.Name, err)
		}
		if httpCfg.URL == "" {
			return nil, fmt.Errorf("mcp %s has no url", entry.Name)
		}
		cfg.HTTP = &httpCfg
	default:
		return nil, fmt.Errorf("unknown transport %q for %s", entry.TransportType, entry.Name)
	}
	return cfg, nil
}

// InvocationResult is a downstream tool-call outcome.
type InvocationResult struct {
	Content  []any          `json:"content"`
	IsError  bool           `json:"is_error"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Health is a health-check verdict.
type Health struct {
	Healthy bool   `json:"healthy"`
	McpName string `json:"mcp_name"`
	Error   string `json:"error,omitempty"`
}

// EventFunc observes connection lifecycle changes.
type EventFunc func(mcpName string, from, to State)

// Connection is one live downstream conversation.
type Connection struct {
	cfg    *Config
	logger *zap.Logger
	sm     *stateMachine
	stderr *StderrTail

	client         *client.Client
	stdioTransport *transport.Stdio
	tools          []Tool
}

// NewConnection builds a connection in the created state. onEvent may be
// nil.
func NewConnection(cfg *Config, logger *zap.Logger, onEvent EventFunc) *Connection {
	c := &Connection{
		cfg:    cfg,
		logger: logger.With(zap.String("mcp", cfg.Name)),
		stderr: NewStderrTail(),
	}
	c.sm = newStateMachine(func(from, to State) {
		c.logger.Debug("connection state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
		if onEvent != nil {
			onEvent(cfg.Name, from, to)
		}
	})
	return c
}

// State returns the current lifecycle state.
func (c *Connection) State() State { return c.sm.current() }

// Name returns the MCP catalog name.
func (c *Connection) Name() string { return c.cfg.Name }

// McpID returns the catalog row ID.
func (c *Connection) McpID() string { return c.cfg.McpID }

// StderrTail returns the recent stderr lines of a stdio child.
func (c *Connection) StderrTail() []string { return c.stderr.Lines() }

// Tools returns the sanitized tool list from the last discovery.
func (c *Connection) Tools() []Tool {
	c.sm.mu.RLock()
	defer c.sm.mu.RUnlock()
	out := make([]Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

func (c *Connection) buildClient() (*client.Client, error) {
	switch c.cfg.Transport {
	case storage.TransportStdio:
		head := c.cfg.Stdio.Command[0]
		if strings.ContainsAny(head, ";|&$`") {
			return nil, fmt.Errorf("command head contains shell metacharacters")
		}
		env := c.cfg.Stdio.Env
		if len(c.cfg.Credentials) > 0 {
			merged := make(map[string]string, len(env)+len(c.cfg.Credentials))
			for k, v := range env {
				merged[k] = v
			}
			for k, v := range c.cfg.Credentials {
				merged[k] = v
			}
			env = merged
		}
		envVars, err := BuildEnvironment(env)
		if err != nil {
			return nil, err
		}
		// Argv vector straight to exec; no shell is ever involved.
		c.stdioTransport = transport.NewStdio(head, envVars, c.cfg.Stdio.Command[1:]...)
		return client.NewClient(c.stdioTransport), nil

	case storage.TransportHTTP:
		headers := c.httpHeaders()
		httpClient := &http.Client{
			Timeout:   c.cfg.InvokeTimeout,
			Transport: newLimitTransport(MaxResponseBody),
		}
		httpTransport, err := transport.NewStreamableHTTP(c.cfg.HTTP.URL,
			transport.WithHTTPHeaders(headers),
			transport.WithHTTPBasicClient(httpClient))
		if err != nil {
			return nil, fmt.Errorf("failed to create http transport: %w", err)
		}
		return client.NewClient(httpTransport), nil

	case storage.TransportSSE:
		headers := c.httpHeaders()
		httpClient := &http.Client{
			Timeout:   0, // SSE stream stays open
			Transport: newLimitTransport(MaxResponseBody),
		}
		sseClient, err := client.NewSSEMCPClient(c.cfg.HTTP.URL,
			client.WithHTTPClient(httpClient),
			client.WithHeaders(headers))
		if err != nil {
			return nil, fmt.Errorf("failed to create sse client: %w", err)
		}
		return sseClient, nil
	}
	return nil, fmt.Errorf("unknown transport %q", c.cfg.Transport)
}

func (c *Connection) httpHeaders() map[string]string {
	headers := make(map[string]string, len(c.cfg.HTTP.Headers)+len(c.cfg.Credentials))
	for k, v := range c.cfg.HTTP.Headers {
		headers[k] = v
	}
	for k, v := range c.cfg.Credentials {
		headers[k] = v
	}
	return headers
}

// Start spawns or dials the downstream, runs the MCP handshake in protocol
// order and loads the tool list. Any failure lands in disconnected.
func (c *Connection) Start(ctx context.Context) error {
	if !c.sm.transition(StateStarting) {
		return apperr.Newf(apperr.CodeConflict, "connection %s cannot start from state %s",
			c.cfg.Name, c.sm.current())
	}

	fail := func(err error) error {
		c.sm.transition(StateDisconnected)
		return err
	}

	mcpClient, err := c.buildClient()
	if err != nil {
		return fail(fmt.Errorf("failed to build client for %s: %w", c.cfg.Name, err))
	}
	c.client = mcpClient

	if err := mcpClient.Start(ctx); err != nil {
		return fail(fmt.Errorf("failed to start %s: %w", c.cfg.Name, err))
	}
	if c.stdioTransport != nil {
		if stderr := c.stdioTransport.Stderr(); stderr != nil {
			go c.stderr.Consume(stderr)
		}
	}

	// Handshake order is fixed: initialize, then the initialized
	// notification (sent by the client library), then tools/list.
	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "ambassador",
		Version: "1.0.0",
	}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}

	serverInfo, err := mcpClient.Initialize(ctx, initRequest)
	if err != nil {
		mcpClient.Close()
		return fail(fmt.Errorf("initialize failed for %s: %w", c.cfg.Name, err))
	}
	c.logger.Info("downstream initialized",
		zap.String("server_name", serverInfo.ServerInfo.Name),
		zap.String("server_version", serverInfo.ServerInfo.Version))

	tools, err := c.listTools(ctx)
	if err != nil {
		mcpClient.Close()
		return fail(fmt.Errorf("tools/list failed for %s: %w", c.cfg.Name, err))
	}

	c.sm.mu.Lock()
	c.tools = tools
	c.sm.mu.Unlock()

	if !c.sm.transition(StateConnected) {
		return fmt.Errorf("connection %s stopped during startup", c.cfg.Name)
	}
	c.logger.Info("downstream connected", zap.Int("tools", len(tools)))
	return nil
}

func (c *Connection) listTools(ctx context.Context) ([]Tool, error) {
	result, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return sanitizeTools(result.Tools, c.cfg.Name, c.logger), nil
}

// RefreshToolList re-runs tools/list on a connected downstream.
func (c *Connection) RefreshToolList(ctx context.Context) error {
	if !c.sm.transition(StateRefreshing) {
		return apperr.Newf(apperr.CodeUpstreamDisconnected, "mcp %s is not connected", c.cfg.Name)
	}
	tools, err := c.listTools(ctx)
	if err != nil {
		c.sm.transition(StateDisconnected)
		return apperr.Wrap(apperr.CodeUpstreamDisconnected,
			fmt.Sprintf("tool refresh failed for %s", c.cfg.Name), err)
	}
	c.sm.mu.Lock()
	c.tools = tools
	c.sm.mu.Unlock()
	c.sm.transition(StateConnected)
	return nil
}

// InvokeTool calls one tool with a request-scoped deadline.
func (c *Connection) InvokeTool(ctx context.Context, toolName string, args map[string]any) (*InvocationResult, error) {
	if state := c.sm.current(); state != StateConnected && state != StateRefreshing {
		return nil, apperr.Newf(apperr.CodeUpstreamDisconnected,
			"mcp %s is %s", c.cfg.Name, state)
	}

	timeout := c.cfg.InvokeTimeout
	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	request := mcp.CallToolRequest{}
	request.Params.Name = toolName
	request.Params.Arguments = args

	started := time.Now()
	result, err := c.client.CallTool(callCtx, request)
	duration := time.Since(started)

	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, apperr.Newf(apperr.CodeUpstreamTimeout,
				"tool %s timed out after %s", toolName, timeout)
		}
		c.sm.transition(StateDisconnected)
		return nil, apperr.Wrap(apperr.CodeUpstreamDisconnected,
			fmt.Sprintf("invocation of %s failed", toolName), err)
	}

	content := make([]any, 0, len(result.Content))
	size := 0
	for _, item := range result.Content {
		raw, err := json.Marshal(item)
		if err != nil {
			continue
		}
		size += len(raw)
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			content = append(content, decoded)
		}
	}
	// HTTP responses are capped at the wire by limitTransport; this check
	// covers stdio and the SSE event stream.
	if size > MaxResponseBody {
		return nil, apperr.Newf(apperr.CodeUpstreamDisconnected,
			"response from %s exceeds %d bytes", c.cfg.Name, MaxResponseBody)
	}

	return &InvocationResult{
		Content: content,
		IsError: result.IsError,
		Metadata: map[string]any{
			"duration_ms": duration.Milliseconds(),
			"mcp_server":  c.cfg.Name,
		},
	}, nil
}

// HealthCheck pings the downstream.
func (c *Connection) HealthCheck(ctx context.Context) Health {
	if state := c.sm.current(); state != StateConnected && state != StateRefreshing {
		return Health{Healthy: false, McpName: c.cfg.Name, Error: "state " + state.String()}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.client.Ping(pingCtx); err != nil {
		return Health{Healthy: false, McpName: c.cfg.Name, Error: logs.RedactURL(err.Error())}
	}
	return Health{Healthy: true, McpName: c.cfg.Name}
}

// Stop drains and closes the connection. The transport sends SIGTERM to a
// stdio child and kills it if it lingers past the drain window.
func (c *Connection) Stop(ctx context.Context) error {
	if !c.sm.transition(StateStopping) {
		// Already stopping or stopped.
		return nil
	}
	done := make(chan struct{})
	go func() {
		if c.client != nil {
			c.client.Close()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopDrainTimeout):
		c.logger.Warn("downstream did not stop within drain window")
	case <-ctx.Done():
	}
	c.sm.transition(StateStopped)
	c.logger.Info("downstream stopped")
	return nil
}
