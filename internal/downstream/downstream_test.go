package downstream

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
	"github.com/mcp-ambassador/ambassador-go/internal/validate"
)

func TestStateMachineTransitions(t *testing.T) {
	var seen [][2]State
	sm := newStateMachine(func(from, to State) {
		seen = append(seen, [2]State{from, to})
	})

	require.Equal(t, StateCreated, sm.current())
	require.True(t, sm.transition(StateStarting))
	require.True(t, sm.transition(StateConnected))
	require.True(t, sm.transition(StateRefreshing))
	require.True(t, sm.transition(StateConnected))

	// No edge from connected straight back to starting.
	assert.False(t, sm.transition(StateStarting))
	assert.Equal(t, StateConnected, sm.current())

	require.True(t, sm.transition(StateDisconnected))
	require.True(t, sm.transition(StateStarting))
	require.True(t, sm.transition(StateStopping))
	require.True(t, sm.transition(StateStopped))

	// Stopped is terminal.
	for _, next := range []State{StateCreated, StateStarting, StateConnected, StateStopping} {
		assert.False(t, sm.transition(next), "stopped must reject %s", next)
	}
	assert.Len(t, seen, 8)
	assert.Equal(t, [2]State{StateCreated, StateStarting}, seen[0])
}

func TestBuildEnvironmentSanitizes(t *testing.T) {
	t.Setenv("HOME", "/home/amb")
	t.Setenv("LD_PRELOAD", "/tmp/evil.so")
	t.Setenv("SECRET_PARENT_VAR", "leak")

	env, err := BuildEnvironment(map[string]string{"API_MODE": "prod"})
	require.NoError(t, err)

	joined := strings.Join(env, "\n")
	assert.Contains(t, joined, "HOME=/home/amb")
	assert.Contains(t, joined, "PATH="+defaultPath)
	assert.Contains(t, joined, "API_MODE=prod")
	assert.NotContains(t, joined, "LD_PRELOAD")
	assert.NotContains(t, joined, "SECRET_PARENT_VAR")
}

func TestBuildEnvironmentRejectsBlockedVars(t *testing.T) {
	for _, name := range []string{"LD_PRELOAD", "NODE_OPTIONS", "PATH", "DYLD_INSERT_LIBRARIES"} {
		_, err := BuildEnvironment(map[string]string{name: "x"})
		assert.Error(t, err, name)
	}
}

func TestBuildEnvironmentExpandsPlaceholders(t *testing.T) {
	t.Setenv("UPSTREAM_TOKEN", "tok-123")
	env, err := BuildEnvironment(map[string]string{"TOKEN": "${UPSTREAM_TOKEN}"})
	require.NoError(t, err)
	assert.Contains(t, env, "TOKEN=tok-123")
}

func TestStderrTailKeepsRecentLines(t *testing.T) {
	tail := NewStderrTail()

	var b strings.Builder
	for i := 0; i < stderrTailLines+10; i++ {
		b.WriteString("line-")
		b.WriteByte(byte('0' + i%10))
		b.WriteString("\n")
	}
	tail.Consume(strings.NewReader(b.String()))

	lines := tail.Lines()
	require.Len(t, lines, stderrTailLines)
	// First ten lines were displaced.
	assert.Equal(t, "line-0", lines[0]) // (stderrTailLines+10) - 64 = 10, 10%10 = 0
	assert.Equal(t, "line-3", lines[len(lines)-1])
}

func TestStderrTailPartialFill(t *testing.T) {
	tail := NewStderrTail()
	tail.Consume(strings.NewReader("first\nsecond\n"))
	assert.Equal(t, []string{"first", "second"}, tail.Lines())
}

func TestSanitizeToolsHygiene(t *testing.T) {
	logger := zaptest.NewLogger(t)
	raw := []mcp.Tool{
		{Name: "read_file", Description: "reads a file"},
		{Name: "bad name with spaces", Description: "dropped"},
		{Name: "", Description: "dropped"},
		{Name: "summarize", Description: strings.Repeat("x", 900)},
		{Name: strings.Repeat("a", 65), Description: "too long a name"},
	}
	tools := sanitizeTools(raw, "docs", logger)
	require.Len(t, tools, 2)
	assert.Equal(t, "read_file", tools[0].Name)
	assert.Equal(t, "summarize", tools[1].Name)
	assert.Len(t, tools[1].Description, maxDescriptionLen)
}

func TestValidToolName(t *testing.T) {
	assert.True(t, ValidToolName("read_file"))
	assert.True(t, ValidToolName("_private-tool"))
	assert.True(t, ValidToolName("Tool9"))
	assert.False(t, ValidToolName("9tool"))
	assert.False(t, ValidToolName("has.dot"))
	assert.False(t, ValidToolName(strings.Repeat("a", 65)))
}

func TestParseConfig(t *testing.T) {
	stdio := &storage.McpCatalogEntry{
		McpID:         "mcp-1",
		Name:          "docs",
		TransportType: storage.TransportStdio,
		Config:        `{"command":["npx","-y","docs-server"],"env":{"MODE":"ro"}}`,
	}
	cfg, err := ParseConfig(stdio)
	require.NoError(t, err)
	assert.Equal(t, []string{"npx", "-y", "docs-server"}, cfg.Stdio.Command)
	assert.Equal(t, DefaultInvokeTimeout, cfg.InvokeTimeout)

	httpEntry := &storage.McpCatalogEntry{
		McpID:         "mcp-2",
		Name:          "search",
		TransportType: storage.TransportHTTP,
		Config:        `{"url":"https://search.internal/mcp"}`,
	}
	cfg, err = ParseConfig(httpEntry)
	require.NoError(t, err)
	assert.Equal(t, "https://search.internal/mcp", cfg.HTTP.URL)

	_, err = ParseConfig(&storage.McpCatalogEntry{
		Name:          "broken",
		TransportType: storage.TransportStdio,
		Config:        `{"command":[]}`,
	})
	assert.Error(t, err)

	_, err = ParseConfig(&storage.McpCatalogEntry{
		Name:          "weird",
		TransportType: "carrier-pigeon",
		Config:        `{}`,
	})
	assert.Error(t, err)
}

func TestConnectionRejectsShellMetachars(t *testing.T) {
	logger := zaptest.NewLogger(t)
	conn := NewConnection(&Config{
		Name:      "evil",
		Transport: storage.TransportStdio,
		Stdio:     &validate.StdioConfig{Command: []string{"sh -c; rm -rf /"}},
	}, logger, nil)

	err := conn.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metacharacters")
	assert.Equal(t, StateDisconnected, conn.State())
}

func TestInvokeToolRequiresConnected(t *testing.T) {
	logger := zaptest.NewLogger(t)
	conn := NewConnection(&Config{
		Name:      "docs",
		Transport: storage.TransportStdio,
		Stdio:     &validate.StdioConfig{Command: []string{"docs-server"}},
	}, logger, nil)

	_, err := conn.InvokeTool(context.Background(), "read_file", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUpstreamDisconnected, apperr.CodeOf(err))

	err = conn.RefreshToolList(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUpstreamDisconnected, apperr.CodeOf(err))

	health := conn.HealthCheck(context.Background())
	assert.False(t, health.Healthy)
}

func TestStopFromCreatedIsClean(t *testing.T) {
	logger := zaptest.NewLogger(t)
	conn := NewConnection(&Config{
		Name:      "docs",
		Transport: storage.TransportStdio,
		Stdio:     &validate.StdioConfig{Command: []string{"docs-server"}},
	}, logger, nil)

	require.NoError(t, conn.Stop(context.Background()))
	assert.Equal(t, StateStopped, conn.State())
	// Idempotent.
	require.NoError(t, conn.Stop(context.Background()))
}

func TestConnectionCredentialsMergeIntoHeaders(t *testing.T) {
	conn := NewConnection(&Config{
		Name:      "search",
		Transport: storage.TransportHTTP,
		HTTP: &validate.HTTPConfig{
			URL:     "https://search.internal/mcp",
			Headers: map[string]string{"X-Env": "prod"},
		},
		Credentials: map[string]string{"Authorization": "Bearer tok"},
	}, zaptest.NewLogger(t), nil)

	headers := conn.httpHeaders()
	assert.Equal(t, "prod", headers["X-Env"])
	assert.Equal(t, "Bearer tok", headers["Authorization"])
}
