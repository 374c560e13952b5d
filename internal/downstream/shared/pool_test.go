package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
	"github.com/mcp-ambassador/ambassador-go/internal/downstream"
	"github.com/mcp-ambassador/ambassador-go/internal/storage"
)

func TestAggregateOrderAndCollisions(t *testing.T) {
	logger := zaptest.NewLogger(t)
	toolsByMcp := map[string][]downstream.Tool{
		"zeta": {
			{Name: "write_file", Description: "zeta writer"},
			{Name: "search", Description: "zeta search"},
		},
		"alpha": {
			{Name: "search", Description: "alpha search"},
			{Name: "read_file", Description: "alpha reader"},
		},
	}

	catalog := aggregate(toolsByMcp, logger)
	require.Len(t, catalog, 4)

	// Ordered by (mcp_name, tool_name); both MCPs keep their "search"
	// since callers qualify tool names with the MCP name.
	assert.Equal(t, "read_file", catalog[0].ToolName)
	assert.Equal(t, "alpha", catalog[0].McpName)
	assert.Equal(t, "search", catalog[1].ToolName)
	assert.Equal(t, "alpha", catalog[1].McpName)
	assert.Equal(t, "search", catalog[2].ToolName)
	assert.Equal(t, "zeta", catalog[2].McpName)
	assert.Equal(t, "write_file", catalog[3].ToolName)
	assert.Equal(t, "zeta", catalog[3].McpName)
}

func TestAggregateDropsRepeatWithinOneMcp(t *testing.T) {
	catalog := aggregate(map[string][]downstream.Tool{
		"alpha": {
			{Name: "search", Description: "first"},
			{Name: "search", Description: "second"},
		},
	}, zaptest.NewLogger(t))
	require.Len(t, catalog, 1)
	assert.Equal(t, "first", catalog[0].Description)
}

func TestAggregateEmpty(t *testing.T) {
	catalog := aggregate(nil, zaptest.NewLogger(t))
	assert.Empty(t, catalog)
}

func TestStartEntrySkipsBrokenConfig(t *testing.T) {
	pool := NewPool(zaptest.NewLogger(t), 0)
	err := pool.StartEntry(context.Background(), &storage.McpCatalogEntry{
		McpID:         "mcp-1",
		Name:          "broken",
		Status:        storage.McpStatusPublished,
		IsolationMode: storage.IsolationShared,
		TransportType: storage.TransportStdio,
		Config:        `{"command":["sh;rm"]}`,
	})
	require.Error(t, err)
	assert.Empty(t, pool.Running())
}

func TestStartAllToleratesIndividualFailures(t *testing.T) {
	pool := NewPool(zaptest.NewLogger(t), 0)
	entries := []*storage.McpCatalogEntry{
		{
			McpID:         "mcp-1",
			Name:          "bad-command",
			Status:        storage.McpStatusPublished,
			IsolationMode: storage.IsolationShared,
			TransportType: storage.TransportStdio,
			Config:        `{"command":["ls;id"]}`,
		},
		{
			McpID:         "mcp-2",
			Name:          "draft-entry",
			Status:        storage.McpStatusDraft,
			IsolationMode: storage.IsolationShared,
			TransportType: storage.TransportStdio,
			Config:        `{"command":["ls"]}`,
		},
		{
			McpID:         "mcp-3",
			Name:          "per-user-entry",
			Status:        storage.McpStatusPublished,
			IsolationMode: storage.IsolationPerUser,
			TransportType: storage.TransportStdio,
			Config:        `{"command":["ls"]}`,
		},
	}
	// None of these should come up: one fails, two are filtered.
	pool.StartAll(context.Background(), entries)
	assert.Empty(t, pool.Running())
	assert.Empty(t, pool.ToolCatalog())
}

func TestStopEntryUnknown(t *testing.T) {
	pool := NewPool(zaptest.NewLogger(t), 0)
	err := pool.StopEntry(context.Background(), "ghost")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestInvokeToolUnknownMcp(t *testing.T) {
	pool := NewPool(zaptest.NewLogger(t), 0)
	_, err := pool.InvokeTool(context.Background(), "ghost", "read_file", nil)
	assert.Equal(t, apperr.CodeUpstreamDisconnected, apperr.CodeOf(err))
}

func TestResolveToolMiss(t *testing.T) {
	pool := NewPool(zaptest.NewLogger(t), 0)

	// An unqualified name never resolves.
	_, _, ok := pool.ResolveTool("read_file")
	assert.False(t, ok)

	_, _, ok = pool.ResolveTool("docs.read_file")
	assert.False(t, ok)
}
