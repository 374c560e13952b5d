package downstream

import (
	"encoding/json"
	"regexp"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

// toolNameRe is the hygiene rule for raw downstream tool names. Dots are
// excluded: clients see "<mcp>.<tool>", so a raw name containing "." could
// impersonate another MCP's tool.
var toolNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]{0,63}$`)

// maxDescriptionLen caps tool descriptions.
const maxDescriptionLen = 500

// Tool is one downstream tool after hygiene filtering.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ValidToolName reports whether a downstream tool name may be exposed.
func ValidToolName(name string) bool {
	return toolNameRe.MatchString(name)
}

// sanitizeTools converts a tools/list result, dropping names that fail
// hygiene and truncating oversized descriptions.
func sanitizeTools(raw []mcp.Tool, mcpName string, logger *zap.Logger) []Tool {
	tools := make([]Tool, 0, len(raw))
	for i := range raw {
		t := &raw[i]
		if !ValidToolName(t.Name) {
			logger.Warn("dropping tool with invalid name",
				zap.String("mcp", mcpName),
				zap.String("tool", t.Name))
			continue
		}
		desc := t.Description
		if len(desc) > maxDescriptionLen {
			desc = desc[:maxDescriptionLen]
		}
		var schema json.RawMessage
		if raw, err := json.Marshal(t.InputSchema); err == nil && string(raw) != "null" {
			schema = raw
		}
		tools = append(tools, Tool{Name: t.Name, Description: desc, InputSchema: schema})
	}
	return tools
}
