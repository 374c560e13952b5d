// Package validate checks MCP catalog configurations before publication and
// tool-call arguments before dispatch.
package validate

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mcp-ambassador/ambassador-go/internal/storage"
)

// Result is a validation verdict for one catalog entry.
type Result struct {
	Valid       bool     `json:"valid"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	ValidatedAt string   `json:"validated_at"`
}

// shellMetachars in a command head suggest an injection attempt; commands
// are argv vectors and never pass through a shell.
const shellMetachars = ";|&$`"

// BlockedEnvVars are loader-influencing variables that may never appear in
// an MCP config. DYLD_* is matched as a prefix.
var BlockedEnvVars = []string{
	"LD_PRELOAD", "LD_LIBRARY_PATH", "NODE_OPTIONS", "NODE_PATH", "PATH",
}

// IsBlockedEnvVar reports whether name may not be set for a child process.
func IsBlockedEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	if strings.HasPrefix(upper, "DYLD_") {
		return true
	}
	for _, blocked := range BlockedEnvVars {
		if upper == blocked {
			return true
		}
	}
	return false
}

// StdioConfig is the parsed config payload of a stdio MCP.
type StdioConfig struct {
	Command []string          `json:"command"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
}

// HTTPConfig is the parsed config payload of an http or sse MCP.
type HTTPConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// McpConfig validates a catalog entry's config against its transport type
// and credential declaration.
func McpConfig(entry *storage.McpCatalogEntry) *Result {
	r := &Result{
		Errors:      []string{},
		Warnings:    []string{},
		ValidatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	switch entry.TransportType {
	case storage.TransportStdio:
		validateStdio(entry.Config, r)
	case storage.TransportHTTP, storage.TransportSSE:
		validateHTTP(entry.Config, r)
	default:
		r.Errors = append(r.Errors, fmt.Sprintf("unknown transport type %q", entry.TransportType))
	}

	if entry.RequiresUserCredentials {
		validateCredentialSchema(entry.CredentialSchema, r)
	}
	if entry.ToolCatalog != "" {
		var tools []json.RawMessage
		if err := json.Unmarshal([]byte(entry.ToolCatalog), &tools); err != nil {
			r.Errors = append(r.Errors, "tool_catalog must be a JSON array")
		}
	}

	r.Valid = len(r.Errors) == 0
	return r
}

func validateStdio(raw string, r *Result) {
	var cfg StdioConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		r.Errors = append(r.Errors, fmt.Sprintf("config is not valid JSON: %v", err))
		return
	}
	if len(cfg.Command) == 0 {
		r.Errors = append(r.Errors, "stdio transport requires a non-empty command array")
		return
	}
	for _, part := range cfg.Command {
		if part == "" {
			r.Errors = append(r.Errors, "command array must not contain empty strings")
			return
		}
	}
	if strings.ContainsAny(cfg.Command[0], shellMetachars) {
		r.Errors = append(r.Errors, "command head contains shell metacharacters")
	}
	for name := range cfg.Env {
		if IsBlockedEnvVar(name) {
			r.Errors = append(r.Errors, fmt.Sprintf("env var %q is not allowed", name))
		}
	}
	for name, value := range cfg.Env {
		if err := CheckVarSyntax(value); err != nil {
			r.Errors = append(r.Errors, fmt.Sprintf("env var %q: %v", name, err))
		}
	}
}

func validateHTTP(raw string, r *Result) {
	var cfg HTTPConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		r.Errors = append(r.Errors, fmt.Sprintf("config is not valid JSON: %v", err))
		return
	}
	if cfg.URL == "" {
		r.Errors = append(r.Errors, "http transport requires a url")
		return
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil || parsed.Host == "" {
		r.Errors = append(r.Errors, fmt.Sprintf("url %q does not parse", cfg.URL))
		return
	}
	switch parsed.Scheme {
	case "https":
	case "http":
		r.Warnings = append(r.Warnings, "url uses plain http; https is strongly recommended")
	default:
		r.Errors = append(r.Errors, fmt.Sprintf("url scheme %q is not supported", parsed.Scheme))
	}
}

func validateCredentialSchema(raw string, r *Result) {
	if raw == "" {
		r.Errors = append(r.Errors, "requires_user_credentials is set but credential_schema is missing")
		return
	}
	var schema map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &schema); err != nil {
		r.Errors = append(r.Errors, "credential_schema is not a JSON object")
		return
	}
	if _, hasType := schema["type"]; !hasType {
		if _, hasProps := schema["properties"]; !hasProps {
			r.Errors = append(r.Errors, "credential_schema must declare type or properties")
		}
	}
}

// CheckVarSyntax validates ${VAR} placeholders syntactically; resolution
// happens at spawn time.
func CheckVarSyntax(value string) error {
	for i := 0; i < len(value); i++ {
		if value[i] != '$' || i+1 >= len(value) || value[i+1] != '{' {
			continue
		}
		end := strings.IndexByte(value[i+2:], '}')
		if end < 0 {
			return fmt.Errorf("unterminated ${...} placeholder")
		}
		name := value[i+2 : i+2+end]
		if name == "" {
			return fmt.Errorf("empty ${} placeholder")
		}
		for _, c := range name {
			if !(c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')) {
				return fmt.Errorf("invalid character in placeholder name %q", name)
			}
		}
		i += 2 + end
	}
	return nil
}
