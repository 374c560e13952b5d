package validate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/mcp-ambassador/ambassador-go/internal/apperr"
)

// InputSchema is the subset of JSON Schema honored for tool arguments.
type InputSchema struct {
	Type       string                    `json:"type"`
	Required   []string                  `json:"required"`
	Properties map[string]PropertySchema `json:"properties"`
}

// PropertySchema constrains one argument.
type PropertySchema struct {
	Type      string `json:"type"`
	MaxLength int    `json:"maxLength"`
}

// ParseInputSchema decodes a tool's inputSchema JSON.
func ParseInputSchema(raw []byte) (*InputSchema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s InputSchema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("invalid input schema: %w", err)
	}
	return &s, nil
}

// Args checks tool-call arguments against the schema and an optional
// disallowed-pattern list. The first violation is returned.
func Args(schema *InputSchema, args map[string]any, disallowed []*DenyPattern) error {
	if schema != nil {
		for _, name := range schema.Required {
			if _, ok := args[name]; !ok {
				return apperr.Newf(apperr.CodeMissingRequiredArg, "missing required argument %q", name)
			}
		}
		for name, value := range args {
			prop, ok := schema.Properties[name]
			if !ok {
				continue
			}
			if err := checkType(name, prop, value); err != nil {
				return err
			}
		}
	}

	for name, value := range args {
		s, ok := value.(string)
		if !ok {
			continue
		}
		for _, p := range disallowed {
			if p.Match(s) {
				return apperr.Newf(apperr.CodeDisallowedPattern,
					"argument %q matches disallowed pattern %q", name, p.Source())
			}
		}
	}
	return nil
}

func checkType(name string, prop PropertySchema, value any) error {
	switch prop.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return apperr.Newf(apperr.CodeTypeMismatch, "argument %q must be a string", name)
		}
		if prop.MaxLength > 0 && len(s) > prop.MaxLength {
			return apperr.Newf(apperr.CodeExceedsMaxLength,
				"argument %q exceeds maximum length %d", name, prop.MaxLength)
		}
	case "number", "integer":
		if _, ok := value.(float64); !ok {
			if _, ok := value.(int); !ok {
				return apperr.Newf(apperr.CodeTypeMismatch, "argument %q must be a number", name)
			}
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return apperr.Newf(apperr.CodeTypeMismatch, "argument %q must be a boolean", name)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return apperr.Newf(apperr.CodeTypeMismatch, "argument %q must be an array", name)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return apperr.Newf(apperr.CodeTypeMismatch, "argument %q must be an object", name)
		}
	}
	return nil
}

// DenyPattern is a compiled disallowed substring or regular expression.
// Regular expressions run under RE2 semantics (linear time), and patterns
// are pre-screened so only bounded repetition and plain ^/$ anchors are
// accepted.
type DenyPattern struct {
	source string
	re     *regexp.Regexp
}

const (
	maxPatternLen    = 256
	maxBoundedRepeat = 64
)

var repeatBoundRe = regexp.MustCompile(`\{(\d+)(,(\d+)?)?\}`)

// CompileDenyPattern builds a pattern. Input without regex metacharacters
// is treated as a literal substring.
func CompileDenyPattern(pattern string) (*DenyPattern, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty disallowed pattern")
	}
	if len(pattern) > maxPatternLen {
		return nil, fmt.Errorf("disallowed pattern too long (%d > %d)", len(pattern), maxPatternLen)
	}
	if !strings.ContainsAny(pattern, `\.+*?()[]{}^$|`) {
		return &DenyPattern{source: pattern}, nil
	}
	for _, m := range repeatBoundRe.FindAllStringSubmatch(pattern, -1) {
		if m[2] != "" && m[3] == "" {
			return nil, fmt.Errorf("unbounded repetition %q is not allowed", m[0])
		}
		bound := m[1]
		if m[3] != "" {
			bound = m[3]
		}
		if len(bound) > 2 || (len(bound) == 2 && bound > fmt.Sprintf("%d", maxBoundedRepeat)) {
			return nil, fmt.Errorf("repetition bound in %q exceeds %d", m[0], maxBoundedRepeat)
		}
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid disallowed pattern: %w", err)
	}
	return &DenyPattern{source: pattern, re: re}, nil
}

// CompileDenyPatterns compiles a pattern list, failing on the first bad
// entry.
func CompileDenyPatterns(patterns []string) ([]*DenyPattern, error) {
	out := make([]*DenyPattern, 0, len(patterns))
	for _, pattern := range patterns {
		p, err := CompileDenyPattern(pattern)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Match reports whether the value trips the pattern.
func (p *DenyPattern) Match(value string) bool {
	if p.re != nil {
		return p.re.MatchString(value)
	}
	return strings.Contains(value, p.source)
}

// Source returns the original pattern text.
func (p *DenyPattern) Source() string {
	return p.source
}
