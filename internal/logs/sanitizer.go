package logs

import (
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

const redactedPlaceholder = "***REDACTED***"

// credentialParams are query parameter names whose values are replaced before
// a URL is allowed into a log line.
var credentialParams = []string{
	"apikey", "api_key", "token", "secret", "password", "key", "access_token",
}

// keyPatterns match bare secrets that occasionally end up inside messages.
var keyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bamb_(?:sk|ak|rt)_[A-Za-z0-9_-]{20,}\b`),
	regexp.MustCompile(`\b(Bearer\s+)[A-Za-z0-9\-._~+/]+=*`),
}

// RedactURL replaces credential query parameter values in a URL string.
// Unparseable input is returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	q := u.Query()
	changed := false
	for _, name := range credentialParams {
		if q.Has(name) {
			q.Set(name, redactedPlaceholder)
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// sanitizeString scrubs key material and URL credentials from a value.
func sanitizeString(s string) string {
	for _, re := range keyPatterns {
		s = re.ReplaceAllString(s, redactedPlaceholder)
	}
	if strings.Contains(s, "://") && strings.Contains(s, "?") {
		s = RedactURL(s)
	}
	return s
}

// SecretSanitizer wraps a zapcore.Core and scrubs secrets from the message
// and from every string field before the entry reaches an output.
type SecretSanitizer struct {
	zapcore.Core
}

// NewSecretSanitizer wraps core with secret scrubbing.
func NewSecretSanitizer(core zapcore.Core) *SecretSanitizer {
	return &SecretSanitizer{Core: core}
}

// Check implements zapcore.Core, routing accepted entries through this core.
func (s *SecretSanitizer) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Core.Enabled(entry.Level) {
		return checked.AddCore(entry, s)
	}
	return checked
}

// With sanitizes structured context fields added ahead of time.
func (s *SecretSanitizer) With(fields []zapcore.Field) zapcore.Core {
	return &SecretSanitizer{Core: s.Core.With(sanitizeFields(fields))}
}

// Write sanitizes the entry message and fields, then delegates.
func (s *SecretSanitizer) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = sanitizeString(entry.Message)
	return s.Core.Write(entry, sanitizeFields(fields))
}

func sanitizeFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	copy(out, fields)
	for i := range out {
		if out[i].Type == zapcore.StringType {
			out[i].String = sanitizeString(out[i].String)
		}
	}
	return out
}
