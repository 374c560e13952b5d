package downstream

import (
	"fmt"
	"os"
	"strings"

	"github.com/mcp-ambassador/ambassador-go/internal/validate"
)

// passthroughVars are the only parent-environment variables handed to child
// processes. Everything else, including PATH overrides from config, is
// dropped.
var passthroughVars = []string{"HOME", "USER", "LANG", "LC_ALL", "TMPDIR", "TZ"}

// defaultPath is the fixed search path for spawned servers.
const defaultPath = "/usr/local/bin:/usr/bin:/bin"

// BuildEnvironment composes a sanitized child environment: a minimal
// passthrough set, a fixed PATH, then the config's own variables. Blocked
// loader variables are rejected, not silently dropped.
func BuildEnvironment(configEnv map[string]string) ([]string, error) {
	env := make([]string, 0, len(passthroughVars)+len(configEnv)+1)
	for _, name := range passthroughVars {
		if value := os.Getenv(name); value != "" {
			env = append(env, name+"="+value)
		}
	}
	env = append(env, "PATH="+defaultPath)

	for name, value := range configEnv {
		if validate.IsBlockedEnvVar(name) {
			return nil, fmt.Errorf("env var %q is not allowed", name)
		}
		env = append(env, name+"="+resolvePlaceholders(value))
	}
	return env, nil
}

// resolvePlaceholders expands ${VAR} against the parent environment. Syntax
// was validated at catalog time; unknown variables expand to empty.
func resolvePlaceholders(value string) string {
	if !strings.Contains(value, "${") {
		return value
	}
	return os.Expand(value, func(name string) string {
		return os.Getenv(name)
	})
}
