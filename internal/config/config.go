// Package config defines the ambassador configuration surface and its
// defaults. Values merge from file, environment, then flags.
package config

import (
	"time"

	"github.com/mcp-ambassador/ambassador-go/internal/logs"
)

// Config is the root configuration for the ambassador gateway.
type Config struct {
	Listen  string       `json:"listen" yaml:"listen"`
	DataDir string       `json:"data_dir" yaml:"data_dir"`
	Logging *logs.Config `json:"logging,omitempty" yaml:"logging,omitempty"`

	Audit      AuditConfig      `json:"audit" yaml:"audit"`
	Pools      PoolConfig       `json:"pools" yaml:"pools"`
	Sessions   SessionConfig    `json:"sessions" yaml:"sessions"`
	RateLimit  RateLimitConfig  `json:"rate_limit" yaml:"rate_limit"`
	Downstream DownstreamConfig `json:"downstream" yaml:"downstream"`

	// DenyPatterns are gateway-wide disallowed substrings or regular
	// expressions applied to every string tool argument.
	DenyPatterns []string `json:"deny_patterns,omitempty" yaml:"deny_patterns,omitempty"`
}

// AuditConfig controls the audit event buffer.
type AuditConfig struct {
	BufferSize    int           `json:"buffer_size" yaml:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
	SpillToDisk   bool          `json:"spill_to_disk" yaml:"spill_to_disk"`
	SpillPath     string        `json:"spill_path,omitempty" yaml:"spill_path,omitempty"`
}

// PoolConfig caps per-user downstream instances.
type PoolConfig struct {
	MaxPerUser            int           `json:"max_per_user" yaml:"max_per_user"`
	MaxTotal              int           `json:"max_total" yaml:"max_total"`
	IdleTimeout           time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	HealthCheckInterval   time.Duration `json:"health_check_interval" yaml:"health_check_interval"`
	RestartErrorThreshold int           `json:"restart_error_threshold" yaml:"restart_error_threshold"`
}

// SessionConfig controls session issuance and expiry.
type SessionConfig struct {
	TTL          time.Duration `json:"ttl" yaml:"ttl"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ReapInterval time.Duration `json:"reap_interval" yaml:"reap_interval"`
}

// RateLimitConfig controls the sliding-window limiter.
type RateLimitConfig struct {
	RegistrationsPerHour int           `json:"registrations_per_hour" yaml:"registrations_per_hour"`
	AuthFailuresPerMin   int           `json:"auth_failures_per_min" yaml:"auth_failures_per_min"`
	JanitorInterval      time.Duration `json:"janitor_interval" yaml:"janitor_interval"`
}

// DownstreamConfig controls downstream invocation behavior.
type DownstreamConfig struct {
	InvokeTimeout   time.Duration `json:"invoke_timeout" yaml:"invoke_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxResponseBody int64         `json:"max_response_body" yaml:"max_response_body"`
	StderrTailLines int           `json:"stderr_tail_lines" yaml:"stderr_tail_lines"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Listen:  "127.0.0.1:8780",
		DataDir: "",
		Logging: logs.DefaultConfig(),
		Audit: AuditConfig{
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			SpillToDisk:   true,
		},
		Pools: PoolConfig{
			MaxPerUser:            5,
			MaxTotal:              100,
			IdleTimeout:           15 * time.Minute,
			HealthCheckInterval:   30 * time.Second,
			RestartErrorThreshold: 3,
		},
		Sessions: SessionConfig{
			TTL:          time.Hour,
			IdleTimeout:  30 * time.Minute,
			ReapInterval: time.Minute,
		},
		RateLimit: RateLimitConfig{
			RegistrationsPerHour: 10,
			AuthFailuresPerMin:   20,
			JanitorInterval:      5 * time.Minute,
		},
		Downstream: DownstreamConfig{
			InvokeTimeout:   30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			MaxResponseBody: 10 << 20,
			StderrTailLines: 64,
		},
	}
}
