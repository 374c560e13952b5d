package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load builds the effective configuration: defaults, then the optional YAML
// file, then AMBASSADOR_* environment variables.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	applyEnv(cfg)

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".ambassador")
	}

	return cfg, nil
}

// applyEnv overlays AMBASSADOR_* environment variables on top of cfg.
func applyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("AMBASSADOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if listen := v.GetString("listen"); listen != "" {
		cfg.Listen = listen
	}
	if dataDir := v.GetString("data_dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if level := v.GetString("log_level"); level != "" {
		cfg.Logging.Level = level
	}
	if v.IsSet("audit_buffer_size") {
		cfg.Audit.BufferSize = v.GetInt("audit_buffer_size")
	}
	if v.IsSet("pools_max_total") {
		cfg.Pools.MaxTotal = v.GetInt("pools_max_total")
	}
	if v.IsSet("pools_max_per_user") {
		cfg.Pools.MaxPerUser = v.GetInt("pools_max_per_user")
	}
}

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for values the server cannot run with.
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Listen == "" {
		errs = append(errs, ValidationError{Field: "listen", Message: "listen address is required"})
	}
	if cfg.Audit.BufferSize <= 0 {
		errs = append(errs, ValidationError{Field: "audit.buffer_size", Message: "must be positive"})
	}
	if cfg.Audit.FlushInterval <= 0 {
		errs = append(errs, ValidationError{Field: "audit.flush_interval", Message: "must be positive"})
	}
	if cfg.Audit.SpillToDisk && cfg.Audit.SpillPath == "" && cfg.DataDir == "" {
		errs = append(errs, ValidationError{Field: "audit.spill_path", Message: "spill enabled but no path or data dir"})
	}
	if cfg.Pools.MaxPerUser <= 0 {
		errs = append(errs, ValidationError{Field: "pools.max_per_user", Message: "must be positive"})
	}
	if cfg.Pools.MaxTotal < cfg.Pools.MaxPerUser {
		errs = append(errs, ValidationError{Field: "pools.max_total", Message: "must be >= max_per_user"})
	}
	if cfg.Sessions.TTL <= 0 {
		errs = append(errs, ValidationError{Field: "sessions.ttl", Message: "must be positive"})
	}
	if cfg.Downstream.InvokeTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "downstream.invoke_timeout", Message: "must be positive"})
	}
	if cfg.Downstream.MaxResponseBody <= 0 {
		errs = append(errs, ValidationError{Field: "downstream.max_response_body", Message: "must be positive"})
	}

	return errs
}
