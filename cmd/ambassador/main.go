package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcp-ambassador/ambassador-go/internal/config"
)

var (
	configFile string
	dataDir    string
	listen     string
	logLevel   string
	logToFile  bool
	logDir     string

	version = "v0.1.0" // This will be injected by -ldflags during build
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "ambassador",
		Short:         "MCP Ambassador - trust-boundary gateway between agent clients and MCP tool servers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.ambassador)")
	rootCmd.PersistentFlags().StringVarP(&listen, "listen", "l", "", "Listen address")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", false, "Enable logging to a rotating file in the log directory")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Custom log directory path")

	rootCmd.AddCommand(serveCmd(), adminKeyCmd())

	if err := rootCmd.Execute(); err != nil {
		code := exitCodeFor(err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(code)
	}
}

// loadConfig builds the effective configuration from file, environment, and
// command-line flags, in that order of precedence.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errConfig, err)
	}

	if listen != "" {
		cfg.Listen = listen
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logToFile {
		cfg.Logging.EnableFile = true
	}
	if logDir != "" {
		cfg.Logging.LogDir = logDir
	}
	if cfg.Logging.EnableFile && cfg.Logging.LogDir == "" {
		cfg.Logging.LogDir = cfg.DataDir
	}

	if errs := config.Validate(cfg); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Error())
		}
		return nil, fmt.Errorf("%w: %s", errConfig, strings.Join(msgs, "; "))
	}
	return cfg, nil
}
