package main

// Exit codes for ambassador to enable specific error handling by service
// managers and provisioning scripts.

import (
	"errors"

	"github.com/mcp-ambassador/ambassador-go/internal/storage"
)

const (
	// ExitCodeSuccess indicates normal program termination
	ExitCodeSuccess = 0

	// ExitCodeGeneralError indicates a generic error (default)
	ExitCodeGeneralError = 1

	// ExitCodeConfigError indicates configuration validation failed
	ExitCodeConfigError = 2

	// ExitCodeMigrationError indicates a schema migration failed; the
	// database was left untouched and needs operator attention
	ExitCodeMigrationError = 3
)

// errConfig marks configuration failures so Execute can map them to
// ExitCodeConfigError.
var errConfig = errors.New("invalid configuration")

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitCodeSuccess
	case errors.Is(err, storage.ErrMigration):
		return ExitCodeMigrationError
	case errors.Is(err, errConfig):
		return ExitCodeConfigError
	default:
		return ExitCodeGeneralError
	}
}

// exitCodeDescription returns a human-readable description of the exit code
func exitCodeDescription(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "Success"
	case ExitCodeGeneralError:
		return "General error"
	case ExitCodeConfigError:
		return "Configuration error"
	case ExitCodeMigrationError:
		return "Schema migration failed"
	default:
		return "Unknown error"
	}
}
