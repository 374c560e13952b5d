package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mcp-ambassador/ambassador-go/internal/storage"
)

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, ExitCodeSuccess, exitCodeFor(nil))
	assert.Equal(t, ExitCodeGeneralError, exitCodeFor(errors.New("boom")))
	assert.Equal(t, ExitCodeConfigError, exitCodeFor(fmt.Errorf("%w: listen is required", errConfig)))
	assert.Equal(t, ExitCodeMigrationError,
		exitCodeFor(fmt.Errorf("open failed: %w", fmt.Errorf("%w: step 3", storage.ErrMigration))))
}

func TestExitCodeDescriptionsCoverAllCodes(t *testing.T) {
	for code := ExitCodeSuccess; code <= ExitCodeMigrationError; code++ {
		assert.NotEqual(t, "Unknown error", exitCodeDescription(code))
	}
}
