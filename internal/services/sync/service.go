// Package sync mirrors the mounted source tree into the local staging
// directory.
package sync

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/mvollmer/nasmirror/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for the mirror transfer.
type Service interface {
	Mirror(ctx context.Context, sourceRoot, stagingDir string, excludes []string) (*models.SyncResult, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its output.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Impl implements the sync Service interface.
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new sync service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new sync service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// Mirror copies the source root into the staging directory, deleting staging
// entries that no longer exist in the source. Timestamps, permissions and
// symlinks are preserved and the transfer is compressed. Excluded names
// (shares that failed to mount this run) are shielded from deletion so a
// skipped mount never erases a previous good mirror.
func (s *Impl) Mirror(ctx context.Context, sourceRoot, stagingDir string, excludes []string) (*models.SyncResult, error) {
	result := &models.SyncResult{}
	start := time.Now()

	if err := os.MkdirAll(stagingDir, 0o750); err != nil {
		result.Error = fmt.Errorf("%w: creating staging directory: %v", models.ErrSyncFailed, err)
		result.Duration = time.Since(start)
		return result, nil
	}

	args := []string{"-az", "--delete"}
	for _, name := range excludes {
		args = append(args, "--exclude", "/"+name)
	}
	// Trailing slash: mirror the contents of the root, not the root itself.
	args = append(args, sourceRoot+"/", stagingDir)

	s.logger.Info().
		Str("source", sourceRoot).
		Str("staging", stagingDir).
		Strs("excludes", excludes).
		Msg("starting mirror transfer")

	output, err := s.executor.Execute(ctx, "rsync", args...)
	result.Output = string(output)
	result.Duration = time.Since(start)

	if err != nil {
		result.Error = fmt.Errorf("%w: %v, output: %s", models.ErrSyncFailed, err, string(output))
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	s.logger.Info().Dur("duration", result.Duration).Msg("mirror transfer completed")
	return result, nil
}
