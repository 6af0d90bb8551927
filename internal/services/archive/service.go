// Package archive compresses staged shares into weekly archives and rotates
// old archives by age.
package archive

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/mvollmer/nasmirror/internal/models"
	"github.com/rs/zerolog"
)

// Extension of produced archive files.
const Extension = ".7z"

// Service defines the interface for archive operations.
type Service interface {
	CompressAll(ctx context.Context, stagingDir, backupRoot string) ([]models.ArchiveResult, error)
	Rotate(now time.Time, backupRoot, weeklyRoot string, settings models.ArchiveSettings) (*models.RetentionResult, error)
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

// Impl implements the archive Service interface.
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new archive service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new archive service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// Triggered reports whether the weekly archive step runs today.
func Triggered(now time.Time, day time.Weekday) bool {
	return now.Weekday() == day
}

// CompressAll produces one archive per immediate subdirectory of the staging
// directory. A failing share is recorded and the remaining shares are still
// archived. No subdirectories means nothing to do, not an error.
func (s *Impl) CompressAll(ctx context.Context, stagingDir, backupRoot string) ([]models.ArchiveResult, error) {
	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info().Str("staging", stagingDir).Msg("no staging directory, nothing to archive")
			return nil, nil
		}
		return nil, fmt.Errorf("reading staging directory: %w", err)
	}

	var results []models.ArchiveResult
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		results = append(results, s.compress(ctx, stagingDir, backupRoot, entry.Name()))
	}

	if len(results) == 0 {
		s.logger.Info().Msg("no staged shares, nothing to archive")
	}

	return results, nil
}

func (s *Impl) compress(ctx context.Context, stagingDir, backupRoot, share string) models.ArchiveResult {
	result := models.ArchiveResult{
		Share:       share,
		ArchivePath: filepath.Join(backupRoot, share+Extension),
	}
	start := time.Now()

	s.logger.Info().
		Str("share", share).
		Str("archive", result.ArchivePath).
		Msg("compressing staged share")

	// Maximum compression, all cores. 7z updates an existing archive in
	// place, which is what we want for the weekly overwrite.
	output, err := s.executor.Execute(ctx, "7z",
		"a", "-t7z", "-mx=9", "-mmt=on",
		result.ArchivePath,
		filepath.Join(stagingDir, share),
	)
	result.Duration = time.Since(start)

	if err != nil {
		result.Error = fmt.Errorf("%w: %s: %v, output: %s", models.ErrArchiveFailed, share, err, string(output))
		return result
	}

	if info, err := os.Stat(result.ArchivePath); err == nil {
		result.SizeBytes = info.Size()
	}

	s.logger.Info().
		Str("share", share).
		Int64("size_bytes", result.SizeBytes).
		Dur("duration", result.Duration).
		Msg("archive created")

	return result
}

// Rotate relocates archives strictly older than the short threshold from the
// backup root into the weekly root, then deletes weekly archives strictly
// older than the long threshold. Ages come from file modification times;
// files exactly at a threshold are retained.
func (s *Impl) Rotate(now time.Time, backupRoot, weeklyRoot string, settings models.ArchiveSettings) (*models.RetentionResult, error) {
	result := &models.RetentionResult{}

	if weeklyRoot == "" {
		return result, nil
	}

	if err := os.MkdirAll(weeklyRoot, 0o750); err != nil {
		return nil, fmt.Errorf("creating weekly root: %w", err)
	}

	relocateBefore := now.AddDate(0, 0, -settings.RelocateAfter)
	deleteBefore := now.AddDate(0, 0, -settings.DeleteAfter)

	for _, path := range s.listArchives(backupRoot) {
		info, err := os.Stat(path)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		if !info.ModTime().Before(relocateBefore) {
			continue
		}

		dest := filepath.Join(weeklyRoot, filepath.Base(path))
		if err := os.Rename(path, dest); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("relocating %s: %w", path, err))
			continue
		}
		result.Relocated = append(result.Relocated, dest)
		s.logger.Info().Str("archive", path).Str("dest", dest).Msg("archive relocated to weekly retention")
	}

	for _, path := range s.listArchives(weeklyRoot) {
		info, err := os.Stat(path)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		if !info.ModTime().Before(deleteBefore) {
			continue
		}

		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("deleting %s: %w", path, err))
			continue
		}
		result.Deleted = append(result.Deleted, path)
		s.logger.Info().Str("archive", path).Msg("expired weekly archive deleted")
	}

	s.logger.Info().
		Int("relocated", len(result.Relocated)).
		Int("deleted", len(result.Deleted)).
		Msg("retention rotation finished")

	return result, nil
}

func (s *Impl) listArchives(dir string) []string {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+Extension))
	if err != nil {
		return nil
	}
	return matches
}
