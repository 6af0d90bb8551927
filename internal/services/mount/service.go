// Package mount attaches NAS shares below the source root and guarantees
// they are detached again.
package mount

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/mvollmer/nasmirror/internal/models"
	"github.com/rs/zerolog"
)

// procMounts is the kernel's view of the mount table.
const procMounts = "/proc/self/mounts"

// Service defines the interface for mount operations.
type Service interface {
	Mount(ctx context.Context, cfg models.NASConfig, sourceRoot string, share models.Share) (*models.MountResult, error)
	CleanupAll(ctx context.Context, sourceRoot string) (*models.CleanupResult, error)
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

// Impl implements the mount Service interface.
type Impl struct {
	executor   CommandExecutor
	logger     zerolog.Logger
	mountsFile string
}

// New creates a new mount service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor:   &DefaultExecutor{},
		logger:     logger,
		mountsFile: procMounts,
	}
}

// NewWithExecutor creates a new mount service with a custom executor and
// mount table file (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor, mountsFile string) *Impl {
	if mountsFile == "" {
		mountsFile = procMounts
	}
	return &Impl{
		executor:   executor,
		logger:     logger,
		mountsFile: mountsFile,
	}
}

// MountPoint returns the local mount point for a share name.
func MountPoint(sourceRoot, share string) string {
	return filepath.Join(sourceRoot, share)
}

// Mount creates the mount point directory if absent and attaches the remote
// share there. The mounted tree carries no local permission enforcement
// (noperm) since it is only read for mirroring.
func (s *Impl) Mount(ctx context.Context, cfg models.NASConfig, sourceRoot string, share models.Share) (*models.MountResult, error) {
	result := &models.MountResult{
		Share:      share.Name,
		MountPoint: MountPoint(sourceRoot, share.Name),
	}

	s.logger.Info().
		Str("share", share.Name).
		Str("mount_point", result.MountPoint).
		Msg("mounting share")

	if err := os.MkdirAll(result.MountPoint, 0o755); err != nil {
		result.Error = fmt.Errorf("%w: creating mount point %s: %v", models.ErrMountFailed, result.MountPoint, err)
		return result, nil
	}

	remote := fmt.Sprintf("//%s/%s", cfg.Address, share.Name)
	options := fmt.Sprintf("username=%s,password=%s,vers=%s,noperm", cfg.Username, cfg.Password, cfg.SMBVersion)

	output, err := s.executor.Execute(ctx, "mount", "-t", "cifs", remote, result.MountPoint, "-o", options)
	if err != nil {
		result.Error = fmt.Errorf("%w: %s: %v, output: %s", models.ErrMountFailed, remote, err, string(output))
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	s.logger.Info().Str("share", share.Name).Msg("share mounted")
	return result, nil
}

// CleanupAll unmounts every mount point under the source root and removes all
// now-empty directories below it. Safe to call when nothing is mounted.
func (s *Impl) CleanupAll(ctx context.Context, sourceRoot string) (*models.CleanupResult, error) {
	result := &models.CleanupResult{}

	mountPoints, err := s.mountPointsUnder(sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("reading mount table: %w", err)
	}

	for _, mp := range mountPoints {
		s.logger.Info().Str("mount_point", mp).Msg("unmounting")

		output, err := s.executor.Execute(ctx, "umount", mp)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("umount %s: %w, output: %s", mp, err, string(output)))
			continue
		}
		result.Unmounted = append(result.Unmounted, mp)
	}

	removed, errs := removeEmptyDirs(sourceRoot)
	result.RemovedDirs = removed
	result.Errors = append(result.Errors, errs...)

	s.logger.Info().
		Int("unmounted", len(result.Unmounted)).
		Int("removed_dirs", result.RemovedDirs).
		Int("errors", len(result.Errors)).
		Msg("cleanup finished")

	return result, nil
}

// mountPointsUnder returns the mount points strictly below root, deepest
// first so nested mounts detach before their parents.
func (s *Impl) mountPointsUnder(root string) ([]string, error) {
	data, err := os.ReadFile(s.mountsFile)
	if err != nil {
		return nil, err
	}

	prefix := strings.TrimRight(root, "/") + "/"
	var points []string

	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		mp := unescapeOctal(fields[1])
		if strings.HasPrefix(mp, prefix) {
			points = append(points, mp)
		}
	}

	sort.Slice(points, func(i, j int) bool {
		return strings.Count(points[i], "/") > strings.Count(points[j], "/")
	})

	return points, nil
}

// unescapeOctal decodes the \NNN escapes /proc/mounts uses for spaces, tabs
// and backslashes in paths.
func unescapeOctal(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if code, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(code))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// removeEmptyDirs removes empty directories under root bottom-up. The root
// itself is kept.
func removeEmptyDirs(root string) (int, []error) {
	var dirs []string

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, []error{err}
	}

	// Deepest first so emptied parents become removable in the same pass.
	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], "/") > strings.Count(dirs[j], "/")
	})

	removed := 0
	var errs []error
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	return removed, errs
}
