// Package lock prevents two mirror runs from racing on the same mount
// namespace.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/mvollmer/nasmirror/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for the run-level lock.
type Service interface {
	Acquire(path string) (release func(), err error)
}

// Impl implements the lock Service interface using an advisory file lock.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new lock service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// Acquire takes the advisory lock at path without blocking. A held lock means
// another run is active and this one must not touch the mount namespace.
func (s *Impl) Acquire(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring run lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: lock file %s", models.ErrLockHeld, path)
	}

	s.logger.Debug().Str("lock", path).Msg("run lock acquired")

	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn().Err(err).Str("lock", path).Msg("failed to release run lock")
		}
	}, nil
}
