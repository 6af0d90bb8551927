// Package discovery enumerates the disk shares exposed by the NAS.
package discovery

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/mvollmer/nasmirror/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for share discovery.
type Service interface {
	List(ctx context.Context, cfg models.NASConfig) ([]models.Share, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	ExecuteWithEnv(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// ExecuteWithEnv runs a command with additional environment variables.
func (e *DefaultExecutor) ExecuteWithEnv(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

// Impl implements the discovery Service interface.
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new discovery service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new discovery service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// List queries the NAS for its exposed resources and returns the disk shares,
// excluding administrative shares (trailing '$'). An empty result is not an
// error; an unreachable NAS or rejected credentials is.
func (s *Impl) List(ctx context.Context, cfg models.NASConfig) ([]models.Share, error) {
	s.logger.Info().Str("nas", cfg.Address).Msg("discovering shares")

	args := []string{
		"-L", "//" + cfg.Address,
		"-U", cfg.Username,
		"-m", Dialect(cfg.SMBVersion),
		"-g",
	}

	// The password goes through the environment so it never shows up in the
	// process list.
	env := []string{fmt.Sprintf("PASSWD=%s", cfg.Password)}

	output, err := s.executor.ExecuteWithEnv(ctx, env, "smbclient", args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v, output: %s", models.ErrDiscoveryUnreachable, cfg.Address, err, string(output))
	}

	shares := parseShareList(output)

	s.logger.Info().Int("count", len(shares)).Msg("shares discovered")
	for _, share := range shares {
		s.logger.Debug().Str("share", share.Name).Str("comment", share.Comment).Msg("found disk share")
	}

	return shares, nil
}

// parseShareList parses smbclient -g output. Each resource is one line of the
// form "Type|Name|Comment"; only Disk-type entries are kept and hidden
// administrative shares are dropped.
func parseShareList(output []byte) []models.Share {
	var shares []models.Share

	for _, line := range strings.Split(string(output), "\n") {
		fields := strings.SplitN(strings.TrimSpace(line), "|", 3)
		if len(fields) < 2 || fields[0] != "Disk" {
			continue
		}

		name := fields[1]
		if name == "" || strings.HasSuffix(name, "$") {
			continue
		}

		share := models.Share{Name: name}
		if len(fields) == 3 {
			share.Comment = fields[2]
		}
		shares = append(shares, share)
	}

	return shares
}

// Dialect maps a mount-style SMB protocol version to the smbclient -m value.
func Dialect(version string) string {
	switch version {
	case "1.0":
		return "NT1"
	case "2.0", "2.1":
		return "SMB2"
	default:
		return "SMB3"
	}
}
