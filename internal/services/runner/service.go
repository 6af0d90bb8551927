// Package runner orchestrates the mirror workflow.
package runner

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/mvollmer/nasmirror/internal/models"
	"github.com/mvollmer/nasmirror/internal/services/archive"
	"github.com/mvollmer/nasmirror/internal/services/discovery"
	"github.com/mvollmer/nasmirror/internal/services/lock"
	"github.com/mvollmer/nasmirror/internal/services/mount"
	"github.com/mvollmer/nasmirror/internal/services/ssh"
	"github.com/mvollmer/nasmirror/internal/services/sync"
	"github.com/mvollmer/nasmirror/internal/services/telegram"
	"github.com/mvollmer/nasmirror/internal/services/wol"
	"github.com/rs/zerolog"
)

// requiredTools are the external binaries the pipeline shells out to. All of
// them are checked up front so a broken installation fails before anything is
// mounted, not mid-run on a trigger day.
var requiredTools = []string{"smbclient", "mount", "umount", "rsync", "7z"}

// cleanupTimeout bounds the guaranteed unmount pass on exit. It runs under
// its own deadline because the run context may already be cancelled.
const cleanupTimeout = 2 * time.Minute

// Service defines the interface for the mirror runner.
type Service interface {
	Run(ctx context.Context, cfg models.Config) error
}

// Impl implements the runner Service interface.
type Impl struct {
	discoverySvc discovery.Service
	mountSvc     mount.Service
	syncSvc      sync.Service
	archiveSvc   archive.Service
	lockSvc      lock.Service
	wolSvc       wol.Service
	sshSvc       ssh.Service
	telegramSvc  telegram.Service
	logger       zerolog.Logger
	now          func() time.Time
	lookPath     func(string) (string, error)
}

// New creates a new runner service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		discoverySvc: discovery.New(logger),
		mountSvc:     mount.New(logger),
		syncSvc:      sync.New(logger),
		archiveSvc:   archive.New(logger),
		lockSvc:      lock.New(logger),
		wolSvc:       wol.New(logger),
		sshSvc:       ssh.New(logger),
		telegramSvc:  telegram.New(logger),
		logger:       logger,
		now:          time.Now,
		lookPath:     exec.LookPath,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	discoverySvc discovery.Service,
	mountSvc mount.Service,
	syncSvc sync.Service,
	archiveSvc archive.Service,
	lockSvc lock.Service,
	wolSvc wol.Service,
	sshSvc ssh.Service,
	telegramSvc telegram.Service,
	now func() time.Time,
	lookPath func(string) (string, error),
) *Impl {
	return &Impl{
		discoverySvc: discoverySvc,
		mountSvc:     mountSvc,
		syncSvc:      syncSvc,
		archiveSvc:   archiveSvc,
		lockSvc:      lockSvc,
		wolSvc:       wolSvc,
		sshSvc:       sshSvc,
		telegramSvc:  telegramSvc,
		logger:       logger,
		now:          now,
		lookPath:     lookPath,
	}
}

// runStats accumulates the numbers the notification reports.
type runStats struct {
	discovered      int
	mounted         int
	skipped         int
	archivesCreated int
	archivesFailed  int
}

// Run executes the complete mirror workflow.
//
//nolint:gocognit,gocyclo // the workflow has multiple steps by design
func (s *Impl) Run(ctx context.Context, cfg models.Config) error {
	startTime := s.now()
	var failedStep string
	var runErr error
	var stats runStats

	s.logger.Info().
		Str("nas", cfg.NAS.Address).
		Str("source", cfg.Paths.SourceRoot).
		Str("backup", cfg.Paths.BackupRoot).
		Msg("starting mirror run")

	defer func() {
		if cfg.Telegram != nil {
			s.sendNotification(cfg, startTime, stats, failedStep, runErr)
		}
	}()

	// Step 1: run lock, so two invocations never race on the mount namespace.
	failedStep = "lock"
	release, err := s.lockSvc.Acquire(cfg.Paths.LockFile)
	if err != nil {
		runErr = err
		return err
	}
	defer release()

	// Step 2: verify external tools before anything mutates.
	failedStep = "tools"
	if err := s.checkTools(); err != nil {
		runErr = err
		return err
	}

	// Step 3: Wake-on-LAN (if configured).
	if cfg.WOL != nil {
		failedStep = "wol"
		if err := s.runWOL(ctx, cfg.WOL); err != nil {
			runErr = err
			return err
		}
	}

	// Step 4: proactive cleanup, clearing state left by a crashed run.
	failedStep = "cleanup"
	if _, err := s.cleanup(ctx, cfg.Paths.SourceRoot); err != nil {
		runErr = err
		return fmt.Errorf("pre-run cleanup failed: %w", err)
	}

	// From here on shares may be mounted; the final cleanup is guaranteed on
	// every exit path and immune to cancellation.
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if _, err := s.cleanup(cleanupCtx, cfg.Paths.SourceRoot); err != nil {
			s.logger.Error().Err(err).Msg("final cleanup failed")
		}
	}()

	// Step 5: share discovery.
	failedStep = "discovery"
	shares, err := s.discoverShares(ctx, cfg)
	if err != nil {
		runErr = err
		return err
	}
	stats.discovered = len(shares)

	if len(shares) == 0 {
		s.logger.Info().Msg("NAS exposes no disk shares, nothing to do")
		failedStep = ""
		return nil
	}

	// Step 6: mount every discovered share.
	failedStep = "mount"
	mounted, skipped, err := s.mountShares(ctx, cfg, shares)
	if err != nil {
		runErr = err
		return err
	}
	stats.mounted = len(mounted)
	stats.skipped = len(skipped)

	// Step 7: mirror into staging. Fatal on failure, a partial mirror must
	// never be archived.
	failedStep = "sync"
	stagingDir := filepath.Join(cfg.Paths.BackupRoot, models.StagingDir)
	if err := s.runSync(ctx, cfg, stagingDir, skipped); err != nil {
		runErr = err
		return err
	}

	// Step 8: weekly archive and retention rotation.
	if archive.Triggered(s.now(), cfg.Archive.TriggerDay) {
		failedStep = "retention"
		if err := s.runRetention(cfg); err != nil {
			runErr = err
			return err
		}

		failedStep = "archive"
		created, failed, err := s.runArchive(ctx, cfg, stagingDir)
		stats.archivesCreated = created
		stats.archivesFailed = failed
		if err != nil {
			runErr = err
			return err
		}
	} else {
		s.logger.Debug().
			Str("today", s.now().Weekday().String()).
			Str("trigger_day", cfg.Archive.TriggerDay.String()).
			Msg("not a trigger day, skipping archive step")
	}

	// Step 9: power the NAS back down (only after a fully successful run, so
	// a failed one leaves the box up for diagnosis).
	if cfg.SSHShutdown != nil {
		failedStep = "ssh_shutdown"
		if err := s.runSSHShutdown(ctx, cfg.SSHShutdown); err != nil {
			runErr = err
			return err
		}
	}

	failedStep = ""
	s.logger.Info().
		Dur("duration", time.Since(startTime)).
		Int("shares", stats.mounted).
		Msg("mirror run completed successfully")

	return nil
}

func (s *Impl) checkTools() error {
	for _, tool := range requiredTools {
		if _, err := s.lookPath(tool); err != nil {
			return fmt.Errorf("%w: %s not found in PATH", models.ErrToolMissing, tool)
		}
	}
	return nil
}

func (s *Impl) runWOL(ctx context.Context, cfg *models.WOLConfig) error {
	result, err := s.wolSvc.Wake(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("WOL failed: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("WOL failed: %w", result.Error)
	}
	if !result.TargetReady && cfg.PollURL != "" {
		return fmt.Errorf("NAS did not become ready after WOL")
	}
	return nil
}

func (s *Impl) cleanup(ctx context.Context, sourceRoot string) (*models.CleanupResult, error) {
	result, err := s.mountSvc.CleanupAll(ctx, sourceRoot)
	if err != nil {
		return nil, err
	}
	for _, cerr := range result.Errors {
		s.logger.Warn().Err(cerr).Msg("cleanup issue")
	}
	return result, nil
}

func (s *Impl) discoverShares(ctx context.Context, cfg models.Config) ([]models.Share, error) {
	dctx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Discovery)
	defer cancel()

	shares, err := s.discoverySvc.List(dctx, cfg.NAS)
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	return shares, nil
}

// mountShares mounts each discovered share and applies the configured
// failure policy. It returns the mounted shares and the names of skipped
// ones. All mounts failing is fatal regardless of policy.
func (s *Impl) mountShares(ctx context.Context, cfg models.Config, shares []models.Share) ([]models.MountResult, []string, error) {
	var mounted []models.MountResult
	var skipped []string

	for _, share := range shares {
		mctx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Mount)
		result, err := s.mountSvc.Mount(mctx, cfg.NAS, cfg.Paths.SourceRoot, share)
		cancel()

		if err != nil {
			return nil, nil, fmt.Errorf("mount failed: %w", err)
		}
		if result.Error != nil {
			if cfg.MountPolicy == models.MountPolicyAbort {
				return nil, nil, result.Error
			}
			s.logger.Warn().Err(result.Error).Str("share", share.Name).Msg("skipping share")
			skipped = append(skipped, share.Name)
			continue
		}
		mounted = append(mounted, *result)
	}

	if len(mounted) == 0 {
		return nil, nil, fmt.Errorf("%w: no share could be mounted", models.ErrMountFailed)
	}

	return mounted, skipped, nil
}

func (s *Impl) runSync(ctx context.Context, cfg models.Config, stagingDir string, skipped []string) error {
	sctx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Sync)
	defer cancel()

	result, err := s.syncSvc.Mirror(sctx, cfg.Paths.SourceRoot, stagingDir, skipped)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	if result.Error != nil {
		return result.Error
	}
	return nil
}

func (s *Impl) runRetention(cfg models.Config) error {
	result, err := s.archiveSvc.Rotate(s.now(), cfg.Paths.BackupRoot, cfg.Paths.WeeklyRoot, cfg.Archive)
	if err != nil {
		return fmt.Errorf("retention rotation failed: %w", err)
	}
	for _, rerr := range result.Errors {
		s.logger.Warn().Err(rerr).Msg("retention issue")
	}
	return nil
}

func (s *Impl) runArchive(ctx context.Context, cfg models.Config, stagingDir string) (created, failed int, err error) {
	actx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Archive)
	defer cancel()

	results, err := s.archiveSvc.CompressAll(actx, stagingDir, cfg.Paths.BackupRoot)
	if err != nil {
		return 0, 0, fmt.Errorf("archive step failed: %w", err)
	}

	var firstErr error
	for _, result := range results {
		if result.Error != nil {
			failed++
			s.logger.Error().Err(result.Error).Str("share", result.Share).Msg("archive failed")
			if firstErr == nil {
				firstErr = result.Error
			}
			continue
		}
		created++
	}

	if firstErr != nil {
		return created, failed, fmt.Errorf("%d of %d archives failed: %w", failed, len(results), firstErr)
	}
	return created, failed, nil
}

func (s *Impl) runSSHShutdown(ctx context.Context, cfg *models.SSHShutdownConfig) error {
	result, err := s.sshSvc.Shutdown(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("SSH shutdown failed: %w", err)
	}
	if result.Error != nil {
		if !result.CommandRun {
			return fmt.Errorf("SSH shutdown failed: %w", result.Error)
		}
		s.logger.Warn().Err(result.Error).Msg("shutdown command returned error (may be expected)")
	}
	return nil
}

func (s *Impl) sendNotification(cfg models.Config, startTime time.Time, stats runStats, failedStep string, runErr error) {
	msg := models.TelegramMessage{
		Success:          runErr == nil,
		NAS:              cfg.NAS.Address,
		StartTime:        startTime,
		Duration:         time.Since(startTime),
		SharesDiscovered: stats.discovered,
		SharesMounted:    stats.mounted,
		SharesSkipped:    stats.skipped,
		ArchivesCreated:  stats.archivesCreated,
		ArchivesFailed:   stats.archivesFailed,
	}

	if runErr != nil {
		msg.FailedStep = failedStep
		msg.ErrorMessage = runErr.Error()
	}

	// The run context may already be cancelled on the failure path; the
	// notification still has to go out.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := s.telegramSvc.SendNotification(ctx, *cfg.Telegram, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if result.Error != nil {
		s.logger.Error().Err(result.Error).Msg("failed to send Telegram notification")
	}
}
