package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mvollmer/nasmirror/internal/config"
	"github.com/mvollmer/nasmirror/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the mirror workflow",
	Long: `Execute the complete mirror workflow:
1. Acquire the run lock and check required tools
2. Wake the NAS (if configured)
3. Clear stale mounts from a previous run
4. Discover disk shares and mount them
5. Mirror everything into the staging directory
6. On the trigger day, rotate old archives and compress each share
7. Power the NAS down (if configured)
8. Unmount everything and send a notification (if configured)`,
	RunE: runMirror,
}

func runMirror(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	// Load configuration
	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return err
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}

	log.Info().
		Str("config", configFile).
		Str("nas", cfg.NAS.Address).
		Str("source", cfg.Paths.SourceRoot).
		Str("backup", cfg.Paths.BackupRoot).
		Msg("configuration loaded")

	// Set up context with signal handling. Cancellation stops the pipeline;
	// the runner's deferred cleanup still unmounts everything.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	// Run the mirror pipeline
	runnerSvc := runner.New(log.Logger)
	if err := runnerSvc.Run(ctx, *cfg); err != nil {
		log.Error().Err(err).Msg("mirror run failed")
		return err
	}

	log.Info().Msg("mirror run completed successfully")
	return nil
}
