package main

import (
	"fmt"
	"os"

	"github.com/mvollmer/nasmirror/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without mounting or transferring anything.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	// Check if file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Error().Str("file", configFile).Msg("config file not found")
		return fmt.Errorf("config file not found: %s", configFile)
	}

	// Load configuration
	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse config")
		return err
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  NAS: %s (SMB %s, user %s)\n", cfg.NAS.Address, cfg.NAS.SMBVersion, cfg.NAS.Username)
	fmt.Printf("  Source root: %s\n", cfg.Paths.SourceRoot)
	fmt.Printf("  Backup root: %s\n", cfg.Paths.BackupRoot)
	if cfg.Paths.WeeklyRoot != "" {
		fmt.Printf("  Weekly root: %s\n", cfg.Paths.WeeklyRoot)
	}
	fmt.Printf("  Lock file: %s\n", cfg.Paths.LockFile)
	fmt.Printf("  Mount failure policy: %s\n", cfg.MountPolicy)
	fmt.Println()
	fmt.Println("Archive:")
	fmt.Printf("  Trigger day: %s\n", cfg.Archive.TriggerDay)
	fmt.Printf("  Relocate after: %d day(s)\n", cfg.Archive.RelocateAfter)
	fmt.Printf("  Delete after: %d day(s)\n", cfg.Archive.DeleteAfter)
	fmt.Println()
	fmt.Println("Timeouts:")
	fmt.Printf("  Discovery: %s\n", cfg.Timeouts.Discovery)
	fmt.Printf("  Mount: %s\n", cfg.Timeouts.Mount)
	fmt.Printf("  Sync: %s\n", cfg.Timeouts.Sync)
	fmt.Printf("  Archive: %s\n", cfg.Timeouts.Archive)
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Printf("  SSH Shutdown: %v\n", cfg.SSHShutdown != nil)
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)

	if cfg.WOL != nil {
		fmt.Println()
		fmt.Println("WOL Configuration:")
		fmt.Printf("  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Printf("  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
		if cfg.WOL.PollURL != "" {
			fmt.Printf("  Poll URL: %s\n", cfg.WOL.PollURL)
		}
	}

	if cfg.SSHShutdown != nil {
		fmt.Println()
		fmt.Println("SSH Shutdown Configuration:")
		fmt.Printf("  Host: %s\n", cfg.SSHShutdown.Host)
		fmt.Printf("  Port: %d\n", cfg.SSHShutdown.Port)
		fmt.Printf("  Username: %s\n", cfg.SSHShutdown.Username)
		fmt.Printf("  Shutdown Delay: %d minute(s)\n", cfg.SSHShutdown.ShutdownDelay)
	}

	if cfg.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}

	return nil
}
