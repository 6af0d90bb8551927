// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mvollmer/nasmirror/internal/models"
	"github.com/spf13/viper"
)

// ExampleConfig is printed when the configuration file is missing so a first
// run produces a usable starting point.
const ExampleConfig = `# nasmirror configuration
NAS_IP=192.168.1.10
NAS_USER=backup
NAS_PASSWORD=secret
SMBVERSION=3.0

SOURCE_DIR=/mnt/nas
BACKUP_DIR=/srv/backup
# BACKUP_DIR_WEEKLY=/srv/backup-weekly

# ARCHIVE_DAY=Friday
# ARCHIVE_AGE_DAYS=5
# RETENTION_AGE_DAYS=30

# MOUNT_FAILURE_POLICY=continue
# DISCOVERY_TIMEOUT=1m
# MOUNT_TIMEOUT=1m
# SYNC_TIMEOUT=6h
# ARCHIVE_TIMEOUT=6h

# WOL_MAC=AA:BB:CC:DD:EE:FF
# SSH_SHUTDOWN_USER=root
# SSH_SHUTDOWN_KEY=/root/.ssh/id_ed25519
# TELEGRAM_BOT_TOKEN=123:abc
# TELEGRAM_CHAT_ID=456
`

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser for the KEY=VALUE file format.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("env")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path. A missing file prints the
// example template to stderr before failing.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "configuration file %s not found, example:\n\n%s", path, ExampleConfig)
		return nil, fmt.Errorf("%w: %s", models.ErrConfigurationMissing, path)
	}

	p.v.SetConfigFile(path)
	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{}

	// NAS connection (required).
	cfg.NAS = models.NASConfig{
		Address:    p.v.GetString("NAS_IP"),
		Username:   p.v.GetString("NAS_USER"),
		Password:   p.expandEnv(p.v.GetString("NAS_PASSWORD")),
		SMBVersion: p.v.GetString("SMBVERSION"),
	}

	if cfg.NAS.Address == "" {
		return nil, fmt.Errorf("%w: NAS_IP is required", models.ErrConfigurationInvalid)
	}
	if cfg.NAS.Username == "" {
		return nil, fmt.Errorf("%w: NAS_USER is required", models.ErrConfigurationInvalid)
	}
	if cfg.NAS.Password == "" {
		return nil, fmt.Errorf("%w: NAS_PASSWORD is required", models.ErrConfigurationInvalid)
	}
	if cfg.NAS.SMBVersion == "" {
		cfg.NAS.SMBVersion = "3.0"
	}

	// Local directory layout (required).
	cfg.Paths = models.PathSettings{
		SourceRoot: cleanDirPath(p.v.GetString("SOURCE_DIR")),
		BackupRoot: cleanDirPath(p.v.GetString("BACKUP_DIR")),
		WeeklyRoot: cleanDirPath(p.v.GetString("BACKUP_DIR_WEEKLY")),
		LockFile:   p.v.GetString("LOCK_FILE"),
	}

	if err := requireAbsolute("SOURCE_DIR", cfg.Paths.SourceRoot); err != nil {
		return nil, err
	}
	if err := requireAbsolute("BACKUP_DIR", cfg.Paths.BackupRoot); err != nil {
		return nil, err
	}
	if cfg.Paths.WeeklyRoot != "" && !filepath.IsAbs(cfg.Paths.WeeklyRoot) {
		return nil, fmt.Errorf("%w: BACKUP_DIR_WEEKLY must be an absolute path", models.ErrConfigurationInvalid)
	}
	if cfg.Paths.LockFile == "" {
		cfg.Paths.LockFile = filepath.Join(cfg.Paths.BackupRoot, ".nasmirror.lock")
	}

	// Archive trigger and retention thresholds.
	day, err := parseWeekday(p.v.GetString("ARCHIVE_DAY"))
	if err != nil {
		return nil, err
	}
	cfg.Archive = models.ArchiveSettings{
		TriggerDay:    day,
		RelocateAfter: p.v.GetInt("ARCHIVE_AGE_DAYS"),
		DeleteAfter:   p.v.GetInt("RETENTION_AGE_DAYS"),
	}
	if cfg.Archive.RelocateAfter == 0 {
		cfg.Archive.RelocateAfter = 5
	}
	if cfg.Archive.DeleteAfter == 0 {
		cfg.Archive.DeleteAfter = 30
	}

	// Mount failure policy.
	switch policy := p.v.GetString("MOUNT_FAILURE_POLICY"); policy {
	case "":
		cfg.MountPolicy = models.MountPolicyContinue
	case string(models.MountPolicyContinue), string(models.MountPolicyAbort):
		cfg.MountPolicy = models.MountFailurePolicy(policy)
	default:
		return nil, fmt.Errorf("%w: MOUNT_FAILURE_POLICY must be one of: continue, abort", models.ErrConfigurationInvalid)
	}

	// Per-step timeouts.
	cfg.Timeouts = models.TimeoutSettings{
		Discovery: p.v.GetDuration("DISCOVERY_TIMEOUT"),
		Mount:     p.v.GetDuration("MOUNT_TIMEOUT"),
		Sync:      p.v.GetDuration("SYNC_TIMEOUT"),
		Archive:   p.v.GetDuration("ARCHIVE_TIMEOUT"),
	}
	if cfg.Timeouts.Discovery == 0 {
		cfg.Timeouts.Discovery = time.Minute
	}
	if cfg.Timeouts.Mount == 0 {
		cfg.Timeouts.Mount = time.Minute
	}
	if cfg.Timeouts.Sync == 0 {
		cfg.Timeouts.Sync = 6 * time.Hour
	}
	if cfg.Timeouts.Archive == 0 {
		cfg.Timeouts.Archive = 6 * time.Hour
	}

	// Optional Wake-on-LAN.
	if p.v.IsSet("WOL_MAC") {
		cfg.WOL = &models.WOLConfig{
			MACAddress:    p.v.GetString("WOL_MAC"),
			BroadcastIP:   p.v.GetString("WOL_BROADCAST"),
			PollURL:       p.v.GetString("WOL_POLL_URL"),
			Timeout:       p.v.GetDuration("WOL_TIMEOUT"),
			PollInterval:  p.v.GetDuration("WOL_POLL_INTERVAL"),
			StabilizeWait: p.v.GetDuration("WOL_STABILIZE_WAIT"),
		}

		if cfg.WOL.MACAddress == "" {
			return nil, fmt.Errorf("%w: WOL_MAC must not be empty", models.ErrConfigurationInvalid)
		}
		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.Timeout == 0 {
			cfg.WOL.Timeout = 5 * time.Minute
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 10 * time.Second
		}
		if cfg.WOL.StabilizeWait == 0 {
			cfg.WOL.StabilizeWait = 10 * time.Second
		}
	}

	// Optional SSH shutdown of the NAS after the run.
	if p.v.IsSet("SSH_SHUTDOWN_KEY") || p.v.IsSet("SSH_SHUTDOWN_USER") || p.v.IsSet("SSH_SHUTDOWN_HOST") {
		cfg.SSHShutdown = &models.SSHShutdownConfig{
			Host:          p.v.GetString("SSH_SHUTDOWN_HOST"),
			Port:          p.v.GetInt("SSH_SHUTDOWN_PORT"),
			Username:      p.v.GetString("SSH_SHUTDOWN_USER"),
			KeyPath:       p.expandEnv(p.v.GetString("SSH_SHUTDOWN_KEY")),
			ShutdownDelay: p.v.GetInt("SSH_SHUTDOWN_DELAY"),
		}

		if cfg.SSHShutdown.Host == "" {
			cfg.SSHShutdown.Host = cfg.NAS.Address
		}
		if cfg.SSHShutdown.Port == 0 {
			cfg.SSHShutdown.Port = 22
		}
		if cfg.SSHShutdown.Username == "" {
			cfg.SSHShutdown.Username = "root"
		}
		if cfg.SSHShutdown.KeyPath == "" {
			return nil, fmt.Errorf("%w: SSH_SHUTDOWN_KEY is required when ssh shutdown is configured", models.ErrConfigurationInvalid)
		}
		if cfg.SSHShutdown.ShutdownDelay == 0 {
			cfg.SSHShutdown.ShutdownDelay = 1
		}
	}

	// Optional Telegram notification.
	if p.v.IsSet("TELEGRAM_BOT_TOKEN") || p.v.IsSet("TELEGRAM_CHAT_ID") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("TELEGRAM_BOT_TOKEN")),
			ChatID:   p.expandEnv(p.v.GetString("TELEGRAM_CHAT_ID")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("%w: TELEGRAM_BOT_TOKEN is required when telegram is configured", models.ErrConfigurationInvalid)
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("%w: TELEGRAM_CHAT_ID is required when telegram is configured", models.ErrConfigurationInvalid)
		}
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// cleanDirPath strips trailing slashes off a directory path.
func cleanDirPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := strings.TrimRight(path, "/")
	if cleaned == "" {
		return "/"
	}
	return cleaned
}

func requireAbsolute(key, path string) error {
	if path == "" {
		return fmt.Errorf("%w: %s is required", models.ErrConfigurationInvalid, key)
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %s must be an absolute path", models.ErrConfigurationInvalid, key)
	}
	return nil
}

// parseWeekday maps a case-insensitive weekday name to time.Weekday.
// An empty value defaults to Friday.
func parseWeekday(name string) (time.Weekday, error) {
	if name == "" {
		return time.Friday, nil
	}

	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), name) {
			return d, nil
		}
	}

	return 0, fmt.Errorf("%w: ARCHIVE_DAY %q is not a weekday name", models.ErrConfigurationInvalid, name)
}

// Validate performs validation on an already-loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: configuration is nil", models.ErrConfigurationInvalid)
	}

	if cfg.NAS.Address == "" {
		return fmt.Errorf("%w: NAS_IP is required", models.ErrConfigurationInvalid)
	}
	if cfg.NAS.Username == "" || cfg.NAS.Password == "" {
		return fmt.Errorf("%w: NAS credentials are required", models.ErrConfigurationInvalid)
	}
	if !filepath.IsAbs(cfg.Paths.SourceRoot) {
		return fmt.Errorf("%w: SOURCE_DIR must be an absolute path", models.ErrConfigurationInvalid)
	}
	if !filepath.IsAbs(cfg.Paths.BackupRoot) {
		return fmt.Errorf("%w: BACKUP_DIR must be an absolute path", models.ErrConfigurationInvalid)
	}

	return nil
}
