// Package models contains the data structures used throughout nasmirror.
package models

import "time"

// MountFailurePolicy decides what happens when a single share fails to mount.
type MountFailurePolicy string

const (
	// MountPolicyContinue skips the failed share and keeps going.
	MountPolicyContinue MountFailurePolicy = "continue"
	// MountPolicyAbort fails the whole run on the first failed mount.
	MountPolicyAbort MountFailurePolicy = "abort"
)

// Config holds the complete configuration for a mirror run.
type Config struct {
	NAS         NASConfig
	Paths       PathSettings
	Archive     ArchiveSettings
	Timeouts    TimeoutSettings
	MountPolicy MountFailurePolicy
	WOL         *WOLConfig         // nil if not configured
	SSHShutdown *SSHShutdownConfig // nil if not configured
	Telegram    *TelegramConfig    // nil if not configured
}

// NASConfig holds the connection settings for the NAS.
type NASConfig struct {
	Address    string
	Username   string
	Password   string
	SMBVersion string // "3.0" (default), "2.1", "2.0", "1.0"
}

// PathSettings holds the local directory layout.
type PathSettings struct {
	SourceRoot string // mount points live under here, transient
	BackupRoot string // staging (sync/) and fresh archives
	WeeklyRoot string // optional, aged-out archive retention
	LockFile   string // advisory run lock
}

// StagingDir is the subdirectory of BackupRoot holding the mirrored shares.
const StagingDir = "sync"

// ArchiveSettings controls the weekly compression and retention rotation.
type ArchiveSettings struct {
	TriggerDay    time.Weekday
	RelocateAfter int // days; archives strictly older move to WeeklyRoot
	DeleteAfter   int // days; weekly archives strictly older are deleted
}

// TimeoutSettings bounds every network-facing step.
type TimeoutSettings struct {
	Discovery time.Duration
	Mount     time.Duration
	Sync      time.Duration
	Archive   time.Duration
}
