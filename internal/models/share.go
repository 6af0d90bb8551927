package models

import "time"

// Share is a disk share discovered on the NAS. Shares are ephemeral; they
// exist only for the duration of one run.
type Share struct {
	Name    string
	Comment string
}

// MountResult holds the outcome of mounting a single share.
type MountResult struct {
	Share      string
	MountPoint string
	Error      error
}

// CleanupResult holds the outcome of an unmount/cleanup pass.
type CleanupResult struct {
	Unmounted   []string // mount points that were detached
	RemovedDirs int      // empty directories removed under the source root
	Errors      []error  // unmount or removal failures, pass keeps going
}

// SyncResult holds the outcome of the mirror transfer.
type SyncResult struct {
	Duration time.Duration
	Output   string
	Error    error
}

// ArchiveResult holds the outcome of compressing one staged share.
type ArchiveResult struct {
	Share       string
	ArchivePath string
	SizeBytes   int64
	Duration    time.Duration
	Error       error
}

// RetentionResult holds the outcome of the archive rotation pass.
type RetentionResult struct {
	Relocated []string // archives moved to the weekly root
	Deleted   []string // weekly archives past the long threshold
	Errors    []error
}
