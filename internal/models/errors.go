package models

import "errors"

// Failure taxonomy for the pipeline. Every service wraps its failures around
// one of these so callers can match with errors.Is regardless of the
// underlying command's message.
var (
	// ErrConfigurationMissing means the configuration file does not exist.
	ErrConfigurationMissing = errors.New("configuration file missing")

	// ErrConfigurationInvalid means a required key is absent or malformed.
	ErrConfigurationInvalid = errors.New("configuration invalid")

	// ErrToolMissing means a required external binary is not on PATH.
	ErrToolMissing = errors.New("required tool missing")

	// ErrDiscoveryUnreachable means the NAS could not be contacted or
	// rejected the credentials during share enumeration.
	ErrDiscoveryUnreachable = errors.New("share discovery unreachable")

	// ErrMountFailed means a single share could not be mounted.
	ErrMountFailed = errors.New("mount failed")

	// ErrSyncFailed means the mirror transfer exited non-zero.
	ErrSyncFailed = errors.New("sync failed")

	// ErrArchiveFailed means compressing a staged share failed.
	ErrArchiveFailed = errors.New("archive failed")

	// ErrLockHeld means another run already holds the run lock.
	ErrLockHeld = errors.New("another run is in progress")
)
