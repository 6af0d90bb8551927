package models

// SSHShutdownConfig holds settings for powering the NAS down after a run.
type SSHShutdownConfig struct {
	Host          string
	Port          int
	Username      string
	PrivateKey    []byte // loaded from KeyPath
	KeyPath       string
	ShutdownDelay int // minutes before the NAS powers off
}

// SSHResult holds the result of an SSH operation.
type SSHResult struct {
	CommandRun bool
	Output     string
	Error      error
}
