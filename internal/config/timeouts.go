package config

import (
	"os"
	"strconv"
	"time"
)

// Timeouts holds all configurable timeout values.
// These values can be customized via environment variables.
type Timeouts struct {
	TaskWait          time.Duration // Overall deadline for awaiting a single task
	TaskPollInterval  time.Duration // Delay between task-status polls
	PollMaxFailures   int           // Consecutive transient poll failures tolerated
	HTTPConnect       time.Duration // Dial timeout for API requests
	HTTPRequest       time.Duration // Per-request timeout for API calls
	RetryMaxAttempts  int           // Maximum retries for transient API failures
	RetryInitialDelay time.Duration // Initial delay between retries
}

// LoadTimeouts loads timeout configuration from environment variables.
// If an environment variable is not set or invalid, a default value is used.
//
// Environment Variables:
//   - PROXMOX_TIMEOUT_TASK (default: 5m)
//   - PROXMOX_TASK_POLL_INTERVAL (default: 2s)
//   - PROXMOX_TASK_POLL_MAX_FAILURES (default: 5)
//   - PROXMOX_TIMEOUT_CONNECT (default: 5s)
//   - PROXMOX_TIMEOUT_REQUEST (default: 60s)
//   - PROXMOX_RETRY_MAX_ATTEMPTS (default: 3)
//   - PROXMOX_RETRY_INITIAL_DELAY (default: 500ms)
func LoadTimeouts() *Timeouts {
	return &Timeouts{
		TaskWait:          parseDuration("PROXMOX_TIMEOUT_TASK", 5*time.Minute),
		TaskPollInterval:  parseDuration("PROXMOX_TASK_POLL_INTERVAL", 2*time.Second),
		PollMaxFailures:   parseInt("PROXMOX_TASK_POLL_MAX_FAILURES", 5),
		HTTPConnect:       parseDuration("PROXMOX_TIMEOUT_CONNECT", 5*time.Second),
		HTTPRequest:       parseDuration("PROXMOX_TIMEOUT_REQUEST", 60*time.Second),
		RetryMaxAttempts:  parseInt("PROXMOX_RETRY_MAX_ATTEMPTS", 3),
		RetryInitialDelay: parseDuration("PROXMOX_RETRY_INITIAL_DELAY", 500*time.Millisecond),
	}
}

// TestTimeouts returns aggressive timeouts for unit tests.
func TestTimeouts() *Timeouts {
	return &Timeouts{
		TaskWait:          2 * time.Second,
		TaskPollInterval:  5 * time.Millisecond,
		PollMaxFailures:   2,
		HTTPConnect:       time.Second,
		HTTPRequest:       2 * time.Second,
		RetryMaxAttempts:  2,
		RetryInitialDelay: time.Millisecond,
	}
}

// parseDuration parses a duration from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseDuration(envVar string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}

	return d
}

// parseInt parses an integer from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseInt(envVar string, defaultVal int) int {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}

	return n
}
