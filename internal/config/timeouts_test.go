package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadTimeouts_Defaults(t *testing.T) {
	t.Setenv("PROXMOX_TIMEOUT_TASK", "")
	t.Setenv("PROXMOX_TASK_POLL_INTERVAL", "")

	timeouts := LoadTimeouts()
	assert.Equal(t, 5*time.Minute, timeouts.TaskWait)
	assert.Equal(t, 2*time.Second, timeouts.TaskPollInterval)
	assert.Equal(t, 5, timeouts.PollMaxFailures)
	assert.Equal(t, 3, timeouts.RetryMaxAttempts)
}

func TestLoadTimeouts_FromEnv(t *testing.T) {
	t.Setenv("PROXMOX_TIMEOUT_TASK", "90s")
	t.Setenv("PROXMOX_TASK_POLL_MAX_FAILURES", "9")

	timeouts := LoadTimeouts()
	assert.Equal(t, 90*time.Second, timeouts.TaskWait)
	assert.Equal(t, 9, timeouts.PollMaxFailures)
}

func TestLoadTimeouts_InvalidFallsBack(t *testing.T) {
	t.Setenv("PROXMOX_TIMEOUT_TASK", "not-a-duration")
	t.Setenv("PROXMOX_TASK_POLL_MAX_FAILURES", "many")

	timeouts := LoadTimeouts()
	assert.Equal(t, 5*time.Minute, timeouts.TaskWait)
	assert.Equal(t, 5, timeouts.PollMaxFailures)
}
