package proxmox

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AuthError indicates the API rejected our credentials, either at login or
// on a request after one transparent re-login attempt.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("proxmox: authentication failed (status %d): %s", e.Status, e.Message)
}

// RemoteError is a non-retryable API failure (4xx other than 401).
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("proxmox: request failed (status %d): %s", e.Status, e.Message)
}

// TransientError is a failure worth retrying: a network-level error or a
// 5xx response. Status is 0 for network errors.
type TransientError struct {
	Status  int
	Message string
	Err     error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("proxmox: transient failure: %v", e.Err)
	}
	return fmt.Sprintf("proxmox: transient failure (status %d): %s", e.Status, e.Message)
}

func (e *TransientError) Unwrap() error { return e.Err }

// TaskError indicates a Proxmox task finished with a non-OK exit status.
type TaskError struct {
	UPID       UPID
	ExitStatus string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("proxmox: task %s failed: %s", e.UPID, e.ExitStatus)
}

// TaskTimeoutError indicates a task did not finish within its wait deadline.
// The task may still be running server-side.
type TaskTimeoutError struct {
	UPID    UPID
	Timeout time.Duration
}

func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("proxmox: task %s did not finish within %s", e.UPID, e.Timeout)
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsTaskTimeout reports whether err is a task wait timeout.
func IsTaskTimeout(err error) bool {
	var te *TaskTimeoutError
	return errors.As(err, &te)
}

// IsNotFound reports whether err says the object is already gone. Proxmox is
// not consistent here: deletes of missing SDN objects come back as 400s with
// a "does not exist" message, deletes of missing guests as 500s, missing
// paths as plain 404s. The 500 shape arrives as a TransientError, so both
// kinds are inspected.
func IsNotFound(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		if re.Status == 404 {
			return true
		}
		return containsAny(re.Message, "does not exist", "no such", "not found")
	}
	var te *TransientError
	if errors.As(err, &te) {
		return containsAny(te.Message, "does not exist", "no such", "not found")
	}
	return false
}

// IsAlreadyExists reports whether err says the object already exists. Seen
// as both 400s and 500s depending on the endpoint, so transient errors are
// inspected too.
func IsAlreadyExists(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return containsAny(re.Message, "already exists", "already defined", "already used")
	}
	var te *TransientError
	if errors.As(err, &te) {
		return containsAny(te.Message, "already exists", "already defined", "already used")
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
